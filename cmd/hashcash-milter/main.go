// Command hashcash-milter is a mail-filter daemon that mints hashcash
// proof-of-work stamps on outgoing mail and verifies them on incoming
// mail, per spec.md. See internal/cli for the flag surface and
// internal/filter for the protocol state machine.
package main

import (
	"fmt"
	"os"

	"hashcash-milter/internal/cli"
)

// version is overridden at build time via -ldflags "-X main.version=...",
// matching the teacher's own BuildInfo()-from-debug.ReadBuildInfo pattern
// for an executable with no vendored version string of its own.
var version = "go-build"

func main() {
	if err := cli.CheckDuplicateFlags(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "hashcash-milter:", err)
		os.Exit(1)
	}

	app := cli.App(version)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "hashcash-milter:", err)
		os.Exit(1)
	}
}
