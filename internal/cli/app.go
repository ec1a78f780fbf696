// Package cli assembles hashcash-milter's command-line surface
// (spec.md §6) with github.com/urfave/cli/v2, the teacher's own CLI
// library (internal/cli/app.go in the corpus), resolves it into an
// internal/policy.Policy, and wires every other collaborator (ledger,
// RNG, milter listener) together before serving.
package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/emersion/go-milter"
	"github.com/urfave/cli/v2"

	"hashcash-milter/internal/daemon"
	"hashcash-milter/internal/filter"
	"hashcash-milter/internal/ledger"
	"hashcash-milter/internal/log"
	"hashcash-milter/internal/milteraddr"
	"hashcash-milter/internal/mint"
	"hashcash-milter/internal/netlist"
	"hashcash-milter/internal/policy"
	"hashcash-milter/internal/rng"
	"hashcash-milter/internal/sha1core"
	"hashcash-milter/internal/verify"
)

// flagLetters is every single-letter flag this filter accepts; used by
// CheckDuplicateFlags below.
var flagLetters = []string{"p", "f", "P", "u", "C", "a", "i", "c", "d", "m", "r", "s", "t"}

// CheckDuplicateFlags scans raw argv for a repeated occurrence of any
// flag in flagLetters, per spec.md §6: "each option may appear at most
// once; duplicates are a fatal usage error". urfave/cli/v2 itself
// silently accepts repeats of a single-valued flag (the last one wins),
// so this filter enforces the stricter rule itself before handing argv
// to (*cli.App).Run.
func CheckDuplicateFlags(args []string) error {
	seen := make(map[string]bool, len(flagLetters))
	for _, arg := range args {
		name, hasValue := splitFlagArg(arg)
		if name == "" {
			continue
		}
		for _, letter := range flagLetters {
			if name != letter {
				continue
			}
			if seen[letter] {
				return fmt.Errorf("-%s may only be given once", letter)
			}
			seen[letter] = true
		}
		_ = hasValue
	}
	return nil
}

// splitFlagArg extracts the flag name from a "-x", "-x=value", or
// "--x" argv token; it returns "" for anything that is not a flag.
func splitFlagArg(arg string) (name string, hasValue bool) {
	if len(arg) < 2 || arg[0] != '-' {
		return "", false
	}
	arg = strings.TrimPrefix(arg, "-")
	arg = strings.TrimPrefix(arg, "-")
	if eq := strings.IndexByte(arg, '='); eq >= 0 {
		return arg[:eq], true
	}
	return arg, false
}

// App returns the assembled *cli.App, named after the teacher's own
// internal/cli.App() shape but flattened to this filter's single-command
// getopt-style surface (no subcommands, matching spec.md §6's CLI).
func App(version string) *cli.App {
	app := cli.NewApp()
	app.Name = "hashcash-milter"
	app.Usage = "mints and verifies hashcash proof-of-work stamps as a mail filter"
	app.Version = version
	app.HideHelpCommand = true
	app.Flags = []cli.Flag{
		&cli.StringFlag{Name: "p", Usage: "listening socket: local:/path | inet:port@addr | inet6:port@addr", Required: true},
		&cli.BoolFlag{Name: "f", Usage: "run in the foreground"},
		&cli.StringFlag{Name: "P", Usage: "write PID to file, flock exclusively"},
		&cli.StringFlag{Name: "u", Usage: "drop privileges to user[:group]"},
		&cli.StringFlag{Name: "C", Usage: "chroot to rootdir (requires -u)"},
		&cli.BoolFlag{Name: "a", Usage: "mail with SMTP auth is outgoing"},
		&cli.StringFlag{Name: "i", Usage: "comma-separated CIDR list; matching sources are outgoing"},
		&cli.IntFlag{Name: "c", Usage: "enable checking with given minimum bits (1..160)"},
		&cli.StringFlag{Name: "d", Usage: "persistent double-spend store (requires -c)"},
		&cli.IntFlag{Name: "m", Usage: "enable minting with given bits (1..160)"},
		&cli.IntFlag{Name: "r", Usage: "reduction floor for multi-recipient mint"},
		&cli.StringFlag{Name: "s", Usage: "sender-domain filter for minting"},
		&cli.IntFlag{Name: "t", Usage: "mint timeout in seconds"},
		&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
	}
	app.Action = run
	return app
}

func run(c *cli.Context) error {
	logger := log.Logger{Name: "hashcash-milter", Debug: c.Bool("debug")}

	if err := sha1core.SelfTest(); err != nil {
		return fmt.Errorf("startup: sha1 self-test failed: %w", err)
	}

	pol, err := buildPolicy(c)
	if err != nil {
		return err
	}
	if err := pol.Validate(); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	endpoint, err := milteraddr.Parse(c.String("p"))
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	if err := daemon.DropPrivileges(c.String("u"), c.String("C")); err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	if err := daemon.Detach(c.Bool("f")); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	if path := c.String("P"); path != "" {
		lock, err := daemon.PIDFile(path)
		if err != nil {
			return fmt.Errorf("startup: %w", err)
		}
		defer lock.Unlock()
	}

	rngSrc, err := rng.Open()
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer rngSrc.Close()

	var store *ledger.Store
	if pol.DataFile != "" {
		store, err = ledger.Open(pol.DataFile)
		if err != nil {
			return fmt.Errorf("startup: %w", err)
		}
		defer store.Close()

		stop := make(chan struct{})
		defer close(stop)
		go store.SyncEvery(300*time.Second, stop)
	}

	srv := &filter.Server{
		Policy: pol,
		Mint:   &mint.Engine{Policy: pol, RNG: rngSrc, Log: logger},
		Verify: &verify.Engine{Policy: pol, Ledger: store, Log: logger},
		Log:    logger,
	}

	ln, err := milteraddr.Listen(endpoint)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer ln.Close()

	ms := &milter.Server{
		NewMilter: filter.New(srv),
		Actions:   milter.OptAddHeader | milter.OptChangeHeader,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Msg("listening", "socket", endpoint.Original)
	if err := ms.Serve(ln); err != nil && ctx.Err() == nil {
		return fmt.Errorf("milter server: %w", err)
	}
	return nil
}

func buildPolicy(c *cli.Context) (*policy.Policy, error) {
	var cover netlist.CIDRList
	if s := c.String("i"); s != "" {
		var err error
		cover, err = netlist.ParseCIDRList(s)
		if err != nil {
			return nil, fmt.Errorf("-i: %w", err)
		}
	}

	return &policy.Policy{
		CoverAuth:      c.Bool("a"),
		CoverIPAddrs:   cover,
		CoverDomains:   netlist.ParseDomainList(c.String("s")),
		MintBits:       c.Int("m"),
		ReduceBits:     c.Int("r"),
		CheckBits:      c.Int("c"),
		TimeoutSeconds: c.Int("t"),
		DataFile:       c.String("d"),
	}, nil
}
