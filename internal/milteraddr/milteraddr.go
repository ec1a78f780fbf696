// Package milteraddr parses the -p socket specification this filter's
// CLI accepts, in the Sendmail/libmilter socket syntax (spec.md §6):
// "local:/path", "inet:port@addr", or "inet6:port@addr" — not the
// scheme://host:port URL syntax the rest of the Go milter ecosystem
// favors, since MTAs configuring this filter's address expect the
// familiar libmilter form.
package milteraddr

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Endpoint is a parsed socket specification, ready to be handed to
// net.Listen. Network is "unix", "tcp4", or "tcp6"; Address is the
// corresponding listen address.
type Endpoint struct {
	Original string
	Network  string
	Address  string
}

// Parse parses spec per spec.md §6's CLI surface for -p.
func Parse(spec string) (Endpoint, error) {
	scheme, rest, ok := strings.Cut(spec, ":")
	if !ok {
		return Endpoint{}, fmt.Errorf("milteraddr: %q: missing scheme (want local:, inet:, or inet6:)", spec)
	}

	switch scheme {
	case "local":
		if rest == "" {
			return Endpoint{}, fmt.Errorf("milteraddr: %q: local socket requires a path", spec)
		}
		return Endpoint{Original: spec, Network: "unix", Address: rest}, nil
	case "inet", "inet6":
		port, addr, ok := strings.Cut(rest, "@")
		if !ok {
			// addr is optional; bare "inet:port" listens on all interfaces.
			port = rest
			addr = ""
		}
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return Endpoint{}, fmt.Errorf("milteraddr: %q: invalid port %q: %w", spec, port, err)
		}
		network := "tcp4"
		if scheme == "inet6" {
			network = "tcp6"
			if addr == "" {
				addr = "::"
			}
		} else if addr == "" {
			addr = "0.0.0.0"
		}
		return Endpoint{Original: spec, Network: network, Address: net.JoinHostPort(addr, port)}, nil
	default:
		return Endpoint{}, fmt.Errorf("milteraddr: %q: unsupported scheme %q (want local, inet, or inet6)", spec, scheme)
	}
}

// Listen opens a listener for e, removing a stale unix socket file first
// (a crashed prior instance can leave one behind; bind would otherwise
// fail with "address already in use").
func Listen(e Endpoint) (net.Listener, error) {
	if e.Network == "unix" {
		_ = removeStaleSocket(e.Address)
	}
	ln, err := net.Listen(e.Network, e.Address)
	if err != nil {
		return nil, fmt.Errorf("milteraddr: listen %s: %w", e.Original, err)
	}
	return ln, nil
}

// removeStaleSocket unlinks path only if it already exists and is a unix
// socket special file, never a regular file or directory, so a typo in
// -p cannot cause this filter to delete unrelated data.
func removeStaleSocket(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if fi.Mode().Type()&os.ModeSocket == 0 {
		return fmt.Errorf("milteraddr: %s exists and is not a socket, refusing to remove", path)
	}
	return os.Remove(path)
}
