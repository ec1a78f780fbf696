package milteraddr

import (
	"path/filepath"
	"testing"
)

func TestParseLocal(t *testing.T) {
	e, err := Parse("local:/var/run/hashcash-milter.sock")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if e.Network != "unix" || e.Address != "/var/run/hashcash-milter.sock" {
		t.Errorf("Parse = %+v, want unix socket at that path", e)
	}
}

func TestParseLocalMissingPath(t *testing.T) {
	if _, err := Parse("local:"); err == nil {
		t.Fatal("expected an error for a path-less local: spec")
	}
}

func TestParseInetWithAddr(t *testing.T) {
	e, err := Parse("inet:8025@127.0.0.1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if e.Network != "tcp4" || e.Address != "127.0.0.1:8025" {
		t.Errorf("Parse = %+v, want tcp4 127.0.0.1:8025", e)
	}
}

func TestParseInetBarePort(t *testing.T) {
	e, err := Parse("inet:8025")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if e.Network != "tcp4" || e.Address != "0.0.0.0:8025" {
		t.Errorf("Parse = %+v, want tcp4 0.0.0.0:8025 (all interfaces)", e)
	}
}

func TestParseInet6DefaultsToAllInterfaces(t *testing.T) {
	e, err := Parse("inet6:8025")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if e.Network != "tcp6" || e.Address != "[::]:8025" {
		t.Errorf("Parse = %+v, want tcp6 [::]:8025", e)
	}
}

func TestParseInetInvalidPort(t *testing.T) {
	if _, err := Parse("inet:notaport@127.0.0.1"); err == nil {
		t.Fatal("expected an error for a non-numeric port")
	}
}

func TestParseUnsupportedScheme(t *testing.T) {
	if _, err := Parse("tcp://127.0.0.1:8025"); err == nil {
		t.Fatal("expected an error for a non-libmilter scheme")
	}
}

func TestListenUnixCreatesSocketFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sock")
	ln, err := Listen(Endpoint{Original: "local:" + path, Network: "unix", Address: path})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	if ln.Addr().Network() != "unix" {
		t.Errorf("listener network = %s, want unix", ln.Addr().Network())
	}
}

func TestListenUnixRemovesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sock")

	first, err := Listen(Endpoint{Network: "unix", Address: path})
	if err != nil {
		t.Fatalf("first Listen: %v", err)
	}
	first.Close()

	// first.Close() already unlinks the socket on most platforms, but
	// removeStaleSocket must tolerate a leftover file from an unclean exit
	// (e.g. a killed process) rather than failing the second bind.
	second, err := Listen(Endpoint{Network: "unix", Address: path})
	if err != nil {
		t.Fatalf("second Listen should recover from a stale socket file: %v", err)
	}
	second.Close()
}
