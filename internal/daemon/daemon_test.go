package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetachForegroundIsNoop(t *testing.T) {
	if err := Detach(true); err != nil {
		t.Fatalf("Detach(true) = %v, want nil (foreground is a no-op)", err)
	}
}

func TestDropPrivilegesNoopWithoutUserSpec(t *testing.T) {
	if err := DropPrivileges("", ""); err != nil {
		t.Fatalf("DropPrivileges(\"\", \"\") = %v, want nil", err)
	}
}

func TestDropPrivilegesRejectsChrootWithoutUser(t *testing.T) {
	if err := DropPrivileges("", "/var/empty"); err == nil {
		t.Fatal("expected an error: chroot given without -u")
	}
}

func TestDropPrivilegesRejectsUnknownUser(t *testing.T) {
	if err := DropPrivileges("no-such-user-hashcash-milter-test", ""); err == nil {
		t.Fatal("expected an error for an unresolvable user")
	}
}

func TestPIDFileWritesPIDAndLocksExclusively(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashcash-milter.pid")

	lock, err := PIDFile(path)
	if err != nil {
		t.Fatalf("PIDFile: %v", err)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("pid file is empty")
	}

	if _, err := PIDFile(path); err == nil {
		t.Fatal("expected a second PIDFile on the same path to fail while the first lock is held")
	}
}
