// Package daemon implements the ambient process-lifecycle concerns
// spec.md §6 delegates to "daemonization": foreground/background stdio
// handling, privilege dropping, chroot, and PID-file locking. These are
// raw syscall operations the teacher itself leaves to its service manager;
// this package issues them through golang.org/x/sys/unix and os/user, and
// locks the PID file with github.com/gofrs/flock.
package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"os/user"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

// Detach puts the process in its own session and redirects stdin/stdout/
// stderr to /dev/null, matching spec.md §6's "stdio closed to /dev/null
// when daemonized". It is a no-op when foreground is true (-f).
//
// Unlike a classic double-fork daemon, this does not detach from the
// parent process group by forking — Go's runtime does not support fork
// without exec safely once goroutines exist — so -f's absence only means
// "run in the background of this same process tree", which is sufficient
// for the service-manager-supervised deployments this filter targets.
func Detach(foreground bool) error {
	if foreground {
		return nil
	}

	if _, err := unix.Setsid(); err != nil && err != unix.EPERM {
		return fmt.Errorf("daemon: setsid: %w", err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("daemon: open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	for _, f := range []*os.File{os.Stdin, os.Stdout, os.Stderr} {
		if err := dup2(devNull, f); err != nil {
			return fmt.Errorf("daemon: redirect %s to %s: %w", f.Name(), os.DevNull, err)
		}
	}
	return nil
}

func dup2(src, dst *os.File) error {
	return unix.Dup2(int(src.Fd()), int(dst.Fd()))
}

// DropPrivileges implements -u user[:group] (and, if chrootDir is
// non-empty, -C rootdir): chroot happens first (while still root, since
// chroot itself requires privilege), then the process permanently drops
// to the named user (and, if given, group; otherwise the user's primary
// group). A non-empty chrootDir with an empty userSpec is rejected with an
// error, since -C is only valid together with -u.
func DropPrivileges(userSpec, chrootDir string) error {
	if userSpec == "" {
		if chrootDir != "" {
			return fmt.Errorf("daemon: chroot requires -u")
		}
		return nil
	}

	userName, groupName, _ := strings.Cut(userSpec, ":")

	u, err := user.Lookup(userName)
	if err != nil {
		return fmt.Errorf("daemon: lookup user %q: %w", userName, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("daemon: user %q has non-numeric uid %q", userName, u.Uid)
	}

	gidStr := u.Gid
	if groupName != "" {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return fmt.Errorf("daemon: lookup group %q: %w", groupName, err)
		}
		gidStr = g.Gid
	}
	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return fmt.Errorf("daemon: group %q has non-numeric gid %q", groupName, gidStr)
	}

	if chrootDir != "" {
		if err := unix.Chroot(chrootDir); err != nil {
			return fmt.Errorf("daemon: chroot %s: %w", chrootDir, err)
		}
		if err := os.Chdir("/"); err != nil {
			return fmt.Errorf("daemon: chdir / after chroot: %w", err)
		}
	}

	// Group before user: once the uid is dropped, the process can no
	// longer change its gid.
	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("daemon: setgid %d: %w", gid, err)
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("daemon: setuid %d: %w", uid, err)
	}
	return nil
}

// PIDFile writes the current process id to path, holding an exclusive
// flock on it for the lifetime of the process per spec.md §6's "-P
// pidfile: write PID to file, flock exclusively". The returned lock must
// be kept alive (not garbage collected) and is released by Close.
func PIDFile(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("daemon: lock pidfile %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("daemon: pidfile %s is already locked by another instance", path)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("daemon: write pidfile %s: %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("daemon: write pidfile %s: %w", path, err)
	}

	return lock, nil
}
