// Package lifecycle enforces the one-daemon-per-guest rule and drives the
// self-install machinery: the PID lock file, takeover of other instances,
// the mounted-volume version gate, and the auto-start launch agent.
package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// ErrLockHeld means another live process owns the lock file.
var ErrLockHeld = errors.New("lock held by a running process")

// Lock is an acquired PID lock file.
type Lock struct {
	path string
	pid  int
}

// AcquireLock takes the PID lock at path. A lock whose recorded holder is
// no longer alive is stale and silently replaced.
func AcquireLock(path string) (*Lock, error) {
	if data, err := os.ReadFile(path); err == nil {
		pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr == nil && pid != os.Getpid() && pidAlive(pid) {
			return nil, fmt.Errorf("%w (pid %d)", ErrLockHeld, pid)
		}
		os.Remove(path)
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{path: path, pid: pid}, nil
}

// AcquireLockRetry acquires the lock, retrying once after wait if a live
// holder is found — the holder may be a dying predecessor we just
// terminated during takeover.
func AcquireLockRetry(path string, wait time.Duration) (*Lock, error) {
	l, err := AcquireLock(path)
	if !errors.Is(err, ErrLockHeld) {
		return l, err
	}
	time.Sleep(wait)
	return AcquireLock(path)
}

// Release removes the lock file if this process still owns it.
func (l *Lock) Release() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err == nil && pid == l.pid {
		os.Remove(l.path)
	}
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// pidAlive probes a PID with signal 0. EPERM still means the process
// exists, just owned by someone else.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
