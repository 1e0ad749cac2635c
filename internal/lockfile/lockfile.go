// Package lockfile guards a state directory so that only one
// CoverageNavigator process uses it at a time.
//
// The lock is an flock on a file inside the directory. The kernel drops it
// when the process exits, so a crashed process never leaves a live lock
// behind, only a stale file.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "coveragenavigator.lock"

// ErrLocked matches every LockError.
var ErrLocked = errors.New("state directory is locked by another process")

// Lock is a held directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the lock on stateDir, creating the directory if needed. It
// does not wait: a held lock fails at once with a *LockError.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := describeHolder(path)
		slog.Error("Lock.Acquire: state directory already locked", "lock_path", path, "holder", holder)
		return nil, &LockError{Path: path, Holder: holder, Cause: err}
	}

	// The previous holder's pid is only replaced once we own the lock.
	if err := file.Truncate(0); err == nil {
		_, err = file.WriteString("pid=" + strconv.Itoa(os.Getpid()) + "\n")
		if err != nil {
			slog.Warn("Lock.Acquire: failed to record pid", "lock_path", path, "error", err)
		}
	}
	slog.Info("Lock.Acquire: state directory locked", "lock_path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release drops the lock and removes the file. Calling it twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before unlocking so a waiting process never sees our pid.
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Lock.Release: failed to remove lock file", "lock_path", l.path, "error", err)
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.path, err)
	}
	slog.Debug("Lock.Release: released", "lock_path", l.path)
	return nil
}

// LockError reports a state directory that another process holds.
type LockError struct {
	Path   string
	Holder string
	Cause  error
}

func (e *LockError) Error() string {
	var sb strings.Builder
	sb.WriteString("another CoverageNavigator instance is using this state directory (lock file ")
	sb.WriteString(e.Path)
	sb.WriteString(")")
	if e.Holder != "" {
		sb.WriteString(": held by ")
		sb.WriteString(e.Holder)
	}
	sb.WriteString("; if no other instance is running, remove the lock file and retry")
	return sb.String()
}

func (e *LockError) Unwrap() error { return e.Cause }

func (e *LockError) Is(target error) bool { return target == ErrLocked }

// describeHolder reads the pid recorded by the current holder.
func describeHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	pid := parsePID(string(data))
	if pid <= 0 {
		return ""
	}
	if processAlive(pid) {
		return fmt.Sprintf("PID %d (running)", pid)
	}
	return fmt.Sprintf("PID %d (not running)", pid)
}

func parsePID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "pid="); ok {
			if pid, err := strconv.Atoi(v); err == nil {
				return pid
			}
		}
	}
	return 0
}

// processAlive sends signal 0, which checks for existence only.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
