// Package lockfile implements an advisory, file-based mutual-exclusion lock.
// The lock file records the holder's pid and acquisition time on two plain
// text lines; atomic create-exclusive of that file is the only mutual
// exclusion primitive. A lock whose timestamp exceeds a staleness threshold
// is treated as abandoned and reclaimed.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hpcops/sentinel/internal/logging"
)

var (
	// ErrLockHeld is returned by Acquire when another live holder owns the
	// lock.
	ErrLockHeld = errors.New("lockfile: lock held")
	// ErrNotLocked is returned by Release when the lock file does not exist.
	ErrNotLocked = errors.New("lockfile: not locked")
	// ErrNotMyLock is returned by Release when the lock is recorded under a
	// different pid.
	ErrNotMyLock = errors.New("lockfile: not my lock")
	// ErrRead is returned when the lock file exists but its contents cannot
	// be parsed. Distinct from ErrLockHeld: a corrupt lock file needs an
	// operator, not a retry.
	ErrRead = errors.New("lockfile: cannot read lock file")
)

// TimestampedPidLockfile is a lock keyed by a filesystem path.
type TimestampedPidLockfile struct {
	path      string
	staleness time.Duration
}

// New returns a lock for path. A held lock older than staleness is considered
// abandoned by Acquire.
func New(path string, staleness time.Duration) *TimestampedPidLockfile {
	return &TimestampedPidLockfile{path: path, staleness: staleness}
}

// Path returns the lock file location.
func (l *TimestampedPidLockfile) Path() string {
	return l.path
}

// Acquire takes the lock, storing the current pid and time in the lock file.
// When the file already exists and its recorded timestamp is older than the
// staleness threshold, the recorded holder is signalled best-effort, the
// stale file removed, and acquisition retried once. Any other existing lock
// fails with ErrLockHeld.
func (l *TimestampedPidLockfile) Acquire() error {
	err := writeLockFile(l.path)
	if err == nil {
		logging.Op().Info("obtained lock", "path", l.path)
		return nil
	}
	if !os.IsExist(err) {
		return fmt.Errorf("lockfile: create %s: %w", l.path, err)
	}

	pid, ts, rerr := readLockFile(l.path)
	if rerr != nil {
		return rerr
	}
	if time.Since(ts) <= l.staleness {
		return fmt.Errorf("%w: %s (pid %d since %s)", ErrLockHeld, l.path, pid, ts.Format(time.UnixDate))
	}

	// Stale lock. The kill is advisory cleanup only; pid reuse makes it
	// inherently racy, and exclusion rests solely on O_EXCL below.
	logging.Op().Warn("stale lock detected, taking over", "path", l.path, "pid", pid, "timestamp", ts)
	signalHolder(pid)
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lockfile: remove stale lock %s: %w", l.path, err)
	}
	if err := writeLockFile(l.path); err != nil {
		return fmt.Errorf("%w: %s", ErrLockHeld, l.path)
	}
	logging.Op().Info("obtained lock after stale takeover", "path", l.path)
	return nil
}

// Release removes the lock file. It fails with ErrNotLocked when no lock
// exists and with ErrNotMyLock when the recorded holder is another process,
// leaving the file in place.
func (l *TimestampedPidLockfile) Release() error {
	if !l.IsLocked() {
		return fmt.Errorf("%w: %s", ErrNotLocked, l.path)
	}
	pid, _, err := readLockFile(l.path)
	if err != nil {
		return err
	}
	if pid != os.Getpid() {
		return fmt.Errorf("%w: %s held by pid %d", ErrNotMyLock, l.path, pid)
	}
	if err := os.Remove(l.path); err != nil {
		return fmt.Errorf("lockfile: remove %s: %w", l.path, err)
	}
	return nil
}

// IsLocked reports whether the lock file exists, regardless of holder.
func (l *TimestampedPidLockfile) IsLocked() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

// IAmLocking reports whether the lock file exists and records this process
// as the holder.
func (l *TimestampedPidLockfile) IAmLocking() bool {
	if !l.IsLocked() {
		return false
	}
	pid, _, err := readLockFile(l.path)
	if err != nil {
		return false
	}
	return pid == os.Getpid()
}

// ReadPidTimestamp returns the recorded holder pid and acquisition time.
func (l *TimestampedPidLockfile) ReadPidTimestamp() (int, time.Time, error) {
	return readLockFile(l.path)
}

func writeLockFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := fmt.Fprintf(f, "%d\n%d\n", os.Getpid(), time.Now().Unix())
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(path)
		return werr
	}
	return nil
}

func readLockFile(path string) (int, time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, time.Time{}, fmt.Errorf("%w: %s", ErrNotLocked, path)
		}
		return 0, time.Time{}, fmt.Errorf("%w: %s: %v", ErrRead, path, err)
	}

	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 3)
	if len(lines) < 2 {
		return 0, time.Time{}, fmt.Errorf("%w: %s: expected pid and timestamp lines", ErrRead, path)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %s: bad pid %q", ErrRead, path, lines[0])
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %s: bad timestamp %q", ErrRead, path, lines[1])
	}
	return pid, time.Unix(ts, 0), nil
}

// signalHolder checks whether the recorded holder is still alive and asks it
// to hang up. Errors are ignored: the process may be long gone.
func signalHolder(pid int) {
	if err := unix.Kill(pid, 0); err != nil {
		return
	}
	if err := unix.Kill(pid, unix.SIGHUP); err == nil {
		logging.Op().Warn("signalled stale lock holder", "pid", pid)
	}
}
