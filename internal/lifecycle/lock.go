package lifecycle

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrLocked means another gate invocation already holds the lock file.
// Two concurrent gates would contend for ports and CPU and corrupt each
// other's measurements, so this is fatal, never waited out.
var ErrLocked = errors.New("another perfgate run holds the lock")

// Lock is the exclusive invocation lock. It scopes a whole run: acquire it
// before the first measurement starts and release it after the last one
// finishes, never per measurement, or a second invocation could slip in
// between rounds and interleave with this one.
type Lock struct {
	f    *os.File
	path string
}

// AcquireLock takes a non-blocking exclusive flock(2) on path, creating the
// file if needed. The holder's PID is written into the file for diagnostics.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w (%s)", ErrLocked, path)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())

	return &Lock{f: f, path: path}, nil
}

// Release drops the lock and removes the lock file. Safe to call once.
func (l *Lock) Release() {
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	_ = l.f.Close()
	_ = os.Remove(l.path)
}
