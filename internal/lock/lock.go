// Package lock guards a shared file with a bounded-wait exclusive lock held on
// a sidecar lock file.
//
// A [Manager] never locks the data file itself. The data file is replaced by
// rename on every commit, so the lock lives on a stable sidecar path
// ("<data>.lock") that is never replaced or removed.
package lock

import (
	"errors"
	"fmt"
	"time"

	"github.com/calvinalkan/musiclib/internal/fs"
)

var (
	// ErrTimeout reports that the lock was held by someone else for the whole
	// wait. It is recoverable: retry later or defer the work.
	ErrTimeout = errors.New("lock timeout")

	// ErrLock reports that the sidecar lock file could not be created, opened
	// or locked for a reason other than contention. It is fatal.
	ErrLock = errors.New("lock error")

	// ErrBusy is returned by [Manager.TryWithLock] when another holder is
	// active. Callers that use a lock for self-exclusion treat it as a no-op.
	ErrBusy = errors.New("lock busy")
)

// Manager serializes critical sections across processes using flock on a
// single sidecar file.
//
// Manager holds no mutable state and is safe for concurrent use. Note that
// flock is per open file description: two goroutines in one process using two
// Managers on the same path exclude each other just like two processes do.
type Manager struct {
	locker *fs.Locker
	path   string
}

// New returns a Manager that locks the file at lockPath.
func New(fsys fs.FS, lockPath string) *Manager {
	return &Manager{
		locker: fs.NewLocker(fsys),
		path:   lockPath,
	}
}

// ForFile returns a Manager guarding dataPath via the sidecar "<dataPath>.lock".
func ForFile(fsys fs.FS, dataPath string) *Manager {
	return New(fsys, dataPath+".lock")
}

// Path returns the lock file path.
func (m *Manager) Path() string {
	return m.path
}

// WithLock acquires the lock, waiting up to timeout, runs fn and releases the
// lock before returning.
//
// On timeout fn is not invoked and the returned error satisfies
// errors.Is(err, [ErrTimeout]). A timeout <= 0 makes a single attempt.
// Any other acquisition failure satisfies errors.Is(err, [ErrLock]).
//
// The lock is released on every exit path, including fn returning an error or
// panicking. fn's error is returned unchanged; a release failure is joined to it.
func (m *Manager) WithLock(timeout time.Duration, fn func() error) error {
	held, err := m.acquire(timeout)
	if err != nil {
		return err
	}

	return m.run(held, fn)
}

// TryWithLock runs fn only if the lock is free right now.
//
// If another holder has the lock it returns [ErrBusy] immediately without
// invoking fn. Use it for self-exclusion where a concurrent run makes this one
// redundant. Errors from fn are returned unchanged, even if they wrap
// [ErrTimeout] from some other lock.
func (m *Manager) TryWithLock(fn func() error) error {
	held, err := m.acquire(0)
	if errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %s", ErrBusy, m.path)
	}

	if err != nil {
		return err
	}

	return m.run(held, fn)
}

func (m *Manager) acquire(timeout time.Duration) (*fs.Lock, error) {
	var (
		held *fs.Lock
		err  error
	)

	if timeout > 0 {
		held, err = m.locker.LockWithTimeout(m.path, timeout)
	} else {
		held, err = m.locker.TryLock(m.path)
	}

	if err != nil {
		if errors.Is(err, fs.ErrWouldBlock) {
			return nil, fmt.Errorf("%w: %s: %w", ErrTimeout, m.path, err)
		}

		return nil, fmt.Errorf("%w: %s: %w", ErrLock, m.path, err)
	}

	return held, nil
}

// run calls fn and releases held on every exit path, including a panic.
func (m *Manager) run(held *fs.Lock, fn func() error) (err error) {
	defer func() {
		closeErr := held.Close()
		if closeErr != nil {
			err = errors.Join(err, fmt.Errorf("releasing %s: %w", m.path, closeErr))
		}
	}()

	return fn()
}

// IsTimeout reports whether err is a lock acquisition timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
