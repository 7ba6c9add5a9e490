package lock_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calvinalkan/musiclib/internal/fs"
	"github.com/calvinalkan/musiclib/internal/lock"
)

const testTimeout = 20 * time.Millisecond

// Contract: a second WithLock with a short timeout observes ErrTimeout while
// the first holder is inside its critical section, and fn is not invoked.
func Test_WithLock_Returns_ErrTimeout_When_Lock_Held(t *testing.T) {
	t.Parallel()

	dataPath := filepath.Join(t.TempDir(), "library.dsv")
	first := lock.ForFile(fs.NewReal(), dataPath)
	second := lock.ForFile(fs.NewReal(), dataPath)

	var invoked bool

	err := first.WithLock(time.Second, func() error {
		return second.WithLock(testTimeout, func() error {
			invoked = true

			return nil
		})
	})

	if !errors.Is(err, lock.ErrTimeout) {
		t.Fatalf("err=%v, want %v", err, lock.ErrTimeout)
	}

	if !lock.IsTimeout(err) {
		t.Fatalf("IsTimeout(%v)=false", err)
	}

	if invoked {
		t.Fatal("fn invoked despite timeout")
	}
}

// Contract: the lock is free again after WithLock returns, even when fn failed.
func Test_WithLock_Releases_Lock_When_Fn_Returns_Error(t *testing.T) {
	t.Parallel()

	dataPath := filepath.Join(t.TempDir(), "library.dsv")
	m := lock.ForFile(fs.NewReal(), dataPath)
	boom := errors.New("boom")

	err := m.WithLock(time.Second, func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v, want %v", err, boom)
	}

	err = m.WithLock(testTimeout, func() error { return nil })
	if err != nil {
		t.Fatalf("reacquire after error: %v", err)
	}
}

// Contract: a panic inside fn still releases the lock.
func Test_WithLock_Releases_Lock_When_Fn_Panics(t *testing.T) {
	t.Parallel()

	dataPath := filepath.Join(t.TempDir(), "library.dsv")
	m := lock.ForFile(fs.NewReal(), dataPath)

	func() {
		defer func() { _ = recover() }()

		_ = m.WithLock(time.Second, func() error { panic("boom") })
	}()

	err := m.WithLock(testTimeout, func() error { return nil })
	if err != nil {
		t.Fatalf("reacquire after panic: %v", err)
	}
}

// Contract: failing to create the sidecar is ErrLock, not ErrTimeout.
func Test_WithLock_Returns_ErrLock_When_LockFile_Cannot_Be_Created(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")

	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	m := lock.New(fs.NewReal(), filepath.Join(blocker, "sub", "x.lock"))

	err := m.WithLock(testTimeout, func() error { return nil })
	if !errors.Is(err, lock.ErrLock) {
		t.Fatalf("err=%v, want %v", err, lock.ErrLock)
	}

	if errors.Is(err, lock.ErrTimeout) {
		t.Fatalf("err=%v must not be a timeout", err)
	}
}

// Contract: TryWithLock returns ErrBusy immediately when the lock is held.
func Test_TryWithLock_Returns_ErrBusy_When_Lock_Held(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "drain.lock")
	holder := lock.New(fs.NewReal(), lockPath)
	other := lock.New(fs.NewReal(), lockPath)

	err := holder.WithLock(time.Second, func() error {
		start := time.Now()

		tryErr := other.TryWithLock(func() error {
			t.Error("fn must not run while busy")

			return nil
		})

		if time.Since(start) > 500*time.Millisecond {
			t.Errorf("TryWithLock blocked for %s", time.Since(start))
		}

		return tryErr
	})

	if !errors.Is(err, lock.ErrBusy) {
		t.Fatalf("err=%v, want %v", err, lock.ErrBusy)
	}
}

// Contract: the sidecar is distinct from the data file and survives release.
func Test_ForFile_Uses_Sidecar_Lock_File(t *testing.T) {
	t.Parallel()

	dataPath := filepath.Join(t.TempDir(), "library.dsv")
	m := lock.ForFile(fs.NewReal(), dataPath)

	if got, want := m.Path(), dataPath+".lock"; got != want {
		t.Fatalf("Path()=%q, want %q", got, want)
	}

	if err := m.WithLock(testTimeout, func() error { return nil }); err != nil {
		t.Fatalf("WithLock: %v", err)
	}

	if _, err := os.Stat(dataPath); !os.IsNotExist(err) {
		t.Fatalf("data file must not be created by locking, stat err=%v", err)
	}

	if _, err := os.Stat(m.Path()); err != nil {
		t.Fatalf("lock file missing after release: %v", err)
	}
}

// Contract: a timeout on a different lock inside fn is fn's error, not ErrBusy.
func Test_TryWithLock_Returns_Fn_Error_When_Fn_Times_Out_On_Other_Lock(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	outer := lock.New(fs.NewReal(), filepath.Join(dir, "drain.lock"))
	inner := lock.New(fs.NewReal(), filepath.Join(dir, "queue.lock"))
	innerHolder := lock.New(fs.NewReal(), filepath.Join(dir, "queue.lock"))

	var ran bool

	err := innerHolder.WithLock(time.Second, func() error {
		return outer.TryWithLock(func() error {
			ran = true

			return inner.WithLock(testTimeout, func() error { return nil })
		})
	})

	if !ran {
		t.Fatal("fn did not run although the outer lock was free")
	}

	if errors.Is(err, lock.ErrBusy) {
		t.Fatalf("err=%v must not be ErrBusy", err)
	}

	if !errors.Is(err, lock.ErrTimeout) {
		t.Fatalf("err=%v, want %v", err, lock.ErrTimeout)
	}
}
