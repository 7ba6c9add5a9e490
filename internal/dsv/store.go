package dsv

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/calvinalkan/musiclib/internal/fs"
	"github.com/calvinalkan/musiclib/internal/lock"
)

const storeFilePerm = 0o644

// Store is a delimiter-separated table file plus the lock that guards it.
//
// [Store.Load] and [Store.Commit] perform no locking: callers run them inside
// a critical section of [Store.Lock] (or use [Store.Update], which does both).
// Readers that only need a snapshot may call [Store.Load] without the lock,
// because commits replace the file atomically.
type Store struct {
	fsys  fs.FS
	path  string
	delim byte
	lock  *lock.Manager
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithDelimiter overrides [DefaultDelimiter].
func WithDelimiter(delim byte) StoreOption {
	return func(s *Store) { s.delim = delim }
}

// WithFS overrides the filesystem (default [fs.NewReal]).
func WithFS(fsys fs.FS) StoreOption {
	return func(s *Store) { s.fsys = fsys }
}

// NewStore returns a Store for the file at path. The lock sidecar is
// "<path>.lock".
func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{
		fsys:  fs.NewReal(),
		path:  path,
		delim: DefaultDelimiter,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.lock = lock.ForFile(s.fsys, path)

	return s
}

// Path returns the store file path.
func (s *Store) Path() string {
	return s.path
}

// Delimiter returns the field delimiter.
func (s *Store) Delimiter() byte {
	return s.delim
}

// Lock returns the lock manager guarding the store.
func (s *Store) Lock() *lock.Manager {
	return s.lock
}

// Load parses the store file. A missing file loads as an empty table with
// [DefaultHeader], so the first commit creates it.
func (s *Store) Load() (*Table, error) {
	data, err := s.fsys.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(DefaultHeader(), s.delim)
		}

		return nil, fmt.Errorf("reading store: %w", err)
	}

	t, err := Parse(data, s.delim)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}

	return t, nil
}

// Commit serializes t and atomically replaces the store file (temp file in
// the same directory, then rename).
func (s *Store) Commit(t *Table) error {
	if t.delim != s.delim {
		return fmt.Errorf("commit: table delimiter %q does not match store %q", t.delim, s.delim)
	}

	err := s.fsys.WriteFileAtomic(s.path, t.Bytes(), storeFilePerm)
	if err != nil {
		return fmt.Errorf("writing store: %w", err)
	}

	return nil
}

// Update runs one transaction: lock (waiting up to timeout), load, fn, and
// commit if fn reports a change. The table is parsed once inside the lock, so
// row indexes found by fn stay valid for its mutations.
//
// If fn returns an error nothing is written.
func (s *Store) Update(timeout time.Duration, fn func(t *Table) (changed bool, err error)) error {
	return s.lock.WithLock(timeout, func() error {
		t, err := s.Load()
		if err != nil {
			return err
		}

		changed, err := fn(t)
		if err != nil {
			return err
		}

		if !changed {
			return nil
		}

		return s.Commit(t)
	})
}
