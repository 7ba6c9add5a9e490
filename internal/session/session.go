// Package session implements upload-session accounting: when a new session
// is opened, the previous one is reconciled by spreading synthetic
// last-played times over its tracks.
//
// All files live in one directory:
//
//	current             id of the current session
//	<id>.meta           session start, unix seconds
//	<id>.tracks         one absolute path per line; order is the position i
//	<id>.not-in-store   recovery: tracks missing from the store
//	<id>.write-failed   recovery: tracks whose store or tag write failed
//	session.lock        serializes open, reconcile and retry
//
// A session with either recovery file is not fully reconciled. Lock order is
// always session lock, then store lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/musiclib/internal/dsv"
	"github.com/calvinalkan/musiclib/internal/fs"
	"github.com/calvinalkan/musiclib/internal/lock"
	"github.com/calvinalkan/musiclib/internal/tags"
)

const (
	currentFile     = "current"
	lockFile        = "session.lock"
	metaSuffix      = ".meta"
	tracksSuffix    = ".tracks"
	sessionFilePerm = 0o644

	// DefaultMinWindow is the shortest window that is distributed.
	DefaultMinWindow = 5 * time.Minute
	// DefaultMaxWindow is the longest window reconciled without a warning.
	DefaultMaxWindow = 30 * 24 * time.Hour
	// DefaultLockTimeout bounds waits on the session and store locks.
	DefaultLockTimeout = 2 * time.Second
)

// Session is an upload session.
type Session struct {
	ID     string
	Start  int64
	Tracks []string
}

// Manager owns the session directory and reconciles sessions against a store.
type Manager struct {
	fsys        fs.FS
	dir         string
	store       *dsv.Store
	tags        tags.Writer
	lock        *lock.Manager
	lockTimeout time.Duration
	minWindow   time.Duration
	maxWindow   time.Duration
	now         func() time.Time
	log         logrus.FieldLogger
}

// Option configures a Manager.
type Option func(*Manager)

// WithFS overrides the filesystem.
func WithFS(fsys fs.FS) Option {
	return func(m *Manager) { m.fsys = fsys }
}

// WithTagWriter sets the writer used after each store update. The default
// writes nothing.
func WithTagWriter(w tags.Writer) Option {
	return func(m *Manager) { m.tags = w }
}

// WithLockTimeout sets the wait for the session and store locks.
func WithLockTimeout(d time.Duration) Option {
	return func(m *Manager) { m.lockTimeout = d }
}

// WithWindow sets the minimum and maximum session window. A max of 0 disables
// the warning.
func WithWindow(minWindow, maxWindow time.Duration) Option {
	return func(m *Manager) {
		m.minWindow = minWindow
		m.maxWindow = maxWindow
	}
}

// WithClock sets the clock used for session start and end times.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Manager) { m.log = log }
}

// New returns a Manager keeping its files in dir and updating store.
func New(dir string, store *dsv.Store, opts ...Option) *Manager {
	m := &Manager{
		fsys:        fs.NewReal(),
		dir:         dir,
		store:       store,
		tags:        tags.Nop{},
		lockTimeout: DefaultLockTimeout,
		minWindow:   DefaultMinWindow,
		maxWindow:   DefaultMaxWindow,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		m.log = l
	}

	m.lock = lock.New(m.fsys, filepath.Join(dir, lockFile))

	return m
}

// Open makes id the current session with the given tracks, started now.
//
// If another session was current it is reconciled first, ending now. The new
// session is persisted whatever that reconciliation returns: its Result is
// passed back and its error is wrapped in [ErrReconcile]. Opening the
// current id again is a no-op.
func (m *Manager) Open(ctx context.Context, id string, tracks []string) (Result, error) {
	err := validID(id)
	if err != nil {
		return Result{}, err
	}

	for _, p := range tracks {
		if p == "" || strings.ContainsAny(p, "\r\n") {
			return Result{}, fmt.Errorf("%w: %q", ErrInvalidTrack, p)
		}
	}

	var (
		res       Result
		reconcErr error
	)

	err = m.lock.WithLock(m.lockTimeout, func() error {
		current, err := m.current()
		if err != nil {
			return err
		}

		if current == id {
			m.log.WithField("session", id).Debug("session already current")

			return nil
		}

		now := m.now().Unix()

		if current != "" {
			prev, err := m.load(current)

			switch {
			case errors.Is(err, ErrNoSession):
				m.log.WithField("session", current).Warn("previous session files missing, nothing to reconcile")
			case err != nil:
				reconcErr = err
			default:
				res, reconcErr = m.reconcile(ctx, prev, now)
			}
		}

		return m.persist(Session{ID: id, Start: now, Tracks: tracks})
	})
	if err != nil {
		return res, fmt.Errorf("opening session %s: %w", id, err)
	}

	if reconcErr != nil {
		return res, fmt.Errorf("%w: %w", ErrReconcile, reconcErr)
	}

	return res, nil
}

// Load returns the persisted session id.
func (m *Manager) Load(id string) (Session, error) {
	err := validID(id)
	if err != nil {
		return Session{}, err
	}

	return m.load(id)
}

// Current returns the id of the current session, or "" if there is none.
func (m *Manager) Current() (string, error) {
	return m.current()
}

func (m *Manager) load(id string) (Session, error) {
	data, err := m.fsys.ReadFile(m.file(id + metaSuffix))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Session{}, fmt.Errorf("%w: %s", ErrNoSession, id)
		}

		return Session{}, fmt.Errorf("reading session %s: %w", id, err)
	}

	start, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return Session{}, fmt.Errorf("session %s: invalid start %q", id, strings.TrimSpace(string(data)))
	}

	s := Session{ID: id, Start: start}

	data, err = m.fsys.ReadFile(m.file(id + tracksSuffix))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Session{}, fmt.Errorf("reading session %s tracks: %w", id, err)
	}

	for line := range strings.SplitSeq(string(data), "\n") {
		if line != "" {
			s.Tracks = append(s.Tracks, line)
		}
	}

	return s, nil
}

func (m *Manager) current() (string, error) {
	data, err := m.fsys.ReadFile(m.file(currentFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}

		return "", fmt.Errorf("reading current session: %w", err)
	}

	return strings.TrimSpace(string(data)), nil
}

// persist writes the meta and tracks files, then points current at s.
func (m *Manager) persist(s Session) error {
	err := m.fsys.MkdirAll(m.dir, 0o750)
	if err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}

	var tracks strings.Builder
	for _, p := range s.Tracks {
		tracks.WriteString(p)
		tracks.WriteByte('\n')
	}

	writes := []struct {
		name string
		data string
	}{
		{s.ID + metaSuffix, strconv.FormatInt(s.Start, 10) + "\n"},
		{s.ID + tracksSuffix, tracks.String()},
		{currentFile, s.ID + "\n"},
	}

	for _, w := range writes {
		err := m.fsys.WriteFileAtomic(m.file(w.name), []byte(w.data), sessionFilePerm)
		if err != nil {
			return fmt.Errorf("writing %s: %w", w.name, err)
		}
	}

	return nil
}

// removeSession deletes every file of id, and the current pointer if it
// names id.
func (m *Manager) removeSession(id string) error {
	var errs []error

	for _, name := range []string{
		id + metaSuffix,
		id + tracksSuffix,
		id + "." + string(kindNotInStore),
		id + "." + string(kindWriteFailed),
	} {
		errs = append(errs, m.remove(m.file(name)))
	}

	current, err := m.current()
	if err != nil {
		errs = append(errs, err)
	} else if current == id {
		errs = append(errs, m.remove(m.file(currentFile)))
	}

	return errors.Join(errs...)
}

func (m *Manager) remove(path string) error {
	err := m.fsys.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", filepath.Base(path), err)
	}

	return nil
}

func (m *Manager) file(name string) string {
	return filepath.Join(m.dir, name)
}

func validID(id string) error {
	if id == "" || id == currentFile || strings.HasPrefix(id, ".") || len(id) > 128 {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}

	return nil
}
