// Package queue implements the pending operation queue: a line-oriented log
// of mutations that could not take the store lock in time, replayed later by
// [Queue.Drain].
//
// Files live in one state directory:
//
//	pending-ops             the queue, oldest line first
//	pending-ops.lock        guards appends and rewrites of the queue
//	pending-ops.drain.lock  self-exclusion between concurrent drains
//
// The queue lock is only ever held for file I/O on the queue itself. Handlers
// run without it, so a handler taking the store lock can never deadlock with
// an enqueue from the same call chain.
package queue

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/musiclib/internal/fs"
	"github.com/calvinalkan/musiclib/internal/lock"
)

const (
	// FileName is the queue file name inside the state directory.
	FileName = "pending-ops"

	queueFilePerm = 0o644

	defaultLockTimeout = 5 * time.Second
)

// Queue is a pending operation queue rooted in a state directory.
type Queue struct {
	fsys        fs.FS
	path        string
	lock        *lock.Manager
	drainLock   *lock.Manager
	lockTimeout time.Duration
	now         func() time.Time
	log         logrus.FieldLogger
}

// Option configures a Queue.
type Option func(*Queue)

// WithFS overrides the filesystem.
func WithFS(fsys fs.FS) Option {
	return func(q *Queue) { q.fsys = fsys }
}

// WithLogger sets the logger for drain decisions.
func WithLogger(log logrus.FieldLogger) Option {
	return func(q *Queue) { q.log = log }
}

// WithClock sets the clock used to stamp enqueued ops.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithLockTimeout sets how long enqueue and rewrite wait for the queue lock.
func WithLockTimeout(d time.Duration) Option {
	return func(q *Queue) { q.lockTimeout = d }
}

// New returns the queue stored in stateDir.
func New(stateDir string, opts ...Option) *Queue {
	q := &Queue{
		fsys:        fs.NewReal(),
		path:        filepath.Join(stateDir, FileName),
		lockTimeout: defaultLockTimeout,
		now:         time.Now,
		log:         discardLogger(),
	}

	for _, opt := range opts {
		opt(q)
	}

	q.lock = lock.New(q.fsys, q.path+".lock")
	q.drainLock = lock.New(q.fsys, q.path+".drain.lock")

	return q
}

// Path returns the queue file path.
func (q *Queue) Path() string {
	return q.path
}

// Enqueue appends one op stamped with the current time.
func (q *Queue) Enqueue(origin, opType string, args ...string) (Op, error) {
	op := Op{Time: q.now().Unix(), Origin: origin, Type: opType, Args: args}

	err := op.Validate()
	if err != nil {
		return Op{}, err
	}

	err = q.lock.WithLock(q.lockTimeout, func() error {
		lines, err := q.readLines()
		if err != nil {
			return err
		}

		return q.writeLines(append(lines, op.String()))
	})
	if err != nil {
		return Op{}, fmt.Errorf("enqueue %s: %w", opType, err)
	}

	q.log.WithFields(logrus.Fields{"op": opType, "origin": origin}).Info("operation deferred")

	return op, nil
}

// Entry is one queue line as listed by [Queue.List].
type Entry struct {
	Line string
	Op   Op
	Err  error // set if Line does not parse
}

// List returns the queued lines, oldest first. It takes no lock: the queue
// file is always replaced atomically.
func (q *Queue) List() ([]Entry, error) {
	lines, err := q.readLines()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		op, err := ParseOp(line)
		entries = append(entries, Entry{Line: line, Op: op, Err: err})
	}

	return entries, nil
}

func (q *Queue) readLines() ([]string, error) {
	data, err := q.fsys.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading queue: %w", err)
	}

	var lines []string

	for line := range strings.SplitSeq(string(data), "\n") {
		if line == "" {
			continue
		}

		lines = append(lines, line)
	}

	return lines, nil
}

// writeLines replaces the queue with lines, removing the file when empty.
func (q *Queue) writeLines(lines []string) error {
	if len(lines) == 0 {
		err := q.fsys.Remove(q.path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing queue: %w", err)
		}

		return nil
	}

	err := q.fsys.MkdirAll(filepath.Dir(q.path), 0o750)
	if err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	data := strings.Join(lines, "\n") + "\n"

	err = q.fsys.WriteFileAtomic(q.path, []byte(data), queueFilePerm)
	if err != nil {
		return fmt.Errorf("writing queue: %w", err)
	}

	return nil
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)

	return l
}
