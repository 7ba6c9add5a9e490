// Package library implements the mutations callers make against the record
// store: rating, field edits, scrobbles, import and delete.
//
// Every mutation runs in one store transaction. If the store lock cannot be
// taken in time the mutation is appended to the pending queue instead and
// reported as deferred. After a successful mutation the queue is drained
// opportunistically.
package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/musiclib/internal/dsv"
	"github.com/calvinalkan/musiclib/internal/lock"
	"github.com/calvinalkan/musiclib/internal/queue"
	"github.com/calvinalkan/musiclib/internal/tags"
)

// ErrInvalid reports an invalid argument from the caller.
var ErrInvalid = errors.New("invalid argument")

// Queue op types.
const (
	OpRate   = "rate"
	OpSet    = "set"
	OpPlayed = "played"
	OpImport = "import"
	OpDelete = "delete"
)

// Timeouts controls how long each kind of caller waits for the store lock.
type Timeouts struct {
	// Interactive is the per-attempt wait for user-facing commands.
	Interactive time.Duration
	// Retries is how many extra attempts interactive commands make.
	Retries int
	// Background is the single-attempt wait for scrobble accounting.
	Background time.Duration
	// Drain is the wait used when replaying queued ops.
	Drain time.Duration
}

// DefaultTimeouts returns the timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Interactive: 10 * time.Second,
		Retries:     2,
		Background:  2 * time.Second,
		Drain:       time.Second,
	}
}

// Outcome describes a completed or deferred mutation.
type Outcome struct {
	// Deferred is set when the op was queued instead of applied.
	Deferred bool
	// Changed is false for no-ops such as importing a known path.
	Changed bool
	// ID is the row ID for imports.
	ID int
	// TagErr is a tag write failure. The store change stands.
	TagErr error
	// Drain reports the opportunistic drain after the mutation.
	Drain queue.Stats
}

// Library applies mutations to a store, deferring them to a queue on lock
// timeout.
type Library struct {
	store    *dsv.Store
	queue    *queue.Queue
	tags     tags.Writer
	reader   tags.Reader
	timeouts Timeouts
	log      logrus.FieldLogger
}

// Option configures a Library.
type Option func(*Library)

// WithTagWriter sets the tag writer (default: none).
func WithTagWriter(w tags.Writer) Option {
	return func(l *Library) { l.tags = w }
}

// WithReader sets the metadata reader used by Import.
func WithReader(r tags.Reader) Option {
	return func(l *Library) { l.reader = r }
}

// WithTimeouts sets the lock timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(l *Library) { l.timeouts = t }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Library) { l.log = log }
}

// New returns a Library over store, deferring to q.
func New(store *dsv.Store, q *queue.Queue, opts ...Option) *Library {
	l := &Library{
		store:    store,
		queue:    q,
		tags:     tags.Nop{},
		reader:   tags.FileReader{},
		timeouts: DefaultTimeouts(),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.log == nil {
		lg := logrus.New()
		lg.SetOutput(io.Discard)
		l.log = lg
	}

	return l
}

type tagField struct {
	key   string
	value string
}

// mutation is one store change, replayable from its queue form.
type mutation struct {
	op    string
	path  string
	args  []string
	apply func(t *dsv.Table) (changed bool, err error)
	tags  []tagField
	id    int
}

// run applies m, retrying on lock timeout, and enqueues it if the lock never
// became free.
func (l *Library) run(ctx context.Context, origin string, m *mutation, timeout time.Duration, retries int) (Outcome, error) {
	log := l.log.WithFields(logrus.Fields{"op": m.op, "track_path": m.path})

	var (
		out Outcome
		err error
	)

	for attempt := 0; ; attempt++ {
		out, err = l.apply(ctx, m, timeout)
		if !lock.IsTimeout(err) || attempt >= retries || ctx.Err() != nil {
			break
		}

		log.WithField("attempt", attempt+1).Debug("store locked, retrying")
	}

	if lock.IsTimeout(err) {
		_, qErr := l.queue.Enqueue(origin, m.op, m.args...)
		if qErr != nil {
			return Outcome{}, errors.Join(err, qErr)
		}

		log.Info("store locked, operation deferred")

		return Outcome{Deferred: true}, nil
	}

	if err != nil {
		return Outcome{}, err
	}

	stats, drainErr := l.queue.Drain(ctx, l.Handlers())
	if drainErr != nil {
		log.WithError(drainErr).Warn("draining pending queue failed")
	}

	out.Drain = stats

	return out, nil
}

// apply runs m in one store transaction and writes its tags on success.
func (l *Library) apply(ctx context.Context, m *mutation, timeout time.Duration) (Outcome, error) {
	var changed bool

	err := l.store.Update(timeout, func(t *dsv.Table) (bool, error) {
		var err error

		changed, err = m.apply(t)

		return changed, err
	})
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Changed: changed, ID: m.id}

	if !changed {
		return out, nil
	}

	var tagErrs []error

	for _, f := range m.tags {
		_, err := tags.Write(ctx, l.tags, m.path, f.key, f.value)
		if err != nil {
			tagErrs = append(tagErrs, err)
		}
	}

	if len(tagErrs) > 0 {
		out.TagErr = errors.Join(tagErrs...)

		l.log.WithField("track_path", m.path).WithError(out.TagErr).Warn("tag write failed")
	}

	return out, nil
}

// Drain replays the pending queue.
func (l *Library) Drain(ctx context.Context) (queue.Stats, error) {
	return l.queue.Drain(ctx, l.Handlers())
}

// Watch drains whenever the queue changes and every interval until ctx ends.
func (l *Library) Watch(ctx context.Context, interval time.Duration, onDrain func(queue.Stats)) error {
	return l.queue.Watch(ctx, l.Handlers(), interval, onDrain)
}

// Handlers returns the queue replay handlers. They use the drain timeout,
// make a single attempt and never enqueue.
func (l *Library) Handlers() queue.Handlers {
	replay := func(build func(op queue.Op) (*mutation, error)) queue.Handler {
		return func(ctx context.Context, op queue.Op) error {
			m, err := build(op)
			if err != nil {
				return err
			}

			_, err = l.apply(ctx, m, l.timeouts.Drain)

			return err
		}
	}

	return queue.Handlers{
		OpRate: replay(func(op queue.Op) (*mutation, error) {
			stars, err := parseStars(op.Arg(1))
			if err != nil {
				return nil, err
			}

			return l.rateMutation(op.Arg(0), stars)
		}),
		OpSet: replay(func(op queue.Op) (*mutation, error) {
			if len(op.Args) != 3 {
				return nil, fmt.Errorf("%w: set wants 3 args, got %d", ErrInvalid, len(op.Args))
			}

			return l.setMutation(op.Arg(0), op.Arg(1), op.Arg(2))
		}),
		OpPlayed: replay(func(op queue.Op) (*mutation, error) {
			at, err := parseEpoch(op.Arg(1))
			if err != nil {
				return nil, err
			}

			return l.playedMutation(op.Arg(0), at)
		}),
		OpImport: replay(func(op queue.Op) (*mutation, error) {
			return l.importMutation(op.Arg(0))
		}),
		OpDelete: replay(func(op queue.Op) (*mutation, error) {
			return l.deleteMutation(op.Arg(0))
		}),
	}
}
