package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/musiclib/internal/lock"
)

// Handler replays one op. It must take the store lock itself, with a short
// timeout. Returning an error satisfying [lock.IsTimeout] keeps the line for
// the next drain; any other error dead-letters it.
type Handler func(ctx context.Context, op Op) error

// Handlers maps op types to their replay handler.
type Handlers map[string]Handler

// Stats summarizes one drain pass.
type Stats struct {
	Applied      int
	Kept         int
	DeadLettered int

	// Busy is set when another drain held the drain lock and this call did
	// nothing.
	Busy bool
}

type fate int

const (
	fateApplied fate = iota
	fateKept
	fateDead
)

// Drain replays every queued op through handlers.
//
// Concurrent drains exclude each other: if one is in progress Drain returns
// immediately with Stats.Busy set and a nil error. Ops enqueued while the
// drain runs are preserved. The queue file is rewritten only if some line was
// applied or dead-lettered, and removed once empty.
//
// Busy is only reported for the drain lock. Failing to take the queue lock is
// an error; if that happens after handlers ran, the returned Stats still count
// what was applied and those lines remain queued.
func (q *Queue) Drain(ctx context.Context, handlers Handlers) (Stats, error) {
	var stats Stats

	err := q.drainLock.TryWithLock(func() error {
		var err error

		stats, err = q.drain(ctx, handlers)

		return err
	})
	if errors.Is(err, lock.ErrBusy) {
		q.log.Debug("drain already in progress")

		return Stats{Busy: true}, nil
	}

	return stats, err
}

func (q *Queue) drain(ctx context.Context, handlers Handlers) (Stats, error) {
	var (
		stats    Stats
		snapshot []string
	)

	err := q.lock.WithLock(q.lockTimeout, func() error {
		var err error

		snapshot, err = q.readLines()

		return err
	})
	if err != nil {
		return stats, fmt.Errorf("drain: %w", err)
	}

	if len(snapshot) == 0 {
		return stats, nil
	}

	kept := make([]string, 0, len(snapshot))

	for _, line := range snapshot {
		switch q.replay(ctx, handlers, line) {
		case fateApplied:
			stats.Applied++
		case fateKept:
			stats.Kept++
			kept = append(kept, line)
		case fateDead:
			stats.DeadLettered++
		}
	}

	if stats.Kept == len(snapshot) {
		return stats, nil
	}

	err = q.lock.WithLock(q.lockTimeout, func() error {
		current, err := q.readLines()
		if err != nil {
			return err
		}

		// Only Enqueue touches the file while we hold the drain lock, and it
		// only appends.
		if len(current) > len(snapshot) {
			kept = append(kept, current[len(snapshot):]...)
		}

		return q.writeLines(kept)
	})
	if err != nil {
		q.log.WithError(err).WithField("applied", stats.Applied).Error("queue rewrite failed, applied lines stay queued")

		return stats, fmt.Errorf("drain: rewriting queue: %w", err)
	}

	return stats, nil
}

func (q *Queue) replay(ctx context.Context, handlers Handlers, line string) fate {
	log := q.log.WithField("line", line)

	if ctx.Err() != nil {
		return fateKept
	}

	op, err := ParseOp(line)
	if err != nil {
		log.WithField("reason", err).Warn("dead-lettered pending operation")

		return fateDead
	}

	h, ok := handlers[op.Type]
	if !ok {
		log.WithField("reason", fmt.Errorf("%w: %s", ErrUnsupported, op.Type)).Warn("dead-lettered pending operation")

		return fateDead
	}

	err = h(ctx, op)

	switch {
	case err == nil:
		log.Debug("replayed pending operation")

		return fateApplied
	case lock.IsTimeout(err), errors.Is(err, lock.ErrLock), ctx.Err() != nil:
		log.WithError(err).Debug("kept pending operation")

		return fateKept
	default:
		log.WithFields(logrus.Fields{"reason": err}).Warn("dead-lettered pending operation")

		return fateDead
	}
}
