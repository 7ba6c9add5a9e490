package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch drains once, then again whenever the queue file is written and every
// interval, until ctx is done. Drain failures are logged and do not stop the
// watcher. It returns nil when ctx is cancelled.
func (q *Queue) Watch(ctx context.Context, handlers Handlers, interval time.Duration, onDrain func(Stats)) error {
	dir := filepath.Dir(q.path)

	err := q.fsys.MkdirAll(dir, 0o750)
	if err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer watcher.Close()

	// The queue file is replaced by rename, so watch the directory.
	err = watcher.Add(dir)
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	run := func() {
		stats, err := q.Drain(ctx, handlers)
		if err != nil {
			q.log.WithError(err).Error("drain failed")

			return
		}

		if onDrain != nil && !stats.Busy {
			onDrain(stats)
		}
	}

	run()

	var tick <-chan time.Time

	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			run()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if ev.Name != q.path || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			run()
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			q.log.WithError(werr).Warn("watch error")
		}
	}
}
