package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/musiclib/internal/dsv"
	"github.com/calvinalkan/musiclib/internal/lock"
	"github.com/calvinalkan/musiclib/internal/tags"
)

// Reconcile distributes last-played times over session id's tracks for the
// window [start, end]. A session whose files are gone yields OutcomeNone.
func (m *Manager) Reconcile(ctx context.Context, id string, end int64) (Result, error) {
	err := validID(id)
	if err != nil {
		return Result{}, err
	}

	var res Result

	err = m.lock.WithLock(m.lockTimeout, func() error {
		s, err := m.load(id)
		if err != nil {
			if errors.Is(err, ErrNoSession) {
				res = Result{SessionID: id}

				return nil
			}

			return err
		}

		res, err = m.reconcile(ctx, s, end)

		return err
	})

	return res, err
}

// reconcile runs with the session lock held.
//
// Per-track failures become recovery records. Only structural failures are
// returned (clock skew, schema, lock error, I/O on session files), and those
// leave the store and session files as they were.
func (m *Manager) reconcile(ctx context.Context, s Session, end int64) (Result, error) {
	res := Result{SessionID: s.ID, Start: s.Start, End: end}

	if end < s.Start {
		return res, fmt.Errorf("%w: session %s starts at %d, after end %d", ErrClockSkew, s.ID, s.Start, end)
	}

	window := end - s.Start
	res.Window = time.Duration(window) * time.Second

	log := m.log.WithFields(logrus.Fields{"session": s.ID, "window": res.Window.String()})

	if res.Window < m.minWindow {
		log.Warn("session window below minimum, skipping reconciliation")

		res.Outcome = OutcomeSkipped

		return res, m.removeSession(s.ID)
	}

	if m.maxWindow > 0 && res.Window > m.maxWindow {
		log.Warn("session window exceeds maximum, reconciling anyway")
	}

	n := len(s.Tracks)
	res.Stats.Total = n

	var notInStore, failed []Record

	err := m.store.Lock().WithLock(m.lockTimeout, func() error {
		t, err := m.store.Load()
		if err != nil {
			return err
		}

		err = t.RequireColumns(dsv.ColPath, dsv.ColLastPlayed)
		if err != nil {
			return err
		}

		var updated []Record

		for i, path := range s.Tracks {
			rec := Record{Path: path, Time: SyntheticTime(s.Start, window, i+1, n)}

			row, err := t.FindExact(path)
			if err != nil {
				if errors.Is(err, dsv.ErrNotFound) {
					log.WithField("track_path", path).Info("track not in store")

					notInStore = append(notInStore, rec)

					continue
				}

				log.WithField("track_path", path).WithError(err).Info("cannot update track")

				rec.Reason = ReasonStoreWrite
				failed = append(failed, rec)

				continue
			}

			if lp, ok := lastPlayed(t, row); ok && lp >= s.Start && lp <= end {
				res.Stats.SkippedInWindow++

				continue
			}

			err = t.SetColumn(row, dsv.ColLastPlayed, strconv.FormatInt(rec.Time, 10))
			if err != nil {
				rec.Reason = ReasonStoreWrite
				failed = append(failed, rec)

				continue
			}

			updated = append(updated, rec)
		}

		failed = append(failed, m.commitAndTag(ctx, t, updated, &res.Stats, log)...)

		return nil
	})

	switch {
	case lock.IsTimeout(err):
		log.WithError(err).Warn("store locked, recording every track for retry")

		res.Stats = Stats{Total: n}
		notInStore = nil
		failed = nil

		for i, path := range s.Tracks {
			failed = append(failed, Record{
				Path:   path,
				Time:   SyntheticTime(s.Start, window, i+1, n),
				Reason: ReasonStoreWrite,
			})
		}
	case err != nil:
		return res, fmt.Errorf("reconciling session %s: %w", s.ID, err)
	}

	decided := make(map[string]bool, n)
	for _, path := range s.Tracks {
		decided[path] = true
	}

	err = m.replaceRecords(s.ID, kindNotInStore, decided, notInStore)
	if err != nil {
		return res, err
	}

	err = m.replaceRecords(s.ID, kindWriteFailed, decided, failed)
	if err != nil {
		return res, err
	}

	tally(&res.Stats, notInStore, failed)

	if len(notInStore) == 0 && len(failed) == 0 {
		res.Outcome = OutcomeClean

		return res, m.removeSession(s.ID)
	}

	res.Outcome = OutcomePartial

	log.WithFields(logrus.Fields{
		"not_in_store": res.Stats.NotInStore,
		"store_write":  res.Stats.StoreWriteFailed,
		"tag_write":    res.Stats.TagWriteFailed,
	}).Info("session partially reconciled")

	return res, nil
}

// commitAndTag commits t if any track was updated, then writes the
// last-played tag of each updated track. It runs inside the store lock and
// returns the records that failed.
func (m *Manager) commitAndTag(ctx context.Context, t *dsv.Table, updated []Record, stats *Stats, log logrus.FieldLogger) []Record {
	if len(updated) == 0 {
		return nil
	}

	err := m.store.Commit(t)
	if err != nil {
		log.WithError(err).Error("store commit failed")

		failed := make([]Record, 0, len(updated))
		for _, r := range updated {
			r.Reason = ReasonStoreWrite
			failed = append(failed, r)
		}

		return failed
	}

	stats.Updated += len(updated)

	return m.writeTags(ctx, updated, stats, log)
}

func (m *Manager) writeTags(ctx context.Context, recs []Record, stats *Stats, log logrus.FieldLogger) []Record {
	var failed []Record

	for _, r := range recs {
		wr, err := tags.Write(ctx, m.tags, r.Path, tags.KeyLastPlayed, strconv.FormatInt(r.Time, 10))
		if wr.Repaired {
			stats.TagRepaired++

			log.WithField("track_path", r.Path).Debug("tag block repaired")
		}

		if err != nil {
			log.WithField("track_path", r.Path).WithError(err).Info("tag write failed")

			r.Reason = ReasonTagWrite
			failed = append(failed, r)
		}
	}

	return failed
}

func lastPlayed(t *dsv.Table, row int) (int64, bool) {
	v, err := t.Value(row, dsv.ColLastPlayed)
	if err != nil || v == "" {
		return 0, false
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}

	return n, true
}
