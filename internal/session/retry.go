package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/musiclib/internal/dsv"
)

// Retry re-attempts the recovery records of session id using their stored
// synthetic times.
//
// Tracks that appeared in the store are updated. Tracks whose LastPlayed is
// already at or past the session start are counted as SkippedInWindow.
// Unresolved records are written back. Once none remain and id is not the
// current session, all its files are removed.
//
// A store lock timeout returns an error and leaves every record in place.
func (m *Manager) Retry(ctx context.Context, id string) (Result, error) {
	err := validID(id)
	if err != nil {
		return Result{}, err
	}

	var res Result

	err = m.lock.WithLock(m.lockTimeout, func() error {
		var err error

		res, err = m.retry(ctx, id)

		return err
	})

	return res, err
}

// RetryAll retries every session that has recovery records. It stops at the
// first structural error.
func (m *Manager) RetryAll(ctx context.Context) ([]Result, error) {
	infos, err := m.Status()
	if err != nil {
		return nil, err
	}

	var results []Result

	for _, info := range infos {
		if !info.Pending() {
			continue
		}

		res, err := m.Retry(ctx, info.ID)
		if err != nil {
			return results, err
		}

		results = append(results, res)
	}

	return results, nil
}

func (m *Manager) retry(ctx context.Context, id string) (Result, error) {
	res := Result{SessionID: id}
	log := m.log.WithField("session", id)

	notInStore, err := m.readRecords(id, kindNotInStore)
	if err != nil {
		return res, err
	}

	writeFailed, err := m.readRecords(id, kindWriteFailed)
	if err != nil {
		return res, err
	}

	s, err := m.load(id)

	hasStart := err == nil

	switch {
	case hasStart:
		res.Start = s.Start
	case !errors.Is(err, ErrNoSession):
		return res, err
	case len(notInStore)+len(writeFailed) == 0:
		exists, statErr := m.anyFile(id)
		if statErr != nil {
			return res, statErr
		}

		if !exists {
			return res, err
		}
	}

	res.Stats.Total = len(notInStore) + len(writeFailed)

	var keepMissing, keepFailed []Record

	if res.Stats.Total > 0 {
		err = m.store.Lock().WithLock(m.lockTimeout, func() error {
			t, err := m.store.Load()
			if err != nil {
				return err
			}

			err = t.RequireColumns(dsv.ColPath, dsv.ColLastPlayed)
			if err != nil {
				return err
			}

			var updated, tagOnly []Record

			resolve := func(r Record) {
				row, err := t.FindExact(r.Path)
				if err != nil {
					if errors.Is(err, dsv.ErrNotFound) {
						r.Reason = ""
						keepMissing = append(keepMissing, r)

						return
					}

					r.Reason = ReasonStoreWrite
					keepFailed = append(keepFailed, r)

					return
				}

				if r.Reason == ReasonTagWrite {
					tagOnly = append(tagOnly, r)

					return
				}

				threshold := r.Time
				if hasStart {
					threshold = s.Start
				}

				if lp, ok := lastPlayed(t, row); ok && lp >= threshold {
					res.Stats.SkippedInWindow++

					return
				}

				err = t.SetColumn(row, dsv.ColLastPlayed, strconv.FormatInt(r.Time, 10))
				if err != nil {
					r.Reason = ReasonStoreWrite
					keepFailed = append(keepFailed, r)

					return
				}

				updated = append(updated, r)
			}

			for _, r := range notInStore {
				resolve(r)
			}

			for _, r := range writeFailed {
				resolve(r)
			}

			keepFailed = append(keepFailed, m.commitAndTag(ctx, t, updated, &res.Stats, log)...)
			keepFailed = append(keepFailed, m.writeTags(ctx, tagOnly, &res.Stats, log)...)

			return nil
		})
		if err != nil {
			return res, fmt.Errorf("retrying session %s: %w", id, err)
		}

		err = m.writeRecords(id, kindNotInStore, keepMissing)
		if err != nil {
			return res, err
		}

		err = m.writeRecords(id, kindWriteFailed, keepFailed)
		if err != nil {
			return res, err
		}
	}

	tally(&res.Stats, keepMissing, keepFailed)

	if len(keepMissing)+len(keepFailed) > 0 {
		res.Outcome = OutcomePartial

		return res, nil
	}

	res.Outcome = OutcomeClean

	current, err := m.current()
	if err != nil {
		return res, err
	}

	if current != id {
		err = m.removeSession(id)
		if err != nil {
			return res, err
		}
	}

	log.WithFields(logrus.Fields{"updated": res.Stats.Updated}).Info("session fully reconciled")

	return res, nil
}

func (m *Manager) anyFile(id string) (bool, error) {
	for _, name := range []string{
		id + metaSuffix,
		id + tracksSuffix,
		id + "." + string(kindNotInStore),
		id + "." + string(kindWriteFailed),
	} {
		ok, err := m.fsys.Exists(m.file(name))
		if err != nil || ok {
			return ok, err
		}
	}

	return false, nil
}
