package session

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Reason codes for write-failed records.
const (
	ReasonStoreWrite = "store-write"
	ReasonTagWrite   = "tag-write"
)

const (
	recSep      = "|"
	humanLayout = "2006-01-02 15:04:05"
)

type recoveryKind string

const (
	kindNotInStore  recoveryKind = "not-in-store"
	kindWriteFailed recoveryKind = "write-failed"
)

// Record is one line of a recovery file.
//
//	not-in-store:  path|epoch|human
//	write-failed:  path|epoch|human|reason
//
// Fields are split from the right, so the path may contain the separator.
type Record struct {
	Path   string
	Time   int64
	Reason string
}

func formatRecord(kind recoveryKind, r Record) string {
	line := r.Path + recSep + strconv.FormatInt(r.Time, 10) + recSep + time.Unix(r.Time, 0).Format(humanLayout)
	if kind == kindWriteFailed {
		line += recSep + r.Reason
	}

	return line
}

func parseRecord(kind recoveryKind, line string) (Record, error) {
	var r Record

	rest := line

	if kind == kindWriteFailed {
		i := strings.LastIndex(rest, recSep)
		if i < 0 {
			return r, fmt.Errorf("malformed %s record %q", kind, line)
		}

		r.Reason = rest[i+1:]
		rest = rest[:i]

		if r.Reason != ReasonStoreWrite && r.Reason != ReasonTagWrite {
			return r, fmt.Errorf("malformed %s record %q: unknown reason %q", kind, line, r.Reason)
		}
	}

	// human timestamp
	i := strings.LastIndex(rest, recSep)
	if i < 0 {
		return r, fmt.Errorf("malformed %s record %q", kind, line)
	}

	rest = rest[:i]

	i = strings.LastIndex(rest, recSep)
	if i <= 0 {
		return r, fmt.Errorf("malformed %s record %q", kind, line)
	}

	ts, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil {
		return r, fmt.Errorf("malformed %s record %q: %w", kind, line, err)
	}

	r.Path = rest[:i]
	r.Time = ts

	return r, nil
}

func (m *Manager) recoveryPath(id string, kind recoveryKind) string {
	return m.file(id + "." + string(kind))
}

func (m *Manager) readRecords(id string, kind recoveryKind) ([]Record, error) {
	data, err := m.fsys.ReadFile(m.recoveryPath(id, kind))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading %s records: %w", kind, err)
	}

	var recs []Record

	for line := range strings.SplitSeq(string(data), "\n") {
		if line == "" {
			continue
		}

		r, err := parseRecord(kind, line)
		if err != nil {
			m.log.WithField("session", id).WithError(err).Warn("ignoring unreadable recovery record")

			continue
		}

		recs = append(recs, r)
	}

	return recs, nil
}

// writeRecords replaces a recovery file; no records removes it.
func (m *Manager) writeRecords(id string, kind recoveryKind, recs []Record) error {
	path := m.recoveryPath(id, kind)

	if len(recs) == 0 {
		return m.remove(path)
	}

	var b strings.Builder
	for _, r := range recs {
		b.WriteString(formatRecord(kind, r))
		b.WriteByte('\n')
	}

	err := m.fsys.WriteFileAtomic(path, []byte(b.String()), sessionFilePerm)
	if err != nil {
		return fmt.Errorf("writing %s records: %w", kind, err)
	}

	return nil
}

// replaceRecords drops the existing records of id whose path is in decided,
// then appends recs. A reconcile decides every track of its session afresh, so
// running it again never duplicates a record.
func (m *Manager) replaceRecords(id string, kind recoveryKind, decided map[string]bool, recs []Record) error {
	existing, err := m.readRecords(id, kind)
	if err != nil {
		return err
	}

	if len(existing) == 0 && len(recs) == 0 {
		return nil
	}

	kept := existing[:0]

	for _, r := range existing {
		if !decided[r.Path] {
			kept = append(kept, r)
		}
	}

	return m.writeRecords(id, kind, append(kept, recs...))
}

func tally(stats *Stats, notInStore, writeFailed []Record) {
	stats.NotInStore = len(notInStore)
	stats.StoreWriteFailed = 0
	stats.TagWriteFailed = 0

	for _, r := range writeFailed {
		if r.Reason == ReasonTagWrite {
			stats.TagWriteFailed++
		} else {
			stats.StoreWriteFailed++
		}
	}
}
