package session

import (
	"fmt"
	"slices"
	"strings"
)

// Info describes one session found in the session directory.
type Info struct {
	ID          string
	Current     bool
	Start       int64 // 0 if the meta file is gone
	Tracks      int
	NotInStore  int
	WriteFailed int
}

// Pending reports whether the session still has recovery records.
func (i Info) Pending() bool {
	return i.NotInStore+i.WriteFailed > 0
}

// Status lists every session with files in the directory: the current one
// first, then the rest by id. It takes no lock.
func (m *Manager) Status() ([]Info, error) {
	entries, err := m.fsys.ReadDir(m.dir)
	if err != nil {
		if ok, _ := m.fsys.Exists(m.dir); !ok {
			return nil, nil
		}

		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	current, err := m.current()
	if err != nil {
		return nil, err
	}

	suffixes := []string{
		metaSuffix,
		tracksSuffix,
		"." + string(kindNotInStore),
		"." + string(kindWriteFailed),
	}

	seen := map[string]bool{}

	var ids []string

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		for _, suf := range suffixes {
			id, ok := strings.CutSuffix(e.Name(), suf)
			if !ok || validID(id) != nil || seen[id] {
				continue
			}

			seen[id] = true
			ids = append(ids, id)
		}
	}

	slices.SortFunc(ids, func(a, b string) int {
		switch {
		case a == current:
			return -1
		case b == current:
			return 1
		default:
			return strings.Compare(a, b)
		}
	})

	infos := make([]Info, 0, len(ids))

	for _, id := range ids {
		info := Info{ID: id, Current: id == current}

		s, err := m.load(id)
		if err == nil {
			info.Start = s.Start
			info.Tracks = len(s.Tracks)
		}

		nis, err := m.readRecords(id, kindNotInStore)
		if err != nil {
			return nil, err
		}

		wf, err := m.readRecords(id, kindWriteFailed)
		if err != nil {
			return nil, err
		}

		info.NotInStore = len(nis)
		info.WriteFailed = len(wf)
		infos = append(infos, info)
	}

	return infos, nil
}
