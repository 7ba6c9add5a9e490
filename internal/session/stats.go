package session

import "time"

// Outcome is the state a session reached after reconcile or retry.
type Outcome int

const (
	// OutcomeNone means there was nothing to reconcile.
	OutcomeNone Outcome = iota
	// OutcomeClean means every track was accounted for and the session's
	// files were removed.
	OutcomeClean
	// OutcomePartial means recovery files remain for a later retry.
	OutcomePartial
	// OutcomeSkipped means the window was too short to distribute and the
	// session was dropped.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClean:
		return "clean"
	case OutcomePartial:
		return "partial"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "none"
	}
}

// Stats counts per-track results of one reconcile or retry.
type Stats struct {
	Total            int
	Updated          int
	SkippedInWindow  int
	NotInStore       int
	StoreWriteFailed int
	TagWriteFailed   int
	TagRepaired      int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Total += o.Total
	s.Updated += o.Updated
	s.SkippedInWindow += o.SkippedInWindow
	s.NotInStore += o.NotInStore
	s.StoreWriteFailed += o.StoreWriteFailed
	s.TagWriteFailed += o.TagWriteFailed
	s.TagRepaired += o.TagRepaired
}

// Failed returns the number of tracks left in recovery files.
func (s Stats) Failed() int {
	return s.NotInStore + s.StoreWriteFailed + s.TagWriteFailed
}

// Result reports what happened to one session.
type Result struct {
	SessionID string
	Outcome   Outcome
	Start     int64
	End       int64
	Window    time.Duration
	Stats     Stats
}
