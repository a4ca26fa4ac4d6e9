package stats

import (
	"slices"
	"sync/atomic"
	"time"

	"token-reallocator/model"
)

// Snapshot is an immutable view of the latest feedback reports.
type Snapshot struct {
	reports     []model.FeedbackReport
	collectedAt time.Time
}

// Reports returns a copy of the snapshot's reports.
func (s *Snapshot) Reports() []model.FeedbackReport {
	if s == nil {
		return nil
	}
	return slices.Clone(s.reports)
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.reports)
}

func (s *Snapshot) Empty() bool { return s.Len() == 0 }

func (s *Snapshot) CollectedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.collectedAt
}

// Holder is a single-slot, atomically replaceable snapshot. Readers never block on writers.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

func NewHolder() *Holder {
	h := &Holder{}
	h.current.Store(&Snapshot{})
	return h
}

// Current returns the latest snapshot; it is never nil.
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Replace supersedes the previous snapshot wholesale.
func (h *Holder) Replace(reports []model.FeedbackReport, collectedAt time.Time) *Snapshot {
	next := &Snapshot{reports: slices.Clone(reports), collectedAt: collectedAt}
	h.current.Store(next)
	return next
}
