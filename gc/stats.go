package gc

import "time"

// ---------------------------------------------------------------------------
// Collection statistics
// ---------------------------------------------------------------------------

// SliceStats describes one incremental slice.
type SliceStats struct {
	EnterState State
	FinalState State
	Budget     string
	Work       int64
	Duration   time.Duration
	Timestamp  time.Time
	OverBudget bool
}

// CollectionStats accumulates over one major collection, from StartGC to
// the return to NotActive.
type CollectionStats struct {
	ID             string
	Number         uint64
	Reason         string
	Zones          int
	Slices         int
	CellsMarked    uint64
	CellsFinalized uint64
	SweepGroups    int
	ChunksReleased int
	Started        time.Time
	Finished       time.Time
	SliceLog       []SliceStats
}

// Duration is the wall-clock span of the collection, including mutator time
// between slices.
func (s *CollectionStats) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}
