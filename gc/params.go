package gc

import "time"

const (
	defaultMarkStackLimit  = 1 << 16
	defaultChunkSize       = 64 << 10
	defaultNurseryCapacity = 4096
)

// Params carries the collector's tunables. Zero values fall back to the
// defaults; DefaultParams gives the full default set.
type Params struct {
	// MarkStackLimit caps mark stack growth (entries). When the stack is
	// full, further work is delayed rather than dropped.
	MarkStackLimit int

	// EagerDepthLimit bounds inline chain walks (shape parents, scope
	// enclosings, string bases). Exceeding it is treated as heap
	// corruption and is fatal.
	EagerDepthLimit int

	// RopeHistoryWindow is the number of recently visited rope nodes kept
	// for cycle detection; RopeCheckInterval is how often (in steps) the
	// window is consulted.
	RopeHistoryWindow int
	RopeCheckInterval int

	// NurseryCapacity is the young-cell count that triggers an automatic
	// minor collection on allocation.
	NurseryCapacity int

	// ChunkSize is the string arena chunk size in bytes.
	ChunkSize int

	// DefaultSliceTime is the budget used by Collect for each incremental
	// slice when the caller does not supply one.
	DefaultSliceTime time.Duration

	// BackgroundSweep enables off-thread finalization of kinds that
	// support it.
	BackgroundSweep bool
}

// DefaultParams returns the stock tuning.
func DefaultParams() Params {
	return Params{
		MarkStackLimit:    defaultMarkStackLimit,
		EagerDepthLimit:   1 << 20,
		RopeHistoryWindow: 16,
		RopeCheckInterval: 1000,
		NurseryCapacity:   defaultNurseryCapacity,
		ChunkSize:         defaultChunkSize,
		DefaultSliceTime:  10 * time.Millisecond,
		BackgroundSweep:   true,
	}
}

// withDefaults fills in zero fields.
func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.MarkStackLimit <= 0 {
		p.MarkStackLimit = d.MarkStackLimit
	}
	if p.EagerDepthLimit <= 0 {
		p.EagerDepthLimit = d.EagerDepthLimit
	}
	if p.RopeHistoryWindow <= 0 {
		p.RopeHistoryWindow = d.RopeHistoryWindow
	}
	if p.RopeCheckInterval <= 0 {
		p.RopeCheckInterval = d.RopeCheckInterval
	}
	if p.NurseryCapacity <= 0 {
		p.NurseryCapacity = d.NurseryCapacity
	}
	if p.ChunkSize <= 0 {
		p.ChunkSize = d.ChunkSize
	}
	if p.DefaultSliceTime <= 0 {
		p.DefaultSliceTime = d.DefaultSliceTime
	}
	return p
}
