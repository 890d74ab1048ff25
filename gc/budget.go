package gc

import (
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// SliceBudget: bounded unit of collector work per incremental step
// ---------------------------------------------------------------------------

// How many work units are consumed between deadline checks. Checking the
// clock on every marked cell would dominate the marking loop.
const budgetCheckInterval = 128

// SliceBudget limits how much work a single state-machine call may do.
// Exhaustion is not an error: it is the normal "not finished" signal that
// suspends the collector until the next slice.
type SliceBudget struct {
	unlimited  bool
	workBased  bool
	workRemain int64
	deadline   time.Time
	checkAt    int64
	consumed   int64
}

// UnlimitedBudget returns a budget that never expires. Used by "finish now"
// collections.
func UnlimitedBudget() *SliceBudget {
	return &SliceBudget{unlimited: true}
}

// TimeBudget returns a budget that expires d after its first use.
func TimeBudget(d time.Duration) *SliceBudget {
	return &SliceBudget{
		deadline: time.Now().Add(d),
		checkAt:  budgetCheckInterval,
	}
}

// WorkBudget returns a budget of n abstract work units (cells marked,
// values scanned). Deterministic, so tests use it to force suspension at
// exact points.
func WorkBudget(n int64) *SliceBudget {
	return &SliceBudget{workBased: true, workRemain: n}
}

// step consumes work units and reports whether the budget is now exhausted.
func (b *SliceBudget) step(work int64) bool {
	b.consumed += work
	if b.unlimited {
		return false
	}
	if b.workBased {
		b.workRemain -= work
		return b.workRemain <= 0
	}
	b.checkAt -= work
	if b.checkAt > 0 {
		return false
	}
	b.checkAt = budgetCheckInterval
	return !time.Now().Before(b.deadline)
}

// isOverBudget reports exhaustion without consuming work.
func (b *SliceBudget) isOverBudget() bool {
	if b.unlimited {
		return false
	}
	if b.workBased {
		return b.workRemain <= 0
	}
	return !time.Now().Before(b.deadline)
}

// Consumed returns the total work units recorded against this budget.
func (b *SliceBudget) Consumed() int64 { return b.consumed }

func (b *SliceBudget) String() string {
	switch {
	case b.unlimited:
		return "unlimited"
	case b.workBased:
		return fmt.Sprintf("work(%d remaining)", b.workRemain)
	default:
		return fmt.Sprintf("time(until %s)", b.deadline.Format(time.RFC3339Nano))
	}
}
