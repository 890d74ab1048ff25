package gc

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Runtime: heap-wide collector state machine
// ---------------------------------------------------------------------------
//
// A major collection advances through fixed states:
//
//   NotActive -> MarkRoots -> Mark -> Sweep -> Finalize -> Compact ->
//   Decommit -> NotActive
//
// Each GCSlice call runs the machine until the slice budget expires or the
// collection completes. Between slices the mutator runs freely; the write
// barriers keep the snapshot honest. Running out of budget is the expected
// way a slice ends and is not an error; broken invariants (marking a
// nursery cell, draining to a non-empty stack, cyclic ropes) are fatal.

// State identifies the collector's current phase.
type State uint8

const (
	StateNotActive State = iota
	StateMarkRoots
	StateMark
	StateSweep
	StateFinalize
	StateCompact
	StateDecommit
)

func (s State) String() string {
	switch s {
	case StateNotActive:
		return "not-active"
	case StateMarkRoots:
		return "mark-roots"
	case StateMark:
		return "mark"
	case StateSweep:
		return "sweep"
	case StateFinalize:
		return "finalize"
	case StateCompact:
		return "compact"
	case StateDecommit:
		return "decommit"
	}
	return "invalid"
}

// Status is the result of one incremental slice.
type Status uint8

const (
	StatusNotFinished Status = iota
	StatusFinished
)

// GCProgress identifies status-callback events.
type GCProgress uint8

const (
	GCCycleBegin GCProgress = iota
	GCSliceBegin
	GCSliceEnd
	GCSweepGroupBegin
	GCSweepGroupEnd
	GCCycleEnd
)

// StatusCallback observes collection lifecycle events. Stats are only
// complete at GCCycleEnd.
type StatusCallback func(progress GCProgress, stats *CollectionStats)

// Runtime owns the zones, the atom table, the marker and all collection
// state. All collector entry points must be called from the mutator
// goroutine; only background finalization runs concurrently.
type Runtime struct {
	params Params
	logger commonlog.Logger

	zones     []*Zone
	atomsZone *Zone
	atoms     *AtomTable

	marker  *GCMarker
	roots   rootRegistry
	handles []*Persistent

	nursery     nursery
	storeBuffer storeBuffer
	arena       *stringArena

	state         State
	collectionID  uuid.UUID
	majorGCNumber uint64

	sweepGroups     [][]*Zone
	sweepGroupIndex int
	sweepZoneIndex  int
	sweepKindIndex  int
	groupPrepared   bool

	bgSweep   *backgroundSweeper
	statusCb  StatusCallback
	stats     *CollectionStats
	lastStats *CollectionStats
}

// NewRuntime creates a runtime with the given tuning. Zero-valued fields of
// p take their defaults.
func NewRuntime(p Params) *Runtime {
	p = p.withDefaults()
	rt := &Runtime{
		params: p,
		logger: commonlog.GetLogger("gc"),
		atoms:  newAtomTable(),
		arena:  newStringArena(p.ChunkSize),
	}
	rt.marker = newGCMarker(rt, p)
	rt.atomsZone = rt.NewZone("atoms")
	rt.bgSweep = newBackgroundSweeper(rt)
	if p.BackgroundSweep {
		rt.bgSweep.Start()
	}
	rt.nursery.capacity = p.NurseryCapacity
	return rt
}

// Shutdown finishes any active collection and stops background work.
func (rt *Runtime) Shutdown() {
	if rt.state != StateNotActive {
		rt.FinishGC()
	}
	rt.bgSweep.Stop()
}

// State returns the collector's current phase.
func (rt *Runtime) State() State { return rt.state }

// Zones returns the runtime's zones, the atoms zone included.
func (rt *Runtime) Zones() []*Zone {
	out := make([]*Zone, len(rt.zones))
	copy(out, rt.zones)
	return out
}

// AtomsZone returns the zone that owns every atom.
func (rt *Runtime) AtomsZone() *Zone { return rt.atomsZone }

// Atoms returns the runtime's atom table.
func (rt *Runtime) Atoms() *AtomTable { return rt.atoms }

// CollectionID returns the id of the active (or most recent) collection.
func (rt *Runtime) CollectionID() uuid.UUID { return rt.collectionID }

// MajorGCNumber returns the count of major collections started.
func (rt *Runtime) MajorGCNumber() uint64 { return rt.majorGCNumber }

// LastStats returns statistics for the most recently completed collection,
// or nil.
func (rt *Runtime) LastStats() *CollectionStats { return rt.lastStats }

// SetStatusCallback installs the lifecycle observer.
func (rt *Runtime) SetStatusCallback(fn StatusCallback) { rt.statusCb = fn }

func (rt *Runtime) notify(p GCProgress) {
	if rt.statusCb != nil {
		rt.statusCb(p, rt.stats)
	}
}

// ---------------------------------------------------------------------------
// Collection lifecycle
// ---------------------------------------------------------------------------

// StartGC begins an incremental collection of the given zones, or of every
// zone when none are named. The nursery is evacuated first so marking never
// encounters a young cell.
func (rt *Runtime) StartGC(reason string, zones ...*Zone) error {
	if rt.state != StateNotActive {
		return fmt.Errorf("gc: collection already active in state %s", rt.state)
	}

	rt.MinorGC()

	if len(zones) == 0 {
		zones = rt.zones
	}
	for _, z := range zones {
		if z.rt != rt {
			return fmt.Errorf("gc: zone %q belongs to a different runtime", z.name)
		}
	}

	rt.collectionID = uuid.New()
	rt.majorGCNumber++
	rt.stats = &CollectionStats{
		ID:      rt.collectionID.String(),
		Number:  rt.majorGCNumber,
		Reason:  reason,
		Zones:   len(zones),
		Started: time.Now(),
	}

	for _, z := range zones {
		z.prepareForMarking()
	}
	rt.marker.start()
	rt.sweepGroups = nil
	rt.sweepGroupIndex = 0
	rt.state = StateMarkRoots

	rt.logger.Infof("gc %s: start (#%d, reason=%s, zones=%d)",
		rt.collectionID, rt.majorGCNumber, reason, len(zones))
	rt.notify(GCCycleBegin)
	return nil
}

// GCSlice advances the active collection within the given budget. Returns
// StatusFinished once the collection has returned to NotActive. Budget
// exhaustion is the normal way a slice ends.
func (rt *Runtime) GCSlice(budget *SliceBudget) Status {
	if rt.state == StateNotActive {
		return StatusFinished
	}

	slice := SliceStats{
		EnterState: rt.state,
		Budget:     budget.String(),
		Timestamp:  time.Now(),
	}
	rt.notify(GCSliceBegin)

	for rt.state != StateNotActive && !budget.isOverBudget() {
		if !rt.advance(budget) {
			break
		}
	}

	slice.FinalState = rt.state
	slice.Work = budget.Consumed()
	slice.Duration = time.Since(slice.Timestamp)
	slice.OverBudget = budget.isOverBudget()
	if rt.stats != nil {
		rt.stats.Slices++
		rt.stats.SliceLog = append(rt.stats.SliceLog, slice)
	}
	rt.notify(GCSliceEnd)

	if rt.state == StateNotActive {
		return StatusFinished
	}
	return StatusNotFinished
}

// FinishGC drives the active collection to completion without yielding.
func (rt *Runtime) FinishGC() {
	for rt.state != StateNotActive {
		rt.GCSlice(UnlimitedBudget())
	}
}

// Collect runs a complete non-incremental collection of every zone.
func (rt *Runtime) Collect(reason string) error {
	if err := rt.StartGC(reason); err != nil {
		return err
	}
	rt.FinishGC()
	return nil
}

// AbortGC abandons an in-progress collection as early as safety allows.
// During marking everything is simply discarded. During sweep the current
// group must be finished first: its zones are half torn down and their mark
// bits are already being consumed, so the only safe exits are forward.
// Remaining unswept groups keep all their cells.
func (rt *Runtime) AbortGC() {
	switch rt.state {
	case StateNotActive:
		return
	case StateMarkRoots, StateMark:
		rt.marker.stop()
		for _, z := range rt.zones {
			if z.isCollecting() {
				z.state = ZoneUnmarked
				z.clearWeakKeys()
				z.gcSweepGroupEdges = make(map[*Zone]struct{})
			}
		}
		rt.state = StateNotActive
		rt.logger.Infof("gc %s: aborted during marking", rt.collectionID)
		rt.stats = nil
	default:
		// Sweep or later: complete the current group, skip the rest.
		if rt.state == StateSweep && rt.groupPrepared {
			rt.sweepGroups = rt.sweepGroups[:rt.sweepGroupIndex+1]
			rt.sweepSlice(UnlimitedBudget())
		}
		for _, z := range rt.zones {
			if z.state == ZoneMarking {
				z.state = ZoneUnmarked
			}
		}
		rt.sweepGroupIndex = len(rt.sweepGroups)
		rt.state = StateFinalize
		rt.FinishGC()
	}
}

// ---------------------------------------------------------------------------
// State machine
// ---------------------------------------------------------------------------

// advance runs one unit of work in the current state. Returns false when the
// budget expired mid-state.
func (rt *Runtime) advance(budget *SliceBudget) bool {
	switch rt.state {
	case StateMarkRoots:
		rt.markRoots()
		rt.state = StateMark
		return true

	case StateMark:
		if !rt.markSlice(budget) {
			return false
		}
		rt.beginSweepPhase()
		return true

	case StateSweep:
		return rt.sweepSlice(budget)

	case StateFinalize:
		rt.bgSweep.drain()
		rt.stats.CellsMarked = rt.marker.CellsMarked()
		rt.state = StateCompact
		return true

	case StateCompact:
		// Cells never move; the phase exists so embedders observing state
		// transitions see the full sequence.
		rt.state = StateDecommit
		return true

	case StateDecommit:
		rt.stats.ChunksReleased = rt.arena.decommitFreeChunks()
		rt.finishCycle()
		return true
	}
	panic("gc: advance in state " + rt.state.String())
}

// markRoots marks every black root. Root marking always completes within
// its slice; root sets are small compared to the heap.
func (rt *Runtime) markRoots() {
	rt.traceBlackRoots(rt.marker)
}

// markSlice drains mark work until the budget expires or marking is truly
// complete, including the ephemeron fixpoint and gray roots.
func (rt *Runtime) markSlice(budget *SliceBudget) bool {
	m := rt.marker
	if !m.grayRootsTraced {
		if !m.drainMarkStack(budget) {
			return false
		}

		// Ephemeron fixpoint: entering weak mode scans marked weak maps,
		// which can mark new cells, which can trigger more implicit edges.
		// Drain until quiescent.
		m.enterWeakMarkingMode()
		if !m.drainMarkStack(budget) {
			return false
		}

		// Gray roots run after all black marking so a cell black via any
		// path stays black; markIfUnmarked never downgrades. The marker
		// stays gray across budget cuts until the gray drain completes, so
		// suspended gray work never resumes black.
		m.setMarkColor(MarkGray)
		rt.traceGrayRoots(m)
		m.grayRootsTraced = true
	}

	if !m.drainMarkStack(budget) {
		return false
	}
	m.setMarkColor(MarkBlack)

	m.leaveWeakMarkingMode()
	if !m.isDrained() {
		panic("gc: mark stack not empty after drain")
	}
	return true
}

// beginSweepPhase computes sweep groups from the cross-zone edges recorded
// during marking and arms the sweep cursors.
func (rt *Runtime) beginSweepPhase() {
	collecting := rt.collectingZones()
	rt.sweepGroups = findSweepGroups(collecting)
	rt.sweepGroupIndex = 0
	rt.groupPrepared = false
	rt.stats.SweepGroups = len(rt.sweepGroups)
	rt.state = StateSweep
}

// sweepSlice sweeps zones group by group, kind by kind, resuming at the
// stored cursor after a budget cut. A group's zones change state together:
// all enter ZoneSweeping when the group starts and all reach ZoneSwept
// before the next group is touched.
func (rt *Runtime) sweepSlice(budget *SliceBudget) bool {
	for rt.sweepGroupIndex < len(rt.sweepGroups) {
		group := rt.sweepGroups[rt.sweepGroupIndex]

		if !rt.groupPrepared {
			// Cells revived by barriers since the last group boundary must
			// finish traversal before any of their referents are swept.
			if !rt.marker.drainMarkStack(budget) {
				return false
			}
			for _, z := range group {
				z.state = ZoneSweeping
				z.sweepWeakStructures()
			}
			rt.sweepZoneIndex = 0
			rt.sweepKindIndex = 0
			rt.groupPrepared = true
			rt.notify(GCSweepGroupBegin)
		}

		for rt.sweepZoneIndex < len(group) {
			z := group[rt.sweepZoneIndex]
			for rt.sweepKindIndex < int(KindCount) {
				kind := Kind(rt.sweepKindIndex)
				dead := z.sweepKind(kind)
				rt.sweepKindIndex++
				rt.disposeDead(z, kind, dead)
				if budget.step(int64(len(dead)) + 1) {
					return false
				}
			}
			rt.sweepKindIndex = 0
			rt.sweepZoneIndex++
		}

		for _, z := range group {
			z.state = ZoneSwept
		}
		rt.sweepGroupIndex++
		rt.groupPrepared = false
		rt.notify(GCSweepGroupEnd)
	}

	if !rt.marker.drainMarkStack(budget) {
		return false
	}
	rt.state = StateFinalize
	return true
}

// disposeDead routes a batch of dead cells to foreground or background
// finalization. Atom table entries are always cleared here, on the mutator
// goroutine; only the per-cell teardown is offloaded.
func (rt *Runtime) disposeDead(z *Zone, kind Kind, dead []*Cell) {
	if len(dead) == 0 {
		return
	}
	rt.stats.CellsFinalized += uint64(len(dead))
	for _, c := range dead {
		if c.IsAtom() {
			rt.atoms.remove(c)
		}
	}
	if kind.backgroundFinalized() && rt.params.BackgroundSweep {
		rt.bgSweep.submit(sweepTask{zone: z, dead: dead})
		return
	}
	for _, c := range dead {
		rt.finalizeCell(c)
	}
}

// finishCycle returns the machine to NotActive and publishes stats.
func (rt *Runtime) finishCycle() {
	for _, z := range rt.zones {
		if z.state == ZoneSwept {
			z.state = ZoneUnmarked
		}
		z.gcSweepGroupEdges = make(map[*Zone]struct{})
	}
	rt.marker.stop()
	rt.sweepGroups = nil

	rt.stats.Finished = time.Now()
	rt.lastStats = rt.stats
	rt.logger.Infof("gc %s: done (%d slices, %d marked, %d finalized, %v)",
		rt.collectionID, rt.stats.Slices, rt.stats.CellsMarked,
		rt.stats.CellsFinalized, rt.stats.Duration())
	rt.state = StateNotActive
	rt.notify(GCCycleEnd)
	rt.stats = nil
}

func (rt *Runtime) collectingZones() []*Zone {
	var out []*Zone
	for _, z := range rt.zones {
		if z.isCollecting() {
			out = append(out, z)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Zone merging
// ---------------------------------------------------------------------------

// MergeZones moves every cell of source into target and drops source from
// the runtime. Disallowed while a collection is active. Source's atom
// bitmap is folded into target's first so no atom the moved cells reference
// can be reclaimed by the move.
func (rt *Runtime) MergeZones(target, source *Zone) error {
	if rt.state != StateNotActive {
		return fmt.Errorf("gc: cannot merge zones in state %s", rt.state)
	}
	if target == source {
		return fmt.Errorf("gc: cannot merge zone %q into itself", source.name)
	}
	if source == rt.atomsZone || target == rt.atomsZone {
		return fmt.Errorf("gc: the atoms zone cannot take part in a merge")
	}

	rt.AdoptMarkedAtoms(target, source)

	for kind := Kind(0); kind < KindCount; kind++ {
		for _, c := range source.cells[kind] {
			c.zone = target
			target.register(c)
		}
		source.cells[kind] = nil
	}
	target.weakMaps = append(target.weakMaps, source.weakMaps...)
	source.weakMaps = nil

	for i, z := range rt.zones {
		if z == source {
			rt.zones = append(rt.zones[:i], rt.zones[i+1:]...)
			break
		}
	}
	rt.logger.Debugf("merged zone %q into %q", source.name, target.name)
	return nil
}
