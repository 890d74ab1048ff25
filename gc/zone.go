package gc

// ---------------------------------------------------------------------------
// Zone: reachability-boundary partition of the heap
// ---------------------------------------------------------------------------

// ZoneState tracks a zone through one collection.
type ZoneState uint8

const (
	ZoneUnmarked ZoneState = iota
	ZoneMarking
	ZoneSweeping
	ZoneSwept
)

func (s ZoneState) String() string {
	switch s {
	case ZoneUnmarked:
		return "unmarked"
	case ZoneMarking:
		return "marking"
	case ZoneSweeping:
		return "sweeping"
	case ZoneSwept:
		return "swept"
	}
	return "invalid"
}

// weakMarkable is one recorded ephemeron dependency: once the key it is
// filed under becomes marked, value must be (re)traversed on behalf of m.
type weakMarkable struct {
	m     *WeakMap
	value Value
}

// Zone owns its cells' mark bitmaps, a weak-key table, an atom mark bitmap
// and the scratch state used by the sweep group finder. Zones are the unit
// of independent marking and sweeping.
type Zone struct {
	rt    *Runtime
	name  string
	state ZoneState

	// Mark bitmaps, indexed by Cell.index. Owned exclusively by the
	// collector during a collection.
	blackBits Bitmap
	grayBits  Bitmap

	// Per-kind cell lists; the allocator appends, the sweeper compacts.
	// This is also the heap-walk enumeration surface.
	cells     [KindCount][]*Cell
	nextIndex uint32

	// markedAtoms is the overapproximate bitmap of atoms this zone may
	// reference. It may over-mark; it must never under-mark.
	markedAtoms Bitmap

	// weakKeys maps a not-yet-marked weak-map key to the dependents that
	// must be re-marked if the key becomes reachable. Populated only in
	// weak-marking mode, discarded when the mode is exited.
	weakKeys map[*Cell][]weakMarkable

	// weakMaps lists every weak map allocated in this zone, live or not;
	// the sweeper prunes it.
	weakMaps []*WeakMap

	// Cross-zone edges observed during marking; input to the sweep group
	// finder, cleared when the collection ends.
	gcSweepGroupEdges map[*Zone]struct{}

	// Component finder scratch.
	finderIndex   int
	finderLowLink int
	finderOnStack bool

	// Zone-local caches reclaimed during sweep.
	shapeCache  map[string]*Shape
	scriptCache map[string]*Script

	cellsFinalized uint64
}

// NewZone creates a zone owned by this runtime.
func (rt *Runtime) NewZone(name string) *Zone {
	z := &Zone{
		rt:                rt,
		name:              name,
		weakKeys:          make(map[*Cell][]weakMarkable),
		gcSweepGroupEdges: make(map[*Zone]struct{}),
		shapeCache:        make(map[string]*Shape),
		scriptCache:       make(map[string]*Script),
	}
	rt.zones = append(rt.zones, z)
	return z
}

// Name returns the zone's diagnostic name.
func (z *Zone) Name() string { return z.name }

// State returns the zone's current collection state.
func (z *Zone) State() ZoneState { return z.state }

// isCollecting reports whether the zone participates in the current
// collection.
func (z *Zone) isCollecting() bool {
	return z.state == ZoneMarking || z.state == ZoneSweeping
}

// CellCount returns the number of live cells of the given kind.
func (z *Zone) CellCount(kind Kind) int { return len(z.cells[kind]) }

// ForEachCell enumerates live cells of one kind. This is the heap-walk
// interface consumed by background finalization and snapshots.
func (z *Zone) ForEachCell(kind Kind, fn func(c *Cell) bool) {
	for _, c := range z.cells[kind] {
		if !fn(c) {
			return
		}
	}
}

// register appends a freshly allocated tenured cell to the zone.
func (z *Zone) register(c *Cell) {
	c.index = z.nextIndex
	z.nextIndex++
	z.cells[c.kind] = append(z.cells[c.kind], c)
}

// addWeakKey files an ephemeron dependency under a not-yet-marked key.
// Failure to record a required weak edge would corrupt the liveness
// invariant, so the append is unconditional; there is no fallback.
func (z *Zone) addWeakKey(key *Cell, m *WeakMap, value Value) {
	z.weakKeys[key] = append(z.weakKeys[key], weakMarkable{m: m, value: value})
}

// clearWeakKeys discards the weak-key table. It is rebuilt lazily if weak
// marking is re-entered; it is never left stale.
func (z *Zone) clearWeakKeys() {
	if len(z.weakKeys) > 0 {
		z.weakKeys = make(map[*Cell][]weakMarkable)
	}
}

// addSweepGroupEdge records an observed cross-zone edge z -> to.
func (z *Zone) addSweepGroupEdge(to *Zone) {
	z.gcSweepGroupEdges[to] = struct{}{}
}

// prepareForMarking resets the zone's per-collection state. The atom bitmap
// of a collected zone is rebuilt from scratch during marking; uncollected
// zones keep theirs, which is what makes the union conservative.
func (z *Zone) prepareForMarking() {
	z.blackBits.Clear()
	z.grayBits.Clear()
	z.markedAtoms.Clear()
	z.clearWeakKeys()
	z.gcSweepGroupEdges = make(map[*Zone]struct{})
	z.purgeCaches()
	z.state = ZoneMarking
}

// purgeCaches drops zone-local tables that may hold weakly-owned pointers.
// They repopulate lazily; keeping them across a collection would require
// sweeping them instead.
func (z *Zone) purgeCaches() {
	clear(z.shapeCache)
	clear(z.scriptCache)
}

// CacheShape records a shape in the zone's lookup cache.
func (z *Zone) CacheShape(name string, s *Shape) { z.shapeCache[name] = s }

// CachedShape looks up a shape by property name.
func (z *Zone) CachedShape(name string) (*Shape, bool) {
	s, ok := z.shapeCache[name]
	return s, ok
}

// CacheScript records a script in the zone's lookup cache.
func (z *Zone) CacheScript(key string, s *Script) { z.scriptCache[key] = s }

// CachedScript looks up a script by source key.
func (z *Zone) CachedScript(key string) (*Script, bool) {
	s, ok := z.scriptCache[key]
	return s, ok
}

// sweepWeakStructures prunes dead weak maps and dead-key entries of live
// ones. Runs while the zone's mark bitmaps are still authoritative.
func (z *Zone) sweepWeakStructures() {
	live := z.weakMaps[:0]
	for _, m := range z.weakMaps {
		if !m.IsMarkedAny() {
			continue
		}
		entries := m.entries[:0]
		for _, e := range m.entries {
			if e.key == nil {
				continue
			}
			if keyIsLive(e.key) {
				entries = append(entries, e)
			}
		}
		m.entries = entries
		live = append(live, m)
	}
	z.weakMaps = live
}

// keyIsLive reports whether a weak-map key survived this collection. Keys
// in zones that are not being collected cannot die now and count as live.
// Keys in zones already swept this cycle still have authoritative mark
// bits; the bitmaps are not cleared until the next collection begins.
func keyIsLive(key *Cell) bool {
	switch key.zone.state {
	case ZoneUnmarked:
		return true
	default:
		return key.IsMarkedAny()
	}
}

// sweepKind partitions one cell list into survivors and dead cells.
// The survivors keep their order; the dead list is returned for
// finalization (foreground or background, per kind policy).
func (z *Zone) sweepKind(kind Kind) []*Cell {
	var dead []*Cell
	live := z.cells[kind][:0]
	for _, c := range z.cells[kind] {
		if c.IsMarkedAny() || !cellIsFinalizable(z.rt, c) {
			live = append(live, c)
			continue
		}
		dead = append(dead, c)
	}
	// Zero the freed tail so survivors don't pin dead cells.
	for i := len(live); i < len(z.cells[kind]); i++ {
		z.cells[kind][i] = nil
	}
	z.cells[kind] = live
	z.cellsFinalized += uint64(len(dead))
	return dead
}

// cellIsFinalizable applies the cross-zone atom retention rule: an atom is
// reclaimable only when no zone's bitmap marks it.
func cellIsFinalizable(rt *Runtime, c *Cell) bool {
	if !c.IsAtom() {
		return true
	}
	return !rt.atomIsReferenced(atomIndexOf(c))
}
