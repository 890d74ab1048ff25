package gc

import "testing"

// ---------------------------------------------------------------------------
// Nursery / Minor GC Unit Tests
// ---------------------------------------------------------------------------

func TestMinorGCPromotesRootedCells(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	young := rt.NewNurseryObject(z, nil, nil, 0)
	rt.NewPersistent(FromCell(&young.Cell))
	if young.IsTenured() {
		t.Fatal("nursery cell born tenured")
	}

	promoted := rt.MinorGC()
	if promoted != 1 {
		t.Errorf("promoted %d cells, want 1", promoted)
	}
	if !young.IsTenured() {
		t.Error("rooted nursery cell not tenured")
	}
	if !zoneHas(z, &young.Cell) {
		t.Error("promoted cell missing from its zone")
	}
}

func TestMinorGCDropsUnreachable(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	dead := rt.NewNurseryObject(z, nil, nil, 1)
	dead.slots[0] = FromSmallInt(7)

	rt.MinorGC()
	if dead.IsTenured() {
		t.Error("unreachable nursery cell was promoted")
	}
	if dead.slots != nil {
		t.Error("unreachable nursery cell not finalized")
	}
	if zoneHas(z, &dead.Cell) {
		t.Error("dead nursery cell registered in the zone")
	}
}

// TestPostBarrierRemembersEdge verifies a tenured-to-nursery slot write is
// found by minor GC without tracing the tenured heap.
func TestPostBarrierRemembersEdge(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	tenured := rt.NewObject(z, nil, nil, 1)
	// Deliberately not rooted: only the store buffer can find the edge.
	young := rt.NewNurseryObject(z, nil, nil, 0)
	tenured.SetSlot(0, FromCell(&young.Cell))

	promoted := rt.MinorGC()
	if promoted != 1 {
		t.Fatalf("promoted %d, want 1", promoted)
	}
	if !young.IsTenured() {
		t.Error("remembered-set edge missed")
	}
}

// TestMinorGCPromotesSubgraph verifies nursery-to-nursery edges promote as
// a unit.
func TestMinorGCPromotesSubgraph(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	inner := rt.NewNurseryObject(z, nil, nil, 0)
	outer := rt.NewNurseryObject(z, nil, nil, 1)
	outer.slots[0] = FromCell(&inner.Cell)
	rt.NewPersistent(FromCell(&outer.Cell))

	if got := rt.MinorGC(); got != 2 {
		t.Errorf("promoted %d, want 2", got)
	}
	if !inner.IsTenured() || !outer.IsTenured() {
		t.Error("subgraph not fully promoted")
	}
}

func TestNurseryAutoMinorGC(t *testing.T) {
	rt := newTestRuntime(t, Params{NurseryCapacity: 8})
	z := rt.NewZone("z")

	for i := 0; i < 20; i++ {
		rt.NewNurseryObject(z, nil, nil, 0)
	}
	if len(rt.nursery.cells) > 8 {
		t.Errorf("nursery grew to %d cells past its capacity of 8", len(rt.nursery.cells))
	}
}

// TestMajorGCRunsAgainstEmptyNursery verifies StartGC evacuates the
// nursery so marking never sees a young cell.
func TestMajorGCRunsAgainstEmptyNursery(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	young := rt.NewNurseryObject(z, nil, nil, 0)
	rt.NewPersistent(FromCell(&young.Cell))

	if err := rt.StartGC("test"); err != nil {
		t.Fatal(err)
	}
	if !rt.nursery.isEmpty() {
		t.Error("nursery not empty after StartGC")
	}
	if !young.IsTenured() {
		t.Error("rooted young cell not promoted before marking")
	}
	rt.FinishGC()
	if !zoneHas(z, &young.Cell) {
		t.Error("freshly promoted rooted cell reclaimed")
	}
}

// TestRopeConstructorRemembersNurseryChild verifies a tenured rope built
// over a nursery string records the edge: the child must be promoted by
// minor GC even though no barriered slot write ever saw it.
func TestRopeConstructorRemembersNurseryChild(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	young := rt.NewNurseryString(z, "young")
	rope := rt.NewRope(z, young, nil)
	rt.NewPersistent(FromCell(&rope.Cell))

	if got := rt.MinorGC(); got != 1 {
		t.Errorf("promoted %d, want 1", got)
	}
	if !young.IsTenured() {
		t.Fatal("rope child left behind in the nursery")
	}

	// The whole graph must now survive a major collection.
	if err := rt.Collect("test"); err != nil {
		t.Fatal(err)
	}
	if !zoneHas(z, &young.Cell) {
		t.Error("rope child reclaimed")
	}
}

// TestScopeConstructorRemembersNurseryNames covers the same hazard for
// binding-name and function edges created at scope construction.
func TestScopeConstructorRemembersNurseryNames(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	name := rt.NewNurseryString(z, "binding")
	fn := rt.NewNurseryObject(z, nil, nil, 0)
	scope := rt.NewScope(z, nil, []*String{name}, fn)
	rt.NewPersistent(FromCell(&scope.Cell))

	if got := rt.MinorGC(); got != 2 {
		t.Errorf("promoted %d, want 2", got)
	}
	if !name.IsTenured() || !fn.IsTenured() {
		t.Error("scope children left behind in the nursery")
	}
}

// TestWeakMapSetRemembersNurseryEntries verifies Set on a tenured weak map
// records nursery keys and values for minor GC.
func TestWeakMapSetRemembersNurseryEntries(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	m := rt.NewWeakMap(z)
	rt.NewPersistent(FromCell(&m.Cell))
	key := rt.NewNurseryObject(z, nil, nil, 0)
	val := rt.NewNurseryObject(z, nil, nil, 0)
	m.Set(&key.Cell, FromCell(&val.Cell))

	if got := rt.MinorGC(); got != 2 {
		t.Errorf("promoted %d, want 2", got)
	}
	if !key.IsTenured() || !val.IsTenured() {
		t.Error("weak map entry left behind in the nursery")
	}
}

func TestWholeCellPostBarrier(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	tenured := rt.NewObject(z, nil, nil, 2)
	y1 := rt.NewNurseryObject(z, nil, nil, 0)
	y2 := rt.NewNurseryObject(z, nil, nil, 0)
	// Bulk init: slots written directly, one whole-cell entry instead of
	// per-slot tracking.
	tenured.slots[0] = FromCell(&y1.Cell)
	tenured.slots[1] = FromCell(&y2.Cell)
	rt.PostBarrierCell(&tenured.Cell)

	if got := rt.MinorGC(); got != 2 {
		t.Errorf("promoted %d, want 2", got)
	}
}
