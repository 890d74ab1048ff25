package gc

import (
	"fmt"
	"testing"
)

// ---------------------------------------------------------------------------
// Marking Unit Tests
// ---------------------------------------------------------------------------

func newTestRuntime(t *testing.T, p Params) *Runtime {
	t.Helper()
	p.BackgroundSweep = false
	rt := NewRuntime(p)
	t.Cleanup(rt.Shutdown)
	return rt
}

func zoneHas(z *Zone, c *Cell) bool {
	found := false
	z.ForEachCell(c.kind, func(cc *Cell) bool {
		if cc == c {
			found = true
			return false
		}
		return true
	})
	return found
}

// TestMarkReachability verifies the basic contract: rooted cells and
// everything reachable from them survive a full collection, unreachable
// cells are reclaimed.
func TestMarkReachability(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	holder := rt.NewObject(z, nil, nil, 1)
	rt.NewPersistent(FromCell(&holder.Cell))

	kept := rt.NewObject(z, nil, nil, 0)
	holder.SetSlot(0, FromCell(&kept.Cell))
	dropped := rt.NewObject(z, nil, nil, 0)

	if err := rt.Collect("test"); err != nil {
		t.Fatal(err)
	}

	if !zoneHas(z, &holder.Cell) || !zoneHas(z, &kept.Cell) {
		t.Error("rooted graph was reclaimed")
	}
	if zoneHas(z, &dropped.Cell) {
		t.Error("unreachable object survived")
	}
}

// TestMarkingIsIdempotent verifies each cell is scanned at most once: a
// diamond-shaped graph marks every node exactly once regardless of how many
// edges reach it.
func TestMarkingIsIdempotent(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	shared := rt.NewObject(z, nil, nil, 0)
	left := rt.NewObject(z, nil, nil, 1)
	right := rt.NewObject(z, nil, nil, 1)
	left.SetSlot(0, FromCell(&shared.Cell))
	right.SetSlot(0, FromCell(&shared.Cell))
	top := rt.NewObject(z, nil, nil, 2)
	top.SetSlot(0, FromCell(&left.Cell))
	top.SetSlot(1, FromCell(&right.Cell))
	rt.NewPersistent(FromCell(&top.Cell))

	if err := rt.Collect("test"); err != nil {
		t.Fatal(err)
	}
	stats := rt.LastStats()
	if stats.CellsMarked != 4 {
		t.Errorf("marked %d cells, want exactly 4", stats.CellsMarked)
	}
}

// TestIncrementalPreBarrier exercises snapshot-at-the-beginning: a
// reference moved out of a not-yet-scanned slot between slices must still
// be found live, because the pre-barrier marks the overwritten value.
func TestIncrementalPreBarrier(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	holder := rt.NewObject(z, nil, nil, 1)
	rt.NewPersistent(FromCell(&holder.Cell))
	victim := rt.NewObject(z, nil, nil, 0)
	holder.SetSlot(0, FromCell(&victim.Cell))

	if err := rt.StartGC("test"); err != nil {
		t.Fatal(err)
	}
	// One unit of work: enough to pop the holder but not to scan its slots.
	if rt.GCSlice(WorkBudget(1)) == StatusFinished {
		t.Fatal("collection finished under a 1-unit budget")
	}
	if rt.State() != StateMark {
		t.Fatalf("suspended in state %s, want %s", rt.State(), StateMark)
	}

	// Mutator hides the only reference before the slot is scanned.
	holder.SetSlot(0, Nil)

	rt.FinishGC()
	if !zoneHas(z, &victim.Cell) {
		t.Error("pre-barrier failed: snapshot-reachable object reclaimed")
	}

	// The next collection sees the true graph and reclaims it.
	if err := rt.Collect("test"); err != nil {
		t.Fatal(err)
	}
	if zoneHas(z, &victim.Cell) {
		t.Error("object with no references survived a second collection")
	}
}

// TestAllocateBlack verifies cells created while marking is active survive
// the active collection even if nothing scans an edge to them.
func TestAllocateBlack(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")
	anchor := rt.NewObject(z, nil, nil, 0)
	rt.NewPersistent(FromCell(&anchor.Cell))

	if err := rt.StartGC("test"); err != nil {
		t.Fatal(err)
	}
	rt.GCSlice(WorkBudget(1))
	born := rt.NewObject(z, nil, nil, 0)
	rt.FinishGC()

	if !zoneHas(z, &born.Cell) {
		t.Error("cell allocated during marking was reclaimed")
	}
}

// TestValueArrayResumeAcrossRealloc interrupts marking mid slot array, lets
// the mutator grow the array (reallocating it), then resumes. Every value
// present at suspension must still be scanned.
func TestValueArrayResumeAcrossRealloc(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	const n = 64
	holder := rt.NewObject(z, nil, nil, n)
	rt.NewPersistent(FromCell(&holder.Cell))
	targets := make([]*Object, n)
	for i := 0; i < n; i++ {
		targets[i] = rt.NewObject(z, nil, nil, 0)
		holder.SetSlot(i, FromCell(&targets[i].Cell))
	}

	if err := rt.StartGC("test"); err != nil {
		t.Fatal(err)
	}
	// Suspend partway through the slot array.
	for rt.State() != StateMark {
		rt.GCSlice(WorkBudget(1))
	}
	rt.GCSlice(WorkBudget(10))

	// Grow the array so the backing storage reallocates.
	for i := 0; i < 8; i++ {
		holder.AppendSlot(Nil)
	}

	rt.FinishGC()
	for i, o := range targets {
		if !zoneHas(z, &o.Cell) {
			t.Fatalf("slot %d target lost across suspended array scan", i)
		}
	}
}

// TestDeepRopeChain builds a left-leaning rope deeper than any plausible
// goroutine stack budget; iterative traversal must mark every node.
func TestDeepRopeChain(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	const depth = 50000
	leaf := rt.NewString(z, "leaf")
	cur := leaf
	for i := 0; i < depth; i++ {
		cur = rt.NewRope(z, cur, rt.NewString(z, "x"))
	}
	rt.NewPersistent(FromCell(&cur.Cell))

	if err := rt.Collect("test"); err != nil {
		t.Fatal(err)
	}
	// depth ropes + depth right leaves + the original leaf
	want := z.CellCount(KindString)
	if want != 2*depth+1 {
		t.Errorf("%d strings survived, want %d", want, 2*depth+1)
	}
	if !zoneHas(z, &leaf.Cell) {
		t.Error("deepest leaf was reclaimed")
	}
}

// TestRopeCycleTerminates verifies traversal of a (corrupt) cyclic rope
// terminates instead of spinning: the mark bits cut the loop.
func TestRopeCycleTerminates(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	a := rt.NewRope(z, rt.NewString(z, "a"), nil)
	b := rt.NewRope(z, rt.NewString(z, "b"), nil)
	a.left, b.left = b, a
	rt.NewPersistent(FromCell(&a.Cell))

	done := make(chan error, 1)
	go func() { done <- rt.Collect("test") }()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if !zoneHas(z, &a.Cell) || !zoneHas(z, &b.Cell) {
		t.Error("cycle members reclaimed while rooted")
	}
}

// TestDelayedMarking forces mark stack exhaustion with a tiny limit; work
// parks on the delayed list and must still complete.
func TestDelayedMarking(t *testing.T) {
	rt := newTestRuntime(t, Params{MarkStackLimit: 1})
	z := rt.NewZone("z")

	const fanout = 32
	root := rt.NewObject(z, nil, nil, fanout)
	rt.NewPersistent(FromCell(&root.Cell))
	for i := 0; i < fanout; i++ {
		o := rt.NewObject(z, nil, nil, 2)
		o.SetSlot(0, FromCell(&rt.NewObject(z, nil, nil, 0).Cell))
		root.SetSlot(i, FromCell(&o.Cell))
	}

	if err := rt.Collect("test"); err != nil {
		t.Fatal(err)
	}
	if got := z.CellCount(KindObject); got != 1+2*fanout {
		t.Errorf("%d objects survived, want %d", got, 1+2*fanout)
	}
}

// TestShapeChainDepthPanic verifies a chain longer than the configured
// limit is treated as heap corruption.
func TestShapeChainDepthPanic(t *testing.T) {
	rt := newTestRuntime(t, Params{EagerDepthLimit: 4})
	z := rt.NewZone("z")

	var chain *Shape
	for i := 0; i < 10; i++ {
		chain = rt.NewShape(z, chain, rt.Atomize(fmt.Sprintf("p%d", i)), nil, nil)
	}
	rt.NewPersistent(FromCell(&chain.Cell))

	defer func() {
		if recover() == nil {
			t.Error("over-deep shape chain did not panic")
		}
	}()
	rt.Collect("test")
}

// TestEagerStringBaseChain verifies dependent strings keep their base chain
// alive through eager traversal.
func TestEagerStringBaseChain(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	base := rt.NewString(z, "hello world")
	dep := rt.NewDependentString(z, base, 6, 5)
	rt.NewPersistent(FromCell(&dep.Cell))

	if err := rt.Collect("test"); err != nil {
		t.Fatal(err)
	}
	if !zoneHas(z, &base.Cell) {
		t.Error("dependent string's base was reclaimed")
	}
	if dep.Text() != "world" {
		t.Errorf("dependent text = %q, want %q", dep.Text(), "world")
	}
}

// TestGrayMarkingResumesGray verifies gray-root work suspended by a
// budget cut resumes under the gray color: gray-only cells must not turn
// black just because a slice boundary fell inside the gray drain.
func TestGrayMarkingResumesGray(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	holder := rt.NewObject(z, nil, nil, 10)
	children := make([]*Object, 10)
	for i := range children {
		children[i] = rt.NewObject(z, nil, nil, 0)
		holder.slots[i] = FromCell(&children[i].Cell)
	}
	holderRef := FromCell(&holder.Cell)
	rt.AddGrayRootsTracer(func(trc Tracer) {
		TraceRoot(trc, &holderRef, "gray-holder")
	})

	if err := rt.StartGC("test"); err != nil {
		t.Fatal(err)
	}
	for rt.GCSlice(WorkBudget(1)) != StatusFinished {
	}

	for i, c := range children {
		if !c.IsMarkedGray() || c.IsMarkedBlack() {
			t.Errorf("child %d is not gray-only after a resumed gray drain", i)
		}
	}
}

// TestCrossZoneEdgesRecorded verifies marking records zone edges for the
// sweep group finder.
func TestCrossZoneEdgesRecorded(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z1 := rt.NewZone("z1")
	z2 := rt.NewZone("z2")

	a := rt.NewObject(z1, nil, nil, 1)
	b := rt.NewObject(z2, nil, nil, 0)
	a.SetSlot(0, FromCell(&b.Cell))
	rt.NewPersistent(FromCell(&a.Cell))

	if err := rt.Collect("test"); err != nil {
		t.Fatal(err)
	}
	// z1 -> z2 with no back edge: they must land in separate groups.
	if rt.LastStats().SweepGroups < 2 {
		t.Errorf("sweep groups = %d, want at least 2 (z1 and z2 are acyclic)", rt.LastStats().SweepGroups)
	}
}
