package gc

import "testing"

// ---------------------------------------------------------------------------
// Mark Stack Unit Tests
// ---------------------------------------------------------------------------

func TestMarkStackPushPop(t *testing.T) {
	rt := NewRuntime(Params{BackgroundSweep: false})
	defer rt.Shutdown()
	z := rt.NewZone("z")

	s := newMarkStack(8)
	if !s.isEmpty() {
		t.Fatal("new stack not empty")
	}

	a := rt.NewObject(z, nil, nil, 0)
	b := rt.NewObject(z, nil, nil, 0)
	if !s.pushCell(&a.Cell) || !s.pushCell(&b.Cell) {
		t.Fatal("push failed below limit")
	}
	if s.depth() != 2 {
		t.Fatalf("depth = %d, want 2", s.depth())
	}
	if e := s.pop(); e.cell != &b.Cell || e.tag != stackTagCell {
		t.Error("pop order or tag wrong")
	}
	if e := s.pop(); e.cell != &a.Cell {
		t.Error("second pop wrong")
	}
	if !s.isEmpty() {
		t.Error("stack not empty after pops")
	}
}

func TestMarkStackLimit(t *testing.T) {
	rt := NewRuntime(Params{BackgroundSweep: false})
	defer rt.Shutdown()
	z := rt.NewZone("z")

	s := newMarkStack(2)
	for i := 0; i < 2; i++ {
		o := rt.NewObject(z, nil, nil, 0)
		if !s.pushCell(&o.Cell) {
			t.Fatalf("push %d failed below limit", i)
		}
	}
	o := rt.NewObject(z, nil, nil, 0)
	if s.pushCell(&o.Cell) {
		t.Error("push beyond limit must fail, not grow")
	}
	if s.depth() != 2 {
		t.Errorf("failed push changed depth to %d", s.depth())
	}
}

// TestMarkStackSaveRestore verifies the index-form conversion at slice
// boundaries: a saved range re-derives the live slice from the object's
// current storage, even after the backing array was reallocated.
func TestMarkStackSaveRestore(t *testing.T) {
	rt := NewRuntime(Params{BackgroundSweep: false})
	defer rt.Shutdown()
	z := rt.NewZone("z")

	o := rt.NewObject(z, nil, nil, 4)
	for i := 0; i < 4; i++ {
		o.slots[i] = FromSmallInt(int64(i))
	}

	var s markStack
	s.limit = 8
	if !s.pushValueArray(o, 2) {
		t.Fatal("pushValueArray failed")
	}
	s.saveValueRanges()
	if s.entries[0].tag != stackTagSavedValueArray {
		t.Fatal("saveValueRanges did not convert the entry")
	}
	if s.entries[0].vals != nil {
		t.Fatal("saved entry still holds a live slice")
	}

	// Reallocate the slot storage while "suspended".
	o.slots = append(o.slots, FromSmallInt(4), FromSmallInt(5))

	e := restoreValueArray(s.pop())
	if e.tag != stackTagValueArray {
		t.Fatal("restore did not produce a live range")
	}
	if e.start != 2 || len(e.vals) != 4 {
		t.Fatalf("restored range start=%d len=%d, want 2 and 4", e.start, len(e.vals))
	}
	if e.vals[0].SmallInt() != 2 {
		t.Error("restored range points at wrong slots")
	}
}

// TestMarkStackSaveRestoreShrunk verifies that an object shrinking below the
// saved index restores to an empty range instead of slicing out of bounds.
func TestMarkStackSaveRestoreShrunk(t *testing.T) {
	rt := NewRuntime(Params{BackgroundSweep: false})
	defer rt.Shutdown()
	z := rt.NewZone("z")

	o := rt.NewObject(z, nil, nil, 6)
	var s markStack
	s.limit = 8
	if !s.pushValueArray(o, 3) {
		t.Fatal("pushValueArray failed")
	}
	s.saveValueRanges()

	o.ShrinkSlots(1)

	e := restoreValueArray(s.pop())
	if len(e.vals) != 0 {
		t.Fatalf("restored %d values from a shrunk object, want 0", len(e.vals))
	}
}

func TestMarkStackPushEmptyRange(t *testing.T) {
	rt := NewRuntime(Params{BackgroundSweep: false})
	defer rt.Shutdown()
	z := rt.NewZone("z")

	o := rt.NewObject(z, nil, nil, 2)
	var s markStack
	s.limit = 8
	if !s.pushValueArray(o, 2) {
		t.Fatal("empty range must report success")
	}
	if !s.isEmpty() {
		t.Error("empty range must not push an entry")
	}
}
