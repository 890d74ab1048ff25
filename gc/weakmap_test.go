package gc

import "testing"

// ---------------------------------------------------------------------------
// Ephemeron (Weak Map) Unit Tests
// ---------------------------------------------------------------------------

// TestWeakEntryValueLiveViaKey verifies ephemeron semantics: a value
// reachable only through a weak entry is live iff its key is live.
func TestWeakEntryValueLiveViaKey(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	wm := rt.NewWeakMap(z)
	rt.NewPersistent(FromCell(&wm.Cell))

	key := rt.NewObject(z, nil, nil, 0)
	rt.NewPersistent(FromCell(&key.Cell))
	value := rt.NewObject(z, nil, nil, 0)
	wm.Set(&key.Cell, FromCell(&value.Cell))

	if err := rt.Collect("test"); err != nil {
		t.Fatal(err)
	}

	if !zoneHas(z, &value.Cell) {
		t.Error("value with a live key was reclaimed")
	}
	if got, ok := wm.Get(&key.Cell); !ok || got.Cell() != &value.Cell {
		t.Error("live entry lost from the weak map")
	}
}

// TestWeakEntryDroppedWithDeadKey verifies the entry and its
// otherwise-unreachable value go away when the key dies.
func TestWeakEntryDroppedWithDeadKey(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	wm := rt.NewWeakMap(z)
	rt.NewPersistent(FromCell(&wm.Cell))

	key := rt.NewObject(z, nil, nil, 0)
	value := rt.NewObject(z, nil, nil, 0)
	wm.Set(&key.Cell, FromCell(&value.Cell))

	if err := rt.Collect("test"); err != nil {
		t.Fatal(err)
	}

	if wm.Len() != 0 {
		t.Errorf("weak map holds %d entries after its key died, want 0", wm.Len())
	}
	if zoneHas(z, &key.Cell) || zoneHas(z, &value.Cell) {
		t.Error("dead key or value survived")
	}
}

// TestWeakKeyMarkedAfterMapScan covers the implicit-edge path: the map is
// scanned while the key is still unmarked, and the key only becomes live
// later through a gray root. The value must still be found.
func TestWeakKeyMarkedAfterMapScan(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	wm := rt.NewWeakMap(z)
	rt.NewPersistent(FromCell(&wm.Cell))

	key := rt.NewObject(z, nil, nil, 0)
	value := rt.NewObject(z, nil, nil, 0)
	wm.Set(&key.Cell, FromCell(&value.Cell))

	// The key is reachable only through a gray root, which is traced after
	// the weak pass begins.
	keyRef := FromCell(&key.Cell)
	rt.AddGrayRootsTracer(func(trc Tracer) {
		TraceRoot(trc, &keyRef, "gray-key")
	})

	if err := rt.Collect("test"); err != nil {
		t.Fatal(err)
	}

	if !zoneHas(z, &key.Cell) {
		t.Fatal("gray-rooted key reclaimed")
	}
	if !zoneHas(z, &value.Cell) {
		t.Error("implicit edge missed: value of a late-marked key reclaimed")
	}
}

// TestWeakChain verifies transitive ephemerons: k2 is reachable only as the
// value of k1, and k2's own entry must then keep its value alive too.
func TestWeakChain(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	wm := rt.NewWeakMap(z)
	rt.NewPersistent(FromCell(&wm.Cell))

	k1 := rt.NewObject(z, nil, nil, 0)
	rt.NewPersistent(FromCell(&k1.Cell))
	k2 := rt.NewObject(z, nil, nil, 0)
	v2 := rt.NewObject(z, nil, nil, 0)
	wm.Set(&k1.Cell, FromCell(&k2.Cell))
	wm.Set(&k2.Cell, FromCell(&v2.Cell))

	if err := rt.Collect("test"); err != nil {
		t.Fatal(err)
	}

	if !zoneHas(z, &k2.Cell) {
		t.Fatal("k2, value of a live key, was reclaimed")
	}
	if !zoneHas(z, &v2.Cell) {
		t.Error("transitive ephemeron value reclaimed")
	}
}

// TestWeakMapItselfDead verifies entries of an unreachable map retain
// nothing.
func TestWeakMapItselfDead(t *testing.T) {
	rt := newTestRuntime(t, Params{})
	z := rt.NewZone("z")

	wm := rt.NewWeakMap(z)
	key := rt.NewObject(z, nil, nil, 0)
	rt.NewPersistent(FromCell(&key.Cell))
	value := rt.NewObject(z, nil, nil, 0)
	wm.Set(&key.Cell, FromCell(&value.Cell))

	if err := rt.Collect("test"); err != nil {
		t.Fatal(err)
	}

	if zoneHas(z, &wm.Cell) {
		t.Error("unreachable weak map survived")
	}
	if zoneHas(z, &value.Cell) {
		t.Error("value retained by a dead weak map")
	}
}
