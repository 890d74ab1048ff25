package snapshot

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/jason-hall/gecko-dev/gc"
)

func buildRuntime(t *testing.T) (*gc.Runtime, *gc.Zone) {
	t.Helper()
	rt := gc.NewRuntime(gc.Params{BackgroundSweep: false})
	t.Cleanup(rt.Shutdown)
	z := rt.NewZone("main")

	holder := rt.NewObject(z, nil, nil, 2)
	rt.NewPersistent(gc.FromCell(&holder.Cell))
	child := rt.NewObject(z, nil, nil, 0)
	holder.SetSlot(0, gc.FromCell(&child.Cell))
	holder.SetSlot(1, gc.FromCell(&rt.Atomize("name").Cell))
	return rt, z
}

func TestCaptureCountsCellsAndEdges(t *testing.T) {
	rt, _ := buildRuntime(t)

	s, err := Capture(rt)
	if err != nil {
		t.Fatal(err)
	}
	if s.ID == "" {
		t.Error("snapshot missing id")
	}
	// holder + child + one atom
	if got := s.CellCount(); got != 3 {
		t.Errorf("cell count = %d, want 3", got)
	}
	// holder->child and holder->atom
	if len(s.Edges) != 2 {
		t.Errorf("%d edges, want 2", len(s.Edges))
	}
	if len(s.Atoms) != 1 {
		t.Errorf("%d referenced atoms, want 1", len(s.Atoms))
	}
}

func TestCaptureWhileCollecting(t *testing.T) {
	rt, _ := buildRuntime(t)
	if err := rt.StartGC("test"); err != nil {
		t.Fatal(err)
	}
	if _, err := Capture(rt); err == nil {
		t.Error("capture during a collection must fail")
	}
	rt.FinishGC()
}

func TestMarshalRoundTrip(t *testing.T) {
	rt, _ := buildRuntime(t)
	s, err := Capture(rt)
	if err != nil {
		t.Fatal(err)
	}

	data, err := Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	back, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if back.ID != s.ID || back.CellCount() != s.CellCount() || len(back.Edges) != len(s.Edges) {
		t.Error("round trip lost data")
	}
}

// TestCanonicalEncoding verifies encoding the same snapshot twice is
// byte-identical.
func TestCanonicalEncoding(t *testing.T) {
	rt, _ := buildRuntime(t)
	s, err := Capture(rt)
	if err != nil {
		t.Fatal(err)
	}
	d1, err := Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(d1, d2) {
		t.Error("canonical encoding produced differing bytes")
	}
}

func TestWriteAndReadFile(t *testing.T) {
	rt, _ := buildRuntime(t)
	path := filepath.Join(t.TempDir(), "heap.cbor")

	s, err := WriteFile(rt, path)
	if err != nil {
		t.Fatal(err)
	}
	back, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if back.ID != s.ID || back.CellCount() != s.CellCount() {
		t.Error("file round trip lost data")
	}
}
