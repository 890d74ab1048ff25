package gc

import (
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// Value (NaN-boxing) Unit Tests
// ---------------------------------------------------------------------------

func TestValueFloatRoundTrip(t *testing.T) {
	cases := []float64{0, -0, 1.5, -3.75, math.MaxFloat64, math.SmallestNonzeroFloat64, math.Inf(1), math.Inf(-1)}
	for _, f := range cases {
		v := FromFloat64(f)
		if !v.IsFloat() {
			t.Errorf("FromFloat64(%v): not a float", f)
		}
		if v.IsCell() || v.IsSmallInt() || v.IsSpecial() {
			t.Errorf("FromFloat64(%v): tagged as non-float", f)
		}
		if got := v.Float64(); got != f {
			t.Errorf("Float64 round trip: got %v, want %v", got, f)
		}
	}
}

func TestValueNaNIsFloat(t *testing.T) {
	v := FromFloat64(math.NaN())
	if !v.IsFloat() {
		t.Error("real NaN must read back as a float")
	}
	if v.IsCell() {
		t.Error("real NaN must not read as a cell")
	}
	if !math.IsNaN(v.Float64()) {
		t.Error("NaN round trip lost NaN-ness")
	}
}

func TestValueSmallIntRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 42, -42, MaxSmallInt, MinSmallInt}
	for _, n := range cases {
		v := FromSmallInt(n)
		if !v.IsSmallInt() {
			t.Errorf("FromSmallInt(%d): not a small int", n)
		}
		if v.IsFloat() || v.IsCell() {
			t.Errorf("FromSmallInt(%d): wrong tag", n)
		}
		if got := v.SmallInt(); got != n {
			t.Errorf("SmallInt round trip: got %d, want %d", got, n)
		}
	}
}

func TestValueSmallIntOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("FromSmallInt(MaxSmallInt+1) did not panic")
		}
	}()
	FromSmallInt(MaxSmallInt + 1)
}

func TestValueSpecials(t *testing.T) {
	if !Nil.IsNil() || !Nil.IsSpecial() {
		t.Error("Nil misclassified")
	}
	if !True.IsBool() || !False.IsBool() {
		t.Error("booleans misclassified")
	}
	if Nil.IsBool() {
		t.Error("Nil must not be a bool")
	}
	for _, v := range []Value{Nil, True, False} {
		if v.IsMarkable() {
			t.Errorf("special %v must not be markable", uint64(v))
		}
	}
}

func TestValueCellRoundTrip(t *testing.T) {
	rt := NewRuntime(Params{BackgroundSweep: false})
	defer rt.Shutdown()
	z := rt.NewZone("cells")

	o := rt.NewObject(z, nil, nil, 0)
	v := FromCell(&o.Cell)
	if !v.IsCell() || !v.IsMarkable() {
		t.Fatal("cell value misclassified")
	}
	if v.IsFloat() || v.IsSmallInt() {
		t.Fatal("cell value reads as numeric")
	}
	if v.Cell() != &o.Cell {
		t.Fatal("cell pointer round trip lost the pointer")
	}
	if v.Cell().asObject() != o {
		t.Fatal("downcast did not recover the object")
	}
}

func TestValueFromNilCell(t *testing.T) {
	if v := FromCell(nil); !v.IsNil() {
		t.Error("FromCell(nil) must encode Nil")
	}
}
