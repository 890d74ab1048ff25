package gc

import "sync"

// ---------------------------------------------------------------------------
// Atom table: interned strings and symbols
// ---------------------------------------------------------------------------

// AtomTable interns strings and allocates symbols. Every atom receives a
// stable index used by the per-zone atom mark bitmaps; indices are
// append-only and never reused while the atom is alive.
type AtomTable struct {
	mu      sync.RWMutex
	byText  map[string]*String
	byIndex []*Cell // nil entries are finalized atoms
	pinned  map[uint32]struct{}
}

func newAtomTable() *AtomTable {
	return &AtomTable{
		byText: make(map[string]*String),
		pinned: make(map[uint32]struct{}),
	}
}

// Count returns the number of live atoms.
func (t *AtomTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, c := range t.byIndex {
		if c != nil {
			n++
		}
	}
	return n
}

// Lookup returns the interned string for text, if present.
func (t *AtomTable) Lookup(text string) (*String, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byText[text]
	return s, ok
}

// atomCell returns the atom cell for an index, or nil if finalized.
func (t *AtomTable) atomCell(index uint32) *Cell {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index >= uint32(len(t.byIndex)) {
		return nil
	}
	return t.byIndex[index]
}

// assignIndex registers a new atom cell and returns its index.
func (t *AtomTable) assignIndex(c *Cell) uint32 {
	index := uint32(len(t.byIndex))
	t.byIndex = append(t.byIndex, c)
	return index
}

// remove finalizes an atom's table entry.
func (t *AtomTable) remove(c *Cell) {
	t.mu.Lock()
	defer t.mu.Unlock()
	index := atomIndexOf(c)
	if index < uint32(len(t.byIndex)) && t.byIndex[index] == c {
		t.byIndex[index] = nil
	}
	if c.kind == KindString {
		s := c.asString()
		if t.byText[s.Text()] == s {
			delete(t.byText, s.Text())
		}
	}
	delete(t.pinned, index)
}

// AtomIndexOf returns the atom table index of an atom cell.
// Panics when the cell is not an atom-bearing kind.
func AtomIndexOf(c *Cell) uint32 { return atomIndexOf(c) }

// atomIndexOf returns the atom table index of an atom cell.
func atomIndexOf(c *Cell) uint32 {
	switch c.kind {
	case KindString:
		return c.asString().atom
	case KindSymbol:
		return c.asSymbol().atom
	}
	panic("gc: atomIndexOf on non-atom kind " + c.kind.String())
}

// Atomize interns text, returning the canonical atom string. Atoms live in
// the runtime's atoms zone.
func (rt *Runtime) Atomize(text string) *String {
	t := rt.atoms

	// Fast path: read-only lookup
	t.mu.RLock()
	if s, ok := t.byText[text]; ok {
		t.mu.RUnlock()
		return s
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring write lock
	if s, ok := t.byText[text]; ok {
		return s
	}

	s := &String{data: literalSpan(text)}
	s.kind = KindString
	s.flags = cellAtom
	s.zone = rt.atomsZone
	s.atom = t.assignIndex(&s.Cell)
	rt.atomsZone.register(&s.Cell)
	rt.allocBarrier(&s.Cell)
	t.byText[text] = s
	return s
}

// NewSymbol allocates a fresh symbol with an optional description atom.
// Symbols are never deduplicated; each call mints a new atom index.
func (rt *Runtime) NewSymbol(desc *String) *Symbol {
	t := rt.atoms
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &Symbol{desc: desc}
	s.kind = KindSymbol
	s.flags = cellAtom
	s.zone = rt.atomsZone
	s.atom = t.assignIndex(&s.Cell)
	rt.atomsZone.register(&s.Cell)
	rt.allocBarrier(&s.Cell)
	return s
}

// PinAtom exempts an atom from reclamation regardless of zone bitmaps,
// mirroring permanently-interned runtime atoms.
func (rt *Runtime) PinAtom(c *Cell) {
	rt.atoms.mu.Lock()
	defer rt.atoms.mu.Unlock()
	rt.atoms.pinned[atomIndexOf(c)] = struct{}{}
}

// ---------------------------------------------------------------------------
// Atom marking runtime
// ---------------------------------------------------------------------------
//
// Atoms may be pointed to freely from any zone. To avoid needing a
// full-runtime collection to reclaim them, each zone carries a bitmap that
// overapproximates the atoms it references. The bitmap may over-mark; it
// must never under-mark. An atom is reclaimable only when it is absent from
// every zone's bitmap.

// MarkAtom sets the owner zone's bit for an atom cell. A pure bitmap write;
// it does not traverse.
func (rt *Runtime) MarkAtom(owner *Zone, c *Cell) {
	if c == nil || !c.IsAtom() {
		return
	}
	owner.markedAtoms.SetBit(atomIndexOf(c))
}

// MarkAtomValue marks v's referent on behalf of owner if it is an atom.
func (rt *Runtime) MarkAtomValue(owner *Zone, v Value) {
	if v.IsCell() {
		rt.MarkAtom(owner, v.Cell())
	}
}

// AtomIsMarked reports whether the zone's bitmap retains the atom.
// Non-atom cells are trivially "marked": the bitmaps say nothing about them.
func (rt *Runtime) AtomIsMarked(zone *Zone, c *Cell) bool {
	if c == nil || !c.IsAtom() {
		return true
	}
	index := atomIndexOf(c)
	if rt.atomIsPinned(index) {
		return true
	}
	return zone.markedAtoms.GetBit(index)
}

// AdoptMarkedAtoms folds source's atom bitmap into target's. Required
// before a collected zone's bitmap is discarded on zone merge or group
// reassignment, so the move never causes premature atom reclamation.
func (rt *Runtime) AdoptMarkedAtoms(target, source *Zone) {
	target.markedAtoms.BitwiseOrWith(&source.markedAtoms)
}

// atomIsReferenced reports whether any zone's bitmap (or a pin) retains the
// atom index.
func (rt *Runtime) atomIsReferenced(index uint32) bool {
	if rt.atomIsPinned(index) {
		return true
	}
	for _, z := range rt.zones {
		if z == rt.atomsZone {
			continue
		}
		if z.markedAtoms.GetBit(index) {
			return true
		}
	}
	return false
}

func (rt *Runtime) atomIsPinned(index uint32) bool {
	rt.atoms.mu.RLock()
	defer rt.atoms.mu.RUnlock()
	_, ok := rt.atoms.pinned[index]
	return ok
}
