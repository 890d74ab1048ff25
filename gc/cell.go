package gc

import (
	"fmt"
	"unsafe"
)

// ---------------------------------------------------------------------------
// Cell: common header for every garbage-collected thing
// ---------------------------------------------------------------------------

// Kind identifies the concrete variant of a cell. Each kind has exactly one
// traversal rule; see GCMarker.traverse.
type Kind uint8

const (
	KindObject Kind = iota // generic object: shape + group + value slots
	KindString             // flat, rope, or dependent string
	KindSymbol             // interned symbol (always an atom)
	KindShape              // property-descriptor chain node
	KindScope              // lexical scope chain node
	KindScript             // compiled script
	KindGroup              // object group / type information
	KindWeakMap            // ephemeron table

	KindCount
)

var kindNames = [KindCount]string{
	"object", "string", "symbol", "shape", "scope", "script", "group", "weakmap",
}

func (k Kind) String() string {
	if k < KindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// eagerlyTraced reports whether cells of this kind are traversed inline
// rather than through the mark stack. The set is a fixed policy: kinds whose
// outgoing-edge shape is a bounded tree (string base/rope chains, shape
// chains, scope chains) recurse directly; everything else goes through the
// stack.
func (k Kind) eagerlyTraced() bool {
	switch k {
	case KindString, KindSymbol, KindShape, KindScope:
		return true
	}
	return false
}

// backgroundFinalized reports whether dead cells of this kind are handed to
// the background sweeper instead of being finalized on the active thread.
func (k Kind) backgroundFinalized() bool {
	switch k {
	case KindObject, KindString, KindGroup:
		return true
	}
	return false
}

// Cell flag bits.
const (
	cellNursery uint8 = 1 << 0 // allocated in the nursery, not yet tenured
	cellAtom    uint8 = 1 << 1 // interned string or symbol
)

// Cell is embedded as the first field of every concrete heap thing, so a
// *Cell and a pointer to the containing struct are interconvertible.
//
// Mark bits are not stored here: they live in the owning zone's dense
// bitmaps, indexed by the cell's allocation index. The mutator never touches
// them; only the marker (through markIfUnmarked) and the sweeper do.
type Cell struct {
	kind  Kind
	flags uint8
	index uint32 // slot in the owning zone's mark bitmaps
	zone  *Zone
}

// Kind returns the cell's kind tag.
func (c *Cell) Kind() Kind { return c.kind }

// Zone returns the zone that owns this cell.
func (c *Cell) Zone() *Zone { return c.zone }

// Index returns the cell's slot in its zone's mark bitmaps. Only valid for
// tenured cells.
func (c *Cell) Index() uint32 { return c.index }

// IsTenured reports whether the cell has been promoted out of the nursery.
func (c *Cell) IsTenured() bool { return c.flags&cellNursery == 0 }

// IsAtom reports whether the cell is an interned string or symbol.
func (c *Cell) IsAtom() bool { return c.flags&cellAtom != 0 }

// IsMarkedBlack reports whether the cell has been fully scanned this
// collection.
func (c *Cell) IsMarkedBlack() bool {
	return c.zone.blackBits.GetBit(c.index)
}

// IsMarkedGray reports whether the cell is reachable only through a gray
// (embedder) root so far.
func (c *Cell) IsMarkedGray() bool {
	return c.zone.grayBits.GetBit(c.index) && !c.IsMarkedBlack()
}

// IsMarkedAny reports whether the cell is marked in either color.
func (c *Cell) IsMarkedAny() bool {
	return c.zone.blackBits.GetBit(c.index) || c.zone.grayBits.GetBit(c.index)
}

// markIfUnmarked transitions the cell from unmarked to marked in the given
// color. It returns true only on the transition, which is what makes marking
// idempotent: a cell is scanned at most once per collection.
//
// Marking a gray cell black succeeds (black is stronger); marking a black
// cell gray does not.
func (c *Cell) markIfUnmarked(color MarkColor) bool {
	z := c.zone
	if z.blackBits.GetBit(c.index) {
		return false
	}
	if color == MarkBlack {
		z.blackBits.SetBit(c.index)
		return true
	}
	if z.grayBits.GetBit(c.index) {
		return false
	}
	z.grayBits.SetBit(c.index)
	return true
}

// assertKind panics when the cell's tag does not match what the caller
// statically expected. A mismatch means an edge was declared with the wrong
// type and would be traversed by the wrong rule.
func (c *Cell) assertKind(want Kind) {
	if c.kind != want {
		panic(fmt.Sprintf("gc: cell kind mismatch: have %v, want %v", c.kind, want))
	}
}

// ---------------------------------------------------------------------------
// Concrete cell variants
// ---------------------------------------------------------------------------

// Object is the generic graph-shaped cell: a shape, a group, and a growable
// array of value slots. Slots are scanned through the mark stack so that a
// slice budget can interrupt mid-array.
type Object struct {
	Cell
	shape *Shape
	group *Group
	slots []Value
}

// NumSlots returns the current slot count.
func (o *Object) NumSlots() int { return len(o.slots) }

// GetSlot returns slot i.
func (o *Object) GetSlot(i int) Value { return o.slots[i] }

// Shape returns the object's shape, which may be nil.
func (o *Object) Shape() *Shape { return o.shape }

// Group returns the object's group, which may be nil.
func (o *Object) Group() *Group { return o.group }

// String is a flat, rope, or dependent string.
//
// A rope has non-nil left and right children and no character data of its
// own. A dependent string shares a suffix of its base's characters. A flat
// string owns a span of arena-backed character data. Interned flat strings
// are atoms and additionally carry an index into the runtime atom table.
type String struct {
	Cell
	left  *String // rope children; both nil for non-ropes
	right *String
	base  *String // dependent-string base; nil otherwise
	data  span    // character storage for flat strings
	atom  uint32  // atom table index; valid only when IsAtom()
}

// IsRope reports whether s is an unflattened concatenation node.
func (s *String) IsRope() bool { return s.left != nil }

// HasBase reports whether s is a dependent string.
func (s *String) HasBase() bool { return s.base != nil }

// AtomIndex returns the runtime atom table index.
// Panics if the string is not an atom.
func (s *String) AtomIndex() uint32 {
	if !s.IsAtom() {
		panic("String.AtomIndex: not an atom")
	}
	return s.atom
}

// Text returns the character data of a flat string. Ropes and dependent
// strings must be flattened by the mutator before their text is read; the
// collector never needs it.
func (s *String) Text() string {
	return s.data.text()
}

// Symbol is an interned symbol. Symbols are always atoms and refer only to
// their description atom, so they are leaf-like for traversal purposes.
type Symbol struct {
	Cell
	desc *String // description atom; may be nil
	atom uint32  // atom table index
}

// AtomIndex returns the runtime atom table index.
func (s *Symbol) AtomIndex() uint32 { return s.atom }

// Description returns the symbol's description atom, which may be nil.
func (s *Symbol) Description() *String { return s.desc }

// Shape is one node of a property-descriptor chain. The parent chain is
// shallow in the overwhelming common case and is traversed eagerly.
type Shape struct {
	Cell
	parent *Shape
	prop   *String // property name atom
	getter *Object // accessor objects, may be nil
	setter *Object
}

// Parent returns the next shape in the chain.
func (s *Shape) Parent() *Shape { return s.parent }

// Scope is one node of a lexical scope chain.
type Scope struct {
	Cell
	enclosing *Scope
	names     []*String // binding name atoms
	function  *Object   // canonical function, may be nil
}

// Enclosing returns the next scope outward.
func (s *Scope) Enclosing() *Scope { return s.enclosing }

// Script is a compiled script: a scope, plus tables of atoms and inner
// objects. Scripts can reach arbitrary graphs (including weak maps through
// their objects), so they are traversed through the mark stack.
type Script struct {
	Cell
	scope   *Scope
	atoms   []*String
	objects []*Object
	source  string
}

// Group carries type information shared by a family of objects.
type Group struct {
	Cell
	proto    Value   // prototype, a cell value or Nil
	global   *Object // compartment global, may be nil
	original *Group  // original unboxed group, may be nil
}

// WeakEntry is one ephemeron: the value is live iff the key is live.
type WeakEntry struct {
	key   *Cell
	value Value
}

// WeakMap is an ephemeron table. Entry values are only as live as their
// keys; the marker resolves this with the weak-marking pass rather than in
// a single top-down traversal.
type WeakMap struct {
	Cell
	entries []WeakEntry
}

// Set adds or replaces the entry for key.
func (m *WeakMap) Set(key *Cell, value Value) {
	if rt := m.zone.rt; rt != nil {
		rt.noteChildEdge(&m.Cell, key)
		if value.IsMarkable() {
			rt.noteChildEdge(&m.Cell, value.Cell())
		}
	}
	for i := range m.entries {
		if m.entries[i].key == key {
			if m.zone.rt != nil {
				m.zone.rt.PreBarrier(m.entries[i].value)
			}
			m.entries[i].value = value
			return
		}
	}
	m.entries = append(m.entries, WeakEntry{key: key, value: value})
}

// Get returns the value for key, or Nil and false.
func (m *WeakMap) Get(key *Cell) (Value, bool) {
	for i := range m.entries {
		if m.entries[i].key == key {
			return m.entries[i].value, true
		}
	}
	return Nil, false
}

// Len returns the number of entries.
func (m *WeakMap) Len() int { return len(m.entries) }

// ---------------------------------------------------------------------------
// Typed downcasts
// ---------------------------------------------------------------------------

// The concrete structs embed Cell first, so these casts are layout-safe.
// The kind assertion makes a wrong cast a deterministic failure instead of
// a silent mis-traversal.

func (c *Cell) asObject() *Object {
	c.assertKind(KindObject)
	return (*Object)(unsafe.Pointer(c))
}

func (c *Cell) asString() *String {
	c.assertKind(KindString)
	return (*String)(unsafe.Pointer(c))
}

func (c *Cell) asSymbol() *Symbol {
	c.assertKind(KindSymbol)
	return (*Symbol)(unsafe.Pointer(c))
}

func (c *Cell) asShape() *Shape {
	c.assertKind(KindShape)
	return (*Shape)(unsafe.Pointer(c))
}

func (c *Cell) asScope() *Scope {
	c.assertKind(KindScope)
	return (*Scope)(unsafe.Pointer(c))
}

func (c *Cell) asScript() *Script {
	c.assertKind(KindScript)
	return (*Script)(unsafe.Pointer(c))
}

func (c *Cell) asGroup() *Group {
	c.assertKind(KindGroup)
	return (*Group)(unsafe.Pointer(c))
}

func (c *Cell) asWeakMap() *WeakMap {
	c.assertKind(KindWeakMap)
	return (*WeakMap)(unsafe.Pointer(c))
}
