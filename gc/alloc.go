package gc

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------
//
// Tenured allocation registers the cell with its zone immediately; nursery
// allocation defers registration to tenuring. Every allocation passes
// through allocBarrier so cells created while marking is active are born
// black.

// newCell initializes the embedded header and registers a tenured cell.
func (rt *Runtime) newCell(z *Zone, c *Cell, kind Kind) {
	c.kind = kind
	c.zone = z
	z.register(c)
	rt.allocBarrier(c)
}

// noteChildEdge records the bookkeeping for a freshly created edge from
// owner to child: the owner zone's atom bitmap bit, and a whole-cell
// remembered-set entry when the child still lives in the nursery. Every
// constructor and barriered setter that stores a cell reference goes
// through here; the atom bitmaps must never under-mark.
func (rt *Runtime) noteChildEdge(owner, child *Cell) {
	if child == nil {
		return
	}
	rt.MarkAtom(owner.zone, child)
	if !child.IsTenured() {
		rt.PostBarrierCell(owner)
	}
}

// newNurseryCell initializes a young cell. It joins the nursery list, not
// the zone; tenuring moves it over. A full nursery triggers a minor
// collection first.
func (rt *Runtime) newNurseryCell(z *Zone, c *Cell, kind Kind) {
	if rt.nursery.isFull() {
		rt.MinorGC()
	}
	c.kind = kind
	c.flags = cellNursery
	c.zone = z
	rt.nursery.cells = append(rt.nursery.cells, c)
}

// NewObject allocates a tenured object with nslots nil slots.
func (rt *Runtime) NewObject(z *Zone, shape *Shape, group *Group, nslots int) *Object {
	o := &Object{shape: shape, group: group}
	if nslots > 0 {
		o.slots = make([]Value, nslots)
		for i := range o.slots {
			o.slots[i] = Nil
		}
	}
	rt.newCell(z, &o.Cell, KindObject)
	return o
}

// NewNurseryObject allocates an object in the nursery. It reaches the
// tenured heap only if a minor collection finds it reachable.
func (rt *Runtime) NewNurseryObject(z *Zone, shape *Shape, group *Group, nslots int) *Object {
	o := &Object{shape: shape, group: group}
	if nslots > 0 {
		o.slots = make([]Value, nslots)
		for i := range o.slots {
			o.slots[i] = Nil
		}
	}
	rt.newNurseryCell(z, &o.Cell, KindObject)
	return o
}

// NewString allocates a flat string whose characters live in the arena.
func (rt *Runtime) NewString(z *Zone, text string) *String {
	s := &String{data: rt.arena.alloc(text)}
	rt.newCell(z, &s.Cell, KindString)
	return s
}

// NewNurseryString allocates a flat string in the nursery.
func (rt *Runtime) NewNurseryString(z *Zone, text string) *String {
	s := &String{data: rt.arena.alloc(text)}
	rt.newNurseryCell(z, &s.Cell, KindString)
	return s
}

// NewRope allocates a concatenation node over two existing strings.
// The left child must be non-nil; a rope with only a right child is not a
// valid shape.
func (rt *Runtime) NewRope(z *Zone, left, right *String) *String {
	if left == nil {
		panic("gc: NewRope with nil left child")
	}
	s := &String{left: left, right: right}
	rt.newCell(z, &s.Cell, KindString)
	rt.noteChildEdge(&s.Cell, &left.Cell)
	if right != nil {
		rt.noteChildEdge(&s.Cell, &right.Cell)
	}
	return s
}

// NewDependentString allocates a string sharing n characters of base
// starting at off. The base keeps ownership of the character storage.
func (rt *Runtime) NewDependentString(z *Zone, base *String, off, n int) *String {
	if base == nil || base.IsRope() {
		panic("gc: NewDependentString requires a flat base")
	}
	s := &String{base: base}
	if base.data.chunk != nil {
		s.data = span{chunk: base.data.chunk, off: base.data.off + off, n: n}
	} else {
		s.data = literalSpan(base.Text()[off : off+n])
	}
	rt.newCell(z, &s.Cell, KindString)
	rt.noteChildEdge(&s.Cell, &base.Cell)
	return s
}

// NewShape allocates a property-chain node.
func (rt *Runtime) NewShape(z *Zone, parent *Shape, prop *String, getter, setter *Object) *Shape {
	s := &Shape{parent: parent, prop: prop, getter: getter, setter: setter}
	rt.newCell(z, &s.Cell, KindShape)
	if prop != nil {
		rt.noteChildEdge(&s.Cell, &prop.Cell)
	}
	if getter != nil {
		rt.noteChildEdge(&s.Cell, &getter.Cell)
	}
	if setter != nil {
		rt.noteChildEdge(&s.Cell, &setter.Cell)
	}
	return s
}

// NewScope allocates a scope-chain node.
func (rt *Runtime) NewScope(z *Zone, enclosing *Scope, names []*String, function *Object) *Scope {
	s := &Scope{enclosing: enclosing, names: names, function: function}
	rt.newCell(z, &s.Cell, KindScope)
	for _, n := range names {
		if n != nil {
			rt.noteChildEdge(&s.Cell, &n.Cell)
		}
	}
	if function != nil {
		rt.noteChildEdge(&s.Cell, &function.Cell)
	}
	return s
}

// NewScript allocates a compiled script.
func (rt *Runtime) NewScript(z *Zone, scope *Scope, atoms []*String, objects []*Object, source string) *Script {
	s := &Script{scope: scope, atoms: atoms, objects: objects, source: source}
	rt.newCell(z, &s.Cell, KindScript)
	for _, a := range atoms {
		if a != nil {
			rt.noteChildEdge(&s.Cell, &a.Cell)
		}
	}
	for _, o := range objects {
		if o != nil {
			rt.noteChildEdge(&s.Cell, &o.Cell)
		}
	}
	return s
}

// NewGroup allocates type information for a family of objects.
func (rt *Runtime) NewGroup(z *Zone, proto Value, global *Object, original *Group) *Group {
	g := &Group{proto: proto, global: global, original: original}
	rt.newCell(z, &g.Cell, KindGroup)
	if proto.IsMarkable() {
		rt.noteChildEdge(&g.Cell, proto.Cell())
	}
	if global != nil {
		rt.noteChildEdge(&g.Cell, &global.Cell)
	}
	return g
}

// NewWeakMap allocates an ephemeron table.
func (rt *Runtime) NewWeakMap(z *Zone) *WeakMap {
	m := &WeakMap{}
	rt.newCell(z, &m.Cell, KindWeakMap)
	z.weakMaps = append(z.weakMaps, m)
	return m
}
