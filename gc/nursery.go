package gc

// ---------------------------------------------------------------------------
// Nursery and tenuring
// ---------------------------------------------------------------------------
//
// The real allocator and nursery are external collaborators; this is the
// narrow model the collector needs: a list of young cells, a promotion
// notification (tenuring), and the remembered set that locates
// tenured-to-nursery edges. Major collections always run against an empty
// nursery, so the marker never sees a young cell.

type nursery struct {
	cells    []*Cell
	capacity int
}

func (n *nursery) isEmpty() bool { return len(n.cells) == 0 }

func (n *nursery) isFull() bool {
	return n.capacity > 0 && len(n.cells) >= n.capacity
}

// TenuringTracer promotes nursery cells reachable from roots and the
// remembered set. Traversal relocates the pointee (promotes it into its
// zone) and rewrites the caller's reference through the slot.
type TenuringTracer struct {
	rt       *Runtime
	worklist []*Cell
	promoted int
}

// TracerKind implements Tracer.
func (t *TenuringTracer) TracerKind() TracerKind { return TracerTenuring }

// traverse promotes c if it is still young and returns the cell the
// caller's slot must now reference.
func (t *TenuringTracer) traverse(c *Cell) *Cell {
	if c == nil || c.IsTenured() {
		return c
	}
	t.tenure(c)
	return c
}

// tenure promotes one cell: it joins its zone's cell lists and mark-bitmap
// index space, and its children are queued so nursery subgraphs are
// promoted as a unit.
func (t *TenuringTracer) tenure(c *Cell) {
	c.flags &^= cellNursery
	c.zone.register(c)
	t.rt.allocBarrier(c)
	if c.kind == KindWeakMap {
		c.zone.weakMaps = append(c.zone.weakMaps, c.asWeakMap())
	}
	t.promoted++
	t.worklist = append(t.worklist, c)
}

// drain traces the children of every promoted cell until no young cells
// remain reachable.
func (t *TenuringTracer) drain() {
	for len(t.worklist) > 0 {
		c := t.worklist[len(t.worklist)-1]
		t.worklist = t.worklist[:len(t.worklist)-1]
		traceCellChildren(t, c)
	}
}

// MinorGC evacuates the nursery: promotes every young cell reachable from
// roots or the remembered set, then discards the rest. The store buffer is
// consumed and cleared.
func (rt *Runtime) MinorGC() int {
	if rt.nursery.isEmpty() {
		rt.storeBuffer.clear()
		return 0
	}

	mover := &TenuringTracer{rt: rt}

	rt.traceBlackRoots(mover)
	rt.traceGrayRoots(mover)

	// Remembered set: tenured slots that were pointed at nursery cells.
	for _, e := range rt.storeBuffer.slots {
		if e.index < len(e.obj.slots) {
			TraceValueEdge(mover, &e.obj.slots[e.index], "store-buffer-slot")
		}
	}
	for _, c := range rt.storeBuffer.cells {
		traceCellChildren(mover, c)
	}
	mover.drain()

	// Unpromoted nursery cells are garbage.
	died := 0
	for _, c := range rt.nursery.cells {
		if !c.IsTenured() {
			rt.finalizeCell(c)
			died++
		}
	}
	rt.nursery.cells = rt.nursery.cells[:0]
	rt.storeBuffer.clear()

	if rt.logger != nil {
		rt.logger.Debugf("minor gc: %d promoted, %d died", mover.promoted, died)
	}
	return mover.promoted
}

// TraceChildren feeds every outgoing edge of c into trc. Intended for
// callback tracers (heap inspection, snapshots); the marking tracer has its
// own fused traversal.
func TraceChildren(trc Tracer, c *Cell) {
	if trc.TracerKind() == TracerMarking {
		panic("gc: TraceChildren with a marking tracer")
	}
	traceCellChildren(trc, c)
}

// traceCellChildren feeds every outgoing edge of c into trc. This is the
// kind-indexed edge enumeration shared by the tenuring and callback
// variants; the marking variant has its own fused traversal in GCMarker.
func traceCellChildren(trc Tracer, c *Cell) {
	switch c.kind {
	case KindObject:
		o := c.asObject()
		TraceShapeEdge(trc, &o.shape, "shape")
		TraceGroupEdge(trc, &o.group, "group")
		TraceRange(trc, o.slots, "slots")
	case KindString:
		s := c.asString()
		TraceStringEdge(trc, &s.left, "left")
		TraceStringEdge(trc, &s.right, "right")
		TraceStringEdge(trc, &s.base, "base")
	case KindSymbol:
		s := c.asSymbol()
		TraceStringEdge(trc, &s.desc, "description")
	case KindShape:
		s := c.asShape()
		TraceShapeEdge(trc, &s.parent, "parent")
		TraceStringEdge(trc, &s.prop, "propid")
		TraceObjectEdge(trc, &s.getter, "getter")
		TraceObjectEdge(trc, &s.setter, "setter")
	case KindScope:
		s := c.asScope()
		TraceScopeEdge(trc, &s.enclosing, "enclosing")
		for i := range s.names {
			TraceStringEdge(trc, &s.names[i], "binding-name")
		}
		TraceObjectEdge(trc, &s.function, "canonical-function")
	case KindScript:
		s := c.asScript()
		TraceScopeEdge(trc, &s.scope, "scope")
		for i := range s.atoms {
			TraceStringEdge(trc, &s.atoms[i], "script-atom")
		}
		for i := range s.objects {
			TraceObjectEdge(trc, &s.objects[i], "script-object")
		}
	case KindGroup:
		g := c.asGroup()
		TraceValueEdge(trc, &g.proto, "group-proto")
		TraceObjectEdge(trc, &g.global, "group-global")
		TraceGroupEdge(trc, &g.original, "group-original")
	case KindWeakMap:
		m := c.asWeakMap()
		// Non-marking tracers see weak entries as strong edges; only the
		// marker applies ephemeron semantics.
		for i := range m.entries {
			TraceGenericCellEdge(trc, &m.entries[i].key, "weakmap-key")
			TraceValueEdge(trc, &m.entries[i].value, "weakmap-value")
		}
	default:
		panic("gc: traceCellChildren: bad kind " + c.kind.String())
	}
}
