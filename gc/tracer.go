package gc

// ---------------------------------------------------------------------------
// Tracer dispatch
// ---------------------------------------------------------------------------
//
// Every traversal operation is routed through a Tracer. There are exactly
// three variants:
//
//   Marking  - the GCMarker; mutates mark bits and pushes work.
//   Tenuring - promotes nursery cells and rewrites the caller's slot.
//   Callback - observes edges without side effects (snapshots, verification).
//
// Dispatch is a tag switch rather than virtual calls so that each edge type
// has exactly one handler per variant and a mismatched kind tag fails the
// cell's kind assertion instead of being silently mis-traversed.

// TracerKind discriminates tracer variants.
type TracerKind uint8

const (
	TracerMarking TracerKind = iota
	TracerTenuring
	TracerCallback
)

// Tracer is implemented by GCMarker, TenuringTracer and CallbackTracer.
type Tracer interface {
	TracerKind() TracerKind
}

// CallbackTracer invokes a callback on each traced edge. It only observes;
// it never mutates mark bits or slots.
type CallbackTracer struct {
	// OnEdge receives the edge target and the edge name.
	OnEdge func(c *Cell, name string)
}

// TracerKind implements Tracer.
func (t *CallbackTracer) TracerKind() TracerKind { return TracerCallback }

// dispatchCell routes one edge to the tracer's handler. set writes a
// possibly-relocated pointer back through the caller's slot; only the
// Tenuring variant uses it, and it updates through the slot rather than a
// side channel.
func dispatchCell(trc Tracer, c *Cell, set func(*Cell), name string) {
	switch trc.TracerKind() {
	case TracerMarking:
		trc.(*GCMarker).markAndTraverseEdge(nil, c)
	case TracerTenuring:
		set(trc.(*TenuringTracer).traverse(c))
	case TracerCallback:
		trc.(*CallbackTracer).OnEdge(c, name)
	default:
		panic("gc: unknown tracer kind")
	}
}

// TraceValueEdge traces the cell referenced by a value slot, if any.
func TraceValueEdge(trc Tracer, slot *Value, name string) {
	if !slot.IsMarkable() {
		return
	}
	dispatchCell(trc, slot.Cell(), func(c *Cell) { slot.setCell(c) }, name)
}

// TraceRange traces every markable value in a slot range.
func TraceRange(trc Tracer, vals []Value, name string) {
	for i := range vals {
		TraceValueEdge(trc, &vals[i], name)
	}
}

// TraceRoot traces a root value slot. Roots are never written through by
// the Tenuring variant's relocation contract any differently than ordinary
// edges; the distinction exists for callers, not for dispatch.
func TraceRoot(trc Tracer, slot *Value, name string) {
	TraceValueEdge(trc, slot, name)
}

// TraceObjectEdge traces an object-typed edge. The pointee's kind tag is
// asserted: callers must statically know what they point at.
func TraceObjectEdge(trc Tracer, slot **Object, name string) {
	if *slot == nil {
		return
	}
	(*slot).assertKind(KindObject)
	dispatchCell(trc, &(*slot).Cell, func(c *Cell) { *slot = c.asObject() }, name)
}

// TraceStringEdge traces a string-typed edge.
func TraceStringEdge(trc Tracer, slot **String, name string) {
	if *slot == nil {
		return
	}
	(*slot).assertKind(KindString)
	dispatchCell(trc, &(*slot).Cell, func(c *Cell) { *slot = c.asString() }, name)
}

// TraceSymbolEdge traces a symbol-typed edge.
func TraceSymbolEdge(trc Tracer, slot **Symbol, name string) {
	if *slot == nil {
		return
	}
	(*slot).assertKind(KindSymbol)
	dispatchCell(trc, &(*slot).Cell, func(c *Cell) { *slot = c.asSymbol() }, name)
}

// TraceShapeEdge traces a shape-typed edge.
func TraceShapeEdge(trc Tracer, slot **Shape, name string) {
	if *slot == nil {
		return
	}
	(*slot).assertKind(KindShape)
	dispatchCell(trc, &(*slot).Cell, func(c *Cell) { *slot = c.asShape() }, name)
}

// TraceScopeEdge traces a scope-typed edge.
func TraceScopeEdge(trc Tracer, slot **Scope, name string) {
	if *slot == nil {
		return
	}
	(*slot).assertKind(KindScope)
	dispatchCell(trc, &(*slot).Cell, func(c *Cell) { *slot = c.asScope() }, name)
}

// TraceScriptEdge traces a script-typed edge.
func TraceScriptEdge(trc Tracer, slot **Script, name string) {
	if *slot == nil {
		return
	}
	(*slot).assertKind(KindScript)
	dispatchCell(trc, &(*slot).Cell, func(c *Cell) { *slot = c.asScript() }, name)
}

// TraceGroupEdge traces a group-typed edge.
func TraceGroupEdge(trc Tracer, slot **Group, name string) {
	if *slot == nil {
		return
	}
	(*slot).assertKind(KindGroup)
	dispatchCell(trc, &(*slot).Cell, func(c *Cell) { *slot = c.asGroup() }, name)
}

// TraceGenericCellEdge traces an edge whose pointee kind is only known
// dynamically (e.g. weak-map keys). The kind tag still selects exactly one
// traversal rule on the marking side.
func TraceGenericCellEdge(trc Tracer, slot **Cell, name string) {
	if *slot == nil {
		return
	}
	dispatchCell(trc, *slot, func(c *Cell) { *slot = c }, name)
}
