package gc

// ---------------------------------------------------------------------------
// Write barriers
// ---------------------------------------------------------------------------
//
// Incremental marking is only correct if the mutator tells the collector
// about pointer writes. Two barriers cover the two hazards:
//
//   PreBarrier  - snapshot-at-the-beginning: before a non-root slot holding
//                 a cell reference is overwritten during marking, the old
//                 value is marked. Everything reachable when the collection
//                 started therefore ends up marked, no matter how the
//                 mutator rewires the graph between slices.
//   PostBarrier - generational remembered set: a tenured slot pointed at a
//                 nursery cell is recorded so minor GC can find it without
//                 scanning the tenured heap.
//
// Barriers are the mutator's only interaction with collector state; no
// locks are taken here.

// slotEdge is one remembered-set entry: tenured object o, slot i.
type slotEdge struct {
	obj   *Object
	index int
}

// storeBuffer is the remembered set consumed by minor GC.
type storeBuffer struct {
	slots []slotEdge
	cells []*Cell // whole-cell entries
}

func (sb *storeBuffer) clear() {
	sb.slots = sb.slots[:0]
	sb.cells = sb.cells[:0]
}

// barriersActive reports whether pre-barriers must fire. They are live for
// the whole of incremental marking and through sweep, where barrier-marked
// cells feed the per-group re-verification pass.
func (rt *Runtime) barriersActive() bool {
	switch rt.state {
	case StateMarkRoots, StateMark, StateSweep:
		return true
	}
	return false
}

// PreBarrier marks the previous value of a slot that is about to be
// overwritten. Must be called before any non-root location holding a cell
// reference is mutated while a collection is active.
func (rt *Runtime) PreBarrier(old Value) {
	if !old.IsMarkable() || !rt.barriersActive() {
		return
	}
	rt.preBarrierCell(old.Cell())
}

func (rt *Runtime) preBarrierCell(c *Cell) {
	if c == nil || !rt.barriersActive() {
		return
	}
	if !c.IsTenured() {
		// Nursery cells are handled by minor GC, which runs before any
		// marking looks at them.
		return
	}
	// Barrier marking is always black, regardless of the marker's current
	// root color.
	rt.marker.markBlackFromBarrier(c)
}

// PostBarrier records a remembered-set entry when a tenured object slot is
// pointed at a nursery cell.
func (rt *Runtime) PostBarrier(obj *Object, index int, nv Value) {
	if !nv.IsMarkable() {
		return
	}
	target := nv.Cell()
	if target.IsTenured() || !obj.IsTenured() {
		return
	}
	rt.storeBuffer.slots = append(rt.storeBuffer.slots, slotEdge{obj: obj, index: index})
}

// PostBarrierCell records a whole-cell entry: every outgoing edge of c is
// re-traced at the next minor GC. Used when individual slot tracking is
// not worth it (bulk initialization).
func (rt *Runtime) PostBarrierCell(c *Cell) {
	if c.IsTenured() {
		rt.storeBuffer.cells = append(rt.storeBuffer.cells, c)
	}
}

// allocBarrier implements allocate-black: cells created while marking is
// underway are marked immediately. A fresh cell has no snapshot obligation,
// but leaving it white would let the sweeper reclaim it before the marker
// ever saw the new edge to it.
func (rt *Runtime) allocBarrier(c *Cell) {
	if !c.IsTenured() {
		return
	}
	if rt.state == StateMark || rt.state == StateMarkRoots || rt.state == StateSweep {
		if c.zone.isCollecting() {
			c.markIfUnmarked(MarkBlack)
		}
	}
}

// ---------------------------------------------------------------------------
// Barriered mutator accessors
// ---------------------------------------------------------------------------

// SetSlot writes slot i with the full barrier discipline.
func (o *Object) SetSlot(i int, v Value) {
	rt := o.zone.rt
	rt.PreBarrier(o.slots[i])
	rt.MarkAtomValue(o.zone, v)
	o.slots[i] = v
	rt.PostBarrier(o, i, v)
}

// AppendSlot grows the slot array by one. Growth may reallocate the backing
// array, which is exactly why suspended mark stacks hold indices, not
// pointers, into it.
func (o *Object) AppendSlot(v Value) {
	o.slots = append(o.slots, v)
	rt := o.zone.rt
	rt.MarkAtomValue(o.zone, v)
	rt.PostBarrier(o, len(o.slots)-1, v)
}

// ShrinkSlots truncates the slot array to n entries, pre-barriering every
// removed value so the snapshot invariant survives the shrink.
func (o *Object) ShrinkSlots(n int) {
	rt := o.zone.rt
	for i := n; i < len(o.slots); i++ {
		rt.PreBarrier(o.slots[i])
		o.slots[i] = Nil
	}
	o.slots = o.slots[:n]
}
