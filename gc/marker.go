package gc

import "fmt"

// ---------------------------------------------------------------------------
// GCMarker: the marking tracer and traversal engine
// ---------------------------------------------------------------------------
//
// Two traversal strategies, chosen per kind by fixed policy:
//
//   Eager/inline - strings (base and rope chains), symbols, shapes, scopes.
//     Their edge shape is a bounded tree; chains are shallow in the common
//     case and skipping the stack is a throughput win. All chain walks are
//     iterative, and pathological depth trips a fatal check rather than
//     looping forever.
//
//   Stack-based - objects, groups, scripts, weak maps. Unbounded or cyclic
//     edge shape: push a work item and let the drain loop pop until empty.
//
// The traversal entry rule: an edge is followed only when markIfUnmarked
// transitioned the target. Each cell is therefore scanned at most once per
// collection and total work is O(live set), not O(edge revisits).

// MarkColor selects which mark bit the marker sets.
type MarkColor uint8

const (
	MarkBlack MarkColor = iota
	MarkGray
)

// GCMarker owns the mark stack and implements the Marking tracer variant.
// It is owned exclusively by the collector during a collection; the
// mutator's only entry is through write barriers.
type GCMarker struct {
	rt    *Runtime
	stack markStack
	color MarkColor

	// Cells whose children could not be scanned when the stack was full.
	// Work is re-derived from the owning structure on a later pass; nothing
	// is ever silently dropped.
	delayed []*Cell

	// Weak-marking (ephemeron) mode.
	weakMapMode bool

	// Set once black marking and the ephemeron fixpoint are complete and
	// the gray roots have been fed to the stack. Gray drains suspended by a
	// budget cut resume from here without re-tracing the gray roots.
	grayRootsTraced bool

	eagerDepthLimit int
	ropeWindow      int
	ropeCheck       int

	budget      *SliceBudget
	cellsMarked uint64
	active      bool
}

func newGCMarker(rt *Runtime, p Params) *GCMarker {
	return &GCMarker{
		rt:              rt,
		stack:           newMarkStack(p.MarkStackLimit),
		eagerDepthLimit: p.EagerDepthLimit,
		ropeWindow:      p.RopeHistoryWindow,
		ropeCheck:       p.RopeCheckInterval,
	}
}

// TracerKind implements Tracer.
func (m *GCMarker) TracerKind() TracerKind { return TracerMarking }

// CellsMarked returns the number of cells marked this collection.
func (m *GCMarker) CellsMarked() uint64 { return m.cellsMarked }

func (m *GCMarker) start() {
	m.active = true
	m.color = MarkBlack
	m.cellsMarked = 0
	m.grayRootsTraced = false
}

func (m *GCMarker) stop() {
	m.active = false
	m.weakMapMode = false
	m.grayRootsTraced = false
	m.stack.clear()
	m.delayed = m.delayed[:0]
}

func (m *GCMarker) setMarkColor(color MarkColor) { m.color = color }

func (m *GCMarker) isDrained() bool {
	return m.stack.isEmpty() && len(m.delayed) == 0
}

// ---------------------------------------------------------------------------
// Mark entry points
// ---------------------------------------------------------------------------

// markCell transitions the cell in the current color. Cells in zones that
// are not being collected are never marked; their liveness is outside this
// collection's jurisdiction.
func (m *GCMarker) markCell(c *Cell) bool {
	if !c.IsTenured() {
		panic("gc: marking a nursery cell; minor GC must run before marking")
	}
	if !c.zone.isCollecting() {
		return false
	}
	if !c.markIfUnmarked(m.color) {
		return false
	}
	m.cellsMarked++
	return true
}

// markAndTraverseEdge is the marking handler behind every traced edge.
// src is the cell the edge leaves from, or nil for roots. It feeds the
// per-zone atom bitmaps and the cross-zone edge set as side products of
// ordinary traversal.
func (m *GCMarker) markAndTraverseEdge(src, target *Cell) {
	if target == nil {
		return
	}
	if target.IsAtom() && src != nil {
		// Cross-zone atom retention: the referencing zone's bitmap gets the
		// bit whether or not the atoms zone is collected this cycle.
		m.rt.MarkAtom(src.zone, target)
	}
	if src != nil && src.zone != target.zone && target.zone.isCollecting() && src.zone.isCollecting() {
		src.zone.addSweepGroupEdge(target.zone)
	}
	m.markAndTraverse(target)
}

// markAndTraverse applies the traversal entry rule.
func (m *GCMarker) markAndTraverse(target *Cell) {
	if !m.markCell(target) {
		return
	}
	if m.weakMapMode {
		m.markImplicitEdges(target)
	}
	m.traverse(target)
}

// markValueEdge traces a value slot from src.
func (m *GCMarker) markValueEdge(src *Cell, v Value) {
	if v.IsMarkable() {
		m.markAndTraverseEdge(src, v.Cell())
	}
}

// markBlackFromBarrier marks a cell on behalf of a write barrier. Barrier
// marking is always black: the snapshot says the old value was reachable at
// collection start.
func (m *GCMarker) markBlackFromBarrier(c *Cell) {
	if !m.active {
		return
	}
	prev := m.color
	m.color = MarkBlack
	m.markAndTraverse(c)
	m.color = prev
}

// traverse routes a newly marked cell to its kind's traversal rule.
func (m *GCMarker) traverse(c *Cell) {
	if c.kind.eagerlyTraced() {
		m.eagerlyMarkChildren(c)
		return
	}
	if !m.stack.pushCell(c) {
		m.delayMarkingChildren(c)
	}
}

// delayMarkingChildren records a cell whose children could not be scanned
// because the mark stack hit its growth cap. The item is not dropped: a
// later drain pass re-derives the work from the cell itself.
func (m *GCMarker) delayMarkingChildren(c *Cell) {
	m.delayed = append(m.delayed, c)
}

// ---------------------------------------------------------------------------
// Eager (inline) traversal
// ---------------------------------------------------------------------------

func (m *GCMarker) eagerlyMarkChildren(c *Cell) {
	switch c.kind {
	case KindString:
		m.eagerlyMarkString(c.asString())
	case KindSymbol:
		s := c.asSymbol()
		if s.desc != nil {
			m.markAndTraverseEdge(c, &s.desc.Cell)
		}
	case KindShape:
		m.eagerlyMarkShapeChain(c.asShape())
	case KindScope:
		m.eagerlyMarkScopeChain(c.asScope())
	default:
		panic("gc: eagerlyMarkChildren: kind is not eagerly traced: " + c.kind.String())
	}
}

// eagerlyMarkShapeChain walks the parent chain iteratively. The head is
// already marked; each step marks the next node or stops when the chain is
// already black. A depth past the configured limit means a broken chain
// (legitimate chains are bounded by property counts) and is fatal.
func (m *GCMarker) eagerlyMarkShapeChain(s *Shape) {
	depth := 0
	for {
		if s.prop != nil {
			m.markAndTraverseEdge(&s.Cell, &s.prop.Cell)
		}
		// Accessor objects are graph-shaped; they go through the stack.
		if s.getter != nil {
			m.markAndTraverseEdge(&s.Cell, &s.getter.Cell)
		}
		if s.setter != nil {
			m.markAndTraverseEdge(&s.Cell, &s.setter.Cell)
		}
		next := s.parent
		if next == nil || !m.markCell(&next.Cell) {
			return
		}
		s = next
		depth++
		if depth > m.eagerDepthLimit {
			panic(fmt.Sprintf("gc: shape chain deeper than %d nodes", m.eagerDepthLimit))
		}
	}
}

// eagerlyMarkScopeChain walks the enclosing chain iteratively.
func (m *GCMarker) eagerlyMarkScopeChain(s *Scope) {
	depth := 0
	for {
		for _, name := range s.names {
			if name != nil {
				m.markAndTraverseEdge(&s.Cell, &name.Cell)
			}
		}
		if s.function != nil {
			m.markAndTraverseEdge(&s.Cell, &s.function.Cell)
		}
		next := s.enclosing
		if next == nil || !m.markCell(&next.Cell) {
			return
		}
		s = next
		depth++
		if depth > m.eagerDepthLimit {
			panic(fmt.Sprintf("gc: scope chain deeper than %d nodes", m.eagerDepthLimit))
		}
	}
}

// eagerlyMarkString traverses base chains and ropes. Ropes are walked
// iteratively: the current node follows its left child directly while the
// right child is parked on the mark stack, so traversal depth stays
// constant no matter how deep the concatenation tree is. Strings are the
// one data shape the engine must defend against adversarial cyclic input,
// so a history window over the most recently visited nodes detects a
// repeated node and fails fast instead of looping forever.
func (m *GCMarker) eagerlyMarkString(s *String) {
	if s.HasBase() {
		m.markBaseChain(s)
	}
	if s.IsRope() {
		m.markRope(s)
	}
}

func (m *GCMarker) markBaseChain(s *String) {
	depth := 0
	cur := s
	for cur.base != nil {
		base := cur.base
		if base.IsAtom() {
			m.rt.MarkAtom(cur.zone, &base.Cell)
		}
		if !m.markCell(&base.Cell) {
			return
		}
		cur = base
		depth++
		if depth > m.eagerDepthLimit {
			panic(fmt.Sprintf("gc: string base chain deeper than %d nodes", m.eagerDepthLimit))
		}
	}
}

func (m *GCMarker) markRope(rope *String) {
	history := make([]*String, 0, m.ropeWindow)
	steps := 0
	cur := rope
	for {
		steps++
		if steps%m.ropeCheck == 0 {
			for _, seen := range history {
				if seen == cur {
					panic("gc: rope cycle detected")
				}
			}
		}
		if len(history) == m.ropeWindow {
			copy(history, history[1:])
			history = history[:m.ropeWindow-1]
		}
		history = append(history, cur)

		right := cur.right
		if right != nil && m.markCell(&right.Cell) {
			if right.IsRope() || right.HasBase() {
				// Park the right branch; it is scanned when popped.
				if !m.stack.pushCell(&right.Cell) {
					m.delayMarkingChildren(&right.Cell)
				}
			}
		}

		left := cur.left
		if left == nil || !m.markCell(&left.Cell) {
			return
		}
		if left.HasBase() {
			m.markBaseChain(left)
		}
		if !left.IsRope() {
			return
		}
		cur = left
	}
}

// ---------------------------------------------------------------------------
// Stack-based traversal
// ---------------------------------------------------------------------------

// processMarkStackTop pops and processes one work item. Returns false when
// the slice budget expired mid-item; any unfinished remainder has been
// pushed back first.
func (m *GCMarker) processMarkStackTop(budget *SliceBudget) bool {
	e := m.stack.pop()

	switch e.tag {
	case stackTagSavedValueArray:
		e = restoreValueArray(e)
		fallthrough
	case stackTagValueArray:
		return m.scanValueArray(e, budget)
	case stackTagCell:
		// fall through to cell scan below
	}

	c := e.cell
	switch c.kind {
	case KindObject:
		m.scanObject(c.asObject())
	case KindScript:
		m.scanScript(c.asScript())
	case KindGroup:
		m.scanGroup(c.asGroup())
	case KindWeakMap:
		m.scanWeakMap(c.asWeakMap())
	case KindString:
		// Ropes park their right branches here.
		m.eagerlyMarkString(c.asString())
	default:
		panic("gc: mark stack holds cell of eager kind " + c.kind.String())
	}
	return !budget.step(1)
}

// scanValueArray marks a pending slot range, checking the budget as it
// goes. On expiry the remainder is pushed back with an updated start index
// so no slot is scanned twice or missed.
func (m *GCMarker) scanValueArray(e markStackEntry, budget *SliceBudget) bool {
	owner := e.cell
	for i := range e.vals {
		m.markValueEdge(owner, e.vals[i])
		if budget.step(1) && i+1 < len(e.vals) {
			m.stack.push(markStackEntry{
				tag:   stackTagValueArray,
				cell:  owner,
				vals:  e.vals[i+1:],
				start: e.start + i + 1,
			})
			return false
		}
	}
	return !budget.isOverBudget()
}

func (m *GCMarker) scanObject(o *Object) {
	if o.shape != nil {
		m.markAndTraverseEdge(&o.Cell, &o.shape.Cell)
	}
	if o.group != nil {
		m.markAndTraverseEdge(&o.Cell, &o.group.Cell)
	}
	if len(o.slots) > 0 {
		if !m.stack.pushValueArray(o, 0) {
			m.delayMarkingChildren(&o.Cell)
		}
	}
}

func (m *GCMarker) scanScript(s *Script) {
	if s.scope != nil {
		m.markAndTraverseEdge(&s.Cell, &s.scope.Cell)
	}
	for _, a := range s.atoms {
		if a != nil {
			m.markAndTraverseEdge(&s.Cell, &a.Cell)
		}
	}
	for _, o := range s.objects {
		if o != nil {
			m.markAndTraverseEdge(&s.Cell, &o.Cell)
		}
	}
}

func (m *GCMarker) scanGroup(g *Group) {
	m.markValueEdge(&g.Cell, g.proto)
	if g.global != nil {
		m.markAndTraverseEdge(&g.Cell, &g.global.Cell)
	}
	if g.original != nil {
		m.markAndTraverseEdge(&g.Cell, &g.original.Cell)
	}
}

// ---------------------------------------------------------------------------
// Weak (ephemeron) marking
// ---------------------------------------------------------------------------

// scanWeakMap applies ephemeron semantics to a marked weak map. Entries
// with a live key mark their value now; entries whose key is still white
// are recorded in the key's zone so the value is re-traversed if the key
// is marked later through some other path. Outside weak-marking mode
// nothing is decided: the weak pass re-scans every marked map when the
// mode is entered.
func (m *GCMarker) scanWeakMap(w *WeakMap) {
	if !m.weakMapMode {
		return
	}
	for i := range w.entries {
		e := &w.entries[i]
		if e.key == nil {
			continue
		}
		if keyIsLive(e.key) {
			m.markValueEdge(&w.Cell, e.value)
		} else {
			e.key.zone.addWeakKey(e.key, w, e.value)
		}
	}
}

// markImplicitEdges fires when a cell becomes marked during weak-marking
// mode: every dependent value recorded against it is (re)traversed.
func (m *GCMarker) markImplicitEdges(c *Cell) {
	deps, ok := c.zone.weakKeys[c]
	if !ok {
		return
	}
	delete(c.zone.weakKeys, c)
	for _, d := range deps {
		// The map itself must be live for its entries to retain anything.
		if d.m.IsMarkedAny() {
			m.markValueEdge(&d.m.Cell, d.value)
		}
	}
}

// enterWeakMarkingMode switches ephemeron handling on and (re)scans every
// marked weak map to seed the weak-key tables.
func (m *GCMarker) enterWeakMarkingMode() {
	if m.weakMapMode {
		return
	}
	m.weakMapMode = true
	for _, z := range m.rt.zones {
		if !z.isCollecting() {
			continue
		}
		for _, w := range z.weakMaps {
			if w.IsMarkedAny() {
				m.scanWeakMap(w)
			}
		}
	}
}

// leaveWeakMarkingMode discards the weak-key tables. They are rebuilt from
// the weak maps themselves if the mode is re-entered; nothing stale
// survives.
func (m *GCMarker) leaveWeakMarkingMode() {
	m.weakMapMode = false
	for _, z := range m.rt.zones {
		z.clearWeakKeys()
	}
}

// ---------------------------------------------------------------------------
// Drain loop
// ---------------------------------------------------------------------------

// drainMarkStack repeats {process stack to empty} -> {reschedule delayed
// items} until both are empty or the budget expires. On expiry all live
// value ranges are converted to saved (index) form and the caller must
// resume later; no pending work is lost.
func (m *GCMarker) drainMarkStack(budget *SliceBudget) bool {
	for {
		for !m.stack.isEmpty() {
			if !m.processMarkStackTop(budget) {
				m.stack.saveValueRanges()
				return false
			}
			if budget.isOverBudget() {
				m.stack.saveValueRanges()
				return false
			}
		}
		if len(m.delayed) == 0 {
			return true
		}
		m.markDelayedChildren()
	}
}

// markDelayedChildren moves delayed cells back onto the (now drained)
// stack. Work is re-derived from each cell; if the stack fills again the
// leftovers simply stay delayed for the next round.
func (m *GCMarker) markDelayedChildren() {
	pending := m.delayed
	m.delayed = m.delayed[:0]
	for i, c := range pending {
		if !m.stack.pushCell(c) {
			m.delayed = append(m.delayed, pending[i:]...)
			return
		}
	}
}
