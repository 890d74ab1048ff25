package gc

// ---------------------------------------------------------------------------
// Root registry
// ---------------------------------------------------------------------------
//
// Root slots live in an explicit append-only registry with stable indices.
// Removing a root clears its slot; the index is never reassigned, so
// embedders can hold indices without invalidation hazards.

type rootEntry struct {
	slot *Value
	name string
}

type rootRegistry struct {
	slots []rootEntry

	// Embedder root providers: each traces all of its roots into the given
	// tracer and does nothing else.
	blackTracers []func(Tracer)
	grayTracers  []func(Tracer)
}

// AddRoot registers a value slot as a root and returns its stable index.
// The slot's current and future contents are traced on every collection
// until the root is removed.
func (rt *Runtime) AddRoot(slot *Value, name string) int {
	rt.roots.slots = append(rt.roots.slots, rootEntry{slot: slot, name: name})
	return len(rt.roots.slots) - 1
}

// RemoveRoot clears the root at the given index. Indices are stable:
// the registry entry is nilled, not compacted away.
func (rt *Runtime) RemoveRoot(index int) {
	if index >= 0 && index < len(rt.roots.slots) {
		rt.roots.slots[index] = rootEntry{}
	}
}

// AddBlackRootsTracer registers an embedder callback that traces roots
// which must be marked black.
func (rt *Runtime) AddBlackRootsTracer(fn func(Tracer)) {
	rt.roots.blackTracers = append(rt.roots.blackTracers, fn)
}

// AddGrayRootsTracer registers an embedder callback whose roots are marked
// gray: reachable, but pending stronger evidence before they count as
// fully live to the embedder.
func (rt *Runtime) AddGrayRootsTracer(fn func(Tracer)) {
	rt.roots.grayTracers = append(rt.roots.grayTracers, fn)
}

// traceBlackRoots pushes every black root edge into the tracer: registry
// slots, persistent handles and embedder black-root callbacks.
func (rt *Runtime) traceBlackRoots(trc Tracer) {
	for i := range rt.roots.slots {
		e := &rt.roots.slots[i]
		if e.slot != nil {
			TraceRoot(trc, e.slot, e.name)
		}
	}
	for _, h := range rt.handles {
		if h != nil {
			TraceRoot(trc, &h.value, "persistent-handle")
		}
	}
	for _, fn := range rt.roots.blackTracers {
		fn(trc)
	}
}

// traceGrayRoots invokes the embedder gray-root callbacks.
func (rt *Runtime) traceGrayRoots(trc Tracer) {
	for _, fn := range rt.roots.grayTracers {
		fn(trc)
	}
}

// ---------------------------------------------------------------------------
// Persistent handles
// ---------------------------------------------------------------------------

// Persistent is an embedder-owned handle whose referent survives every
// collection until the handle is released.
type Persistent struct {
	rt    *Runtime
	value Value
	index int
}

// NewPersistent creates a persistent handle holding v.
func (rt *Runtime) NewPersistent(v Value) *Persistent {
	h := &Persistent{rt: rt, value: v, index: len(rt.handles)}
	rt.handles = append(rt.handles, h)
	return h
}

// Get returns the held value.
func (h *Persistent) Get() Value { return h.value }

// Set replaces the held value, applying the pre-barrier to the old one.
func (h *Persistent) Set(v Value) {
	h.rt.PreBarrier(h.value)
	h.value = v
}

// Release drops the handle; the slot is nilled, not compacted.
func (h *Persistent) Release() {
	h.rt.handles[h.index] = nil
	h.value = Nil
}
