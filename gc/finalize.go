package gc

import (
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Finalization and background sweeping
// ---------------------------------------------------------------------------
//
// Dead cells found by the sweeper are finalized either inline or, for kinds
// that support it, on a background goroutine. Background-finalizable kinds
// are exactly those whose finalizers touch no mutator-visible state: object
// slot arrays, flat string character data, group tables. Kinds whose
// finalizers update shared runtime tables (atoms, weak maps, caches) always
// run on the main goroutine.

// finalizeCell releases one dead cell's external resources.
func (rt *Runtime) finalizeCell(c *Cell) {
	switch c.kind {
	case KindObject:
		o := c.asObject()
		o.slots = nil
		o.shape = nil
		o.group = nil
	case KindString:
		s := c.asString()
		if !s.IsRope() && s.base == nil {
			rt.arena.release(s.data)
		}
		s.left, s.right, s.base = nil, nil, nil
		s.data = span{}
	case KindSymbol:
		c.asSymbol().desc = nil
	case KindShape:
		s := c.asShape()
		s.parent, s.getter, s.setter = nil, nil, nil
		s.prop = nil
	case KindScope:
		s := c.asScope()
		s.enclosing, s.function = nil, nil
		s.names = nil
	case KindScript:
		s := c.asScript()
		s.scope = nil
		s.atoms, s.objects = nil, nil
		s.source = ""
	case KindGroup:
		g := c.asGroup()
		g.proto = Nil
		g.global, g.original = nil, nil
	case KindWeakMap:
		c.asWeakMap().entries = nil
	default:
		panic("gc: finalizeCell: bad kind " + c.kind.String())
	}
}

// sweepTask is one batch of dead cells of a single kind from one zone.
type sweepTask struct {
	zone *Zone
	dead []*Cell
}

// backgroundSweeper finalizes batches of dead cells off the main goroutine.
// Work arrives from the sweep phase; callers that need the heap fully
// reclaimed (FinishGC, shutdown) block on drain.
type backgroundSweeper struct {
	rt *Runtime
	mu sync.Mutex // protects start/stop lifecycle and the queue

	queue   []sweepTask
	pending int
	cond    *sync.Cond

	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}

	swept atomic.Uint64
}

func newBackgroundSweeper(rt *Runtime) *backgroundSweeper {
	s := &backgroundSweeper{rt: rt}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the sweep goroutine. Safe to call more than once; only one
// loop runs.
func (s *backgroundSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return // already running
	}
	s.wake = make(chan struct{}, 1)
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})

	// Capture channels locally so the goroutine never reads fields that
	// Stop() nils out.
	wakeCh := s.wake
	stopCh := s.stop
	stoppedCh := s.stopped
	go s.loop(wakeCh, stopCh, stoppedCh)
}

// Stop drains remaining work inline, halts the goroutine and waits for it.
// Safe to call multiple times or on a sweeper that was never started.
func (s *backgroundSweeper) Stop() {
	s.mu.Lock()
	stopCh := s.stop
	stoppedCh := s.stopped
	s.stop = nil
	s.stopped = nil
	s.wake = nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-stoppedCh
	}
	s.drainInline()
}

// submit queues a batch. If the sweeper is not running the batch is
// finalized inline.
func (s *backgroundSweeper) submit(t sweepTask) {
	if len(t.dead) == 0 {
		return
	}
	s.mu.Lock()
	if s.stop == nil {
		s.mu.Unlock()
		s.runTask(t)
		return
	}
	s.queue = append(s.queue, t)
	s.pending++
	wakeCh := s.wake
	s.mu.Unlock()

	select {
	case wakeCh <- struct{}{}:
	default:
	}
}

// drain blocks until every queued batch has been finalized.
func (s *backgroundSweeper) drain() {
	s.mu.Lock()
	for s.pending > 0 {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

// Swept returns the number of cells finalized in the background so far.
func (s *backgroundSweeper) Swept() uint64 { return s.swept.Load() }

func (s *backgroundSweeper) loop(wakeCh <-chan struct{}, stopCh <-chan struct{}, stoppedCh chan struct{}) {
	defer close(stoppedCh)
	for {
		select {
		case <-stopCh:
			return
		case <-wakeCh:
			s.drainInline()
		}
	}
}

// drainInline finalizes queued work on the calling goroutine.
func (s *backgroundSweeper) drainInline() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		t := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.runTask(t)

		s.mu.Lock()
		s.pending--
		if s.pending == 0 {
			s.cond.Broadcast()
		}
		s.mu.Unlock()
	}
}

func (s *backgroundSweeper) runTask(t sweepTask) {
	for _, c := range t.dead {
		s.rt.finalizeCell(c)
	}
	s.swept.Add(uint64(len(t.dead)))
}
