// gcstress - heap graph stress driver for the incremental collector
//
// Builds a randomized multi-zone heap (objects, ropes, scopes, weak maps),
// then repeatedly mutates it while driving incremental collections under a
// slice budget. Useful for soaking barriers and sweep-group behavior.
//
// Build: go build ./cmd/gcstress
// Usage:
//   gcstress [--iterations N] [--zones N] [--cells N] [--budget-ms MS]
//   gcstress --log stats.db --snapshot heap.cbor
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/tliron/commonlog"

	"github.com/jason-hall/gecko-dev/gc"
	"github.com/jason-hall/gecko-dev/gclog"
	"github.com/jason-hall/gecko-dev/snapshot"
	"github.com/jason-hall/gecko-dev/tuning"

	_ "github.com/tliron/commonlog/simple"
)

var (
	iterations = flag.Int("iterations", 50, "Number of mutate+collect cycles")
	zoneCount  = flag.Int("zones", 4, "Number of heap zones")
	cellCount  = flag.Int("cells", 2000, "Cells allocated per zone")
	budgetMS   = flag.Int("budget-ms", 0, "Per-slice time budget in milliseconds (0 = tuning default)")
	workBudget = flag.Int64("work-budget", 0, "Per-slice work budget in units (overrides --budget-ms)")
	seed       = flag.Int64("seed", 0, "Random seed (0 = time-based)")
	logPath    = flag.String("log", "", "SQLite path for collection statistics")
	snapPath   = flag.String("snapshot", "", "Write a final heap snapshot (CBOR) to this path")
	verbosity  = flag.Int("verbose", 0, "Log verbosity (0-2)")
)

func main() {
	flag.Parse()
	commonlog.Configure(*verbosity, nil)

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))
	fmt.Printf("gcstress: seed=%d\n", *seed)

	cfg, err := tuning.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "gcstress: %v\n", err)
		os.Exit(1)
	}
	params := cfg.Params()

	rt := gc.NewRuntime(params)
	defer rt.Shutdown()

	if *logPath != "" {
		log, err := gclog.Open(*logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "gcstress: %v\n", err)
			os.Exit(1)
		}
		defer log.Close()
		rt.SetStatusCallback(log.Recorder(func(err error) {
			fmt.Fprintf(os.Stderr, "gcstress: record: %v\n", err)
		}))
	}

	h := buildHeap(rt, rng, *zoneCount, *cellCount)

	for i := 0; i < *iterations; i++ {
		h.mutate(rng)
		if err := runCollection(rt, params); err != nil {
			fmt.Fprintf(os.Stderr, "gcstress: %v\n", err)
			os.Exit(1)
		}
	}

	if *snapPath != "" {
		s, err := snapshot.WriteFile(rt, *snapPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "gcstress: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("gcstress: snapshot %s: %d cells, %d edges\n",
			s.ID, s.CellCount(), len(s.Edges))
	}

	if stats := rt.LastStats(); stats != nil {
		fmt.Printf("gcstress: %d collections, last: %d slices, %d marked, %d finalized in %v\n",
			rt.MajorGCNumber(), stats.Slices, stats.CellsMarked,
			stats.CellsFinalized, stats.Duration())
	}
}

func runCollection(rt *gc.Runtime, params gc.Params) error {
	if err := rt.StartGC("stress"); err != nil {
		return err
	}
	for {
		var budget *gc.SliceBudget
		if *workBudget > 0 {
			budget = gc.WorkBudget(*workBudget)
		} else if *budgetMS > 0 {
			budget = gc.TimeBudget(time.Duration(*budgetMS) * time.Millisecond)
		} else {
			budget = gc.TimeBudget(params.DefaultSliceTime)
		}
		if rt.GCSlice(budget) == gc.StatusFinished {
			return nil
		}
	}
}

// heap is the mutator side of the stress test: per-zone object pools plus a
// rooted holder object per zone that keeps a random subset alive.
type heap struct {
	rt      *gc.Runtime
	zones   []*gc.Zone
	holders []*gc.Object
	pools   [][]*gc.Object
	weak    []*gc.WeakMap
}

func buildHeap(rt *gc.Runtime, rng *rand.Rand, nzones, ncells int) *heap {
	h := &heap{rt: rt}

	for i := 0; i < nzones; i++ {
		z := rt.NewZone(fmt.Sprintf("zone-%d", i))
		h.zones = append(h.zones, z)

		holder := rt.NewObject(z, nil, nil, ncells)
		rt.NewPersistent(gc.FromCell(&holder.Cell))
		h.holders = append(h.holders, holder)

		group := rt.NewGroup(z, gc.Nil, nil, nil)
		shape := rt.NewShape(z, nil, rt.Atomize(fmt.Sprintf("prop-%d", i)), nil, nil)

		var pool []*gc.Object
		for j := 0; j < ncells; j++ {
			o := rt.NewObject(z, shape, group, rng.Intn(8))
			pool = append(pool, o)
			holder.SetSlot(j, gc.FromCell(&o.Cell))
		}
		h.pools = append(h.pools, pool)
		h.weak = append(h.weak, rt.NewWeakMap(z))
	}
	return h
}

// mutate rewires a random sample of edges: cross-zone links, rope strings,
// weak entries and slot drops.
func (h *heap) mutate(rng *rand.Rand) {
	for i, pool := range h.pools {
		for n := 0; n < len(pool)/10; n++ {
			src := pool[rng.Intn(len(pool))]
			dstZone := rng.Intn(len(h.pools))
			dst := h.pools[dstZone][rng.Intn(len(h.pools[dstZone]))]
			if src.NumSlots() > 0 {
				src.SetSlot(rng.Intn(src.NumSlots()), gc.FromCell(&dst.Cell))
			}
		}

		// Drop some holder references so cells can die.
		holder := h.holders[i]
		for n := 0; n < holder.NumSlots()/20; n++ {
			holder.SetSlot(rng.Intn(holder.NumSlots()), gc.Nil)
		}

		z := h.zones[i]
		left := h.rt.NewString(z, fmt.Sprintf("str-%d", rng.Int63()))
		right := h.rt.NewString(z, "suffix")
		rope := h.rt.NewRope(z, left, right)
		if holder.NumSlots() > 0 {
			holder.SetSlot(rng.Intn(holder.NumSlots()), gc.FromCell(&rope.Cell))
		}

		key := pool[rng.Intn(len(pool))]
		val := pool[rng.Intn(len(pool))]
		h.weak[i].Set(&key.Cell, gc.FromCell(&val.Cell))
	}
}
