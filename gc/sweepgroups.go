package gc

// ---------------------------------------------------------------------------
// Sweep group finder
// ---------------------------------------------------------------------------
//
// Zones in the current collection are partitioned into strongly connected
// components of the cross-zone edge graph recorded during marking. Each
// component is a sweep group: zones that must be swept together because
// references run both ways between them. Groups are emitted in reverse
// topological order, so by the time a group is swept every zone it points
// into has already been swept and its dead cells are known dead.
//
// Standard Tarjan, iterative. The per-zone bookkeeping fields live on the
// Zone itself and are reset at the start of every run.

type componentFinder struct {
	index  int
	stack  []*Zone
	groups [][]*Zone
}

// findSweepGroups computes the sweep groups for the collecting zones.
func findSweepGroups(zones []*Zone) [][]*Zone {
	f := &componentFinder{}
	for _, z := range zones {
		z.finderIndex = -1
		z.finderLowLink = -1
		z.finderOnStack = false
	}
	for _, z := range zones {
		if z.finderIndex < 0 {
			f.strongConnect(z)
		}
	}
	return f.groups
}

type finderFrame struct {
	zone  *Zone
	succs []*Zone
	next  int
}

func (f *componentFinder) strongConnect(root *Zone) {
	frames := []finderFrame{{zone: root, succs: collectingSuccessors(root)}}
	f.visit(root)

	for len(frames) > 0 {
		fr := &frames[len(frames)-1]
		z := fr.zone

		advanced := false
		for fr.next < len(fr.succs) {
			w := fr.succs[fr.next]
			fr.next++
			if w.finderIndex < 0 {
				f.visit(w)
				frames = append(frames, finderFrame{zone: w, succs: collectingSuccessors(w)})
				advanced = true
				break
			}
			if w.finderOnStack && w.finderIndex < z.finderLowLink {
				z.finderLowLink = w.finderIndex
			}
		}
		if advanced {
			continue
		}

		if z.finderLowLink == z.finderIndex {
			var group []*Zone
			for {
				w := f.stack[len(f.stack)-1]
				f.stack = f.stack[:len(f.stack)-1]
				w.finderOnStack = false
				group = append(group, w)
				if w == z {
					break
				}
			}
			f.groups = append(f.groups, group)
		}

		frames = frames[:len(frames)-1]
		if len(frames) > 0 {
			parent := &frames[len(frames)-1]
			if z.finderLowLink < parent.zone.finderLowLink {
				parent.zone.finderLowLink = z.finderLowLink
			}
		}
	}
}

func (f *componentFinder) visit(z *Zone) {
	z.finderIndex = f.index
	z.finderLowLink = f.index
	f.index++
	f.stack = append(f.stack, z)
	z.finderOnStack = true
}

// collectingSuccessors returns the recorded cross-zone targets that are in
// this collection. Edges into uncollected zones do not constrain sweep
// order.
func collectingSuccessors(z *Zone) []*Zone {
	if len(z.gcSweepGroupEdges) == 0 {
		return nil
	}
	succs := make([]*Zone, 0, len(z.gcSweepGroupEdges))
	for w := range z.gcSweepGroupEdges {
		if w.isCollecting() {
			succs = append(succs, w)
		}
	}
	return succs
}
