package gc

// ---------------------------------------------------------------------------
// Mark stack: explicit stack of pending traversal work
// ---------------------------------------------------------------------------

// stackTag discriminates mark stack entries.
type stackTag uint8

const (
	// stackTagCell: a marked cell whose children still need scanning.
	stackTagCell stackTag = iota

	// stackTagValueArray: a live sub-range of an object's slot array,
	// pending scan. Holds a real slice into the object's current storage,
	// valid only within a single slice.
	stackTagValueArray

	// stackTagSavedValueArray: a value array converted to index form at a
	// slice boundary. Holds the owning object and a start index, never a
	// pointer into mutable storage: the mutator may reallocate the slot
	// array while the collector is suspended.
	stackTagSavedValueArray
)

// markStackEntry is a tagged union of the three work-item shapes.
type markStackEntry struct {
	tag   stackTag
	cell  *Cell   // stackTagCell: the cell; arrays: the owning object's header
	vals  []Value // live range; nil in saved form
	start int     // index of vals[0] within the owner's slot array
}

// markStack holds pending traversal work so traversal depth is independent
// of goroutine stack depth. Growth doubles (via append) up to a configured
// entry limit; a failed push is never dropped, the caller routes the cell to
// delayed marking instead.
type markStack struct {
	entries []markStackEntry
	limit   int
}

func newMarkStack(limit int) markStack {
	if limit <= 0 {
		limit = defaultMarkStackLimit
	}
	return markStack{limit: limit}
}

func (s *markStack) isEmpty() bool { return len(s.entries) == 0 }

func (s *markStack) depth() int { return len(s.entries) }

// ensureCapacity grows the backing array so that n more entries fit without
// reallocation, respecting the limit. Returns false if n entries can never
// fit.
func (s *markStack) ensureCapacity(n int) bool {
	if len(s.entries)+n > s.limit {
		return false
	}
	if len(s.entries)+n > cap(s.entries) {
		grown := make([]markStackEntry, len(s.entries), max(2*cap(s.entries), len(s.entries)+n))
		copy(grown, s.entries)
		s.entries = grown
	}
	return true
}

func (s *markStack) push(e markStackEntry) bool {
	if len(s.entries) >= s.limit {
		return false
	}
	s.entries = append(s.entries, e)
	return true
}

// pushCell records a marked cell whose children remain to be scanned.
func (s *markStack) pushCell(c *Cell) bool {
	return s.push(markStackEntry{tag: stackTagCell, cell: c})
}

// pushValueArray records a pending slot range of obj beginning at start.
func (s *markStack) pushValueArray(obj *Object, start int) bool {
	if start >= len(obj.slots) {
		return true // nothing to scan
	}
	return s.push(markStackEntry{
		tag:   stackTagValueArray,
		cell:  &obj.Cell,
		vals:  obj.slots[start:],
		start: start,
	})
}

func (s *markStack) pop() markStackEntry {
	e := s.entries[len(s.entries)-1]
	s.entries = s.entries[:len(s.entries)-1]
	return e
}

func (s *markStack) peekTag() stackTag {
	return s.entries[len(s.entries)-1].tag
}

func (s *markStack) clear() {
	s.entries = s.entries[:0]
}

// saveValueRanges converts every live value-array entry into saved (index)
// form. Called whenever a slice budget expires so the stack can be left
// resident across mutator execution: the mutator may grow, shrink or
// reallocate any object's slot array in the meantime.
func (s *markStack) saveValueRanges() {
	for i := range s.entries {
		if s.entries[i].tag == stackTagValueArray {
			s.entries[i].tag = stackTagSavedValueArray
			s.entries[i].vals = nil
		}
	}
}

// restoreValueArray re-derives the live range of a saved entry from the
// owner's current storage. If the object shrank below the saved index the
// result is an empty range, which is valid and simply skipped.
func restoreValueArray(e markStackEntry) markStackEntry {
	obj := e.cell.asObject()
	e.tag = stackTagValueArray
	if e.start >= len(obj.slots) {
		e.vals = nil
		return e
	}
	e.vals = obj.slots[e.start:]
	return e
}
