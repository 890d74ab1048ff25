package gc

import (
	"sync"

	"golang.org/x/sys/unix"
)

// ---------------------------------------------------------------------------
// String character arena
// ---------------------------------------------------------------------------
//
// Flat strings keep their character data in mmap-backed chunks so the
// Decommit state has real pages to give back: once every string in a chunk
// has been finalized, the chunk's pages are released with madvise and the
// chunk becomes reusable. Environments where mmap fails (or atom literals,
// which live as long as the runtime) fall back to ordinary Go memory.

// span locates a flat string's character data.
type span struct {
	chunk *chunk
	off   int
	n     int
	lit   string // literal fallback; set iff chunk is nil
}

func literalSpan(text string) span {
	return span{lit: text, n: len(text)}
}

func (sp span) text() string {
	if sp.chunk == nil {
		return sp.lit
	}
	return string(sp.chunk.buf[sp.off : sp.off+sp.n])
}

type chunk struct {
	buf    []byte
	used   int
	live   int // strings still referencing this chunk
	mapped bool
}

type stringArena struct {
	mu        sync.Mutex
	chunkSize int
	cur       *chunk
	chunks    []*chunk

	decommits uint64
}

func newStringArena(chunkSize int) *stringArena {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &stringArena{chunkSize: chunkSize}
}

// newChunk maps a fresh chunk, falling back to the Go heap if mmap is
// unavailable.
func (a *stringArena) newChunk() *chunk {
	buf, err := unix.Mmap(-1, 0, a.chunkSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return &chunk{buf: make([]byte, a.chunkSize)}
	}
	return &chunk{buf: buf, mapped: true}
}

// alloc copies text into arena storage and returns its span. Oversized
// strings get a literal span rather than a dedicated chunk.
func (a *stringArena) alloc(text string) span {
	if len(text) == 0 || len(text) > a.chunkSize {
		return literalSpan(text)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cur == nil || a.cur.used+len(text) > len(a.cur.buf) {
		a.cur = a.reuseOrNewChunkLocked()
	}
	c := a.cur
	off := c.used
	copy(c.buf[off:], text)
	c.used += len(text)
	c.live++
	return span{chunk: c, off: off, n: len(text)}
}

func (a *stringArena) reuseOrNewChunkLocked() *chunk {
	for _, c := range a.chunks {
		if c.live == 0 && c.used == 0 && c != a.cur {
			return c
		}
	}
	c := a.newChunk()
	a.chunks = append(a.chunks, c)
	return c
}

// release is called when a flat string is finalized.
func (a *stringArena) release(sp span) {
	if sp.chunk == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	sp.chunk.live--
}

// decommitFreeChunks returns fully-dead chunks' pages to the OS and makes
// the chunks reusable. Called from the Decommit state; returns the number
// of chunks released.
func (a *stringArena) decommitFreeChunks() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	released := 0
	for _, c := range a.chunks {
		if c.live > 0 || c.used == 0 {
			continue
		}
		if c.mapped {
			// Pages are reclaimed lazily; the mapping itself stays valid
			// for reuse.
			_ = unix.Madvise(c.buf, unix.MADV_DONTNEED)
		} else {
			for i := range c.buf {
				c.buf[i] = 0
			}
		}
		c.used = 0
		if c == a.cur {
			a.cur = nil
		}
		released++
		a.decommits++
	}
	return released
}

// Decommits returns the number of chunk releases performed so far.
func (a *stringArena) Decommits() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.decommits
}
