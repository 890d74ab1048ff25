package gc

import "math/bits"

// ---------------------------------------------------------------------------
// Bitmap: dense growable bitmap, one bit per cell index
// ---------------------------------------------------------------------------

// Bitmap is the representation used for zone mark bits and for the per-zone
// atom mark bitmaps. It grows on demand and never shrinks during a
// collection; bits beyond the allocated words read as zero.
type Bitmap struct {
	words []uint64
}

const bitmapWordBits = 64

// GetBit returns the bit at the given index.
func (b *Bitmap) GetBit(bit uint32) bool {
	word := bit / bitmapWordBits
	if word >= uint32(len(b.words)) {
		return false
	}
	return b.words[word]&(1<<(bit%bitmapWordBits)) != 0
}

// SetBit sets the bit at the given index, growing the bitmap if needed.
func (b *Bitmap) SetBit(bit uint32) {
	word := bit / bitmapWordBits
	for word >= uint32(len(b.words)) {
		b.words = append(b.words, 0)
	}
	b.words[word] |= 1 << (bit % bitmapWordBits)
}

// ClearBit clears the bit at the given index.
func (b *Bitmap) ClearBit(bit uint32) {
	word := bit / bitmapWordBits
	if word < uint32(len(b.words)) {
		b.words[word] &^= 1 << (bit % bitmapWordBits)
	}
}

// BitwiseOrWith folds every set bit of other into b.
// Used by atom adoption: the union must never lose a set bit.
func (b *Bitmap) BitwiseOrWith(other *Bitmap) {
	for len(b.words) < len(other.words) {
		b.words = append(b.words, 0)
	}
	for i, w := range other.words {
		b.words[i] |= w
	}
}

// Clear resets every bit while keeping the backing storage.
func (b *Bitmap) Clear() {
	for i := range b.words {
		b.words[i] = 0
	}
}

// Count returns the number of set bits.
func (b *Bitmap) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}
