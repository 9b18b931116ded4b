// Package tickbitmap indexes spacing-aligned ticks in 256-bit words.
//
// A tick t with spacing s maps to compressed c = floor(t/s); the bit lives at
// word c>>8, position c&0xff. Searches examine the remainder of the starting
// word and then skip whole empty words.
package tickbitmap

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/tickorders/pkg/pricemath"
)

// Bitmap is a set of spacing-aligned ticks. Not safe for concurrent use.
type Bitmap struct {
	spacing int32
	words   map[int16]*uint256.Int
}

// New returns an empty bitmap for the given tick spacing.
func New(spacing int32) *Bitmap {
	if spacing <= 0 {
		panic(fmt.Sprintf("tickbitmap: invalid spacing %d", spacing))
	}
	return &Bitmap{spacing: spacing, words: make(map[int16]*uint256.Int)}
}

// Spacing returns the tick spacing the bitmap was built for.
func (b *Bitmap) Spacing() int32 { return b.spacing }

func (b *Bitmap) compress(tick int32) int32 {
	return pricemath.AlignDown(tick, b.spacing) / b.spacing
}

// Position returns the word index and bit position of an aligned tick.
func Position(compressed int32) (int16, uint8) {
	return int16(compressed >> 8), uint8(compressed & 0xff)
}

// WordPos returns the word holding tick.
func (b *Bitmap) WordPos(tick int32) int16 {
	wordPos, _ := Position(b.compress(tick))
	return wordPos
}

func (b *Bitmap) checkAligned(tick int32) error {
	if tick%b.spacing != 0 {
		return fmt.Errorf("tick %d not aligned to spacing %d", tick, b.spacing)
	}
	if tick < pricemath.MinTick || tick > pricemath.MaxTick {
		return fmt.Errorf("tick %d out of range", tick)
	}
	return nil
}

// IsSet reports whether tick is marked.
func (b *Bitmap) IsSet(tick int32) bool {
	if tick%b.spacing != 0 {
		return false
	}
	wordPos, bitPos := Position(b.compress(tick))
	w, ok := b.words[wordPos]
	if !ok {
		return false
	}
	return w[bitPos/64]&(1<<(bitPos%64)) != 0
}

// Set marks tick. Setting a marked tick is a no-op.
func (b *Bitmap) Set(tick int32) error {
	if err := b.checkAligned(tick); err != nil {
		return err
	}
	wordPos, bitPos := Position(b.compress(tick))
	w, ok := b.words[wordPos]
	if !ok {
		w = new(uint256.Int)
		b.words[wordPos] = w
	}
	w[bitPos/64] |= 1 << (bitPos % 64)
	return nil
}

// Clear unmarks tick. Clearing an unmarked tick is a no-op.
func (b *Bitmap) Clear(tick int32) error {
	if err := b.checkAligned(tick); err != nil {
		return err
	}
	wordPos, bitPos := Position(b.compress(tick))
	w, ok := b.words[wordPos]
	if !ok {
		return nil
	}
	w[bitPos/64] &^= 1 << (bitPos % 64)
	if w.IsZero() {
		delete(b.words, wordPos)
	}
	return nil
}

// lowestBit returns the index of the least significant set bit of a non-zero word.
func lowestBit(w *uint256.Int) uint {
	for i := 0; i < 4; i++ {
		if w[i] != 0 {
			return uint(i*64 + bits.TrailingZeros64(w[i]))
		}
	}
	return 256
}

// highestBit returns the index of the most significant set bit of a non-zero word.
func highestBit(w *uint256.Int) uint {
	return uint(w.BitLen() - 1)
}

var allOnes = new(uint256.Int).Not(new(uint256.Int))

// NextOccupied returns the nearest marked tick t with t >= from (up) or
// t <= from (down), searching no further than the usable tick bounds.
func (b *Bitmap) NextOccupied(from int32, up bool) (int32, bool) {
	if len(b.words) == 0 {
		return 0, false
	}
	minC := pricemath.MinUsableTick(b.spacing) / b.spacing
	maxC := pricemath.MaxUsableTick(b.spacing) / b.spacing
	minWord, _ := Position(minC)
	maxWord, _ := Position(maxC)

	if up {
		c := pricemath.AlignUp(from, b.spacing) / b.spacing
		if c < minC {
			c = minC
		}
		if c > maxC {
			return 0, false
		}
		wordPos, bitPos := Position(c)
		mask := new(uint256.Int).Lsh(allOnes, uint(bitPos))
		for ; wordPos <= maxWord; wordPos++ {
			if w, ok := b.words[wordPos]; ok {
				masked := new(uint256.Int).And(w, mask)
				if !masked.IsZero() {
					next := (int32(wordPos)<<8 + int32(lowestBit(masked))) * b.spacing
					if next/b.spacing > maxC {
						return 0, false
					}
					return next, true
				}
			}
			mask = allOnes
		}
		return 0, false
	}

	c := b.compress(from)
	if c > maxC {
		c = maxC
	}
	if c < minC {
		return 0, false
	}
	wordPos, bitPos := Position(c)
	mask := new(uint256.Int).Rsh(allOnes, uint(255-bitPos))
	for ; wordPos >= minWord; wordPos-- {
		if w, ok := b.words[wordPos]; ok {
			masked := new(uint256.Int).And(w, mask)
			if !masked.IsZero() {
				next := (int32(wordPos)<<8 + int32(highestBit(masked))) * b.spacing
				if next/b.spacing < minC {
					return 0, false
				}
				return next, true
			}
		}
		mask = allOnes
	}
	return 0, false
}

// NextInitializedWithinOneWord is the swap-step search: it looks for the next
// marked tick at or below tick (lte) or strictly above tick, limited to one
// word. When nothing is marked it returns the word boundary and false, which
// lets a swap step advance without scanning the whole range.
func (b *Bitmap) NextInitializedWithinOneWord(tick int32, lte bool) (int32, bool) {
	c := b.compress(tick)
	if lte {
		wordPos, bitPos := Position(c)
		mask := new(uint256.Int).Rsh(allOnes, uint(255-bitPos))
		if w, ok := b.words[wordPos]; ok {
			masked := new(uint256.Int).And(w, mask)
			if !masked.IsZero() {
				return (c - int32(bitPos) + int32(highestBit(masked))) * b.spacing, true
			}
		}
		return (c - int32(bitPos)) * b.spacing, false
	}

	wordPos, bitPos := Position(c + 1)
	mask := new(uint256.Int).Lsh(allOnes, uint(bitPos))
	if w, ok := b.words[wordPos]; ok {
		masked := new(uint256.Int).And(w, mask)
		if !masked.IsZero() {
			return (c + 1 + int32(lowestBit(masked)) - int32(bitPos)) * b.spacing, true
		}
	}
	return (c + 1 + 255 - int32(bitPos)) * b.spacing, false
}

// Word returns a copy of the word at wordPos (zero when absent).
func (b *Bitmap) Word(wordPos int16) uint256.Int {
	if w, ok := b.words[wordPos]; ok {
		return *w
	}
	return uint256.Int{}
}

// SetWord overwrites a whole word; used when loading from storage.
func (b *Bitmap) SetWord(wordPos int16, w uint256.Int) {
	if w.IsZero() {
		delete(b.words, wordPos)
		return
	}
	cp := w
	b.words[wordPos] = &cp
}

// WordPositions returns the non-empty word indexes in ascending order.
func (b *Bitmap) WordPositions() []int16 {
	out := make([]int16, 0, len(b.words))
	for pos := range b.words {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Ticks returns every marked tick in ascending order.
func (b *Bitmap) Ticks() []int32 {
	var out []int32
	for _, pos := range b.WordPositions() {
		w := b.words[pos]
		for i := 0; i < 4; i++ {
			limb := w[i]
			for limb != 0 {
				bit := bits.TrailingZeros64(limb)
				out = append(out, (int32(pos)<<8+int32(i*64+bit))*b.spacing)
				limb &= limb - 1
			}
		}
	}
	return out
}

// Clone returns a deep copy.
func (b *Bitmap) Clone() *Bitmap {
	cp := New(b.spacing)
	for pos, w := range b.words {
		v := *w
		cp.words[pos] = &v
	}
	return cp
}
