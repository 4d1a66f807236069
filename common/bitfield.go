package common

import (
	"fmt"
	"math/bits"
)

// MaxBitfieldWidth is the largest number of slots a Bitfield can track. It
// matches the widest node fan-out supported by the tries (8 routing bits).
const MaxBitfieldWidth = 256

// Bitfield is a fixed-capacity set of slot positions marking which child
// slots of a trie node are occupied. The number of tracked slots is fixed at
// construction and never exceeds MaxBitfieldWidth.
type Bitfield struct {
	words [MaxBitfieldWidth / 64]uint64
	width int
}

// NewBitfield creates an empty bitfield tracking the given number of slots.
func NewBitfield(width int) Bitfield {
	if width <= 0 || width > MaxBitfieldWidth {
		panic(fmt.Sprintf("invalid bitfield width %d", width))
	}
	return Bitfield{width: width}
}

// Width returns the number of slots tracked by this bitfield.
func (b *Bitfield) Width() int {
	return b.width
}

// Set marks slot i as occupied.
func (b *Bitfield) Set(i int) {
	b.checkIndex(i)
	b.words[i/64] |= 1 << (i % 64)
}

// Clear marks slot i as empty.
func (b *Bitfield) Clear(i int) {
	b.checkIndex(i)
	b.words[i/64] &^= 1 << (i % 64)
}

// Test reports whether slot i is occupied.
func (b *Bitfield) Test(i int) bool {
	b.checkIndex(i)
	return b.words[i/64]&(1<<(i%64)) != 0
}

// Rank returns the number of occupied slots with positions below i. This is
// the index of slot i within the node's dense pointer list.
func (b *Bitfield) Rank(i int) int {
	b.checkIndex(i)
	rank := 0
	for w := 0; w < i/64; w++ {
		rank += bits.OnesCount64(b.words[w])
	}
	rank += bits.OnesCount64(b.words[i/64] & (1<<(i%64) - 1))
	return rank
}

// Count returns the total number of occupied slots.
func (b *Bitfield) Count() int {
	count := 0
	for _, w := range b.words {
		count += bits.OnesCount64(w)
	}
	return count
}

// ForEachSet calls the callback for each occupied slot in ascending
// position order.
func (b *Bitfield) ForEachSet(callback func(i int) error) error {
	for w, word := range b.words {
		for word != 0 {
			i := w*64 + bits.TrailingZeros64(word)
			if err := callback(i); err != nil {
				return err
			}
			word &= word - 1
		}
	}
	return nil
}

// Bytes returns the canonical serialized form of the bitfield: the shortest
// big-endian byte string representing the set, empty for an empty set.
func (b *Bitfield) Bytes() []byte {
	buf := make([]byte, len(b.words)*8)
	for w, word := range b.words {
		for i := 0; i < 8; i++ {
			buf[len(buf)-1-w*8-i] = byte(word >> (8 * i))
		}
	}
	for len(buf) > 0 && buf[0] == 0 {
		buf = buf[1:]
	}
	return buf
}

// BitfieldFromBytes reconstructs a bitfield of the given width from its
// canonical serialized form. It rejects non-minimal encodings and encodings
// containing positions beyond the width, since accepting either would allow
// two byte forms of the same logical node.
func BitfieldFromBytes(width int, data []byte) (Bitfield, error) {
	if width <= 0 || width > MaxBitfieldWidth {
		return Bitfield{}, fmt.Errorf("invalid bitfield width %d", width)
	}
	if len(data) > 0 && data[0] == 0 {
		return Bitfield{}, fmt.Errorf("bitfield encoding is not minimal")
	}
	if len(data)*8 > width+7 {
		return Bitfield{}, fmt.Errorf("bitfield of %d bytes exceeds width %d", len(data), width)
	}
	res := NewBitfield(width)
	for i := 0; i < len(data); i++ {
		b := data[len(data)-1-i]
		res.words[i/8] |= uint64(b) << (8 * (i % 8))
	}
	if highest := res.highestSet(); highest >= width {
		return Bitfield{}, fmt.Errorf("bitfield position %d exceeds width %d", highest, width)
	}
	return res, nil
}

func (b *Bitfield) highestSet() int {
	for w := len(b.words) - 1; w >= 0; w-- {
		if b.words[w] != 0 {
			return w*64 + 63 - bits.LeadingZeros64(b.words[w])
		}
	}
	return -1
}

func (b *Bitfield) checkIndex(i int) {
	if i < 0 || i >= b.width {
		panic(fmt.Sprintf("bitfield position %d out of range [0,%d)", i, b.width))
	}
}
