package amt

import (
	"fmt"
	"io"

	"github.com/Fantom-foundation/Cedar/go/codec"
	"github.com/Fantom-foundation/Cedar/go/common"
	cid "github.com/ipfs/go-cid"
)

// Persisted tree encoding. A node is the three element array
//
//	[bitfield, [link, ...], [value, ...]]
//
// with one link (inner node) or value (leaf) per set bit in ascending bit
// order; empty slots are not encoded, the bitfield alone restores their
// positions. Exactly one of the two lists is populated. The root record
// prepends the consensus-relevant configuration and the element count:
//
//	[bitWidth, height, count, node]
//
// The decoders reject every deviation from this form, since a tolerated
// deviation would let two byte forms of the same logical tree circulate.

func (n *node) MarshalCBOR(w io.Writer) error {
	bits := common.NewBitfield(n.width)
	count := 0
	for i := 0; i < n.width; i++ {
		if n.occupied(uint64(i)) {
			bits.Set(i)
			count++
		}
	}
	if err := codec.WriteArrayHeader(w, 3); err != nil {
		return err
	}
	if err := codec.WriteByteString(w, bits.Bytes()); err != nil {
		return err
	}
	if n.leaf {
		if err := codec.WriteArrayHeader(w, 0); err != nil {
			return err
		}
		if err := codec.WriteArrayHeader(w, count); err != nil {
			return err
		}
		for _, value := range n.values {
			if value == nil {
				continue
			}
			if err := codec.WriteByteString(w, value); err != nil {
				return err
			}
		}
		return nil
	}
	if err := codec.WriteArrayHeader(w, count); err != nil {
		return err
	}
	for i := 0; i < n.width; i++ {
		if n.cache[i] != nil {
			return fmt.Errorf("cannot encode a node with an unflushed child")
		}
		if n.links[i].Defined() {
			if err := codec.WriteCid(w, n.links[i]); err != nil {
				return err
			}
		}
	}
	return codec.WriteArrayHeader(w, 0)
}

func (n *node) UnmarshalCBOR(r io.Reader) error {
	if n.width <= 0 {
		return fmt.Errorf("node decode context is missing the tree width")
	}
	if err := codec.ReadArrayHeader(r, 3); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedAmt, err)
	}
	raw, err := codec.ReadByteString(r, common.MaxBitfieldWidth/8)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedAmt, err)
	}
	bits, err := common.BitfieldFromBytes(n.width, raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedAmt, err)
	}

	linkCount, err := codec.ReadArrayHeaderMax(r, uint64(n.width))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedAmt, err)
	}
	if n.leaf && linkCount != 0 {
		return fmt.Errorf("%w: leaf node carries %d links", ErrMalformedAmt, linkCount)
	}
	if !n.leaf && int(linkCount) != bits.Count() {
		return fmt.Errorf("%w: bitfield marks %d slots but %d links are encoded",
			ErrMalformedAmt, bits.Count(), linkCount)
	}
	links := make([]cid.Cid, 0, linkCount)
	for i := uint64(0); i < linkCount; i++ {
		link, err := codec.ReadCid(r)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedAmt, err)
		}
		links = append(links, link)
	}

	valueCount, err := codec.ReadArrayHeaderMax(r, uint64(n.width))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedAmt, err)
	}
	if !n.leaf && valueCount != 0 {
		return fmt.Errorf("%w: inner node carries %d values", ErrMalformedAmt, valueCount)
	}
	if n.leaf && int(valueCount) != bits.Count() {
		return fmt.Errorf("%w: bitfield marks %d slots but %d values are encoded",
			ErrMalformedAmt, bits.Count(), valueCount)
	}
	values := make([][]byte, 0, valueCount)
	for i := uint64(0); i < valueCount; i++ {
		value, err := codec.ReadByteString(r, codec.MaxStringLength)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedAmt, err)
		}
		values = append(values, value)
	}

	// expand the compact form into width-sized slot arrays
	if n.leaf {
		n.values = make([][]byte, n.width)
	} else {
		n.links = make([]cid.Cid, n.width)
		n.cache = make([]*node, n.width)
	}
	next := 0
	return bits.ForEachSet(func(i int) error {
		if n.leaf {
			n.values[i] = values[next]
		} else {
			n.links[i] = links[next]
		}
		next++
		return nil
	})
}

// rootRecord is the persisted form of a tree root.
type rootRecord struct {
	bitWidth uint64
	height   uint64
	count    uint64
	node     *node
}

func (r *rootRecord) MarshalCBOR(w io.Writer) error {
	if err := codec.WriteArrayHeader(w, 4); err != nil {
		return err
	}
	if err := codec.WriteUint(w, r.bitWidth); err != nil {
		return err
	}
	if err := codec.WriteUint(w, r.height); err != nil {
		return err
	}
	if err := codec.WriteUint(w, r.count); err != nil {
		return err
	}
	return r.node.MarshalCBOR(w)
}

func (r *rootRecord) UnmarshalCBOR(reader io.Reader) error {
	if err := codec.ReadArrayHeader(reader, 4); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedAmt, err)
	}
	bitWidth, err := codec.ReadUint(reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedAmt, err)
	}
	if bitWidth < 1 || bitWidth > 8 {
		return fmt.Errorf("%w: root has unsupported bit width %d", ErrMalformedAmt, bitWidth)
	}
	height, err := codec.ReadUint(reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedAmt, err)
	}
	count, err := codec.ReadUint(reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedAmt, err)
	}
	node := &node{width: 1 << bitWidth, leaf: height == 0}
	if err := node.UnmarshalCBOR(reader); err != nil {
		return err
	}
	r.bitWidth = bitWidth
	r.height = height
	r.count = count
	r.node = node
	return nil
}
