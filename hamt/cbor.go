package hamt

import (
	"bytes"
	"fmt"
	"io"

	"github.com/Fantom-foundation/Cedar/go/codec"
	"github.com/Fantom-foundation/Cedar/go/common"
)

// Persisted trie encoding. A node is the two element array
//
//	[bitfield, [pointer, ...]]
//
// with one pointer per set bit in ascending bit order; absent slots are not
// encoded, the bitfield alone restores their positions. A pointer is a
// single entry map, either {"v": [[key, value], ...]} for an inline bucket
// or {"l": link} for a child reference. The root record prepends the
// consensus-relevant configuration:
//
//	[bitWidth, hashAlgorithmId, node]
//
// The decoders reject every deviation from this form, including unsorted
// buckets and non-minimal bitfields, since a tolerated deviation would let
// two byte forms of the same logical trie circulate.

const (
	pointerKeyBucket = "v"
	pointerKeyLink   = "l"
)

func (n *node) MarshalCBOR(w io.Writer) error {
	if err := codec.WriteArrayHeader(w, 2); err != nil {
		return err
	}
	if err := codec.WriteByteString(w, n.bits.Bytes()); err != nil {
		return err
	}
	if err := codec.WriteArrayHeader(w, len(n.pointers)); err != nil {
		return err
	}
	for _, p := range n.pointers {
		if err := p.marshalCBOR(w); err != nil {
			return err
		}
	}
	return nil
}

func (n *node) UnmarshalCBOR(r io.Reader) error {
	if n.width <= 0 {
		return fmt.Errorf("node decode context is missing the trie width")
	}
	if err := codec.ReadArrayHeader(r, 2); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHamt, err)
	}
	raw, err := codec.ReadByteString(r, common.MaxBitfieldWidth/8)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHamt, err)
	}
	bits, err := common.BitfieldFromBytes(n.width, raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHamt, err)
	}
	count, err := codec.ReadArrayHeaderMax(r, uint64(n.width))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHamt, err)
	}
	if int(count) != bits.Count() {
		return fmt.Errorf("%w: bitfield marks %d slots but %d pointers are encoded",
			ErrMalformedHamt, bits.Count(), count)
	}
	pointers := make([]*pointer, count)
	for i := range pointers {
		p := &pointer{}
		if err := p.unmarshalCBOR(r, n.bucketSize); err != nil {
			return err
		}
		pointers[i] = p
	}
	n.bits = bits
	n.pointers = pointers
	return nil
}

func (p *pointer) marshalCBOR(w io.Writer) error {
	if p.cache != nil {
		return fmt.Errorf("cannot encode a pointer to an unflushed child node")
	}
	if err := codec.WriteMapHeader(w, 1); err != nil {
		return err
	}
	if p.link.Defined() {
		if err := codec.WriteTextString(w, pointerKeyLink); err != nil {
			return err
		}
		return codec.WriteCid(w, p.link)
	}
	if err := codec.WriteTextString(w, pointerKeyBucket); err != nil {
		return err
	}
	if err := codec.WriteArrayHeader(w, len(p.kvs)); err != nil {
		return err
	}
	for _, entry := range p.kvs {
		if err := codec.WriteArrayHeader(w, 2); err != nil {
			return err
		}
		if err := codec.WriteByteString(w, entry.Key); err != nil {
			return err
		}
		if err := codec.WriteByteString(w, entry.Value); err != nil {
			return err
		}
	}
	return nil
}

func (p *pointer) unmarshalCBOR(r io.Reader, bucketSize int) error {
	if err := codec.ReadMapHeader(r, 1); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHamt, err)
	}
	key, err := codec.ReadTextString(r, 1)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHamt, err)
	}
	switch key {
	case pointerKeyLink:
		link, err := codec.ReadCid(r)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedHamt, err)
		}
		p.link = link
		return nil
	case pointerKeyBucket:
		count, err := codec.ReadArrayHeaderMax(r, uint64(bucketSize))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedHamt, err)
		}
		if count == 0 {
			return fmt.Errorf("%w: empty bucket", ErrMalformedHamt)
		}
		kvs := make([]*kvPair, count)
		for i := range kvs {
			if err := codec.ReadArrayHeader(r, 2); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformedHamt, err)
			}
			k, err := codec.ReadByteString(r, codec.MaxStringLength)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrMalformedHamt, err)
			}
			v, err := codec.ReadByteString(r, codec.MaxStringLength)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrMalformedHamt, err)
			}
			if i > 0 && bytes.Compare(kvs[i-1].Key, k) >= 0 {
				return fmt.Errorf("%w: bucket entries are not sorted by key", ErrMalformedHamt)
			}
			kvs[i] = &kvPair{Key: k, Value: v}
		}
		p.kvs = kvs
		return nil
	default:
		return fmt.Errorf("%w: unknown pointer key %q", ErrMalformedHamt, key)
	}
}

// rootRecord is the persisted form of a trie root.
type rootRecord struct {
	bitWidth uint64
	hashId   uint64
	node     *node

	// decode context
	bucketSize int
}

func newRootRecord(config *Config) *rootRecord {
	return &rootRecord{bucketSize: config.BucketSize}
}

func (r *rootRecord) MarshalCBOR(w io.Writer) error {
	if err := codec.WriteArrayHeader(w, 3); err != nil {
		return err
	}
	if err := codec.WriteUint(w, r.bitWidth); err != nil {
		return err
	}
	if err := codec.WriteUint(w, r.hashId); err != nil {
		return err
	}
	return r.node.MarshalCBOR(w)
}

func (r *rootRecord) UnmarshalCBOR(reader io.Reader) error {
	if err := codec.ReadArrayHeader(reader, 3); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHamt, err)
	}
	bitWidth, err := codec.ReadUint(reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHamt, err)
	}
	if bitWidth < 1 || bitWidth > 8 {
		return fmt.Errorf("%w: root has unsupported bit width %d", ErrMalformedHamt, bitWidth)
	}
	hashId, err := codec.ReadUint(reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHamt, err)
	}
	if _, found := hashAlgorithmById(hashId); !found {
		return fmt.Errorf("%w: root has unknown hash algorithm %d", ErrMalformedHamt, hashId)
	}
	node := &node{width: 1 << bitWidth, bucketSize: r.bucketSize}
	if err := node.UnmarshalCBOR(reader); err != nil {
		return err
	}
	r.bitWidth = bitWidth
	r.hashId = hashId
	r.node = node
	return nil
}
