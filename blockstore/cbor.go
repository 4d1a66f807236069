package blockstore

import (
	"bytes"
	"context"
	"fmt"

	cid "github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"
)

// CborStore is a typed layer over a BlockStore exchanging CBOR-marshalable
// objects for content identifiers. All trie nodes travel through this layer,
// so the canonical byte form of a node and the bytes addressed by its link
// are one and the same.
type CborStore struct {
	Blocks BlockStore
}

// NewCborStore wraps the given block store.
func NewCborStore(bs BlockStore) *CborStore {
	return &CborStore{Blocks: bs}
}

// Get loads the block addressed by c and decodes it into out.
func (s *CborStore) Get(ctx context.Context, c cid.Cid, out cbg.CBORUnmarshaler) error {
	data, err := s.Blocks.Get(ctx, c)
	if err != nil {
		return err
	}
	if err := out.UnmarshalCBOR(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to decode block %s: %w", c, err)
	}
	return nil
}

// Put encodes the given object and stores it, returning its content
// identifier.
func (s *CborStore) Put(ctx context.Context, v cbg.CBORMarshaler) (cid.Cid, error) {
	buf := new(bytes.Buffer)
	if err := v.MarshalCBOR(buf); err != nil {
		return cid.Undef, fmt.Errorf("failed to encode object: %w", err)
	}
	return s.Blocks.Put(ctx, buf.Bytes())
}
