package blockstore

//go:generate mockgen -source blockstore.go -destination blockstore_mocks.go -package blockstore

import (
	"context"

	"github.com/Fantom-foundation/Cedar/go/common"
	cid "github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// BlockStore is the content-addressed storage collaborator of the trie
// structures. A block's identifier is derived deterministically from its
// bytes and the configured codec tag, so a stored block can never change
// under its identifier and identical payloads map to identical identifiers.
//
// Implementations must be safe for concurrent use; the tries above them are
// not, but flushed trees are shared read-only across independent holders
// hitting the same store.
type BlockStore interface {
	// Put stores the given payload and returns its content identifier.
	Put(ctx context.Context, data []byte) (cid.Cid, error)

	// Get returns the payload stored under the given identifier, or
	// ErrBlockNotFound if no such block exists.
	Get(ctx context.Context, c cid.Cid) ([]byte, error)

	// Has reports whether a block is stored under the given identifier.
	Has(ctx context.Context, c cid.Cid) (bool, error)
}

// ErrBlockNotFound is reported by Get for identifiers no block is stored
// under. A dangling link inside a persisted tree surfaces as this error.
const ErrBlockNotFound = common.ConstError("block not found")

// DefaultCidPrefix describes how content identifiers are derived from block
// payloads: CIDv1, the dag-cbor codec tag, and a blake2b-256 multihash.
func DefaultCidPrefix() cid.Prefix {
	return cid.Prefix{
		Version:  1,
		Codec:    cid.DagCBOR,
		MhType:   mh.BLAKE2B_MIN + 31,
		MhLength: -1,
	}
}
