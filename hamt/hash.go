package hamt

import (
	"crypto/sha256"
	"hash"
	"sync"

	"github.com/Fantom-foundation/Cedar/go/common"
	"github.com/spaolacci/murmur3"
	"golang.org/x/crypto/sha3"
)

// ErrMaxDepth is reported when an operation would descend beyond the
// configured maximum trie depth. This only happens when keys collide on
// every consumed routing chunk, which signals either a degenerate
// configuration or adversarial input.
const ErrMaxDepth = common.ConstError("trie exceeds maximum depth")

// HashAlgorithm is a configuration token selecting the digest function used
// to route keys through the trie. The numeric id is part of the persisted
// root record; it must never be reassigned.
type HashAlgorithm struct {
	Name string
	id   uint64
	sum  func([]byte) []byte
}

// Id returns the persistent identifier of the algorithm.
func (a HashAlgorithm) Id() uint64 {
	return a.id
}

// Murmur3Hashing routes through 64-bit murmur3 digests. Fast, but not
// collision resistant; unsuitable when untrusted parties choose keys.
var Murmur3Hashing = HashAlgorithm{
	Name: "murmur3-64",
	id:   1,
	sum: func(data []byte) []byte {
		h := murmur3.New64()
		h.Write(data)
		return h.Sum(nil)
	},
}

// Sha256Hashing routes through sha256 digests.
var Sha256Hashing = HashAlgorithm{
	Name: "sha256",
	id:   2,
	sum: func(data []byte) []byte {
		res := sha256.Sum256(data)
		return res[:]
	},
}

// Keccak256Hashing routes through keccak256 digests.
var Keccak256Hashing = HashAlgorithm{
	Name: "keccak256",
	id:   3,
	sum:  keccak256,
}

var keccakPool = sync.Pool{New: func() any { return sha3.NewLegacyKeccak256() }}

func keccak256(data []byte) []byte {
	hasher := keccakPool.Get().(hash.Hash)
	hasher.Reset()
	hasher.Write(data)
	res := hasher.Sum(nil)
	keccakPool.Put(hasher)
	return res
}

func hashAlgorithmById(id uint64) (HashAlgorithm, bool) {
	switch id {
	case Murmur3Hashing.id:
		return Murmur3Hashing, true
	case Sha256Hashing.id:
		return Sha256Hashing, true
	case Keccak256Hashing.id:
		return Keccak256Hashing, true
	}
	return HashAlgorithm{}, false
}

// hashBits is a cursor over a key's digest handing out fixed-width routing
// chunks, one per trie level. When the digest runs out of bits it reseeds
// deterministically by rehashing the digest together with the reseed round,
// so routing is defined for arbitrary depths. The configured maximum depth
// bounds the number of chunks the cursor hands out in total.
type hashBits struct {
	alg      HashAlgorithm
	digest   []byte
	consumed int // bits consumed of the current digest
	round    uint8
	depth    int // chunks handed out so far
	maxDepth int
}

func newHashBits(alg HashAlgorithm, key []byte, maxDepth int) *hashBits {
	return &hashBits{
		alg:      alg,
		digest:   alg.sum(key),
		maxDepth: maxDepth,
	}
}

// hashBitsAtDepth returns a cursor for the given key fast-forwarded past the
// first depth chunks. Used when redistributing bucket entries into a new
// child node, where each entry needs its own cursor positioned at the
// split's level.
func hashBitsAtDepth(alg HashAlgorithm, key []byte, bitWidth, depth, maxDepth int) (*hashBits, error) {
	hb := newHashBits(alg, key, maxDepth)
	for i := 0; i < depth; i++ {
		if _, err := hb.next(bitWidth); err != nil {
			return nil, err
		}
	}
	return hb, nil
}

// next returns the next n routing bits as an unsigned value, or ErrMaxDepth
// once the depth cap is reached. A partial chunk left at the end of a digest
// is discarded before reseeding, keeping chunk boundaries deterministic.
func (hb *hashBits) next(n int) (int, error) {
	if hb.depth >= hb.maxDepth {
		return 0, ErrMaxDepth
	}
	if hb.consumed+n > len(hb.digest)*8 {
		hb.round++
		hb.digest = hb.alg.sum(append(hb.digest, hb.round))
		hb.consumed = 0
	}
	hb.depth++
	return hb.take(n), nil
}

// take extracts the next n bits of the digest, most significant first.
// Requires n <= 8 and enough remaining bits, both ensured by next.
func (hb *hashBits) take(n int) int {
	byteIdx := hb.consumed / 8
	bitIdx := hb.consumed % 8
	left := 8 - bitIdx

	cur := int(hb.digest[byteIdx]) & (1<<left - 1)
	if n <= left {
		hb.consumed += n
		return cur >> (left - n)
	}
	hb.consumed += left
	return cur<<(n-left) | hb.take(n-left)
}
