package hamt

import "fmt"

// Config defines a set of per-instance parameters of a hash trie. All
// parameters shaping the persisted form (bit width, bucket size, hashing)
// are consensus relevant: every writer of a given trie must use the same
// values or identical contents stop producing identical roots. The remaining
// parameters only tune in-memory behavior.
type Config struct {
	// A descriptive name for this configuration. It has no effect except for
	// logging and debugging purposes.
	Name string

	// The number of routing bits consumed per trie level, in 1..8. A node
	// has 2^BitWidth child slots.
	BitWidth int

	// The maximum number of key/value pairs held inline in a leaf bucket
	// before the bucket is split into a child node.
	BucketSize int

	// The digest function routing keys through the trie.
	Hashing HashAlgorithm

	// The maximum trie depth before an operation fails with ErrMaxDepth.
	// Guards against unbounded recursion on pathological hash collisions.
	MaxDepth int

	// The number of decoded nodes retained per root. If set to 0, caching
	// is disabled.
	NodeCacheSize int
}

// DefaultConfig routes through 64-bit murmur3 hashes with 8 routing bits
// per level and 3-element buckets.
var DefaultConfig = Config{
	Name:          "murmur3-w8-b3",
	BitWidth:      8,
	BucketSize:    3,
	Hashing:       Murmur3Hashing,
	MaxDepth:      64,
	NodeCacheSize: 4096,
}

// Sha256Config uses sha256 key hashing, trading routing speed for a
// collision-resistant digest.
var Sha256Config = Config{
	Name:          "sha256-w8-b3",
	BitWidth:      8,
	BucketSize:    3,
	Hashing:       Sha256Hashing,
	MaxDepth:      64,
	NodeCacheSize: 4096,
}

// Keccak256Config uses keccak256 key hashing as used for state commitments
// in Ethereum-derived chains.
var Keccak256Config = Config{
	Name:          "keccak256-w8-b3",
	BitWidth:      8,
	BucketSize:    3,
	Hashing:       Keccak256Hashing,
	MaxDepth:      64,
	NodeCacheSize: 4096,
}

// width returns the number of child slots per node.
func (c *Config) width() int {
	return 1 << c.BitWidth
}

func (c *Config) check() error {
	if c.BitWidth < 1 || c.BitWidth > 8 {
		return fmt.Errorf("bit width %d outside supported range [1,8]", c.BitWidth)
	}
	if c.BucketSize < 1 {
		return fmt.Errorf("bucket size %d must be positive", c.BucketSize)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("max depth %d must be positive", c.MaxDepth)
	}
	if _, found := hashAlgorithmById(c.Hashing.id); !found {
		return fmt.Errorf("unknown hash algorithm %q", c.Hashing.Name)
	}
	return nil
}
