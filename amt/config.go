package amt

import "fmt"

// Config defines a set of per-instance parameters of an index trie. The bit
// width shapes the persisted form and is consensus relevant: every writer of
// a given trie must use the same value. The cache size only tunes in-memory
// behavior.
type Config struct {
	// A descriptive name for this configuration. It has no effect except for
	// logging and debugging purposes.
	Name string

	// The number of index bits consumed per trie level, in 1..8. A node has
	// 2^BitWidth child slots.
	BitWidth int

	// The number of decoded nodes retained per root. If set to 0, caching
	// is disabled.
	NodeCacheSize int
}

// DefaultConfig uses nodes of 8 slots, the layout used for on-chain message
// and receipt collections.
var DefaultConfig = Config{
	Name:          "w8",
	BitWidth:      3,
	NodeCacheSize: 4096,
}

// WideConfig uses nodes of 256 slots, flattening densely populated arrays.
var WideConfig = Config{
	Name:          "w256",
	BitWidth:      8,
	NodeCacheSize: 4096,
}

// width returns the number of child slots per node.
func (c *Config) width() int {
	return 1 << c.BitWidth
}

// maxHeight returns the tallest representable tree. Indices are decomposed
// into BitWidth-sized digits of a non-negative int64, so a tree of height h
// addresses (h+1)*BitWidth index bits.
func (c *Config) maxHeight() uint64 {
	return uint64(63/c.BitWidth) - 1
}

// maxIndex returns the largest index storable under this configuration.
func (c *Config) maxIndex() uint64 {
	return uint64(1)<<((c.maxHeight()+1)*uint64(c.BitWidth)) - 1
}

func (c *Config) check() error {
	if c.BitWidth < 1 || c.BitWidth > 8 {
		return fmt.Errorf("bit width %d outside supported range [1,8]", c.BitWidth)
	}
	return nil
}
