package amt

import (
	"context"
	"fmt"

	"github.com/Fantom-foundation/Cedar/go/blockstore"
	"github.com/Fantom-foundation/Cedar/go/common"
	cid "github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log"
)

// This file implements an array mapped trie over a content-addressed block
// store: a balanced tree of fixed fan-out indexed by unsigned integers.
// An index is decomposed into base-width digits, most significant first,
// one digit per level. Leaves hold values, inner nodes hold child slots;
// a bitfield marks the occupied slots so sparse nodes persist compactly.
//
// The tree keeps its height canonical: setting an index beyond the current
// capacity wraps the root as the sole child of a taller root, and deleting
// shrinks the height back as soon as all remaining indices fit a smaller
// tree. Two trees holding the same index to value mapping therefore always
// flush to the same content identifier.

var log = logging.Logger("amt")

// ErrMalformedAmt is reported when a persisted node violates a structural
// invariant. It is never repaired silently.
const ErrMalformedAmt = common.ConstError("malformed amt")

// ErrIndexTooLarge is reported when an index exceeds the ceiling
// representable under the configured bit width.
const ErrIndexTooLarge = common.ConstError("index out of range")

// node is one level of the tree, held in expanded form: the slot arrays
// are always width long, with nil marking an empty slot. Leaves populate
// values, inner nodes populate links and cache. The compact persisted form
// is produced and consumed by the codec only.
type node struct {
	values [][]byte
	links  []cid.Cid
	cache  []*node

	// decode context
	width int
	leaf  bool
}

func newNode(width int, leaf bool) *node {
	n := &node{width: width, leaf: leaf}
	if leaf {
		n.values = make([][]byte, width)
	} else {
		n.links = make([]cid.Cid, width)
		n.cache = make([]*node, width)
	}
	return n
}

func (n *node) occupied(i uint64) bool {
	if n.leaf {
		return n.values[i] != nil
	}
	return n.cache[i] != nil || n.links[i].Defined()
}

func (n *node) occupiedCount() int {
	count := 0
	for i := 0; i < n.width; i++ {
		if n.occupied(uint64(i)) {
			count++
		}
	}
	return count
}

func (n *node) empty() bool {
	return n.occupiedCount() == 0
}

func (n *node) copy() *node {
	res := newNode(n.width, n.leaf)
	if n.leaf {
		copy(res.values, n.values)
		return res
	}
	copy(res.links, n.links)
	for i, child := range n.cache {
		if child != nil {
			res.cache[i] = child.copy()
		}
	}
	return res
}

// Amt is a handle on one index trie. A handle owns its in-memory overlay
// exclusively and must not be mutated concurrently; flushed trees are
// immutable and may be shared freely through their content identifier.
type Amt struct {
	config Config
	store  *blockstore.CborStore
	height uint64
	count  uint64
	node   *node
	nodes  *common.Cache[cid.Cid, *node]
}

// New creates an empty tree using the given configuration.
func New(store *blockstore.CborStore, config Config) (*Amt, error) {
	if err := config.check(); err != nil {
		return nil, fmt.Errorf("invalid amt configuration: %w", err)
	}
	return &Amt{
		config: config,
		store:  store,
		node:   newNode(config.width(), true),
		nodes:  common.NewCache[cid.Cid, *node](config.NodeCacheSize),
	}, nil
}

// Load opens the tree flushed under the given content identifier. The
// persisted root carries its bit width; Load verifies it matches the given
// configuration rather than silently adopting either side.
func Load(ctx context.Context, store *blockstore.CborStore, c cid.Cid, config Config) (*Amt, error) {
	if err := config.check(); err != nil {
		return nil, fmt.Errorf("invalid amt configuration: %w", err)
	}
	record := &rootRecord{}
	if err := store.Get(ctx, c, record); err != nil {
		return nil, err
	}
	if int(record.bitWidth) != config.BitWidth {
		return nil, fmt.Errorf("%w: root has bit width %d, configured is %d",
			ErrMalformedAmt, record.bitWidth, config.BitWidth)
	}
	if record.height > config.maxHeight() {
		return nil, fmt.Errorf("%w: height %d exceeds maximum %d",
			ErrMalformedAmt, record.height, config.maxHeight())
	}
	return &Amt{
		config: config,
		store:  store,
		height: record.height,
		count:  record.count,
		node:   record.node,
		nodes:  common.NewCache[cid.Cid, *node](config.NodeCacheSize),
	}, nil
}

// Config returns the configuration of this tree.
func (a *Amt) Config() Config {
	return a.config
}

// Len returns the number of stored values.
func (a *Amt) Len() uint64 {
	return a.count
}

// Set stores a value at the given index, growing the tree as needed.
// Indices beyond the representable ceiling fail with ErrIndexTooLarge.
func (a *Amt) Set(ctx context.Context, i uint64, value []byte) error {
	if i > a.config.maxIndex() {
		return fmt.Errorf("%w: index %d exceeds maximum %d", ErrIndexTooLarge, i, a.config.maxIndex())
	}

	// Grow by wrapping the current root as sole child of a taller root
	// until the index is addressable. An empty root just gains height.
	for i >= a.capacity() {
		if !a.node.empty() {
			wrapper := newNode(a.config.width(), false)
			wrapper.cache[0] = a.node
			a.node = wrapper
		} else if a.node.leaf {
			a.node = newNode(a.config.width(), false)
		}
		a.height++
		log.Debugf("grew tree to height %d", a.height)
	}

	added, err := a.set(ctx, a.node, a.height, i, cloneBytes(value))
	if err != nil {
		return err
	}
	if added {
		a.count++
	}
	return nil
}

// BatchSet stores the given values at consecutive indices starting at 0.
func (a *Amt) BatchSet(ctx context.Context, values [][]byte) error {
	for i, value := range values {
		if err := a.Set(ctx, uint64(i), value); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the value stored at the given index.
func (a *Amt) Get(ctx context.Context, i uint64) ([]byte, bool, error) {
	if i >= a.capacity() {
		return nil, false, nil
	}
	return a.get(ctx, a.node, a.height, i)
}

// Has reports whether a value is stored at the given index.
func (a *Amt) Has(ctx context.Context, i uint64) (bool, error) {
	_, found, err := a.Get(ctx, i)
	return found, err
}

// Delete removes the value at the given index, returning it if it was
// present. Removing an absent index is not an error.
func (a *Amt) Delete(ctx context.Context, i uint64) ([]byte, bool, error) {
	if i >= a.capacity() {
		return nil, false, nil
	}
	prev, removed, err := a.delete(ctx, a.node, a.height, i)
	if err != nil || !removed {
		return nil, false, err
	}
	a.count--
	if err := a.shrink(ctx); err != nil {
		return nil, false, err
	}
	return prev, true, nil
}

// BatchDelete removes the values at all given indices.
func (a *Amt) BatchDelete(ctx context.Context, indices []uint64) error {
	for _, i := range indices {
		if _, _, err := a.Delete(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

// ForEach visits all stored values in ascending index order.
func (a *Amt) ForEach(ctx context.Context, callback func(i uint64, value []byte) error) error {
	return a.forEachAt(ctx, a.node, a.height, 0, 0, callback)
}

// ForEachAt visits all stored values with indices >= start in ascending
// index order.
func (a *Amt) ForEachAt(ctx context.Context, start uint64, callback func(i uint64, value []byte) error) error {
	return a.forEachAt(ctx, a.node, a.height, start, 0, callback)
}

// FirstSetIndex returns the smallest stored index.
func (a *Amt) FirstSetIndex(ctx context.Context) (uint64, bool, error) {
	return a.firstSetIndex(ctx, a.node, a.height)
}

// Flush persists all modified nodes bottom-up and returns the content
// identifier of the tree's root record. After a flush the persisted form is
// complete and immutable; the handle remains usable.
func (a *Amt) Flush(ctx context.Context) (cid.Cid, error) {
	if err := a.flushNode(ctx, a.node, a.height); err != nil {
		return cid.Undef, err
	}
	record := &rootRecord{
		bitWidth: uint64(a.config.BitWidth),
		height:   a.height,
		count:    a.count,
		node:     a.node,
	}
	return a.store.Put(ctx, record)
}

// Copy returns an independent handle on the same logical tree. The
// in-memory overlay is copied deeply; persisted nodes are shared through
// their immutable links.
func (a *Amt) Copy() *Amt {
	return &Amt{
		config: a.config,
		store:  a.store,
		height: a.height,
		count:  a.count,
		node:   a.node.copy(),
		nodes:  common.NewCache[cid.Cid, *node](a.config.NodeCacheSize),
	}
}

// ----------------------------------------------------------------------------
//                              Internals
// ----------------------------------------------------------------------------

// capacity returns the number of indices addressable at the current height.
func (a *Amt) capacity() uint64 {
	return a.indicesPerSlot(a.height + 1)
}

// indicesPerSlot returns the number of indices covered by one slot of a
// node at the given height.
func (a *Amt) indicesPerSlot(height uint64) uint64 {
	return uint64(1) << (uint64(a.config.BitWidth) * height)
}

func (a *Amt) set(ctx context.Context, n *node, height uint64, i uint64, value []byte) (bool, error) {
	if height == 0 {
		added := n.values[i] == nil
		n.values[i] = value
		return added, nil
	}
	span := a.indicesPerSlot(height)
	child, err := a.loadChild(ctx, n, i/span, height-1, true)
	if err != nil {
		return false, err
	}
	return a.set(ctx, child, height-1, i%span, value)
}

func (a *Amt) get(ctx context.Context, n *node, height uint64, i uint64) ([]byte, bool, error) {
	if height == 0 {
		if n.values[i] == nil {
			return nil, false, nil
		}
		return cloneBytes(n.values[i]), true, nil
	}
	span := a.indicesPerSlot(height)
	if !n.occupied(i / span) {
		return nil, false, nil
	}
	child, err := a.loadChild(ctx, n, i/span, height-1, false)
	if err != nil {
		return nil, false, err
	}
	return a.get(ctx, child, height-1, i%span)
}

func (a *Amt) delete(ctx context.Context, n *node, height uint64, i uint64) ([]byte, bool, error) {
	if height == 0 {
		prev := n.values[i]
		if prev == nil {
			return nil, false, nil
		}
		n.values[i] = nil
		return prev, true, nil
	}
	span := a.indicesPerSlot(height)
	sub := i / span
	if !n.occupied(sub) {
		return nil, false, nil
	}
	child, err := a.loadChild(ctx, n, sub, height-1, false)
	if err != nil {
		return nil, false, err
	}
	prev, removed, err := a.delete(ctx, child, height-1, i%span)
	if err != nil || !removed {
		return nil, false, err
	}
	if child.empty() {
		n.cache[sub] = nil
		n.links[sub] = cid.Undef
	}
	return prev, true, nil
}

// shrink restores the canonical height after deletions: an empty tree is
// height 0, and a root whose only occupied slot is slot 0 is replaced by
// that child until remaining indices require the height.
func (a *Amt) shrink(ctx context.Context) error {
	if a.height > 0 && a.node.empty() {
		a.node = newNode(a.config.width(), true)
		a.height = 0
		log.Debugf("shrunk empty tree to height 0")
		return nil
	}
	for a.height > 0 && a.node.occupiedCount() == 1 && a.node.occupied(0) {
		child, err := a.loadChild(ctx, a.node, 0, a.height-1, false)
		if err != nil {
			return err
		}
		a.node = child
		a.height--
		log.Debugf("shrunk tree to height %d", a.height)
	}
	return nil
}

func (a *Amt) forEachAt(ctx context.Context, n *node, height, start, offset uint64, callback func(uint64, []byte) error) error {
	if height == 0 {
		for i, value := range n.values {
			if value == nil {
				continue
			}
			index := offset + uint64(i)
			if index < start {
				continue
			}
			if err := callback(index, value); err != nil {
				return err
			}
		}
		return nil
	}
	span := a.indicesPerSlot(height)
	for i := uint64(0); i < uint64(n.width); i++ {
		if !n.occupied(i) {
			continue
		}
		subOffset := offset + i*span
		if start >= subOffset+span {
			continue
		}
		child, err := a.loadChild(ctx, n, i, height-1, false)
		if err != nil {
			return err
		}
		if err := a.forEachAt(ctx, child, height-1, start, subOffset, callback); err != nil {
			return err
		}
	}
	return nil
}

func (a *Amt) firstSetIndex(ctx context.Context, n *node, height uint64) (uint64, bool, error) {
	if height == 0 {
		for i, value := range n.values {
			if value != nil {
				return uint64(i), true, nil
			}
		}
		return 0, false, nil
	}
	span := a.indicesPerSlot(height)
	for i := uint64(0); i < uint64(n.width); i++ {
		if !n.occupied(i) {
			continue
		}
		child, err := a.loadChild(ctx, n, i, height-1, false)
		if err != nil {
			return 0, false, err
		}
		index, found, err := a.firstSetIndex(ctx, child, height-1)
		if err != nil || !found {
			return 0, found, err
		}
		return i*span + index, true, nil
	}
	return 0, false, nil
}

// loadChild resolves the child in the given slot, fetching and decoding it
// on first access, or creating it when the slot is empty and create is set.
// Cache hits are copied so that no decoded node is ever aliased by two
// slots; two equal subtrees share a content identifier, and mutating one
// must not affect the other.
func (a *Amt) loadChild(ctx context.Context, n *node, i, childHeight uint64, create bool) (*node, error) {
	if child := n.cache[i]; child != nil {
		return child, nil
	}
	if !n.links[i].Defined() {
		if !create {
			return nil, fmt.Errorf("%w: no child node in occupied slot %d", ErrMalformedAmt, i)
		}
		child := newNode(a.config.width(), childHeight == 0)
		n.cache[i] = child
		return child, nil
	}
	if cached, exists := a.nodes.Get(n.links[i]); exists {
		child := cached.copy()
		n.cache[i] = child
		return child, nil
	}
	child := &node{width: a.config.width(), leaf: childHeight == 0}
	if err := a.store.Get(ctx, n.links[i], child); err != nil {
		return nil, err
	}
	if child.empty() {
		return nil, fmt.Errorf("%w: empty child node %s", ErrMalformedAmt, n.links[i])
	}
	a.nodes.Set(n.links[i], child.copy())
	n.cache[i] = child
	return child, nil
}

func (a *Amt) flushNode(ctx context.Context, n *node, height uint64) error {
	if height == 0 {
		return nil
	}
	for i := 0; i < n.width; i++ {
		child := n.cache[i]
		if child == nil {
			continue
		}
		if err := a.flushNode(ctx, child, height-1); err != nil {
			return err
		}
		c, err := a.store.Put(ctx, child)
		if err != nil {
			return err
		}
		n.links[i] = c
		n.cache[i] = nil
	}
	return nil
}

func cloneBytes(data []byte) []byte {
	if data == nil {
		return []byte{}
	}
	return append([]byte{}, data...)
}
