package hamt

import (
	"bytes"
	"context"
	"fmt"

	"github.com/Fantom-foundation/Cedar/go/blockstore"
	"github.com/Fantom-foundation/Cedar/go/common"
	cid "github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log"
	"golang.org/x/exp/slices"
)

// This file implements a hash array mapped trie over a content-addressed
// block store. Keys are routed by fixed-width chunks of their hash digest;
// each node holds a bitfield of occupied child slots and a dense list of
// pointers in ascending slot order. A pointer is either an inline bucket of
// key/value pairs, a not-yet-persisted child node, or a link to a persisted
// child.
//
// The trie maintains a canonical shape: a leaf bucket splits into a child
// node exactly when it outgrows the configured bucket size, and deletions
// collapse child nodes back into inline buckets as soon as their remaining
// content fits one. As a result the shape, and with it the flushed root
// identifier, is a function of the trie's contents alone, never of the
// order of operations that produced them.

var log = logging.Logger("hamt")

// ErrMalformedHamt is reported when a persisted node violates a structural
// invariant. It is never repaired silently.
const ErrMalformedHamt = common.ConstError("malformed hamt")

// kvPair is one key/value entry of an inline bucket. Buckets keep their
// entries sorted by key.
type kvPair struct {
	Key   []byte
	Value []byte
}

// pointer is one occupied child slot of a node: an inline bucket (kvs), an
// owned in-memory child (cache), or a reference to a persisted child
// (link). A link pointer gains a cache on first resolution; the cache takes
// precedence until the next flush.
type pointer struct {
	kvs   []*kvPair
	link  cid.Cid
	cache *node
}

func (p *pointer) isShard() bool {
	return p.cache != nil || p.link.Defined()
}

// insert adds an entry to the bucket, keeping entries sorted by key.
func (p *pointer) insert(entry *kvPair) {
	pos := len(p.kvs)
	for i, cur := range p.kvs {
		if bytes.Compare(entry.Key, cur.Key) < 0 {
			pos = i
			break
		}
	}
	p.kvs = slices.Insert(p.kvs, pos, entry)
}

// node is one level of the trie. The pointer list holds exactly one entry
// per set bit, in ascending bit position order.
type node struct {
	bits     common.Bitfield
	pointers []*pointer

	// decode context, set before unmarshalling
	width      int
	bucketSize int
}

func newNode(config *Config) *node {
	return &node{
		bits:       common.NewBitfield(config.width()),
		width:      config.width(),
		bucketSize: config.BucketSize,
	}
}

func (n *node) insertPointer(idx int, p *pointer) {
	i := n.bits.Rank(idx)
	n.pointers = slices.Insert(n.pointers, i, p)
	n.bits.Set(idx)
}

func (n *node) removePointer(idx int) {
	i := n.bits.Rank(idx)
	n.pointers = slices.Delete(n.pointers, i, i+1)
	n.bits.Clear(idx)
}

func (n *node) copy() *node {
	res := &node{
		bits:       n.bits,
		width:      n.width,
		bucketSize: n.bucketSize,
		pointers:   make([]*pointer, len(n.pointers)),
	}
	for i, p := range n.pointers {
		cp := &pointer{link: p.link}
		if p.cache != nil {
			cp.cache = p.cache.copy()
		}
		if p.kvs != nil {
			cp.kvs = make([]*kvPair, len(p.kvs))
			for j, entry := range p.kvs {
				cp.kvs[j] = &kvPair{Key: entry.Key, Value: entry.Value}
			}
		}
		res.pointers[i] = cp
	}
	return res
}

// Hamt is a handle on one hash trie. A handle owns its in-memory overlay
// exclusively and must not be mutated concurrently; flushed trees are
// immutable and may be shared freely through their content identifier.
type Hamt struct {
	config Config
	store  *blockstore.CborStore
	root   *node
	nodes  *common.Cache[cid.Cid, *node]
}

// New creates an empty trie using the given configuration.
func New(store *blockstore.CborStore, config Config) (*Hamt, error) {
	if err := config.check(); err != nil {
		return nil, fmt.Errorf("invalid hamt configuration: %w", err)
	}
	return &Hamt{
		config: config,
		store:  store,
		root:   newNode(&config),
		nodes:  common.NewCache[cid.Cid, *node](config.NodeCacheSize),
	}, nil
}

// Load opens the trie flushed under the given content identifier. The
// persisted root carries its consensus-relevant parameters; Load verifies
// they match the given configuration rather than silently adopting either
// side.
func Load(ctx context.Context, store *blockstore.CborStore, c cid.Cid, config Config) (*Hamt, error) {
	if err := config.check(); err != nil {
		return nil, fmt.Errorf("invalid hamt configuration: %w", err)
	}
	record := newRootRecord(&config)
	if err := store.Get(ctx, c, record); err != nil {
		return nil, err
	}
	if int(record.bitWidth) != config.BitWidth {
		return nil, fmt.Errorf("%w: root has bit width %d, configured is %d",
			ErrMalformedHamt, record.bitWidth, config.BitWidth)
	}
	if record.hashId != config.Hashing.id {
		return nil, fmt.Errorf("%w: root has hash algorithm %d, configured is %d",
			ErrMalformedHamt, record.hashId, config.Hashing.id)
	}
	return &Hamt{
		config: config,
		store:  store,
		root:   record.node,
		nodes:  common.NewCache[cid.Cid, *node](config.NodeCacheSize),
	}, nil
}

// Config returns the configuration of this trie.
func (h *Hamt) Config() Config {
	return h.config
}

// Get returns the value stored for the given key.
func (h *Hamt) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	hb := newHashBits(h.config.Hashing, key, h.config.MaxDepth)
	return h.find(ctx, h.root, hb, key)
}

// Has reports whether the given key is present.
func (h *Hamt) Has(ctx context.Context, key []byte) (bool, error) {
	_, found, err := h.Get(ctx, key)
	return found, err
}

// Set stores a value for the given key, returning the replaced value if the
// key was already present.
func (h *Hamt) Set(ctx context.Context, key, value []byte) ([]byte, bool, error) {
	entry := &kvPair{Key: cloneBytes(key), Value: cloneBytes(value)}
	hb := newHashBits(h.config.Hashing, key, h.config.MaxDepth)
	return h.setValue(ctx, h.root, hb, entry)
}

// Delete removes the given key, returning the removed value if it was
// present. Removing an absent key is not an error.
func (h *Hamt) Delete(ctx context.Context, key []byte) ([]byte, bool, error) {
	hb := newHashBits(h.config.Hashing, key, h.config.MaxDepth)
	return h.deleteValue(ctx, h.root, hb, key)
}

// ForEach visits all entries in depth-first, ascending slot order. The
// order is determined by the key hashes alone and therefore identical for
// all tries holding the same contents. The visited slices must not be
// retained or modified.
func (h *Hamt) ForEach(ctx context.Context, callback func(key, value []byte) error) error {
	return h.forEach(ctx, h.root, callback)
}

// Flush persists all modified nodes bottom-up and returns the content
// identifier of the trie's root record. After a flush the persisted form is
// complete and immutable; the handle remains usable.
func (h *Hamt) Flush(ctx context.Context) (cid.Cid, error) {
	if err := h.flushNode(ctx, h.root); err != nil {
		return cid.Undef, err
	}
	record := &rootRecord{
		bitWidth: uint64(h.config.BitWidth),
		hashId:   h.config.Hashing.id,
		node:     h.root,
	}
	return h.store.Put(ctx, record)
}

// Copy returns an independent handle on the same logical trie. The
// in-memory overlay is copied deeply; persisted nodes are shared through
// their immutable links.
func (h *Hamt) Copy() *Hamt {
	return &Hamt{
		config: h.config,
		store:  h.store,
		root:   h.root.copy(),
		nodes:  common.NewCache[cid.Cid, *node](h.config.NodeCacheSize),
	}
}

// ----------------------------------------------------------------------------
//                              Internals
// ----------------------------------------------------------------------------

func (h *Hamt) find(ctx context.Context, n *node, hb *hashBits, key []byte) ([]byte, bool, error) {
	idx, err := hb.next(h.config.BitWidth)
	if err != nil {
		return nil, false, err
	}
	if !n.bits.Test(idx) {
		return nil, false, nil
	}
	p := n.pointers[n.bits.Rank(idx)]
	if p.isShard() {
		child, err := h.loadChild(ctx, p)
		if err != nil {
			return nil, false, err
		}
		return h.find(ctx, child, hb, key)
	}
	for _, entry := range p.kvs {
		if bytes.Equal(entry.Key, key) {
			return cloneBytes(entry.Value), true, nil
		}
	}
	return nil, false, nil
}

func (h *Hamt) setValue(ctx context.Context, n *node, hb *hashBits, entry *kvPair) ([]byte, bool, error) {
	idx, err := hb.next(h.config.BitWidth)
	if err != nil {
		return nil, false, err
	}
	if !n.bits.Test(idx) {
		n.insertPointer(idx, &pointer{kvs: []*kvPair{entry}})
		return nil, false, nil
	}

	i := n.bits.Rank(idx)
	p := n.pointers[i]
	if p.isShard() {
		child, err := h.loadChild(ctx, p)
		if err != nil {
			return nil, false, err
		}
		return h.setValue(ctx, child, hb, entry)
	}

	for _, cur := range p.kvs {
		if bytes.Equal(cur.Key, entry.Key) {
			prev := cur.Value
			cur.Value = entry.Value
			return prev, true, nil
		}
	}

	if len(p.kvs) >= h.config.BucketSize {
		// The bucket is full: push its entries and the new one into a
		// fresh child node, each rerouted by the chunk after this level.
		child := newNode(&h.config)
		for _, cur := range p.kvs {
			chb, err := hashBitsAtDepth(h.config.Hashing, cur.Key, h.config.BitWidth, hb.depth, h.config.MaxDepth)
			if err != nil {
				return nil, false, err
			}
			if _, _, err := h.setValue(ctx, child, chb, cur); err != nil {
				return nil, false, err
			}
		}
		if _, _, err := h.setValue(ctx, child, hb, entry); err != nil {
			return nil, false, err
		}
		n.pointers[i] = &pointer{cache: child}
		log.Debugf("split bucket at depth %d", hb.depth)
		return nil, false, nil
	}

	p.insert(entry)
	return nil, false, nil
}

func (h *Hamt) deleteValue(ctx context.Context, n *node, hb *hashBits, key []byte) ([]byte, bool, error) {
	idx, err := hb.next(h.config.BitWidth)
	if err != nil {
		return nil, false, err
	}
	if !n.bits.Test(idx) {
		return nil, false, nil
	}

	i := n.bits.Rank(idx)
	p := n.pointers[i]
	if p.isShard() {
		child, err := h.loadChild(ctx, p)
		if err != nil {
			return nil, false, err
		}
		prev, removed, err := h.deleteValue(ctx, child, hb, key)
		if err != nil || !removed {
			return prev, removed, err
		}
		if err := h.collapseChild(n, i, child); err != nil {
			return nil, false, err
		}
		return prev, true, nil
	}

	for j, cur := range p.kvs {
		if bytes.Equal(cur.Key, key) {
			prev := cur.Value
			if len(p.kvs) == 1 {
				n.removePointer(idx)
			} else {
				p.kvs = slices.Delete(p.kvs, j, j+1)
			}
			return prev, true, nil
		}
	}
	return nil, false, nil
}

// collapseChild re-inlines a child node whose remaining content fits back
// into the parent's slot. This keeps the trie's shape canonical: without
// it, tries holding identical contents but built through different delete
// orders would flush to different identifiers.
func (h *Hamt) collapseChild(n *node, i int, child *node) error {
	switch count := len(child.pointers); {
	case count == 0:
		return fmt.Errorf("%w: child node left empty after delete", ErrMalformedHamt)
	case count == 1:
		p := child.pointers[0]
		if p.isShard() {
			return nil
		}
		n.pointers[i] = &pointer{kvs: p.kvs}
		log.Debugf("collapsed single-bucket child into parent slot")
		return nil
	default:
		total := 0
		for _, p := range child.pointers {
			if p.isShard() {
				return nil
			}
			total += len(p.kvs)
		}
		if total > h.config.BucketSize {
			return nil
		}
		merged := &pointer{kvs: make([]*kvPair, 0, total)}
		for _, p := range child.pointers {
			for _, entry := range p.kvs {
				merged.insert(entry)
			}
		}
		n.pointers[i] = merged
		log.Debugf("merged %d bucket entries back into parent slot", total)
		return nil
	}
}

func (h *Hamt) forEach(ctx context.Context, n *node, callback func(key, value []byte) error) error {
	for _, p := range n.pointers {
		if p.isShard() {
			child, err := h.loadChild(ctx, p)
			if err != nil {
				return err
			}
			if err := h.forEach(ctx, child, callback); err != nil {
				return err
			}
			continue
		}
		for _, entry := range p.kvs {
			if err := callback(entry.Key, entry.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadChild resolves a shard pointer to its node, fetching and decoding it
// on first access. Cache hits are copied so that no decoded node is ever
// aliased by two pointers; two equal subtrees share a content identifier,
// and mutating one must not affect the other.
func (h *Hamt) loadChild(ctx context.Context, p *pointer) (*node, error) {
	if p.cache != nil {
		return p.cache, nil
	}
	if cached, exists := h.nodes.Get(p.link); exists {
		p.cache = cached.copy()
		return p.cache, nil
	}
	child := &node{width: h.config.width(), bucketSize: h.config.BucketSize}
	if err := h.store.Get(ctx, p.link, child); err != nil {
		return nil, err
	}
	if len(child.pointers) == 0 {
		return nil, fmt.Errorf("%w: empty child node %s", ErrMalformedHamt, p.link)
	}
	h.nodes.Set(p.link, child.copy())
	p.cache = child
	return child, nil
}

func (h *Hamt) flushNode(ctx context.Context, n *node) error {
	for _, p := range n.pointers {
		if p.cache == nil {
			continue
		}
		if err := h.flushNode(ctx, p.cache); err != nil {
			return err
		}
		c, err := h.store.Put(ctx, p.cache)
		if err != nil {
			return err
		}
		p.link = c
		p.cache = nil
	}
	return nil
}

func cloneBytes(data []byte) []byte {
	if data == nil {
		return []byte{}
	}
	return append([]byte{}, data...)
}
