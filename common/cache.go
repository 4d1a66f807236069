package common

// Cache is a fixed-capacity key-value cache with least-recently-used
// eviction. It is used to retain decoded trie nodes per tree root, bounding
// the memory held for lazily resolved children. The zero capacity cache
// retains nothing.
//
// Cache is not safe for concurrent use; each tree root owns its own
// instance.
type Cache[K comparable, V any] struct {
	entries  map[K]*cacheEntry[K, V]
	capacity int
	head     *cacheEntry[K, V] // most recently used
	tail     *cacheEntry[K, V] // next to be evicted
}

type cacheEntry[K comparable, V any] struct {
	key        K
	value      V
	prev, next *cacheEntry[K, V]
}

// NewCache creates a cache retaining up to capacity entries. A capacity of
// zero or less produces a cache that drops everything immediately.
func NewCache[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity < 0 {
		capacity = 0
	}
	return &Cache[K, V]{
		entries:  make(map[K]*cacheEntry[K, V], capacity),
		capacity: capacity,
	}
}

// Get returns the value stored for the given key, marking it as recently
// used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	if e, exists := c.entries[key]; exists {
		c.touch(e)
		return e.value, true
	}
	var none V
	return none, false
}

// Set stores a value for the given key, evicting the least recently used
// entry if the cache is full. The evicted pair is returned to allow callers
// to release resources tied to it.
func (c *Cache[K, V]) Set(key K, value V) (evictedKey K, evictedValue V, evicted bool) {
	if c.capacity == 0 {
		return key, value, true
	}
	if e, exists := c.entries[key]; exists {
		e.value = value
		c.touch(e)
		return
	}

	var e *cacheEntry[K, V]
	if len(c.entries) >= c.capacity {
		e = c.tail
		delete(c.entries, e.key)
		evictedKey, evictedValue, evicted = e.key, e.value, true
		c.unlink(e)
	} else {
		e = &cacheEntry[K, V]{}
	}
	e.key = key
	e.value = value
	c.entries[key] = e
	c.pushFront(e)
	return
}

// Remove drops the entry for the given key, returning the removed value.
func (c *Cache[K, V]) Remove(key K) (V, bool) {
	if e, exists := c.entries[key]; exists {
		delete(c.entries, key)
		c.unlink(e)
		return e.value, true
	}
	var none V
	return none, false
}

// Len returns the number of entries currently retained.
func (c *Cache[K, V]) Len() int {
	return len(c.entries)
}

// Clear drops all entries.
func (c *Cache[K, V]) Clear() {
	c.entries = make(map[K]*cacheEntry[K, V], c.capacity)
	c.head = nil
	c.tail = nil
}

func (c *Cache[K, V]) touch(e *cacheEntry[K, V]) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

func (c *Cache[K, V]) pushFront(e *cacheEntry[K, V]) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *Cache[K, V]) unlink(e *cacheEntry[K, V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}
