package common

import "testing"

func TestCache_StoredValuesCanBeRetrieved(t *testing.T) {
	cache := NewCache[int, string](3)
	cache.Set(1, "one")
	cache.Set(2, "two")

	if got, exists := cache.Get(1); !exists || got != "one" {
		t.Errorf("unexpected lookup result: got %q, %t, wanted %q, true", got, exists, "one")
	}
	if got, exists := cache.Get(2); !exists || got != "two" {
		t.Errorf("unexpected lookup result: got %q, %t, wanted %q, true", got, exists, "two")
	}
	if _, exists := cache.Get(3); exists {
		t.Errorf("lookup of a missing key should not succeed")
	}
}

func TestCache_LeastRecentlyUsedEntryIsEvicted(t *testing.T) {
	cache := NewCache[int, int](2)
	cache.Set(1, 10)
	cache.Set(2, 20)

	// Touch 1 so that 2 becomes the eviction candidate.
	cache.Get(1)

	key, value, evicted := cache.Set(3, 30)
	if !evicted || key != 2 || value != 20 {
		t.Errorf("unexpected eviction: got %d/%d/%t, wanted 2/20/true", key, value, evicted)
	}
	if _, exists := cache.Get(2); exists {
		t.Errorf("evicted entry should be gone")
	}
	if _, exists := cache.Get(1); !exists {
		t.Errorf("recently used entry should have been retained")
	}
	if _, exists := cache.Get(3); !exists {
		t.Errorf("newly added entry should be present")
	}
}

func TestCache_UpdatingAKeyDoesNotEvict(t *testing.T) {
	cache := NewCache[int, int](2)
	cache.Set(1, 10)
	cache.Set(2, 20)

	if _, _, evicted := cache.Set(1, 11); evicted {
		t.Errorf("updating an existing key must not evict")
	}
	if got, _ := cache.Get(1); got != 11 {
		t.Errorf("update was not applied: got %d, wanted 11", got)
	}
	if cache.Len() != 2 {
		t.Errorf("unexpected cache size %d, wanted 2", cache.Len())
	}
}

func TestCache_ZeroCapacityRetainsNothing(t *testing.T) {
	cache := NewCache[int, int](0)
	if _, _, evicted := cache.Set(1, 10); !evicted {
		t.Errorf("the zero capacity cache should reject every entry")
	}
	if _, exists := cache.Get(1); exists {
		t.Errorf("the zero capacity cache should retain nothing")
	}
	if cache.Len() != 0 {
		t.Errorf("unexpected cache size %d, wanted 0", cache.Len())
	}
}

func TestCache_RemoveDropsEntry(t *testing.T) {
	cache := NewCache[int, int](2)
	cache.Set(1, 10)
	cache.Set(2, 20)

	if value, existed := cache.Remove(1); !existed || value != 10 {
		t.Errorf("unexpected removal result: got %d/%t, wanted 10/true", value, existed)
	}
	if _, existed := cache.Remove(1); existed {
		t.Errorf("removing a missing key should report absence")
	}
	if cache.Len() != 1 {
		t.Errorf("unexpected cache size %d, wanted 1", cache.Len())
	}

	// The freed slot is usable again without evictions.
	if _, _, evicted := cache.Set(3, 30); evicted {
		t.Errorf("insert after removal must not evict")
	}
}

func TestCache_ClearDropsAllEntries(t *testing.T) {
	cache := NewCache[int, int](4)
	for i := 0; i < 4; i++ {
		cache.Set(i, i)
	}
	cache.Clear()
	if cache.Len() != 0 {
		t.Errorf("unexpected cache size %d after clear, wanted 0", cache.Len())
	}
	for i := 0; i < 4; i++ {
		if _, exists := cache.Get(i); exists {
			t.Errorf("entry %d survived a clear", i)
		}
	}
	cache.Set(5, 5)
	if got, exists := cache.Get(5); !exists || got != 5 {
		t.Errorf("cache should be usable after a clear")
	}
}

func TestCache_EvictionFollowsUsageOrder(t *testing.T) {
	cache := NewCache[int, int](3)
	for i := 0; i < 3; i++ {
		cache.Set(i, i)
	}
	// Usage order, oldest first: 0, 1, 2. Touch 0 -> 1, 2, 0.
	cache.Get(0)

	wantEvictions := []int{1, 2, 0}
	for i, want := range wantEvictions {
		key, _, evicted := cache.Set(10+i, 0)
		if !evicted || key != want {
			t.Errorf("eviction %d: got key %d (evicted=%t), wanted %d", i, key, evicted, want)
		}
	}
}
