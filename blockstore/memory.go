package blockstore

import (
	"context"
	"fmt"
	"sync"

	cid "github.com/ipfs/go-cid"
)

// MemoryStore is a map-backed BlockStore for tests and short-lived trees.
type MemoryStore struct {
	mu     sync.RWMutex
	blocks map[cid.Cid][]byte
	prefix cid.Prefix
}

// NewMemoryStore creates an empty in-memory block store using the default
// content identifier derivation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks: map[cid.Cid][]byte{},
		prefix: DefaultCidPrefix(),
	}
}

func (s *MemoryStore) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	c, err := s.prefix.Sum(data)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to derive cid: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.blocks[c]; !exists {
		cpy := make([]byte, len(data))
		copy(cpy, data)
		s.blocks[c] = cpy
	}
	return c, nil
}

func (s *MemoryStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	s.mu.RLock()
	data, exists := s.blocks[c]
	s.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, c)
	}
	cpy := make([]byte, len(data))
	copy(cpy, data)
	return cpy, nil
}

func (s *MemoryStore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.blocks[c]
	return exists, nil
}

// Len returns the number of distinct blocks stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}
