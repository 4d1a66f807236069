package blockstore

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestMemoryStore_StoredBlocksCanBeRetrieved(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	data := []byte("hello world")
	c, err := store.Put(ctx, data)
	if err != nil {
		t.Fatalf("failed to store block: %v", err)
	}

	got, err := store.Get(ctx, c)
	if err != nil {
		t.Fatalf("failed to load block: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("unexpected block content: got %x, wanted %x", got, data)
	}

	exists, err := store.Has(ctx, c)
	if err != nil {
		t.Fatalf("failed to probe block: %v", err)
	}
	if !exists {
		t.Errorf("stored block should be reported as present")
	}
}

func TestMemoryStore_IdenticalPayloadsShareOneBlock(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	c1, err := store.Put(ctx, []byte("payload"))
	if err != nil {
		t.Fatalf("failed to store block: %v", err)
	}
	c2, err := store.Put(ctx, []byte("payload"))
	if err != nil {
		t.Fatalf("failed to store block: %v", err)
	}
	if c1 != c2 {
		t.Errorf("identical payloads should map to identical identifiers")
	}
	if store.Len() != 1 {
		t.Errorf("unexpected number of blocks %d, wanted 1", store.Len())
	}
}

func TestMemoryStore_MissingBlockIsReported(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	c, err := DefaultCidPrefix().Sum([]byte("never stored"))
	if err != nil {
		t.Fatalf("failed to derive cid: %v", err)
	}
	if _, err := store.Get(ctx, c); !errors.Is(err, ErrBlockNotFound) {
		t.Errorf("unexpected error for a missing block: %v", err)
	}
	exists, err := store.Has(ctx, c)
	if err != nil {
		t.Fatalf("failed to probe block: %v", err)
	}
	if exists {
		t.Errorf("missing block should not be reported as present")
	}
}

func TestMemoryStore_RetrievedBlocksAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	data := []byte("original")
	c, err := store.Put(ctx, data)
	if err != nil {
		t.Fatalf("failed to store block: %v", err)
	}

	// Mutating the input or a retrieved copy must not affect the store.
	data[0] = 'X'
	got, err := store.Get(ctx, c)
	if err != nil {
		t.Fatalf("failed to load block: %v", err)
	}
	if !bytes.Equal(got, []byte("original")) {
		t.Errorf("stored block was affected by input mutation: got %q", got)
	}
	got[0] = 'Y'
	again, err := store.Get(ctx, c)
	if err != nil {
		t.Fatalf("failed to load block: %v", err)
	}
	if !bytes.Equal(again, []byte("original")) {
		t.Errorf("stored block was affected by output mutation: got %q", again)
	}
}
