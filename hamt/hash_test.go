package hamt

import (
	"errors"
	"fmt"
	"testing"
)

func TestHashAlgorithm_IdsAreStable(t *testing.T) {
	// The ids are part of persisted root records and must never change.
	if got := Murmur3Hashing.Id(); got != 1 {
		t.Errorf("unexpected murmur3 id %d, wanted 1", got)
	}
	if got := Sha256Hashing.Id(); got != 2 {
		t.Errorf("unexpected sha256 id %d, wanted 2", got)
	}
	if got := Keccak256Hashing.Id(); got != 3 {
		t.Errorf("unexpected keccak256 id %d, wanted 3", got)
	}
}

func TestHashAlgorithm_LookupById(t *testing.T) {
	for _, alg := range []HashAlgorithm{Murmur3Hashing, Sha256Hashing, Keccak256Hashing} {
		got, found := hashAlgorithmById(alg.Id())
		if !found || got.Name != alg.Name {
			t.Errorf("failed to resolve algorithm %q by id %d", alg.Name, alg.Id())
		}
	}
	if _, found := hashAlgorithmById(99); found {
		t.Errorf("unknown id should not resolve")
	}
}

func TestHashBits_ChunksAreTakenMostSignificantFirst(t *testing.T) {
	// sha256 of the empty string starts with the bytes e3 b0.
	hb := newHashBits(Sha256Hashing, nil, 64)
	if got, err := hb.next(8); err != nil || got != 0xe3 {
		t.Errorf("unexpected first chunk %#x (err %v), wanted 0xe3", got, err)
	}
	if got, err := hb.next(8); err != nil || got != 0xb0 {
		t.Errorf("unexpected second chunk %#x (err %v), wanted 0xb0", got, err)
	}

	hb = newHashBits(Sha256Hashing, nil, 64)
	for i, want := range []int{0xe, 0x3, 0xb, 0x0} {
		if got, err := hb.next(4); err != nil || got != want {
			t.Errorf("unexpected nibble %d: got %#x (err %v), wanted %#x", i, got, err, want)
		}
	}
}

func TestHashBits_ChunksAreDeterministic(t *testing.T) {
	for _, width := range []int{1, 3, 5, 8} {
		a := newHashBits(Murmur3Hashing, []byte("some key"), 64)
		b := newHashBits(Murmur3Hashing, []byte("some key"), 64)
		for depth := 0; depth < 64; depth++ {
			ca, errA := a.next(width)
			cb, errB := b.next(width)
			if errA != nil || errB != nil {
				t.Fatalf("unexpected error at depth %d: %v / %v", depth, errA, errB)
			}
			if ca != cb {
				t.Fatalf("chunks diverge at depth %d: %d vs %d", depth, ca, cb)
			}
			if ca < 0 || ca >= 1<<width {
				t.Fatalf("chunk %d out of range for width %d", ca, width)
			}
		}
	}
}

func TestHashBits_ReseedingExtendsShortDigests(t *testing.T) {
	// A murmur3 digest holds 64 bits; asking for more must reseed rather
	// than fail, for any chunk width.
	hb := newHashBits(Murmur3Hashing, []byte("key"), 1000)
	for depth := 0; depth < 1000; depth++ {
		if _, err := hb.next(8); err != nil {
			t.Fatalf("unexpected error at depth %d: %v", depth, err)
		}
	}
}

func TestHashBits_DepthCapIsEnforced(t *testing.T) {
	hb := newHashBits(Murmur3Hashing, []byte("key"), 3)
	for depth := 0; depth < 3; depth++ {
		if _, err := hb.next(8); err != nil {
			t.Fatalf("unexpected error at depth %d: %v", depth, err)
		}
	}
	if _, err := hb.next(8); !errors.Is(err, ErrMaxDepth) {
		t.Errorf("unexpected error beyond the depth cap: %v", err)
	}
}

func TestHashBits_FastForwardMatchesStepping(t *testing.T) {
	for _, width := range []int{1, 4, 8} {
		for _, depth := range []int{0, 1, 7, 20} {
			stepped := newHashBits(Sha256Hashing, []byte("key"), 64)
			for i := 0; i < depth; i++ {
				if _, err := stepped.next(width); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			forwarded, err := hashBitsAtDepth(Sha256Hashing, []byte("key"), width, depth, 64)
			if err != nil {
				t.Fatalf("failed to fast-forward: %v", err)
			}
			for i := 0; i < 5; i++ {
				a, errA := stepped.next(width)
				b, errB := forwarded.next(width)
				if errA != nil || errB != nil {
					t.Fatalf("unexpected error: %v / %v", errA, errB)
				}
				if a != b {
					t.Fatalf("width %d depth %d: chunk %d differs, %d vs %d", width, depth, i, a, b)
				}
			}
		}
	}
}

func TestHashAlgorithm_DigestsDifferPerAlgorithm(t *testing.T) {
	key := []byte("the same key")
	digests := map[string]string{}
	for _, alg := range []HashAlgorithm{Murmur3Hashing, Sha256Hashing, Keccak256Hashing} {
		digests[alg.Name] = fmt.Sprintf("%x", alg.sum(key))
	}
	if digests[Murmur3Hashing.Name] == digests[Sha256Hashing.Name] ||
		digests[Sha256Hashing.Name] == digests[Keccak256Hashing.Name] {
		t.Errorf("algorithms should produce distinct digests: %v", digests)
	}
}
