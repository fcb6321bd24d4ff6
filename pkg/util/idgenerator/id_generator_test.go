package idgenerator

import "testing"

func TestIDsIncreasingAndRecycled(t *testing.T) {
	idgen := New(false)
	seen := make(map[uint64]bool)
	prev := uint64(0)
	for i := 0; i < 10; i++ {
		id := idgen.NextID()
		if seen[id] {
			t.Fatalf("id %d issued twice", id)
		}
		if id <= prev {
			t.Fatalf("id %d issued after %d, want increasing", id, prev)
		}
		seen[id] = true
		prev = id
	}

	idgen.RecycleID(7)
	if got := idgen.NextID(); got != 7 {
		t.Errorf("NextID() after RecycleID(7) = %d, want 7", got)
	}
}

func TestRandomizedIDsAreUnique(t *testing.T) {
	idgen := New(true)
	seen := make(map[uint64]bool)
	for i := 0; i < 60; i++ {
		id := idgen.NextID()
		if seen[id] {
			t.Fatalf("id %d issued twice", id)
		}
		seen[id] = true
	}
}
