package ledger

import "testing"

func TestDeltaLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	lru := newDeltaLRU(2)
	lru.Add("a")
	lru.Add("b")
	lru.Contains("a") // promote a
	lru.Add("c")      // evicts b

	if !lru.Contains("a") || !lru.Contains("c") {
		t.Fatal("a and c should be present")
	}
	if lru.Contains("b") {
		t.Error("b should have been evicted")
	}
	if got := lru.takeEvictions(); got != 1 {
		t.Errorf("evictions = %d, want 1", got)
	}
	if got := lru.takeEvictions(); got != 0 {
		t.Errorf("evictions after take = %d, want 0", got)
	}
}

func TestDeltaLRU_WarmAndReset(t *testing.T) {
	lru := newDeltaLRU(3)
	lru.Warm([]string{"x", "y", "y", "z"})

	if got := lru.Size(); got != 3 {
		t.Fatalf("Size() = %d, want 3", got)
	}

	lru.Reset()
	if got := lru.Size(); got != 0 {
		t.Errorf("Size() after Reset = %d, want 0", got)
	}
	if lru.Contains("x") {
		t.Error("x should be forgotten after Reset")
	}
}
