package vcache

import "testing"

func TestFrameCachePutThenGet(t *testing.T) {
	fc := NewFrameCache(FrameCacheBudget)
	fc.Put(0, []byte("frame-0-bytes"))

	got, ok := fc.Get(0)
	if !ok || string(got) != "frame-0-bytes" {
		t.Fatalf("Get(0) = %q, %v, want frame-0-bytes, true", got, ok)
	}
}

func TestFrameCacheMissReturnsFalse(t *testing.T) {
	fc := NewFrameCache(FrameCacheBudget)
	if _, ok := fc.Get(99); ok {
		t.Fatal("Get() on an empty cache should miss")
	}
}

func TestFrameCacheSkipsInsertAboveThreshold(t *testing.T) {
	fc := NewFrameCache(FrameCacheBudget)
	big := make([]byte, FrameInsertThreshold+1)
	fc.Put(0, big)

	if _, ok := fc.Get(0); ok {
		t.Fatal("a frame larger than FrameInsertThreshold should not be cached")
	}
}

func TestFrameCacheEvictsOldestToStayWithinBudget(t *testing.T) {
	fc := NewFrameCache(100)

	fc.Put(0, make([]byte, 60))
	fc.Put(1, make([]byte, 60))

	if _, ok := fc.Get(0); ok {
		t.Fatal("frame 0 should have been evicted to make room for frame 1")
	}
	if _, ok := fc.Get(1); !ok {
		t.Fatal("frame 1 should still be cached")
	}
	if fc.Size() > 100 {
		t.Fatalf("Size() = %d, want <= 100", fc.Size())
	}
}

func TestFrameCachePinnedEntrySurvivesEviction(t *testing.T) {
	fc := NewFrameCache(100)

	fc.Put(0, make([]byte, 60))
	fc.Pin(0)
	fc.Put(1, make([]byte, 60))

	if _, ok := fc.Get(0); !ok {
		t.Fatal("a pinned frame should survive an eviction pass")
	}
}

func TestFrameCacheUnpinAllowsLaterEviction(t *testing.T) {
	fc := NewFrameCache(100)

	fc.Put(0, make([]byte, 60))
	fc.Pin(0)
	fc.Unpin(0)
	fc.Put(1, make([]byte, 60))

	if _, ok := fc.Get(0); ok {
		t.Fatal("frame 0 should be evictable once unpinned")
	}
}

func TestFrameCacheInvalidateRemovesEvenIfPinned(t *testing.T) {
	fc := NewFrameCache(FrameCacheBudget)
	fc.Put(0, []byte("v1"))
	fc.Pin(0)
	fc.Invalidate(0)

	if _, ok := fc.Get(0); ok {
		t.Fatal("Invalidate() should remove an entry regardless of pin state")
	}
}

func TestFrameCacheZeroBudgetDisablesEviction(t *testing.T) {
	fc := NewFrameCache(0)
	for i := uint64(0); i < 10; i++ {
		fc.Put(i, make([]byte, 1024))
	}
	for i := uint64(0); i < 10; i++ {
		if _, ok := fc.Get(i); !ok {
			t.Fatalf("frame %d should still be cached with eviction disabled", i)
		}
	}
}
