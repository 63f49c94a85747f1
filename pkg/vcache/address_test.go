package vcache

import (
	"testing"

	"github.com/marmos91/dittovault/pkg/block"
	"github.com/marmos91/dittovault/pkg/eid"
)

func TestAddressCachePutThenGet(t *testing.T) {
	ac := NewAddressCache(AddressCacheCapacity)
	id := eid.MustNew()
	addr := block.Addr{{Span: block.Span{Begin: 0, Count: 1}}}

	ac.Put(id, addr)

	got, ok := ac.Get(id)
	if !ok || len(got) != 1 || got[0].Span.Begin != 0 {
		t.Fatalf("Get() = %+v, %v, want %+v, true", got, ok, addr)
	}
}

func TestAddressCacheMissReturnsFalse(t *testing.T) {
	ac := NewAddressCache(AddressCacheCapacity)
	if _, ok := ac.Get(eid.MustNew()); ok {
		t.Fatal("Get() on an empty cache should miss")
	}
}

func TestAddressCacheInvalidate(t *testing.T) {
	ac := NewAddressCache(AddressCacheCapacity)
	id := eid.MustNew()
	ac.Put(id, block.Addr{})
	ac.Invalidate(id)

	if _, ok := ac.Get(id); ok {
		t.Fatal("Get() after Invalidate() should miss")
	}
}

func TestAddressCacheEvictsBeyondCapacity(t *testing.T) {
	ac := NewAddressCache(2)

	first := eid.MustNew()
	ac.Put(first, block.Addr{})
	ac.Put(eid.MustNew(), block.Addr{})
	ac.Put(eid.MustNew(), block.Addr{})

	if ac.Len() > 2 {
		t.Fatalf("Len() = %d, want <= 2", ac.Len())
	}
	if _, ok := ac.Get(first); ok {
		t.Fatal("the least recently used entry should have been evicted")
	}
}
