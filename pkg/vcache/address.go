package vcache

import (
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/marmos91/dittovault/pkg/block"
	"github.com/marmos91/dittovault/pkg/eid"
)

// AddressCacheCapacity is the default entry count for the address
// cache - small, since every entity write invalidates its own entry
// and address records are cheap to refetch from the depot.
const AddressCacheCapacity = 64

// AddressCache is a count-weighted LRU of entity addresses, keyed by
// Eid.
type AddressCache struct {
	mu  sync.Mutex
	lru *lru.Cache
}

// NewAddressCache returns an AddressCache holding at most capacity
// entries.
func NewAddressCache(capacity int) *AddressCache {
	return &AddressCache{lru: lru.New(capacity)}
}

// Get returns the cached address for id, if present.
func (ac *AddressCache) Get(id eid.Eid) (block.Addr, bool) {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	v, ok := ac.lru.Get(lru.Key(id))
	if !ok {
		return nil, false
	}
	return v.(block.Addr), true
}

// Put inserts or replaces the cached address for id.
func (ac *AddressCache) Put(id eid.Eid, addr block.Addr) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.lru.Add(lru.Key(id), addr)
}

// Invalidate drops id's cached address. Writers call this whenever an
// entity's address changes.
func (ac *AddressCache) Invalidate(id eid.Eid) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.lru.Remove(lru.Key(id))
}

// Len returns the number of entries currently cached.
func (ac *AddressCache) Len() int {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.lru.Len()
}
