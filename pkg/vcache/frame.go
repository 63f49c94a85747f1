// Package vcache holds the volume's two read-path caches: a
// byte-weighted LRU of decrypted frames, and a count-weighted LRU of
// entity addresses. Both sit in front of the depot on the read path,
// populated lazily and invalidated explicitly by writers.
package vcache

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

// FrameCacheBudget is the default byte budget for the frame cache.
const FrameCacheBudget = 4 * 1024 * 1024

// FrameInsertThreshold is the largest single frame size FrameCache will
// hold; larger frames are re-decrypted from the depot on every read
// rather than evicting most of the cache to make room for one entry.
const FrameInsertThreshold = 512 * 1024

// FrameCache is an LRU of decrypted frame plaintexts, keyed by the
// frame's first block index, weighted by total bytes held rather than
// entry count. Entries may be pinned to survive eviction while a
// transaction is actively reading or rewriting them.
type FrameCache struct {
	mu     sync.Mutex
	lru    *lru.Cache
	size   uint64
	budget uint64
	pinned map[uint64]int
}

// NewFrameCache returns a FrameCache with the given byte budget. A
// budget of zero disables eviction (unbounded growth); callers should
// pass FrameCacheBudget in production.
func NewFrameCache(budget uint64) *FrameCache {
	fc := &FrameCache{budget: budget, pinned: make(map[uint64]int)}
	fc.lru = lru.New(0)
	fc.lru.OnEvicted = func(key lru.Key, value any) {
		fc.size -= uint64(len(value.([]byte)))
	}
	return fc
}

// Get returns the cached plaintext for frameIdx, if present, and
// promotes it to most-recently-used.
func (fc *FrameCache) Get(frameIdx uint64) ([]byte, bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	v, ok := fc.lru.Get(lru.Key(frameIdx))
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Put inserts data for frameIdx, evicting unpinned entries as needed
// to stay within budget. Frames larger than FrameInsertThreshold are
// not cached at all.
func (fc *FrameCache) Put(frameIdx uint64, data []byte) {
	if uint64(len(data)) > FrameInsertThreshold {
		return
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()

	if existing, ok := fc.lru.Get(lru.Key(frameIdx)); ok {
		fc.size -= uint64(len(existing.([]byte)))
	}
	fc.lru.Add(lru.Key(frameIdx), data)
	fc.size += uint64(len(data))

	fc.evictToBudget()
}

// Invalidate drops frameIdx from the cache, regardless of pin state.
// Writers call this after a frame's on-disk contents change.
func (fc *FrameCache) Invalidate(frameIdx uint64) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.lru.Remove(lru.Key(frameIdx))
}

// Pin marks frameIdx as ineligible for eviction. Pins nest: a frame
// pinned twice needs two Unpin calls before it can be evicted again.
func (fc *FrameCache) Pin(frameIdx uint64) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.pinned[frameIdx]++
}

// Unpin releases one pin on frameIdx.
func (fc *FrameCache) Unpin(frameIdx uint64) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.pinned[frameIdx] <= 1 {
		delete(fc.pinned, frameIdx)
		return
	}
	fc.pinned[frameIdx]--
}

// Size returns the cache's current byte footprint.
func (fc *FrameCache) Size() uint64 {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.size
}

// evictToBudget removes unpinned entries, oldest first, until the
// cache is within budget. Pinned entries popped by RemoveOldest are
// re-added (returning them to most-recently-used) so a cache that's
// entirely pinned terminates instead of looping forever.
func (fc *FrameCache) evictToBudget() {
	if fc.budget == 0 {
		return
	}

	attempts := fc.lru.Len() + 1
	for fc.size > fc.budget && fc.lru.Len() > 0 && attempts > 0 {
		attempts--

		key, value, ok := fc.removeOldest()
		if !ok {
			return
		}
		frameIdx := key.(uint64)
		if fc.pinned[frameIdx] > 0 {
			fc.lru.Add(key, value)
			fc.size += uint64(len(value.([]byte)))
			continue
		}
	}
}

// removeOldest pops the LRU entry and reports its key/value, since
// groupcache's lru.Cache.RemoveOldest only fires OnEvicted rather than
// returning what it removed.
func (fc *FrameCache) removeOldest() (any, any, bool) {
	var gotKey, gotValue any
	found := false

	prevOnEvicted := fc.lru.OnEvicted
	fc.lru.OnEvicted = func(key lru.Key, value any) {
		gotKey, gotValue, found = key, value, true
		fc.size -= uint64(len(value.([]byte)))
	}
	fc.lru.RemoveOldest()
	fc.lru.OnEvicted = prevOnEvicted

	return gotKey, gotValue, found
}
