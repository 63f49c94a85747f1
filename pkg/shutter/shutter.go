// Package shutter is the open-handle registry sitting above pkg/fnode: it
// tracks how many readers and which writer currently hold a file open, so a
// second writer can't open a file that's already open for write while
// readers keep running unblocked against the last committed version.
//
// Readers never block on a writer: the writer's in-progress changes are
// invisible until its transaction commits and pkg/fnode publishes the new
// Fnode, so a concurrent reader simply keeps seeing the old snapshot. The
// registry only needs to prevent two writers from racing each other.
package shutter

import (
	"sync"

	"github.com/marmos91/dittovault/pkg/eid"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

// handle tracks the open state of a single fnode.
type handle struct {
	mu      sync.Mutex
	readers int
	writer  *uint64 // owner token of the current writer, nil if none
}

// Registry maps fnode id to open-handle state.
type Registry struct {
	mu      sync.RWMutex
	handles map[eid.Eid]*handle
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{handles: make(map[eid.Eid]*handle)}
}

// getHandle returns or creates the handle for id, double-checked locking in
// the same shape the teacher's cache uses for its per-file entries.
func (r *Registry) getHandle(id eid.Eid) *handle {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if ok {
		return h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[id]; ok {
		return h
	}
	h = &handle{}
	r.handles[id] = h
	return h
}

// OpenRead registers a reader on id. Readers never conflict with each other
// or with an in-progress writer; this only ever increments a counter.
func (r *Registry) OpenRead(id eid.Eid) {
	h := r.getHandle(id)
	h.mu.Lock()
	h.readers++
	h.mu.Unlock()
}

// CloseRead releases a reader registered via OpenRead.
func (r *Registry) CloseRead(id eid.Eid) {
	h := r.getHandle(id)
	h.mu.Lock()
	if h.readers > 0 {
		h.readers--
	}
	h.mu.Unlock()
}

// OpenWrite registers token as id's exclusive writer. The caller picks
// what token means (pkg/vault uses a monotone per-handle counter, not a
// transaction id, since one open file handle outlives every individual
// Write/Truncate transaction it issues). Returns InUse if another
// writer already holds the file open.
func (r *Registry) OpenWrite(id eid.Eid, token uint64) error {
	h := r.getHandle(id)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.writer != nil {
		return vaulterr.New(vaulterr.InUse, "shutter.OpenWrite", id.String())
	}
	h.writer = &token
	return nil
}

// CloseWrite releases the writer held by token. A mismatched token
// (closing a writer that isn't the caller's own) is a no-op rather than
// an error - the caller above shutter is expected to only ever close
// the handle it opened, and a stale close must never clear a newer
// writer's claim out from under it.
func (r *Registry) CloseWrite(id eid.Eid, token uint64) {
	h := r.getHandle(id)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.writer != nil && *h.writer == token {
		h.writer = nil
	}
}

// IsOpenForWrite reports whether id currently has a writer registered.
func (r *Registry) IsOpenForWrite(id eid.Eid) bool {
	h := r.getHandle(id)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writer != nil
}

// ReaderCount reports how many readers currently hold id open.
func (r *Registry) ReaderCount(id eid.Eid) int {
	h := r.getHandle(id)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readers
}

// Forget drops id's handle entirely, once its fnode has been removed and no
// caller can plausibly re-open it under the same id again. Safe to call on
// an id with live readers/writer still registered (e.g. a concurrent
// Remove racing a reader) - it just means a subsequent open allocates a
// fresh zeroed handle, which matches this id never being reused after its
// fnode is gone.
func (r *Registry) Forget(id eid.Eid) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}
