package fnode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittovault/internal/vaultlog"
	"github.com/marmos91/dittovault/pkg/content"
	"github.com/marmos91/dittovault/pkg/eid"
	"github.com/marmos91/dittovault/pkg/txn"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

// Manager is the in-memory identity map and transactional front door
// over the persisted fnode population: Eid -> *Fnode, backed by
// pkg/txn for durability and pkg/content for file bodies. Directory
// entries reference children by Eid only, so the cache can never hold
// a reference cycle - the filesystem graph is a tree by construction.
// Rename here does not check for moves into a descendant; pkg/vault's
// Rename rejects those before calling it.
type Manager struct {
	txns    *txn.Manager
	content *content.Store

	mu    sync.RWMutex
	cache map[eid.Eid]*Fnode
}

// New builds a Manager over an already-open transaction manager and
// content store, sharing both with whatever else the owning vault
// wires them into.
func New(txns *txn.Manager, store *content.Store) *Manager {
	return &Manager{txns: txns, content: store, cache: make(map[eid.Eid]*Fnode)}
}

// Seed registers an already-loaded Fnode in the cache without going
// through a transaction, for bootstrapping the root directory at open.
func (m *Manager) Seed(f *Fnode) {
	m.mu.Lock()
	m.cache[f.ID] = f
	m.mu.Unlock()
}

// Get returns the fnode named by id, loading and decoding it from the
// transaction manager's committed directory on a cache miss.
func (m *Manager) Get(ctx context.Context, id eid.Eid) (*Fnode, error) {
	m.mu.RLock()
	f, ok := m.cache[id]
	m.mu.RUnlock()
	if ok {
		return f, nil
	}

	data, err := m.txns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	f, err = Unmarshal(id, data)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.cache[id]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.cache[id] = f
	m.mu.Unlock()
	return f, nil
}

// persist stages f's encoded bytes into tx; callers refresh the cache
// entry from a tx.OnCommit hook. Callers commit tx themselves after staging
// every fnode their operation touches, so a multi-fnode operation
// (e.g. create, which touches both the new file and its parent
// directory) becomes visible atomically.
func (m *Manager) persist(ctx context.Context, tx *txn.Transaction, f *Fnode) error {
	if err := tx.Put(ctx, f.ID, f.Marshal()); err != nil {
		return fmt.Errorf("fnode: stage %s: %w", f.ID, err)
	}
	return nil
}

// publish installs f into the cache, overwriting whatever was there.
// Called only after the transaction carrying f's write has committed.
func (m *Manager) publish(f *Fnode) {
	m.mu.Lock()
	m.cache[f.ID] = f
	m.mu.Unlock()
}

// evict removes id from the cache, e.g. after it's been removed from
// its parent directory and its last version dereferenced.
func (m *Manager) evict(id eid.Eid) {
	m.mu.Lock()
	delete(m.cache, id)
	m.mu.Unlock()
}

// CreateFile allocates a new, empty regular file named name inside
// parent, visible once tx's Commit succeeds.
// Fails with AlreadyExists if parent already has an entry called name.
func (m *Manager) CreateFile(ctx context.Context, tx *txn.Transaction, parent *Fnode, name string, opts Opts, now time.Time) (*Fnode, error) {
	return m.create(ctx, tx, parent, name, opts, now, File)
}

// Mkdir allocates a new, empty directory named name inside parent.
func (m *Manager) Mkdir(ctx context.Context, tx *txn.Transaction, parent *Fnode, name string, opts Opts, now time.Time) (*Fnode, error) {
	return m.create(ctx, tx, parent, name, opts, now, Dir)
}

func (m *Manager) create(ctx context.Context, tx *txn.Transaction, parent *Fnode, name string, opts Opts, now time.Time, kind Kind) (*Fnode, error) {
	if parent.Kind != Dir {
		return nil, vaulterr.New(vaulterr.NotFile, "fnode.create", name)
	}
	if _, exists := parent.Entries.Lookup(name); exists {
		return nil, vaulterr.New(vaulterr.AlreadyExists, "fnode.create", name)
	}

	id, err := eid.New()
	if err != nil {
		return nil, fmt.Errorf("fnode: allocate id for %s: %w", name, err)
	}

	var child *Fnode
	if kind == Dir {
		child = NewDir(id, opts, now)
	} else {
		child = NewFile(id, opts, now)
	}

	newParent := *parent
	newParent.Entries = cloneEntries(parent.Entries)
	newParent.Entries.Add(name, id)
	newParent.Mtime = now

	if err := m.persist(ctx, tx, child); err != nil {
		return nil, err
	}
	if err := m.persist(ctx, tx, &newParent); err != nil {
		return nil, err
	}

	tx.OnCommit(func() {
		m.publish(child)
		m.publish(&newParent)
	})

	return child, nil
}

// Write applies a positioned write to f's current version and pushes
// the resulting version, evicting the oldest if that pushes past
// f.Opts.VersionLimit.
func (m *Manager) Write(ctx context.Context, tx *txn.Transaction, f *Fnode, offset uint64, data []byte, now time.Time) (*Fnode, error) {
	if f.Kind != File {
		return nil, vaulterr.New(vaulterr.IsDir, "fnode.Write", f.ID.String())
	}
	result, err := writeAt(ctx, m.content, f.Current(), offset, data)
	if err != nil {
		return nil, err
	}
	return m.pushVersion(ctx, tx, f, result, now)
}

// Truncate shortens f to newLen, pushing a new version the same way
// Write does.
func (m *Manager) Truncate(ctx context.Context, tx *txn.Transaction, f *Fnode, newLen uint64, now time.Time) (*Fnode, error) {
	if f.Kind != File {
		return nil, vaulterr.New(vaulterr.IsDir, "fnode.Truncate", f.ID.String())
	}
	result, err := truncateAt(ctx, m.content, f.Current(), newLen)
	if err != nil {
		return nil, err
	}
	return m.pushVersion(ctx, tx, f, result, now)
}

func (m *Manager) pushVersion(ctx context.Context, tx *txn.Transaction, f *Fnode, result writeResult, now time.Time) (*Fnode, error) {
	result.version.Ctime = now

	if len(result.retained) > 0 {
		if err := m.content.Retain(result.retained); err != nil {
			return nil, fmt.Errorf("fnode: retain shared chunks: %w", err)
		}
	}

	next := *f
	next.Versions = append(append([]Version{}, f.Versions...), result.version)
	next.Mtime = now

	var evicted *Version
	if len(next.Versions) > next.Opts.VersionLimit {
		e := next.Versions[0]
		evicted = &e
		next.Versions = next.Versions[1:]
	}

	if err := m.persist(ctx, tx, &next); err != nil {
		return nil, err
	}

	tx.OnCommit(func() {
		if evicted != nil {
			if err := m.content.Release(ctx, evicted.Chunks); err != nil {
				vaultlog.Warn("fnode: release evicted version chunks failed", "fnode", f.ID.String(), "error", err.Error())
			}
		}
		m.publish(&next)
	})

	return &next, nil
}

func cloneEntries(e Entries) Entries {
	out := newEntries()
	for _, entry := range e.List() {
		out.Add(entry.Name, entry.Child)
	}
	return out
}
