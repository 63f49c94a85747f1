// Package txn is the transaction manager sitting above pkg/volume: it
// serializes writers, stages their mutations durably in the depot
// without publishing them, and only makes a transaction's writes
// visible to readers once its commit marker has reached the WAL and
// the volume has been flushed. A crash at any point before that leaves
// readers seeing exactly the last committed state.
package txn

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/marmos91/dittovault/pkg/block"
	"github.com/marmos91/dittovault/pkg/eid"
	"github.com/marmos91/dittovault/pkg/vaulterr"
	"github.com/marmos91/dittovault/pkg/volume"
	"github.com/marmos91/dittovault/pkg/wal"
)

// State is a transaction's position in its lifecycle.
type State int

const (
	Active State = iota
	Committing
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Committing:
		return "committing"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// mutation is one entity's staged change within a transaction: the
// address it had before the transaction touched it (for rollback and
// for releasing superseded blocks) and the address it will have after
// (for publishing at commit).
type mutation struct {
	id      eid.Eid
	action  wal.Action
	oldAddr block.Addr
	newAddr block.Addr
}

// Manager owns the single writer lock every commit serializes through,
// the directory of each live entity's last-committed address, and the
// volume and WAL the transactions it issues stage their work against.
type Manager struct {
	vol *volume.Volume
	log wal.Log

	commitMu sync.Mutex

	dirMu sync.RWMutex
	dir   map[eid.Eid]block.Addr

	nextTxID atomic.Uint64
}

// New returns a Manager over vol and log. lastTxID restores the
// transaction id counter across a reopen (the highest txid a prior
// open's super-block or WAL scan observed); pass 0 for a fresh volume.
func New(vol *volume.Volume, log wal.Log, lastTxID uint64) *Manager {
	m := &Manager{vol: vol, log: log, dir: make(map[eid.Eid]block.Addr)}
	m.nextTxID.Store(lastTxID)
	return m
}

// Seed registers id's address as already committed, without going
// through a transaction. Callers (pkg/vault, reconstructing the
// directory from its own root structure at open) use this to bootstrap
// Manager's view of what's live before any new transaction runs.
func (m *Manager) Seed(id eid.Eid, addr block.Addr) {
	m.dirMu.Lock()
	m.dir[id] = addr
	m.dirMu.Unlock()
}

// Lookup returns id's last-committed address.
func (m *Manager) Lookup(id eid.Eid) (block.Addr, bool) {
	m.dirMu.RLock()
	defer m.dirMu.RUnlock()
	addr, ok := m.dir[id]
	return addr, ok
}

// Snapshot returns a copy of every live entity's committed address, for
// a higher layer to fold into its own root/super-block representation.
func (m *Manager) Snapshot() map[eid.Eid]block.Addr {
	m.dirMu.RLock()
	defer m.dirMu.RUnlock()
	out := make(map[eid.Eid]block.Addr, len(m.dir))
	for k, v := range m.dir {
		out[k] = v
	}
	return out
}

// Get reads id's full committed bytes, bypassing any transaction in
// flight. Readers that want to see their own transaction's uncommitted
// writes should use Transaction.Get instead.
//
// dir only holds what this process has itself committed or recovered;
// an id committed in an earlier process lifetime (a clean reopen, not a
// crash) has no dir entry yet. Get falls back to the volume's own
// armored address record in that case and caches the result in dir, so
// a higher layer (pkg/fnode walking the directory tree from the
// super-block's root pointer) never has to special-case "first touch
// this lifetime" itself.
func (m *Manager) Get(ctx context.Context, id eid.Eid) ([]byte, error) {
	addr, ok := m.Lookup(id)
	if !ok {
		resolved, err := m.vol.GetAddress(ctx, id)
		if err != nil {
			return nil, err
		}
		addr = resolved
		m.Seed(id, addr)
	}
	return m.vol.ReadRange(ctx, id, addr, 0, int(addr.Length()))
}

// Begin opens a new transaction. Transactions don't block each other
// until Commit, which serializes on Manager's single commit lock.
func (m *Manager) Begin() *Transaction {
	return &Transaction{mgr: m, txID: m.nextTxID.Add(1), state: Active}
}

// Transaction stages a sequence of entity writes and deletes, visible
// to its own later reads immediately but to everyone else only once
// Commit returns successfully.
type Transaction struct {
	mgr  *Manager
	txID uint64

	mu        sync.Mutex
	state     State
	mutations []mutation
	onCommit  []func()
}

// OnCommit registers fn to run after Commit succeeds, in registration
// order. Callers above txn (e.g. pkg/fnode, publishing its in-memory
// identity cache only once a write is truly durable) use this instead
// of publishing their own state eagerly, so a transaction that never
// commits never leaks a premature update. Hooks run synchronously
// inside Commit, after every durability step has completed; a panic or
// long-running hook is the registering caller's own responsibility.
func (t *Transaction) OnCommit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCommit = append(t.onCommit, fn)
}

// ID returns the transaction's id, stable for its whole lifetime.
func (t *Transaction) ID() uint64 { return t.txID }

// State returns the transaction's current lifecycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Put stages id's new content. The blocks are written durably right
// away (StageBlocks never touches id's address record), but id's
// address isn't published - so no other reader sees the change - until
// Commit.
func (t *Transaction) Put(ctx context.Context, id eid.Eid, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return fmt.Errorf("txn: put on %s transaction", t.state)
	}

	oldAddr, existed := t.mgr.Lookup(id)
	newAddr, err := t.mgr.vol.StageBlocks(ctx, id, data)
	if err != nil {
		return err
	}

	action := wal.ActionUpdate
	if !existed {
		action = wal.ActionNew
	}

	rec := wal.Record{
		TxID:       t.txID,
		EntityType: wal.EntityAddress,
		EntityID:   id,
		Action:     action,
		Payload:    encodeMutationPayload(oldAddr, newAddr),
	}
	if err := t.mgr.log.Append(rec); err != nil {
		return fmt.Errorf("txn: append record for %s: %w", id, err)
	}

	t.mutations = append(t.mutations, mutation{id: id, action: action, oldAddr: oldAddr, newAddr: newAddr})
	return nil
}

// Delete stages id's removal. A no-op if id doesn't exist in the
// committed directory and hasn't been written earlier in this same
// transaction.
func (t *Transaction) Delete(ctx context.Context, id eid.Eid) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return fmt.Errorf("txn: delete on %s transaction", t.state)
	}

	oldAddr, existedGlobally := t.mgr.Lookup(id)
	_, stagedEarlier := t.lastMutationIndex(id)
	if !existedGlobally && !stagedEarlier {
		return nil
	}

	rec := wal.Record{
		TxID:       t.txID,
		EntityType: wal.EntityAddress,
		EntityID:   id,
		Action:     wal.ActionDelete,
		Payload:    encodeMutationPayload(oldAddr, nil),
	}
	if err := t.mgr.log.Append(rec); err != nil {
		return fmt.Errorf("txn: append record for %s: %w", id, err)
	}

	t.mutations = append(t.mutations, mutation{id: id, action: wal.ActionDelete, oldAddr: oldAddr})
	return nil
}

// runOnCommit runs every registered hook in order. Called with t.mu
// still held, matching Commit's existing lock discipline.
func (t *Transaction) runOnCommit() {
	for _, fn := range t.onCommit {
		fn()
	}
}

func (t *Transaction) lastMutationIndex(id eid.Eid) (int, bool) {
	for i := len(t.mutations) - 1; i >= 0; i-- {
		if t.mutations[i].id == id {
			return i, true
		}
	}
	return 0, false
}

// Get reads id's bytes as this transaction currently sees them: its own
// earlier writes in this transaction take precedence over the
// committed directory.
func (t *Transaction) Get(ctx context.Context, id eid.Eid) ([]byte, error) {
	t.mu.Lock()
	idx, staged := t.lastMutationIndex(id)
	var mut mutation
	if staged {
		mut = t.mutations[idx]
	}
	t.mu.Unlock()

	if staged {
		if mut.action == wal.ActionDelete {
			return nil, vaulterr.New(vaulterr.NotFound, "txn.Transaction.Get", id.String())
		}
		return t.mgr.vol.ReadRange(ctx, id, mut.newAddr, 0, int(mut.newAddr.Length()))
	}

	return t.mgr.Get(ctx, id)
}

// Commit publishes every staged mutation atomically: once it returns
// nil, every other reader of Manager sees the transaction's full set of
// changes, or (on a crash partway through) none of them.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return fmt.Errorf("txn: commit on %s transaction", t.state)
	}
	if len(t.mutations) == 0 {
		t.state = Committed
		t.runOnCommit()
		return nil
	}
	t.state = Committing

	t.mgr.commitMu.Lock()
	defer t.mgr.commitMu.Unlock()

	if err := t.mgr.log.Append(wal.Record{TxID: t.txID, Action: wal.ActionCommit}); err != nil {
		return fmt.Errorf("txn: append commit marker: %w", err)
	}
	if err := t.mgr.log.Sync(); err != nil {
		return fmt.Errorf("txn: sync wal: %w", err)
	}

	final, orphaned := collapseMutations(t.mutations)
	for _, addr := range orphaned {
		if err := t.mgr.vol.ReleaseBlocks(ctx, addr); err != nil {
			return fmt.Errorf("txn: release superseded staged blocks: %w", err)
		}
	}
	if err := t.mgr.apply(ctx, final); err != nil {
		return err
	}

	if err := t.mgr.log.Truncate(); err != nil {
		return fmt.Errorf("txn: truncate wal: %w", err)
	}

	t.state = Committed
	t.runOnCommit()
	return nil
}

// Abort discards every staged mutation: newly allocated blocks are
// released and the committed directory is left untouched. Safe to call
// on a transaction that made no mutations.
func (t *Transaction) Abort(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return fmt.Errorf("txn: abort on %s transaction", t.state)
	}

	for _, mu := range t.mutations {
		if mu.action == wal.ActionDelete {
			continue
		}
		if err := t.mgr.vol.ReleaseBlocks(ctx, mu.newAddr); err != nil {
			return fmt.Errorf("txn: release staged blocks for %s: %w", mu.id, err)
		}
	}

	t.state = Aborted
	return nil
}

// collapseMutations keeps only the last staged mutation per entity id
// (a transaction that writes the same id twice, or writes then deletes
// it, only needs its final outcome finalized) and returns the addresses
// of every superseded write so its caller can release them. Shared by
// Commit and recovery's redo, since a WAL group can contain the same
// same-id sequence a live transaction can.
func collapseMutations(muts []mutation) (final []mutation, orphaned []block.Addr) {
	lastIdx := make(map[eid.Eid]int, len(muts))
	for i, mu := range muts {
		if prev, ok := lastIdx[mu.id]; ok {
			if muts[prev].action != wal.ActionDelete && len(muts[prev].newAddr) > 0 {
				orphaned = append(orphaned, muts[prev].newAddr)
			}
		}
		lastIdx[mu.id] = i
	}

	keep := make(map[int]bool, len(lastIdx))
	for _, idx := range lastIdx {
		keep[idx] = true
	}
	for i, mu := range muts {
		if keep[i] {
			final = append(final, mu)
		}
	}
	return final, orphaned
}

// apply finalizes muts in the depot - publishing new addresses and
// releasing superseded blocks - flushes the volume, and only then
// swaps them into the committed directory. Shared by Commit and the
// redo half of crash recovery, which reconstruct the same mutation set
// from, respectively, an in-flight transaction and a recovered WAL
// group.
func (m *Manager) apply(ctx context.Context, muts []mutation) error {
	for _, mu := range muts {
		if mu.action == wal.ActionDelete {
			if err := m.vol.FinalizeDelete(ctx, mu.id, mu.oldAddr); err != nil {
				return fmt.Errorf("txn: finalize delete %s: %w", mu.id, err)
			}
			continue
		}
		if err := m.vol.FinalizeWrite(ctx, mu.id, mu.newAddr, mu.oldAddr); err != nil {
			return fmt.Errorf("txn: finalize write %s: %w", mu.id, err)
		}
	}

	if err := m.vol.Flush(ctx); err != nil {
		return fmt.Errorf("txn: flush volume: %w", err)
	}

	m.dirMu.Lock()
	for _, mu := range muts {
		if mu.action == wal.ActionDelete {
			delete(m.dir, mu.id)
		} else {
			m.dir[mu.id] = mu.newAddr
		}
	}
	m.dirMu.Unlock()

	return nil
}
