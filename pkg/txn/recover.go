package txn

import (
	"context"
	"fmt"

	"github.com/marmos91/dittovault/pkg/wal"
)

// Recover replays the WAL at open, resolving every transaction left
// behind by a crash: one with a commit marker is redone (its blocks
// are already durable in the depot, only the address publish and
// directory swap were missed), one without is discarded (its staged
// blocks are released, never having been published to any reader).
// Safe to call on a fresh volume with an empty WAL.
func (m *Manager) Recover(ctx context.Context) error {
	records, err := m.log.Recover()
	if err != nil {
		return fmt.Errorf("txn: recover: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	byTx := make(map[uint64][]wal.Record)
	committed := make(map[uint64]bool)
	var maxTxID uint64

	for _, rec := range records {
		if rec.TxID > maxTxID {
			maxTxID = rec.TxID
		}
		if rec.Action == wal.ActionCommit {
			committed[rec.TxID] = true
			continue
		}
		byTx[rec.TxID] = append(byTx[rec.TxID], rec)
	}

	for txID, recs := range byTx {
		muts, err := mutationsFromRecords(recs)
		if err != nil {
			return fmt.Errorf("txn: recover tx %d: %w", txID, err)
		}

		if committed[txID] {
			final, orphaned := collapseMutations(muts)
			for _, addr := range orphaned {
				if err := m.vol.ReleaseBlocks(ctx, addr); err != nil {
					return fmt.Errorf("txn: recover tx %d: release superseded blocks: %w", txID, err)
				}
			}
			if err := m.apply(ctx, final); err != nil {
				return fmt.Errorf("txn: recover tx %d: redo: %w", txID, err)
			}
			continue
		}

		for _, mu := range muts {
			if mu.action == wal.ActionDelete {
				continue
			}
			if err := m.vol.ReleaseBlocks(ctx, mu.newAddr); err != nil {
				return fmt.Errorf("txn: recover tx %d: discard staged blocks for %s: %w", txID, mu.id, err)
			}
		}
	}

	if current := m.nextTxID.Load(); maxTxID > current {
		m.nextTxID.Store(maxTxID)
	}

	return m.log.Truncate()
}

func mutationsFromRecords(recs []wal.Record) ([]mutation, error) {
	muts := make([]mutation, 0, len(recs))
	for _, rec := range recs {
		old, new, err := decodeMutationPayload(rec.Payload)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", rec.EntityID, err)
		}
		muts = append(muts, mutation{id: rec.EntityID, action: rec.Action, oldAddr: old, newAddr: new})
	}
	return muts, nil
}
