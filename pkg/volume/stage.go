package volume

import (
	"context"
	"fmt"

	"github.com/marmos91/dittovault/pkg/block"
	"github.com/marmos91/dittovault/pkg/eid"
)

// StageBlocks encodes data and writes its blocks to the depot, without
// touching id's address record. It's the staging primitive the
// transaction manager builds on: new blocks are safe to allocate
// eagerly (nothing references them yet), but publishing the address -
// the atomic moment an entity's new content becomes visible - is
// deferred to commit.
func (v *Volume) StageBlocks(ctx context.Context, id eid.Eid, data []byte) (block.Addr, error) {
	addr, encoded, err := v.encodeEntity(id, data)
	if err != nil {
		return nil, err
	}
	if addr.BlockCount() == 0 {
		return addr, nil
	}

	span := v.allocator.Allocate(addr.BlockCount())
	rebased := rebaseAddr(addr, span.Begin)

	if err := v.depot.PutBlocks(ctx, span, encoded); err != nil {
		return nil, fmt.Errorf("volume: stage blocks for %s: %w", id, err)
	}
	return rebased, nil
}

// ReleaseBlocks returns addr's blocks to the released state without
// touching any address record. Used both to undo an aborted
// transaction's staged-but-never-published blocks, and to reclaim a
// committed write's superseded old blocks.
func (v *Volume) ReleaseBlocks(ctx context.Context, addr block.Addr) error {
	return v.releaseAddr(ctx, addr)
}

// FinalizeWrite publishes newAddr as id's durable address and, once
// that succeeds, releases oldAddr's blocks (write-new-before-delete-old,
// same ordering Put itself uses). oldAddr may be nil/empty for a
// brand-new id.
func (v *Volume) FinalizeWrite(ctx context.Context, id eid.Eid, newAddr, oldAddr block.Addr) error {
	if err := v.PutAddress(ctx, id, newAddr); err != nil {
		return err
	}
	if len(oldAddr) > 0 {
		if err := v.releaseAddr(ctx, oldAddr); err != nil {
			return fmt.Errorf("volume: release superseded blocks for %s: %w", id, err)
		}
	}
	return nil
}

// FinalizeDelete releases oldAddr's blocks and removes id's address
// record. Unlike Delete, it takes the address to release directly
// rather than looking it up, since the caller (the transaction
// manager) already resolved it from its own directory. oldAddr may be
// empty and the address record may never have been written at all -
// an entity created and deleted within the same uncommitted
// transaction never reaches PutAddress - in which case this is a no-op
// beyond invalidating the cache.
func (v *Volume) FinalizeDelete(ctx context.Context, id eid.Eid, oldAddr block.Addr) error {
	if len(oldAddr) > 0 {
		if err := v.releaseAddr(ctx, oldAddr); err != nil {
			return fmt.Errorf("volume: release blocks for %s: %w", id, err)
		}
	}
	if v.addressRecordExists(ctx, id) {
		if err := v.depot.DelAddress(ctx, id); err != nil {
			return fmt.Errorf("volume: del address %s: %w", id, err)
		}
	}
	v.addrs.Invalidate(id)
	return nil
}

// Flush forces the underlying depot to durably persist any buffered
// address and block writes.
func (v *Volume) Flush(ctx context.Context) error {
	return v.depot.Flush(ctx)
}

// EncodeAddr serializes addr to its on-disk byte form, exported for the
// transaction manager's WAL record payloads.
func EncodeAddr(addr block.Addr) []byte {
	return encodeAddr(addr)
}

// DecodeAddr reverses EncodeAddr.
func DecodeAddr(data []byte) (block.Addr, error) {
	return decodeAddr(data)
}
