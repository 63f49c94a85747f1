// Package volume implements the entity storage pipeline sitting above a
// depot: splitting entity bytes into frames, sealing and padding each
// frame, allocating and placing blocks, and maintaining the address and
// frame caches that make repeated reads cheap. Entity bytes reach the
// depot through this layer; pkg/content's segments and pkg/vault's
// super-block are written to the depot directly.
package volume

import (
	"context"
	"fmt"

	"github.com/marmos91/dittovault/pkg/allocator"
	"github.com/marmos91/dittovault/pkg/armor"
	"github.com/marmos91/dittovault/pkg/block"
	"github.com/marmos91/dittovault/pkg/cryptoprovider"
	"github.com/marmos91/dittovault/pkg/depot"
	"github.com/marmos91/dittovault/pkg/eid"
	"github.com/marmos91/dittovault/pkg/vaulterr"
	"github.com/marmos91/dittovault/pkg/vcache"
)

// Subkey purposes derived from the volume master key. Each subsystem
// that needs its own key derives one here rather than reusing the
// master key, so compromising one purpose's key doesn't expose another.
const (
	purposeFrame   uint64 = 1
	purposeAddress uint64 = 2
)

// Volume owns one open depot and the crypto, allocation and caching
// state layered over it.
type Volume struct {
	depot     depot.Storable
	provider  *cryptoprovider.Provider
	frameKey  cryptoprovider.Key
	addrKey   cryptoprovider.Key
	compress  bool
	allocator *allocator.Allocator
	frames    *vcache.FrameCache
	addrs     *vcache.AddressCache
}

// New builds a Volume over an already-connected-and-opened depot.
// watermark restores the allocator's position from the volume's last
// committed super-block.
func New(d depot.Storable, provider *cryptoprovider.Provider, masterKey cryptoprovider.Key, compress bool, watermark uint64) *Volume {
	return &Volume{
		depot:     d,
		provider:  provider,
		frameKey:  provider.Derive(masterKey, purposeFrame),
		addrKey:   provider.Derive(masterKey, purposeAddress),
		compress:  compress,
		allocator: allocator.New(watermark),
		frames:    vcache.NewFrameCache(vcache.FrameCacheBudget),
		addrs:     vcache.NewAddressCache(vcache.AddressCacheCapacity),
	}
}

// Allocator exposes the volume's block allocator, e.g. for the
// transaction manager's watermark bookkeeping at commit/recovery.
func (v *Volume) Allocator() *allocator.Allocator {
	return v.allocator
}

// Put stores data under id, returning its new address. If id already
// has an address, the old one's blocks are released only after the new
// address is durably written (write-new-before-delete-old), so a crash
// between the two never leaves id without valid blocks.
func (v *Volume) Put(ctx context.Context, id eid.Eid, data []byte) (block.Addr, error) {
	addr, encoded, err := v.encodeEntity(id, data)
	if err != nil {
		return nil, err
	}

	rebased := addr
	if blocks := addr.BlockCount(); blocks > 0 {
		span := v.allocator.Allocate(blocks)
		rebased = rebaseAddr(addr, span.Begin)

		if err := v.depot.PutBlocks(ctx, span, encoded); err != nil {
			return nil, fmt.Errorf("volume: put blocks for %s: %w", id, err)
		}
	}

	oldAddr, oldErr := v.GetAddress(ctx, id)
	hadOld := oldErr == nil

	if err := v.PutAddress(ctx, id, rebased); err != nil {
		return nil, err
	}

	if hadOld {
		if err := v.releaseAddr(ctx, oldAddr); err != nil {
			return nil, fmt.Errorf("volume: release old blocks for %s: %w", id, err)
		}
	}

	return rebased, nil
}

// Get reads back the full bytes stored under id.
func (v *Volume) Get(ctx context.Context, id eid.Eid) ([]byte, error) {
	addr, err := v.GetAddress(ctx, id)
	if err != nil {
		return nil, err
	}
	return v.ReadRange(ctx, id, addr, 0, int(addr.Length()))
}

// ReadRange reads [offset, offset+length) of id's logical bytes, given
// its already-resolved address. Exported so callers that already hold
// an address (the transaction manager, replaying staged writes) don't
// pay for a redundant address lookup.
func (v *Volume) ReadRange(ctx context.Context, id eid.Eid, addr block.Addr, offset uint64, length int) ([]byte, error) {
	out := make([]byte, length)

	for fr := range block.FrameRanges(offset, length) {
		ls, ok := locSpanForFrame(addr, fr.FrameIndex)
		if !ok {
			return nil, vaulterr.New(vaulterr.NotFound, "volume.ReadRange", id.String())
		}

		plaintext, err := v.readFrame(ctx, id, fr.FrameIndex, ls)
		if err != nil {
			return nil, err
		}
		if int(fr.OffsetInFrame)+int(fr.Length) > len(plaintext) {
			return nil, vaulterr.New(vaulterr.Corrupted, "volume.ReadRange", id.String())
		}
		copy(out[fr.BufOffset:fr.BufOffset+int(fr.Length)], plaintext[fr.OffsetInFrame:int(fr.OffsetInFrame)+int(fr.Length)])
	}

	return out, nil
}

func (v *Volume) readFrame(ctx context.Context, id eid.Eid, frameIdx uint64, ls block.LocSpan) ([]byte, error) {
	if cached, ok := v.frames.Get(ls.Span.Begin); ok {
		return cached, nil
	}

	raw, err := v.depot.GetBlocks(ctx, ls.Span)
	if err != nil {
		return nil, fmt.Errorf("volume: get blocks for %s frame %d: %w", id, frameIdx, err)
	}
	plaintext, err := decodeFrame(v.provider, v.frameKey, id, frameIdx, raw)
	if err != nil {
		return nil, err
	}

	v.frames.Put(ls.Span.Begin, plaintext)
	return plaintext, nil
}

// Delete releases id's blocks and address. Not an error if id has no
// address.
func (v *Volume) Delete(ctx context.Context, id eid.Eid) error {
	addr, err := v.GetAddress(ctx, id)
	if err != nil {
		if vaulterr.Is(err, vaulterr.NotFound) {
			return nil
		}
		return err
	}

	if err := v.releaseAddr(ctx, addr); err != nil {
		return fmt.Errorf("volume: release blocks for %s: %w", id, err)
	}
	if err := v.depot.DelAddress(ctx, id); err != nil {
		return fmt.Errorf("volume: del address %s: %w", id, err)
	}
	v.addrs.Invalidate(id)
	return nil
}

// GetAddress resolves id's address through the address cache, falling
// back to the armored depot record.
func (v *Volume) GetAddress(ctx context.Context, id eid.Eid) (block.Addr, error) {
	if addr, ok := v.addrs.Get(id); ok {
		return addr, nil
	}

	a := v.newAddressArmor(id)
	payload, err := a.Load(ctx)
	if err != nil {
		if !v.addressRecordExists(ctx, id) {
			return nil, vaulterr.New(vaulterr.NotFound, "volume.GetAddress", id.String())
		}
		return nil, err
	}
	addr, err := decodeAddr(payload)
	if err != nil {
		return nil, err
	}

	v.addrs.Put(id, addr)
	return addr, nil
}

// PutAddress writes id's address through Armor and refreshes the cache.
func (v *Volume) PutAddress(ctx context.Context, id eid.Eid, addr block.Addr) error {
	a := v.newAddressArmor(id)

	// Load first, but only if a record already exists - so Write knows
	// the current seq/arm rather than clobbering a live record by
	// defaulting to Left/seq-1. A brand new id has no record on either
	// arm, which Armor.Load can't tell apart from both arms being
	// corrupted, so that check happens here instead.
	if v.addressRecordExists(ctx, id) {
		if _, err := a.Load(ctx); err != nil {
			return err
		}
	}

	if err := a.Write(ctx, encodeAddr(addr)); err != nil {
		return fmt.Errorf("volume: put address %s: %w", id, err)
	}
	v.addrs.Put(id, addr)
	return nil
}

func (v *Volume) newAddressArmor(id eid.Eid) *armor.Armor[eid.Eid] {
	codec := addressCodec{provider: v.provider, key: v.addrKey, id: id, compress: v.compress}
	return armor.New[eid.Eid](addressBackend{depot: v.depot}, codec, armKeyForID(id))
}

// addressRecordExists probes both arms directly through the depot,
// bypassing Armor's MAC check - used only to distinguish "never
// written" from "both arms present but corrupted", which Armor.Load
// itself can't tell apart.
func (v *Volume) addressRecordExists(ctx context.Context, id eid.Eid) bool {
	keyFor := armKeyForID(id)
	if _, err := v.depot.GetAddress(ctx, keyFor(armor.Left)); err == nil {
		return true
	}
	if _, err := v.depot.GetAddress(ctx, keyFor(armor.Right)); err == nil {
		return true
	}
	return false
}

func (v *Volume) releaseAddr(ctx context.Context, addr block.Addr) error {
	for _, ls := range addr {
		if err := v.depot.DelBlocks(ctx, ls.Span); err != nil {
			return err
		}
		v.frames.Invalidate(ls.Span.Begin)
	}
	return nil
}

// encodeEntity splits data into frames, seals each one, and returns an
// Addr whose spans are relative to block index 0 (rebaseAddr shifts them
// to the real allocation once Put knows it).
func (v *Volume) encodeEntity(id eid.Eid, data []byte) (block.Addr, []byte, error) {
	if len(data) == 0 {
		return block.Addr{}, nil, nil
	}

	var addr block.Addr
	var out []byte
	blockCursor := uint64(0)

	for frameIdx := uint64(0); ; frameIdx++ {
		start := frameIdx * block.FrameSize
		if start >= uint64(len(data)) {
			break
		}
		end := start + block.FrameSize
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}

		encoded, err := encodeFrame(v.provider, v.frameKey, id, frameIdx, data[start:end], v.compress)
		if err != nil {
			return nil, nil, err
		}

		blocksNeeded := uint32(len(encoded) / block.Size)
		addr = append(addr, block.LocSpan{
			Span:           block.Span{Begin: blockCursor, Count: blocksNeeded},
			OffsetInEntity: start,
			PlaintextLen:   uint32(end - start),
		})
		blockCursor += uint64(blocksNeeded)
		out = append(out, encoded...)
	}

	return addr, out, nil
}

// rebaseAddr shifts every span in addr so it starts at base instead of
// block index 0.
func rebaseAddr(addr block.Addr, base uint64) block.Addr {
	out := make(block.Addr, len(addr))
	for i, ls := range addr {
		out[i] = block.LocSpan{
			Span:           block.Span{Begin: ls.Span.Begin + base, Count: ls.Span.Count},
			OffsetInEntity: ls.OffsetInEntity,
			PlaintextLen:   ls.PlaintextLen,
		}
	}
	return out
}

// locSpanForFrame finds the LocSpan covering frameIdx's plaintext range.
func locSpanForFrame(addr block.Addr, frameIdx uint64) (block.LocSpan, bool) {
	want := frameIdx * block.FrameSize
	for _, ls := range addr {
		if ls.OffsetInEntity == want {
			return ls, true
		}
	}
	return block.LocSpan{}, false
}
