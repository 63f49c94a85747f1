package content

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/marmos91/dittovault/pkg/cryptoprovider"
	"github.com/marmos91/dittovault/pkg/eid"
	"github.com/marmos91/dittovault/pkg/txn"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

// manifestID is the fixed entity id the chunk map is checkpointed under.
// It's derived from a constant label rather than drawn from the RNG, so
// every open of the same vault resolves to the same manifest entity -
// and, being a hash of text no chunk's plaintext will ever equal, it
// can't collide with a real content hash.
var manifestID = eid.Eid(cryptoprovider.Hash([]byte("dittovault/content-manifest")))

const manifestRecordSize = eid.Size + 4 + 4 + 8 + 4 // id + len + refcount + span.Begin + span.Count

// Checkpoint serializes the current chunk map and writes it as tx's
// manifest mutation. The chunk map is reconstructable from the fnode
// tree in the worst case (every chunk is referenced from some file's
// chunk list), so losing an uncheckpointed update to a crash is a
// recoverable scan, not data loss - this simply makes the common case
// (clean reopen) fast.
func (s *Store) Checkpoint(ctx context.Context, tx *txn.Transaction) error {
	s.mu.RLock()
	buf := make([]byte, 0, 4+len(s.chunks)*manifestRecordSize)
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(s.chunks)))
	buf = append(buf, countBuf[:]...)

	for hash, c := range s.chunks {
		var rec [manifestRecordSize]byte
		off := 0
		copy(rec[off:off+eid.Size], hash[:])
		off += eid.Size
		binary.BigEndian.PutUint32(rec[off:off+4], c.Len)
		off += 4
		binary.BigEndian.PutUint32(rec[off:off+4], c.RefCount)
		off += 4
		binary.BigEndian.PutUint64(rec[off:off+8], c.Span.Begin)
		off += 8
		binary.BigEndian.PutUint32(rec[off:off+4], c.Span.Count)
		buf = append(buf, rec[:]...)
	}
	s.mu.RUnlock()

	if err := tx.Put(ctx, manifestID, buf); err != nil {
		return fmt.Errorf("content: checkpoint manifest: %w", err)
	}
	return nil
}

// Restore loads the chunk map previously written by Checkpoint. A
// vault that has never checkpointed (fresh create) resolves NotFound,
// which Restore treats as an empty map rather than an error.
func (s *Store) Restore(ctx context.Context, mgr *txn.Manager) error {
	data, err := mgr.Get(ctx, manifestID)
	if err != nil {
		if vaulterr.Is(err, vaulterr.NotFound) {
			return nil
		}
		return fmt.Errorf("content: restore manifest: %w", err)
	}

	if len(data) < 4 {
		return vaulterr.New(vaulterr.Corrupted, "content.Store.Restore", "short manifest")
	}
	count := binary.BigEndian.Uint32(data[:4])
	want := 4 + int(count)*manifestRecordSize
	if len(data) != want {
		return vaulterr.New(vaulterr.Corrupted, "content.Store.Restore", "length mismatch")
	}

	chunks := make(map[Hash]*Chunk, count)
	segments := make(map[uint64]*Segment)
	off := 4
	for i := uint32(0); i < count; i++ {
		var hash Hash
		copy(hash[:], data[off:off+eid.Size])
		off += eid.Size
		length := binary.BigEndian.Uint32(data[off : off+4])
		off += 4
		refCount := binary.BigEndian.Uint32(data[off : off+4])
		off += 4
		begin := binary.BigEndian.Uint64(data[off : off+8])
		off += 8
		count32 := binary.BigEndian.Uint32(data[off : off+4])
		off += 4

		c := &Chunk{ID: hash, Len: length, RefCount: refCount}
		c.Span.Begin = begin
		c.Span.Count = count32
		chunks[hash] = c

		idx := begin / SegmentBlocks
		seg, ok := segments[idx]
		if !ok {
			seg = &Segment{store: s, index: idx, state: Inactive}
			segments[idx] = seg
		}
		seg.record(c.Span)
	}

	s.mu.Lock()
	s.chunks = chunks
	s.segments = segments
	s.mu.Unlock()
	return nil
}
