package content

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/dittovault/internal/vaultlog"
	"github.com/marmos91/dittovault/pkg/block"
)

// SegmentBlocks is how many blocks a segment spans (32 MiB of block
// space at the current block.Size). Chunk spans are grouped into
// segments by dividing their starting block index by this constant, so
// segments are a pure accounting overlay on the allocator's flat block
// space rather than containers chunks are placed into deliberately.
const SegmentBlocks = 4096

// drainThreshold is the live-fraction below which a segment becomes a
// candidate for draining: most of its space is dead weight from
// released chunks, worth the cost of relocating the survivors.
const drainThreshold = 0.25

// SegmentState is where a segment sits in its lifecycle.
type SegmentState int

const (
	// Free means no chunk has ever landed in this segment's block
	// range.
	Free SegmentState = iota

	// Active means this segment currently holds the allocator's
	// watermark and is still receiving new chunk writes.
	Active

	// Inactive means the watermark has moved past this segment; it no
	// longer receives new writes but may still hold live chunks.
	Inactive

	// Draining means this segment's live fraction dropped below
	// drainThreshold and its survivors are being relocated.
	Draining
)

func (s SegmentState) String() string {
	switch s {
	case Free:
		return "free"
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// Segment tracks liveness for one SegmentBlocks-wide range of the block
// address space, so the store can tell which ranges are worth
// compacting without scanning the entire chunk map.
type Segment struct {
	store *Store
	index uint64

	mu         sync.Mutex
	state      SegmentState
	totalBytes uint64 // sum of every chunk span ever recorded here
	liveBytes  uint64 // sum of spans still referenced by a live chunk
}

// segmentFor returns (creating if necessary) the segment covering
// span's starting block. Creating a segment beyond the store's current
// active one retires the old active segment to Inactive: the allocator
// never backfills a lower segment once it's moved on.
func (s *Store) segmentFor(span block.Span) *Segment {
	idx := span.Begin / SegmentBlocks

	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[idx]
	if !ok {
		seg = &Segment{store: s, index: idx, state: Active}
		s.segments[idx] = seg

		if s.haveActive && s.activeIdx != idx {
			if prev, ok := s.segments[s.activeIdx]; ok {
				prev.markInactive()
			}
		}
		s.activeIdx = idx
		s.haveActive = true
	}
	return seg
}

func (seg *Segment) record(span block.Span) {
	seg.mu.Lock()
	defer seg.mu.Unlock()
	n := span.Bytes()
	seg.totalBytes += n
	seg.liveBytes += n
	if seg.state == Free {
		seg.state = Active
	}
}

func (seg *Segment) forget(span block.Span) {
	seg.mu.Lock()
	defer seg.mu.Unlock()
	n := span.Bytes()
	if n > seg.liveBytes {
		seg.liveBytes = 0
	} else {
		seg.liveBytes -= n
	}
}

// LiveFraction reports what share of the segment's ever-recorded bytes
// are still referenced by a live chunk.
func (seg *Segment) LiveFraction() float64 {
	seg.mu.Lock()
	defer seg.mu.Unlock()
	if seg.totalBytes == 0 {
		return 1
	}
	return float64(seg.liveBytes) / float64(seg.totalBytes)
}

// State reports the segment's current lifecycle state.
func (seg *Segment) State() SegmentState {
	seg.mu.Lock()
	defer seg.mu.Unlock()
	return seg.state
}

// markInactive transitions an Active segment to Inactive once the
// allocator's watermark has moved past its range. Called by the store
// each time a chunk lands in a new, higher segment.
func (seg *Segment) markInactive() {
	seg.mu.Lock()
	defer seg.mu.Unlock()
	if seg.state == Active {
		seg.state = Inactive
	}
}

// ShouldDrain reports whether this segment is an inactive segment whose
// live fraction has fallen below drainThreshold - the gate callers
// should check before spending the I/O to call Drain.
func (seg *Segment) ShouldDrain() bool {
	seg.mu.Lock()
	state := seg.state
	seg.mu.Unlock()
	return state == Inactive && seg.LiveFraction() < drainThreshold
}

// Drain relocates every chunk whose current span falls within this
// segment to freshly allocated space at the allocator's watermark,
// updating the chunk map in place and releasing each survivor's old
// span as soon as that survivor has moved. Each relocation writes the new
// copy and updates the map before releasing the old span, so a crash
// mid-drain leaves the chunk readable at whichever location is already
// durable - never neither, and never both counted as live.
//
// Safe to call on a segment that isn't actually a drain candidate; it's
// a no-op cost-wise beyond the scan, but callers should still gate on
// ShouldDrain to avoid relocating healthy segments.
func (seg *Segment) Drain(ctx context.Context) error {
	seg.mu.Lock()
	seg.state = Draining
	seg.mu.Unlock()

	store := seg.store
	begin := seg.index * SegmentBlocks
	end := begin + SegmentBlocks

	var survivors []*Chunk
	store.mu.RLock()
	for _, c := range store.chunks {
		if c.Span.Begin >= begin && c.Span.Begin < end {
			survivors = append(survivors, c)
		}
	}
	store.mu.RUnlock()

	vaultlog.Info("content: draining segment", "segment", seg.index, "liveFraction", seg.LiveFraction(), "chunks", len(survivors))

	for _, c := range survivors {
		if err := store.relocate(ctx, c); err != nil {
			return fmt.Errorf("content: drain segment %d: relocate %s: %w", seg.index, c.ID, err)
		}
	}

	seg.mu.Lock()
	seg.totalBytes = 0
	seg.liveBytes = 0
	seg.state = Free
	seg.mu.Unlock()
	return nil
}

// relocate copies a chunk's sealed bytes to a freshly allocated span,
// publishes the new span under the store's lock, then releases the old
// one. The chunk's sealed bytes don't change (sealing is keyed to the
// chunk's hash, not its location), so this is a depot-to-depot copy, not
// a re-encrypt.
func (s *Store) relocate(ctx context.Context, c *Chunk) error {
	s.mu.Lock()
	oldSpan := c.Span
	s.mu.Unlock()

	raw, err := s.depot.GetBlocks(ctx, oldSpan)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	newSpan := s.allocator.Allocate(oldSpan.Count)
	if err := s.depot.PutBlocks(ctx, newSpan, raw); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	s.mu.Lock()
	c.Span = newSpan
	s.mu.Unlock()
	s.segmentFor(newSpan).record(newSpan)

	if err := s.depot.DelBlocks(ctx, oldSpan); err != nil {
		return fmt.Errorf("release old span: %w", err)
	}
	return nil
}
