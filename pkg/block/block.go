// Package block defines the volume's storage geometry: the fixed block
// and frame sizes the depot is addressed in, and the Span/Addr types used
// to describe where an entity's bytes live.
package block

import "fmt"

const (
	// Size is the size of a block in bytes, the depot's unit of
	// allocation.
	Size = 8192

	// BlocksPerFrame is how many blocks make up one encrypted frame.
	BlocksPerFrame = 16

	// FrameSize is the size of a frame's plaintext payload in bytes
	// (Size * BlocksPerFrame).
	FrameSize = Size * BlocksPerFrame
)

// IndexForOffset returns the block index containing a given entity byte
// offset.
func IndexForOffset(offset uint64) uint64 {
	return offset / Size
}

// OffsetInBlock returns the offset within its block of a given entity
// byte offset.
func OffsetInBlock(offset uint64) uint32 {
	return uint32(offset % Size)
}

// FrameForBlock returns the frame index containing a given block index.
func FrameForBlock(blockIdx uint64) uint64 {
	return blockIdx / BlocksPerFrame
}

// Span is a contiguous run of blocks as allocated by the depot: Begin is
// the first block index, Count is how many blocks follow it.
type Span struct {
	Begin uint64
	Count uint32
}

// End returns the block index one past the last block in the span.
func (s Span) End() uint64 {
	return s.Begin + uint64(s.Count)
}

// Bytes returns the span's length in bytes.
func (s Span) Bytes() uint64 {
	return uint64(s.Count) * Size
}

// Overlaps reports whether two spans share any block.
func (s Span) Overlaps(o Span) bool {
	return s.Begin < o.End() && o.Begin < s.End()
}

func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)", s.Begin, s.End())
}

// LocSpan locates a run of an entity's plaintext bytes within the depot:
// Span names the blocks, OffsetInEntity says where those blocks' bytes
// begin in the entity's logical byte stream. PlaintextLen is the true
// number of plaintext bytes the span's frame holds, as distinct from
// Span.Bytes(), which is the block-rounded storage capacity backing
// it - a sealed frame's AEAD overhead and block padding mean the two
// are essentially never equal.
type LocSpan struct {
	Span           Span
	OffsetInEntity uint64
	PlaintextLen   uint32
}

// Addr is the full map of an entity's plaintext bytes to depot blocks,
// one LocSpan per contiguous extent. A freshly written entity has one
// LocSpan; repeated in-place overwrites of a copy-on-write entity can
// fragment it into several.
type Addr []LocSpan

// Length returns the entity's true plaintext byte length: the last
// span's offset plus its own PlaintextLen, mirroring how
// pkg/content.Chunk.Len tracks a chunk body's true length independently
// of its storage footprint.
func (a Addr) Length() uint64 {
	if len(a) == 0 {
		return 0
	}
	last := a[len(a)-1]
	return last.OffsetInEntity + uint64(last.PlaintextLen)
}

// BlockCount returns the total number of blocks addressed across all
// spans.
func (a Addr) BlockCount() uint32 {
	var n uint32
	for _, ls := range a {
		n += ls.Span.Count
	}
	return n
}

// FrameRange is a contiguous request range clipped to a single frame's
// worth of blocks, yielded by FrameRanges when splitting a read or write
// across frame boundaries.
type FrameRange struct {
	// FrameIndex is which frame the range falls in.
	FrameIndex uint64

	// OffsetInFrame is the byte offset within the frame's plaintext
	// payload.
	OffsetInFrame uint32

	// Length is the number of bytes in this range.
	Length uint32

	// BufOffset is the offset into the caller's buffer this range reads
	// from or writes to.
	BufOffset int
}

// FrameRanges iterates the frame-aligned sub-ranges of an entity-relative
// byte range [offset, offset+length), splitting at frame boundaries so
// each range can be resolved against a single cached/decrypted frame.
func FrameRanges(offset uint64, length int) func(yield func(FrameRange) bool) {
	return func(yield func(FrameRange) bool) {
		if length <= 0 {
			return
		}

		remaining := uint64(length)
		current := offset
		bufOffset := 0

		for remaining > 0 {
			frameIdx := current / FrameSize
			offsetInFrame := uint32(current % FrameSize)

			spaceInFrame := uint64(FrameSize - offsetInFrame)
			n := remaining
			if spaceInFrame < n {
				n = spaceInFrame
			}

			fr := FrameRange{
				FrameIndex:    frameIdx,
				OffsetInFrame: offsetInFrame,
				Length:        uint32(n),
				BufOffset:     bufOffset,
			}

			if !yield(fr) {
				return
			}

			current += n
			bufOffset += int(n)
			remaining -= n
		}
	}
}
