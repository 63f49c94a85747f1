package fnode

import (
	"context"
	"fmt"

	"github.com/marmos91/dittovault/pkg/content"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

// writeResult is what applying a write or truncate to a Version
// produces: the new Version, and the hashes carried over unchanged
// from the old Version that now need their content-store refcount
// bumped, since the old Version still references them too.
type writeResult struct {
	version  Version
	retained []content.Hash
}

// writeAt applies a positioned write of data to base, producing the
// version that results. offset beyond base.Len would open a sparse
// hole, which this filesystem doesn't support; offset == base.Len is a
// pure append.
func writeAt(ctx context.Context, store *content.Store, base Version, offset uint64, data []byte) (writeResult, error) {
	if len(data) == 0 {
		return writeResult{version: base}, nil
	}
	if offset > base.Len {
		return writeResult{}, vaulterr.New(vaulterr.InvalidArgument, "fnode.writeAt", "write offset past end of file")
	}

	if offset == base.Len {
		newChunks, err := store.Put(ctx, data)
		if err != nil {
			return writeResult{}, fmt.Errorf("fnode: chunk appended data: %w", err)
		}
		chunks := append(append([]content.Hash{}, base.Chunks...), newChunks...)
		return writeResult{
			version:  Version{Len: base.Len + uint64(len(data)), Chunks: chunks},
			retained: base.Chunks,
		}, nil
	}

	offsets := chunkOffsets(base.Chunks, store)
	end := offset + uint64(len(data))

	startIdx, startOff := locateChunk(offsets, base.Chunks, offset)
	endIdx, endOff := locateChunk(offsets, base.Chunks, end)

	needLeading := startOff > 0
	needTrailing := end < base.Len && endOff > 0

	var startChunk, endChunk []byte
	if needLeading {
		full, err := store.Get(ctx, []content.Hash{base.Chunks[startIdx]})
		if err != nil {
			return writeResult{}, fmt.Errorf("fnode: read split chunk: %w", err)
		}
		startChunk = full
	}
	if needTrailing {
		if endIdx == startIdx && needLeading {
			endChunk = startChunk
		} else {
			full, err := store.Get(ctx, []content.Hash{base.Chunks[endIdx]})
			if err != nil {
				return writeResult{}, fmt.Errorf("fnode: read split chunk: %w", err)
			}
			endChunk = full
		}
	}

	var leading, trailing []byte
	if needLeading {
		leading = startChunk[:startOff]
	}
	if needTrailing {
		trailing = endChunk[endOff:]
	}

	middle := make([]byte, 0, len(leading)+len(data)+len(trailing))
	middle = append(middle, leading...)
	middle = append(middle, data...)
	middle = append(middle, trailing...)

	rechunked, err := store.Put(ctx, middle)
	if err != nil {
		return writeResult{}, fmt.Errorf("fnode: chunk overwritten range: %w", err)
	}

	prefix := base.Chunks[:startIdx]
	var suffix []content.Hash
	if end < base.Len {
		suffixStart := endIdx
		if endOff > 0 {
			suffixStart = endIdx + 1
		}
		suffix = base.Chunks[suffixStart:]
	}

	chunks := make([]content.Hash, 0, len(prefix)+len(rechunked)+len(suffix))
	chunks = append(chunks, prefix...)
	chunks = append(chunks, rechunked...)
	chunks = append(chunks, suffix...)

	retained := make([]content.Hash, 0, len(prefix)+len(suffix))
	retained = append(retained, prefix...)
	retained = append(retained, suffix...)

	newLen := base.Len
	if end > newLen {
		newLen = end
	}

	return writeResult{
		version:  Version{Len: newLen, Chunks: chunks},
		retained: retained,
	}, nil
}

// truncateAt shortens base to newLen, re-chunking whatever tail of the
// last surviving chunk falls before the cut. Growing a file by
// truncation would open a sparse hole, which isn't supported.
func truncateAt(ctx context.Context, store *content.Store, base Version, newLen uint64) (writeResult, error) {
	if newLen > base.Len {
		return writeResult{}, vaulterr.New(vaulterr.InvalidArgument, "fnode.truncateAt", "truncate cannot grow a file")
	}
	if newLen == base.Len {
		return writeResult{version: base}, nil
	}

	offsets := chunkOffsets(base.Chunks, store)
	idx, off := locateChunk(offsets, base.Chunks, newLen)

	prefix := base.Chunks[:idx]
	chunks := append([]content.Hash{}, prefix...)

	if off > 0 {
		full, err := store.Get(ctx, []content.Hash{base.Chunks[idx]})
		if err != nil {
			return writeResult{}, fmt.Errorf("fnode: read truncation boundary chunk: %w", err)
		}
		tail, err := store.Put(ctx, full[:off])
		if err != nil {
			return writeResult{}, fmt.Errorf("fnode: re-chunk truncated tail: %w", err)
		}
		chunks = append(chunks, tail...)
	}

	return writeResult{
		version:  Version{Len: newLen, Chunks: chunks},
		retained: prefix,
	}, nil
}

// chunkOffsets returns the byte offset at which each chunk in chunks
// begins within the version they belong to.
func chunkOffsets(chunks []content.Hash, store *content.Store) []uint64 {
	offsets := make([]uint64, len(chunks))
	var pos uint64
	for i, h := range chunks {
		offsets[i] = pos
		if c, ok := store.Chunk(h); ok {
			pos += uint64(c.Len)
		}
	}
	return offsets
}

// locateChunk returns the index of the chunk containing byte position
// pos, and pos's offset within that chunk. pos == the version's total
// length returns (len(chunks), 0), one past the last chunk.
func locateChunk(offsets []uint64, chunks []content.Hash, pos uint64) (idx int, offsetInChunk uint64) {
	for i := len(chunks) - 1; i >= 0; i-- {
		if pos >= offsets[i] {
			return i, pos - offsets[i]
		}
	}
	return 0, pos
}
