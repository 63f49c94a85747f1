// Package content implements the vault's content-addressed chunk store:
// splitting entity bytes into variable-size chunks, deduplicating them by
// content hash, and packing the unique chunks into segments that can be
// relocated to reclaim space left behind by dead references.
//
// Unlike pkg/volume, which addresses a changeable entity by a stable id
// and re-encrypts in place, a chunk here is immutable and named by its
// own plaintext hash: two entities that happen to share a run of bytes
// always resolve to the same chunk and share its on-disk copy.
package content

import (
	"github.com/marmos91/dittovault/pkg/block"
	"github.com/marmos91/dittovault/pkg/eid"
)

// Hash is a chunk's content address: the BLAKE2b-256 digest of its
// plaintext bytes. It's the same width as eid.Eid and used directly as
// one, letting a chunk ride the same address-record and transaction
// plumbing every other entity in the vault uses.
type Hash = eid.Eid

// Chunk is one unique, deduplicated run of plaintext bytes.
type Chunk struct {
	// ID is the chunk's content hash.
	ID Hash

	// Len is the chunk's plaintext length in bytes.
	Len uint32

	// RefCount is how many live entities reference this chunk. A chunk
	// whose count drops to zero is cascade-deleted: its blocks are
	// released and its map entry removed.
	RefCount uint32

	// Span locates the chunk's sealed bytes in the depot. A chunk never
	// exceeds MaxChunkSize bytes, so one Allocate call always yields a
	// single contiguous span.
	Span block.Span
}
