// Package depot defines the storage backend interface volumes persist
// through. A depot is a dumb, crypto-agnostic byte store addressed by
// fixed super-block slot, entity id (for address records) or block span
// (for block data); every encryption, compression and indirection
// decision happens above it in pkg/volume. No code outside this package
// and its backends interprets a volume URI.
package depot

import (
	"context"

	"github.com/marmos91/dittovault/pkg/block"
	"github.com/marmos91/dittovault/pkg/eid"
)

// Storable is the capability interface every depot backend implements.
// Implementations need not be safe for concurrent use unless documented
// otherwise; callers above (pkg/volume) serialize access per volume.
type Storable interface {
	// Exists reports whether the backing store has already been
	// initialized (Init has run at this location), distinguishing
	// Create from Open at the pkg/vault layer.
	Exists(ctx context.Context) (bool, error)

	// Connect establishes the backend's connection/handle without
	// assuming a volume exists yet. Called before Init or Open.
	Connect(ctx context.Context) error

	// Init formats a fresh backing store for a new volume.
	Init(ctx context.Context) error

	// Open prepares an existing backing store for reads/writes.
	Open(ctx context.Context) error

	// Close releases the backend's resources. Safe to call once per
	// Connect.
	Close(ctx context.Context) error

	// GetSuperBlock reads the super-block record at the given arm slot.
	// Returns vaulterr.NotFound if the slot has never been written.
	GetSuperBlock(ctx context.Context, slot uint64) ([]byte, error)

	// PutSuperBlock writes the super-block record at the given arm slot,
	// replacing any previous contents there.
	PutSuperBlock(ctx context.Context, slot uint64, data []byte) error

	// GetAddress reads the address record for an entity. Returns
	// vaulterr.NotFound if none exists.
	GetAddress(ctx context.Context, id eid.Eid) ([]byte, error)

	// PutAddress writes the address record for an entity, replacing any
	// previous contents.
	PutAddress(ctx context.Context, id eid.Eid, addr []byte) error

	// DelAddress removes an entity's address record. Not an error if
	// none exists.
	DelAddress(ctx context.Context, id eid.Eid) error

	// GetBlocks reads span.Bytes() bytes of raw block data starting at
	// span.Begin.
	GetBlocks(ctx context.Context, span block.Span) ([]byte, error)

	// PutBlocks writes data to the blocks named by span. len(data) must
	// equal span.Bytes().
	PutBlocks(ctx context.Context, span block.Span, data []byte) error

	// DelBlocks releases the blocks named by span; a later GetBlocks
	// over them fails. The allocator does not hand released blocks out
	// again.
	DelBlocks(ctx context.Context, span block.Span) error

	// Flush durably persists any buffered writes.
	Flush(ctx context.Context) error
}
