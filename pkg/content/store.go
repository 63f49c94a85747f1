package content

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/dittovault/internal/vaultlog"
	"github.com/marmos91/dittovault/pkg/allocator"
	"github.com/marmos91/dittovault/pkg/block"
	"github.com/marmos91/dittovault/pkg/cryptoprovider"
	"github.com/marmos91/dittovault/pkg/depot"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

// purposeContent is the subkey derivation purpose for chunk sealing,
// distinct from pkg/volume's own frame and address purposes so the two
// layers never share a key even though they may share a master key and
// an allocator.
const purposeContent uint64 = 3

// Store deduplicates and stores the chunk population shared across every
// entity in a vault. It allocates blocks from the same monotone
// allocator the owning volume uses, so chunk bytes and frame bytes never
// collide in the depot's flat block space.
type Store struct {
	depot     depot.Storable
	provider  *cryptoprovider.Provider
	key       cryptoprovider.Key
	allocator *allocator.Allocator

	mu         sync.RWMutex
	chunks     map[Hash]*Chunk
	segments   map[uint64]*Segment
	activeIdx  uint64
	haveActive bool
}

// New builds a Store over an already-open depot, sharing alloc with the
// volume it backs (obtained via (*volume.Volume).Allocator()).
func New(d depot.Storable, provider *cryptoprovider.Provider, masterKey cryptoprovider.Key, alloc *allocator.Allocator) *Store {
	return &Store{
		depot:     d,
		provider:  provider,
		key:       provider.Derive(masterKey, purposeContent),
		allocator: alloc,
		chunks:    make(map[Hash]*Chunk),
		segments:  make(map[uint64]*Segment),
	}
}

// Put splits data into content-defined chunks, writing any chunk whose
// hash isn't already known and bumping the reference count of every
// chunk (new or existing) data touches. It returns the ordered list of
// chunk hashes that reconstruct data via Get.
func (s *Store) Put(ctx context.Context, data []byte) ([]Hash, error) {
	pieces := Split(data)
	hashes := make([]Hash, 0, len(pieces))

	for _, piece := range pieces {
		hash := Hash(cryptoprovider.Hash(piece))
		hashes = append(hashes, hash)

		if err := s.putOne(ctx, hash, piece); err != nil {
			return nil, err
		}
	}
	return hashes, nil
}

func (s *Store) putOne(ctx context.Context, hash Hash, plaintext []byte) error {
	s.mu.Lock()
	if c, ok := s.chunks[hash]; ok {
		c.RefCount++
		s.mu.Unlock()
		vaultlog.Debug("content: chunk refcount incremented", "hash", hash.String(), "refcount", c.RefCount)
		return nil
	}
	s.mu.Unlock()

	sealed, err := sealChunk(s.provider, s.key, hash, plaintext)
	if err != nil {
		return err
	}

	span := s.allocator.Allocate(blocksFor(len(sealed)))
	padded := padToBlockSize(sealed)
	if err := s.depot.PutBlocks(ctx, span, padded); err != nil {
		return fmt.Errorf("content: write chunk %s: %w", hash, err)
	}

	chunk := &Chunk{ID: hash, Len: uint32(len(plaintext)), RefCount: 1, Span: span}

	s.mu.Lock()
	if existing, ok := s.chunks[hash]; ok {
		// Lost a race with a concurrent Put of the same content: keep
		// the already-published chunk, bump its refcount, and let this
		// call's blocks sit orphaned - never referenced, so harmless and
		// reclaimed the next time their segment drains.
		existing.RefCount++
		s.mu.Unlock()
		vaultlog.Debug("content: concurrent chunk write deduplicated after the fact", "hash", hash.String())
		return nil
	}
	s.chunks[hash] = chunk
	s.mu.Unlock()

	s.segmentFor(span).record(span)
	vaultlog.Debug("content: new chunk written", "hash", hash.String(), "len", chunk.Len, "span", span.String())
	return nil
}

// Retain bumps the reference count of every hash in hashes without
// writing any bytes. Callers (pkg/fnode, building a new version that
// structurally shares chunks with the version it's derived from) use
// this to record that a chunk is now referenced by one more version,
// mirroring the increment Put would have performed had the same bytes
// been handed to it again.
func (s *Store) Retain(hashes []Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, hash := range hashes {
		c, ok := s.chunks[hash]
		if !ok {
			return vaulterr.New(vaulterr.NotFound, "content.Store.Retain", hash.String())
		}
		c.RefCount++
	}
	return nil
}

// Get reconstructs the plaintext named by an ordered list of chunk
// hashes, as returned by Put.
func (s *Store) Get(ctx context.Context, hashes []Hash) ([]byte, error) {
	var out []byte
	for _, hash := range hashes {
		plain, err := s.getOne(ctx, hash)
		if err != nil {
			return nil, err
		}
		out = append(out, plain...)
	}
	return out, nil
}

func (s *Store) getOne(ctx context.Context, hash Hash) ([]byte, error) {
	s.mu.RLock()
	chunk, ok := s.chunks[hash]
	s.mu.RUnlock()
	if !ok {
		return nil, vaulterr.New(vaulterr.NotFound, "content.Store.Get", hash.String())
	}

	raw, err := s.depot.GetBlocks(ctx, chunk.Span)
	if err != nil {
		return nil, fmt.Errorf("content: read chunk %s: %w", hash, err)
	}
	return openChunk(s.provider, s.key, hash, raw)
}

// Release decrements the reference count of every hash in hashes,
// cascade-deleting any chunk whose count reaches zero: its blocks are
// released back to the depot and its map entry removed. Safe to call
// with hashes an entity never actually referenced having already been
// released (e.g. a retried delete) - unknown hashes are skipped.
func (s *Store) Release(ctx context.Context, hashes []Hash) error {
	for _, hash := range hashes {
		if err := s.releaseOne(ctx, hash); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) releaseOne(ctx context.Context, hash Hash) error {
	s.mu.Lock()
	chunk, ok := s.chunks[hash]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	chunk.RefCount--
	refCount := chunk.RefCount
	if refCount > 0 {
		s.mu.Unlock()
		vaultlog.Debug("content: chunk still referenced, not deleting", "hash", hash.String(), "refcount", refCount)
		return nil
	}
	delete(s.chunks, hash)
	s.mu.Unlock()

	vaultlog.Info("content: chunk refcount reached zero, releasing blocks", "hash", hash.String(), "span", chunk.Span.String())
	if err := s.depot.DelBlocks(ctx, chunk.Span); err != nil {
		return fmt.Errorf("content: release chunk %s: %w", hash, err)
	}
	s.segmentFor(chunk.Span).forget(chunk.Span)
	return nil
}

// Chunk returns the chunk metadata for hash, for callers (e.g. segment
// draining) that need to inspect a chunk's span or refcount directly.
func (s *Store) Chunk(hash Hash) (Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[hash]
	if !ok {
		return Chunk{}, false
	}
	return *c, true
}

// blocksFor returns how many block.Size blocks are needed to hold n
// bytes.
func blocksFor(n int) uint32 {
	return uint32((n + block.Size - 1) / block.Size)
}

// padToBlockSize pads sealed up to a whole number of blocks. sealChunk's
// length prefix records exactly how many of the padded bytes are real
// ciphertext, so the padding past it is inert filler - the same
// convention pkg/volume uses for frames.
func padToBlockSize(sealed []byte) []byte {
	padded := blocksFor(len(sealed)) * block.Size
	if int(padded) == len(sealed) {
		return sealed
	}
	out := make([]byte, padded)
	copy(out, sealed)
	return out
}
