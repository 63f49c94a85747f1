// Package memory provides a volatile, in-memory depot backend for the
// mem:// scheme, used by tests and ephemeral volumes.
package memory

import (
	"context"
	"sync"

	"github.com/marmos91/dittovault/pkg/block"
	"github.com/marmos91/dittovault/pkg/depot"
	"github.com/marmos91/dittovault/pkg/eid"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

// Store is an in-memory depot.Storable implementation. Nothing it holds
// survives process exit.
type Store struct {
	mu sync.RWMutex

	super   map[uint64][]byte
	address map[eid.Eid][]byte
	blocks  map[uint64][]byte // keyed by block index

	connected   bool
	initialized bool
	closed      bool
}

// New creates a fresh in-memory store. label is accepted for symmetry
// with the other backends' constructors but otherwise ignored: two
// mem:// stores never share state regardless of label.
func New(label string) *Store {
	return &Store{
		super:   make(map[uint64][]byte),
		address: make(map[eid.Eid][]byte),
		blocks:  make(map[uint64][]byte),
	}
}

func (s *Store) Exists(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized, nil
}

func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	return nil
}

func (s *Store) Open(ctx context.Context) error {
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) GetSuperBlock(ctx context.Context, slot uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	data, ok := s.super[slot]
	if !ok {
		return nil, vaulterr.New(vaulterr.NotFound, "memory.GetSuperBlock", "")
	}
	return cloneBytes(data), nil
}

func (s *Store) PutSuperBlock(ctx context.Context, slot uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.super[slot] = cloneBytes(data)
	return nil
}

func (s *Store) GetAddress(ctx context.Context, id eid.Eid) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	data, ok := s.address[id]
	if !ok {
		return nil, vaulterr.New(vaulterr.NotFound, "memory.GetAddress", id.String())
	}
	return cloneBytes(data), nil
}

func (s *Store) PutAddress(ctx context.Context, id eid.Eid, addr []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.address[id] = cloneBytes(addr)
	return nil
}

func (s *Store) DelAddress(ctx context.Context, id eid.Eid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	delete(s.address, id)
	return nil
}

func (s *Store) GetBlocks(ctx context.Context, span block.Span) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	out := make([]byte, span.Bytes())
	for i := uint32(0); i < span.Count; i++ {
		data, ok := s.blocks[span.Begin+uint64(i)]
		if !ok {
			return nil, vaulterr.New(vaulterr.NotFound, "memory.GetBlocks", span.String())
		}
		copy(out[uint64(i)*block.Size:], data)
	}
	return out, nil
}

func (s *Store) PutBlocks(ctx context.Context, span block.Span, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if uint64(len(data)) != span.Bytes() {
		return vaulterr.New(vaulterr.InvalidArgument, "memory.PutBlocks", span.String())
	}

	for i := uint32(0); i < span.Count; i++ {
		buf := make([]byte, block.Size)
		copy(buf, data[uint64(i)*block.Size:uint64(i+1)*block.Size])
		s.blocks[span.Begin+uint64(i)] = buf
	}
	return nil
}

func (s *Store) DelBlocks(ctx context.Context, span block.Span) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	for i := uint32(0); i < span.Count; i++ {
		delete(s.blocks, span.Begin+uint64(i))
	}
	return nil
}

func (s *Store) Flush(ctx context.Context) error {
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed {
		return vaulterr.New(vaulterr.Closed, "memory", "")
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// BlockCount returns the number of blocks currently stored, for tests.
func (s *Store) BlockCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}

var _ depot.Storable = (*Store)(nil)
