// Package file provides a durable, single-process depot backend for the
// file:// scheme: a directory holding two super-block files, one address
// file per entity, and fixed-size sector files holding block data.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/dittovault/pkg/block"
	"github.com/marmos91/dittovault/pkg/depot"
	"github.com/marmos91/dittovault/pkg/eid"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

// BlocksPerSector is the number of blocks held in a single sector file
// (4096 blocks * 8KiB = 32MiB per sector).
const BlocksPerSector = 4096

const (
	superBlockFileFmt = "super_blk.%d"
	addressDir        = "index"
	dataDir           = "data"
	sectorFileFmt     = "sector-%08d.bin"
)

// Store is a directory-backed depot.Storable. It is safe for concurrent
// use by multiple goroutines within one process; it makes no claims
// about safety across processes, matching the no-multi-writer Non-goal.
type Store struct {
	base string

	mu      sync.Mutex
	sectors map[uint64]*os.File
	deleted map[uint64]bool
	closed  bool
}

// New returns a Store rooted at base. base is created by Init if it
// doesn't already exist.
func New(base string) *Store {
	return &Store{
		base:    base,
		sectors: make(map[uint64]*os.File),
		deleted: make(map[uint64]bool),
	}
}

func (s *Store) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(filepath.Join(s.base, addressDir))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *Store) Connect(ctx context.Context) error {
	return nil
}

func (s *Store) Init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(s.base, addressDir), 0o755); err != nil {
		return fmt.Errorf("depot/file: init: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(s.base, dataDir), 0o755); err != nil {
		return fmt.Errorf("depot/file: init: %w", err)
	}
	return nil
}

func (s *Store) Open(ctx context.Context) error {
	exists, err := s.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return vaulterr.New(vaulterr.NotFound, "depot/file.Open", s.base)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, f := range s.sectors {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.sectors = nil
	s.closed = true
	return firstErr
}

func (s *Store) superBlockPath(slot uint64) string {
	return filepath.Join(s.base, fmt.Sprintf(superBlockFileFmt, slot))
}

func (s *Store) GetSuperBlock(ctx context.Context, slot uint64) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.superBlockPath(slot))
	if os.IsNotExist(err) {
		return nil, vaulterr.New(vaulterr.NotFound, "depot/file.GetSuperBlock", s.superBlockPath(slot))
	}
	if err != nil {
		return nil, fmt.Errorf("depot/file: get super block: %w", err)
	}
	return data, nil
}

func (s *Store) PutSuperBlock(ctx context.Context, slot uint64, data []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return writeFileAtomic(s.superBlockPath(slot), data)
}

func (s *Store) addressPath(id eid.Eid) string {
	return filepath.Join(s.base, addressDir, id.Prefix(), id.String())
}

func (s *Store) GetAddress(ctx context.Context, id eid.Eid) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.addressPath(id))
	if os.IsNotExist(err) {
		return nil, vaulterr.New(vaulterr.NotFound, "depot/file.GetAddress", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("depot/file: get address: %w", err)
	}
	return data, nil
}

func (s *Store) PutAddress(ctx context.Context, id eid.Eid, addr []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	path := s.addressPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("depot/file: put address: %w", err)
	}
	return writeFileAtomic(path, addr)
}

func (s *Store) DelAddress(ctx context.Context, id eid.Eid) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	err := os.Remove(s.addressPath(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("depot/file: del address: %w", err)
	}
	return nil
}

// sectorFor returns the open sector file holding blockIdx, opening (and
// creating, if necessary) it on first use.
func (s *Store) sectorFor(blockIdx uint64) (*os.File, uint64, error) {
	sectorIdx := blockIdx / BlocksPerSector
	offsetInSector := blockIdx % BlocksPerSector

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.sectors[sectorIdx]
	if !ok {
		path := filepath.Join(s.base, dataDir, fmt.Sprintf(sectorFileFmt, sectorIdx))
		var err error
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, 0, fmt.Errorf("depot/file: open sector %d: %w", sectorIdx, err)
		}
		s.sectors[sectorIdx] = f
	}
	return f, offsetInSector, nil
}

func (s *Store) GetBlocks(ctx context.Context, span block.Span) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	out := make([]byte, span.Bytes())
	for i := uint32(0); i < span.Count; i++ {
		blockIdx := span.Begin + uint64(i)
		if s.isDeleted(blockIdx) {
			return nil, vaulterr.New(vaulterr.NotFound, "depot/file.GetBlocks", span.String())
		}
		f, offsetInSector, err := s.sectorFor(blockIdx)
		if err != nil {
			return nil, err
		}
		at := int64(offsetInSector) * block.Size
		n, err := f.ReadAt(out[uint64(i)*block.Size:uint64(i+1)*block.Size], at)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("depot/file: read block %d: %w", blockIdx, err)
		}
		if n < block.Size && err == io.EOF {
			return nil, vaulterr.New(vaulterr.NotFound, "depot/file.GetBlocks", span.String())
		}
	}
	return out, nil
}

func (s *Store) isDeleted(blockIdx uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted[blockIdx]
}

func (s *Store) PutBlocks(ctx context.Context, span block.Span, data []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if uint64(len(data)) != span.Bytes() {
		return vaulterr.New(vaulterr.InvalidArgument, "depot/file.PutBlocks", span.String())
	}

	for i := uint32(0); i < span.Count; i++ {
		blockIdx := span.Begin + uint64(i)
		f, offsetInSector, err := s.sectorFor(blockIdx)
		if err != nil {
			return err
		}
		at := int64(offsetInSector) * block.Size
		if _, err := f.WriteAt(data[uint64(i)*block.Size:uint64(i+1)*block.Size], at); err != nil {
			return fmt.Errorf("depot/file: write block %d: %w", blockIdx, err)
		}
		s.clearDeleted(blockIdx)
	}
	return nil
}

// DelBlocks marks span's blocks as released. It doesn't zero, shrink
// or remove the underlying sector files, which are shared across many
// entities' spans; the tombstones live in memory only. The allocator
// never hands a released span out again, and a later PutBlocks to a
// tombstoned block clears its tombstone.
func (s *Store) DelBlocks(ctx context.Context, span block.Span) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := uint32(0); i < span.Count; i++ {
		s.deleted[span.Begin+uint64(i)] = true
	}
	return nil
}

func (s *Store) clearDeleted(blockIdx uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deleted, blockIdx)
}

func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for idx, f := range s.sectors {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("depot/file: sync sector %d: %w", idx, err)
		}
	}
	return nil
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vaulterr.New(vaulterr.Closed, "depot/file", s.base)
	}
	return nil
}

// writeFileAtomic writes data to path via a temp file + rename, so a
// crash mid-write never leaves a torn super-block or address record.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("depot/file: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("depot/file: rename %s: %w", path, err)
	}
	return nil
}

var _ depot.Storable = (*Store)(nil)
