// Package badger provides a depot backend for the badger:// scheme,
// backing a volume with an embedded github.com/dgraph-io/badger/v4 KV
// store instead of raw sector files. Useful where the host process
// already manages a badger instance (e.g. alongside other metadata) and
// wants the volume co-located in it.
package badger

import (
	"context"
	"errors"
	"fmt"

	bdg "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittovault/pkg/block"
	"github.com/marmos91/dittovault/pkg/depot"
	"github.com/marmos91/dittovault/pkg/eid"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

const (
	superBlockPrefix = "sb/"
	addressPrefix    = "addr/"
	blockPrefix      = "blk/"
	initKey          = "meta/init"
)

// Store is a badger-backed depot.Storable.
type Store struct {
	path string
	db   *bdg.DB
}

// New returns a Store whose badger database lives at path.
func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Exists(ctx context.Context) (bool, error) {
	if s.db == nil {
		return false, nil
	}
	exists := false
	err := s.db.View(func(txn *bdg.Txn) error {
		_, err := txn.Get([]byte(initKey))
		if err == nil {
			exists = true
			return nil
		}
		if errors.Is(err, bdg.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	return exists, err
}

func (s *Store) Connect(ctx context.Context) error {
	opts := bdg.DefaultOptions(s.path).WithLogger(nil)
	db, err := bdg.Open(opts)
	if err != nil {
		return fmt.Errorf("depot/badger: open: %w", err)
	}
	s.db = db
	return nil
}

func (s *Store) Init(ctx context.Context) error {
	return s.set(initKey, []byte{1})
}

func (s *Store) Open(ctx context.Context) error {
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) GetSuperBlock(ctx context.Context, slot uint64) ([]byte, error) {
	return s.get(fmt.Sprintf("%s%d", superBlockPrefix, slot))
}

func (s *Store) PutSuperBlock(ctx context.Context, slot uint64, data []byte) error {
	return s.set(fmt.Sprintf("%s%d", superBlockPrefix, slot), data)
}

func (s *Store) GetAddress(ctx context.Context, id eid.Eid) ([]byte, error) {
	return s.get(addressPrefix + id.String())
}

func (s *Store) PutAddress(ctx context.Context, id eid.Eid, addr []byte) error {
	return s.set(addressPrefix+id.String(), addr)
}

func (s *Store) DelAddress(ctx context.Context, id eid.Eid) error {
	if s.db == nil {
		return vaulterr.New(vaulterr.Closed, "depot/badger", s.path)
	}
	err := s.db.Update(func(txn *bdg.Txn) error {
		err := txn.Delete([]byte(addressPrefix + id.String()))
		if errors.Is(err, bdg.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("depot/badger: del address: %w", err)
	}
	return nil
}

func (s *Store) GetBlocks(ctx context.Context, span block.Span) ([]byte, error) {
	if s.db == nil {
		return nil, vaulterr.New(vaulterr.Closed, "depot/badger", s.path)
	}

	out := make([]byte, span.Bytes())
	err := s.db.View(func(txn *bdg.Txn) error {
		for i := uint32(0); i < span.Count; i++ {
			blockIdx := span.Begin + uint64(i)
			item, err := txn.Get(blockKey(blockIdx))
			if errors.Is(err, bdg.ErrKeyNotFound) {
				return vaulterr.New(vaulterr.NotFound, "depot/badger.GetBlocks", span.String())
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				copy(out[uint64(i)*block.Size:], val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) PutBlocks(ctx context.Context, span block.Span, data []byte) error {
	if s.db == nil {
		return vaulterr.New(vaulterr.Closed, "depot/badger", s.path)
	}
	if uint64(len(data)) != span.Bytes() {
		return vaulterr.New(vaulterr.InvalidArgument, "depot/badger.PutBlocks", span.String())
	}

	return s.db.Update(func(txn *bdg.Txn) error {
		for i := uint32(0); i < span.Count; i++ {
			blockIdx := span.Begin + uint64(i)
			buf := make([]byte, block.Size)
			copy(buf, data[uint64(i)*block.Size:uint64(i+1)*block.Size])
			if err := txn.Set(blockKey(blockIdx), buf); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DelBlocks(ctx context.Context, span block.Span) error {
	if s.db == nil {
		return vaulterr.New(vaulterr.Closed, "depot/badger", s.path)
	}
	return s.db.Update(func(txn *bdg.Txn) error {
		for i := uint32(0); i < span.Count; i++ {
			blockIdx := span.Begin + uint64(i)
			err := txn.Delete(blockKey(blockIdx))
			if err != nil && !errors.Is(err, bdg.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Flush(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Sync()
}

func (s *Store) get(key string) ([]byte, error) {
	if s.db == nil {
		return nil, vaulterr.New(vaulterr.Closed, "depot/badger", s.path)
	}
	var out []byte
	err := s.db.View(func(txn *bdg.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, bdg.ErrKeyNotFound) {
			return vaulterr.New(vaulterr.NotFound, "depot/badger", key)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) set(key string, data []byte) error {
	if s.db == nil {
		return vaulterr.New(vaulterr.Closed, "depot/badger", s.path)
	}
	err := s.db.Update(func(txn *bdg.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("depot/badger: set %s: %w", key, err)
	}
	return nil
}

func blockKey(blockIdx uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", blockPrefix, blockIdx))
}

var _ depot.Storable = (*Store)(nil)
