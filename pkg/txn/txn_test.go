package txn

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittovault/pkg/cryptoprovider"
	"github.com/marmos91/dittovault/pkg/depot/memory"
	"github.com/marmos91/dittovault/pkg/eid"
	"github.com/marmos91/dittovault/pkg/vaulterr"
	"github.com/marmos91/dittovault/pkg/volume"
	"github.com/marmos91/dittovault/pkg/wal"
)

func newTestVolume(t *testing.T) *volume.Volume {
	t.Helper()

	store := memory.New("test")
	ctx := context.Background()
	if err := store.Connect(ctx); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() = %v", err)
	}

	provider, err := cryptoprovider.New(cryptoprovider.DefaultCost, cryptoprovider.Aes)
	if err != nil {
		t.Fatalf("cryptoprovider.New() = %v", err)
	}
	masterKey, err := provider.GenMasterKey()
	if err != nil {
		t.Fatalf("GenMasterKey() = %v", err)
	}

	return volume.New(store, provider, masterKey, false, 0)
}

func newTestVolumeOverStore(t *testing.T, store *memory.Store) *volume.Volume {
	t.Helper()

	provider, err := cryptoprovider.New(cryptoprovider.DefaultCost, cryptoprovider.Aes)
	if err != nil {
		t.Fatalf("cryptoprovider.New() = %v", err)
	}
	masterKey, err := provider.GenMasterKey()
	if err != nil {
		t.Fatalf("GenMasterKey() = %v", err)
	}

	return volume.New(store, provider, masterKey, false, 0)
}

func newTestLog(t *testing.T) wal.Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wal.log")
	log, err := wal.Open(path)
	if err != nil {
		t.Fatalf("wal.Open() = %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return New(newTestVolume(t), newTestLog(t), 0)
}

func TestPutCommitIsVisibleToManagerGet(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := eid.MustNew()

	tx := m.Begin()
	if err := tx.Put(ctx, id, []byte("hello")); err != nil {
		t.Fatalf("Put() = %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() = %v", err)
	}

	got, err := m.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("Get() = %q, want %q", got, "hello")
	}
}

func TestUncommittedWriteIsInvisibleOutsideItsTransaction(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := eid.MustNew()

	tx := m.Begin()
	if err := tx.Put(ctx, id, []byte("staged")); err != nil {
		t.Fatalf("Put() = %v", err)
	}

	if _, err := m.Get(ctx, id); !vaulterr.Is(err, vaulterr.NotFound) {
		t.Fatalf("Manager.Get() before commit = %v, want NotFound", err)
	}

	got, err := tx.Get(ctx, id)
	if err != nil {
		t.Fatalf("Transaction.Get() = %v", err)
	}
	if string(got) != "staged" {
		t.Fatalf("Transaction.Get() = %q, want %q", got, "staged")
	}
}

func TestAbortLeavesDirectoryUntouched(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := eid.MustNew()

	first := m.Begin()
	if err := first.Put(ctx, id, []byte("v1")); err != nil {
		t.Fatalf("Put() = %v", err)
	}
	if err := first.Commit(ctx); err != nil {
		t.Fatalf("Commit() = %v", err)
	}

	second := m.Begin()
	if err := second.Put(ctx, id, []byte("v2, never lands")); err != nil {
		t.Fatalf("second Put() = %v", err)
	}
	if err := second.Abort(ctx); err != nil {
		t.Fatalf("Abort() = %v", err)
	}

	got, err := m.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("Get() after abort = %q, want %q (aborted write must not land)", got, "v1")
	}
}

func TestDeleteRemovesCommittedEntity(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := eid.MustNew()

	tx := m.Begin()
	if err := tx.Put(ctx, id, []byte("gone soon")); err != nil {
		t.Fatalf("Put() = %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() = %v", err)
	}

	del := m.Begin()
	if err := del.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if err := del.Commit(ctx); err != nil {
		t.Fatalf("Commit() = %v", err)
	}

	if _, err := m.Get(ctx, id); !vaulterr.Is(err, vaulterr.NotFound) {
		t.Fatalf("Get() after delete = %v, want NotFound", err)
	}
}

func TestDeleteOfUnknownEntityIsNoop(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	tx := m.Begin()
	if err := tx.Delete(ctx, eid.MustNew()); err != nil {
		t.Fatalf("Delete() on unknown id = %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() = %v", err)
	}
}

func TestPutThenDeleteSameTransactionNeverPublishes(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := eid.MustNew()

	tx := m.Begin()
	if err := tx.Put(ctx, id, []byte("short-lived")); err != nil {
		t.Fatalf("Put() = %v", err)
	}
	if err := tx.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() = %v", err)
	}

	if _, err := m.Get(ctx, id); !vaulterr.Is(err, vaulterr.NotFound) {
		t.Fatalf("Get() = %v, want NotFound (never published)", err)
	}
}

func TestCommitOnNonActiveTransactionFails(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	tx := m.Begin()
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("first Commit() = %v", err)
	}
	if err := tx.Commit(ctx); err == nil {
		t.Fatal("second Commit() on an already-committed transaction should fail")
	}
}

func TestAbortOnNonActiveTransactionFails(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	tx := m.Begin()
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() = %v", err)
	}
	if err := tx.Abort(ctx); err == nil {
		t.Fatal("Abort() on an already-committed transaction should fail")
	}
}

func TestCommitWithNoMutationsSucceeds(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	tx := m.Begin()
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() on empty transaction = %v", err)
	}
	if tx.State() != Committed {
		t.Fatalf("State() = %v, want Committed", tx.State())
	}
}

func TestSeedBootstrapsDirectory(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := eid.MustNew()

	addr, err := m.vol.Put(ctx, id, []byte("bootstrapped"))
	if err != nil {
		t.Fatalf("Put() = %v", err)
	}
	m.Seed(id, addr)

	got, ok := m.Lookup(id)
	if !ok {
		t.Fatal("Lookup() after Seed() should find the entity")
	}
	if len(got) != len(addr) {
		t.Fatalf("Lookup() addr mismatch")
	}

	readBack, err := m.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() after Seed() = %v", err)
	}
	if string(readBack) != "bootstrapped" {
		t.Fatalf("Get() = %q, want %q", readBack, "bootstrapped")
	}
}
