package fnode

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittovault/pkg/allocator"
	"github.com/marmos91/dittovault/pkg/content"
	"github.com/marmos91/dittovault/pkg/cryptoprovider"
	"github.com/marmos91/dittovault/pkg/depot/memory"
	"github.com/marmos91/dittovault/pkg/eid"
	"github.com/marmos91/dittovault/pkg/txn"
	"github.com/marmos91/dittovault/pkg/vaulterr"
	"github.com/marmos91/dittovault/pkg/volume"
	"github.com/marmos91/dittovault/pkg/wal"
)

type testFixture struct {
	mgr  *Manager
	txns *txn.Manager
	root *Fnode
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	ctx := context.Background()

	store := memory.New("test")
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

	vol := volume.New(store, provider, masterKey, false, 0)

	path := filepath.Join(t.TempDir(), "wal.log")
	log, err := wal.Open(path)
	if err != nil {
		t.Fatalf("wal.Open() = %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })

	txns := txn.New(vol, log, 0)
	contentStore := content.New(store, provider, masterKey, vol.Allocator())
	mgr := New(txns, contentStore)

	root := NewDir(eid.MustNew(), Opts{VersionLimit: 10}, time.Now())
	mgr.Seed(root)

	return &testFixture{mgr: mgr, txns: txns, root: root}
}

func TestCreateFileThenWriteThenRead(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	now := time.Now()

	tx := f.txns.Begin()
	file, err := f.mgr.CreateFile(ctx, tx, f.root, "greeting.txt", Opts{VersionLimit: 3}, now)
	if err != nil {
		t.Fatalf("CreateFile() = %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() = %v", err)
	}

	refreshedRoot, err := f.mgr.Get(ctx, f.root.ID)
	if err != nil {
		t.Fatalf("Get(root) after commit = %v", err)
	}
	if _, ok := refreshedRoot.Entries.Lookup("greeting.txt"); !ok {
		t.Fatal("created file not visible in the root's published entries after commit")
	}

	tx2 := f.txns.Begin()
	updated, err := f.mgr.Write(ctx, tx2, file, 0, []byte("hello, vault"), time.Now())
	if err != nil {
		t.Fatalf("Write() = %v", err)
	}
	if err := tx2.Commit(ctx); err != nil {
		t.Fatalf("Commit() = %v", err)
	}

	got, err := f.mgr.content.Get(ctx, updated.Current().Chunks)
	if err != nil {
		t.Fatalf("content.Get() = %v", err)
	}
	if string(got) != "hello, vault" {
		t.Fatalf("reassembled content = %q, want %q", got, "hello, vault")
	}

	cached, err := f.mgr.Get(ctx, file.ID)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if cached.CurrLen() != uint64(len("hello, vault")) {
		t.Fatalf("CurrLen() = %d, want %d", cached.CurrLen(), len("hello, vault"))
	}
}

func TestCreateFileRejectsDuplicateName(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	now := time.Now()

	tx := f.txns.Begin()
	if _, err := f.mgr.CreateFile(ctx, tx, f.root, "dup.txt", Opts{VersionLimit: 3}, now); err != nil {
		t.Fatalf("CreateFile() = %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() = %v", err)
	}

	root, err := f.mgr.Get(ctx, f.root.ID)
	if err != nil {
		t.Fatalf("Get(root) = %v", err)
	}

	tx2 := f.txns.Begin()
	_, err = f.mgr.CreateFile(ctx, tx2, root, "dup.txt", Opts{VersionLimit: 3}, now)
	if !vaulterr.Is(err, vaulterr.AlreadyExists) {
		t.Fatalf("CreateFile() on a duplicate name = %v, want AlreadyExists", err)
	}
}

func TestWriteEvictsOldestVersionBeyondLimit(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	now := time.Now()

	tx := f.txns.Begin()
	file, err := f.mgr.CreateFile(ctx, tx, f.root, "versioned.txt", Opts{VersionLimit: 2}, now)
	if err != nil {
		t.Fatalf("CreateFile() = %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() = %v", err)
	}

	payloads := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, p := range payloads {
		tx := f.txns.Begin()
		file, err = f.mgr.Write(ctx, tx, file, 0, p, time.Now())
		if err != nil {
			t.Fatalf("Write() = %v", err)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("Commit() = %v", err)
		}
	}

	// VersionLimit is 2: the initial empty version plus "one" should both
	// have been evicted by the time "three" lands, leaving exactly 2.
	if len(file.Versions) != 2 {
		t.Fatalf("len(Versions) = %d, want 2", len(file.Versions))
	}
	got, err := f.mgr.content.Get(ctx, file.Current().Chunks)
	if err != nil {
		t.Fatalf("content.Get() = %v", err)
	}
	if string(got) != "three" {
		t.Fatalf("current version content = %q, want %q", got, "three")
	}
}
