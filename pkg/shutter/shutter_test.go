package shutter

import (
	"testing"

	"github.com/marmos91/dittovault/pkg/eid"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

func TestOpenWriteRejectsSecondWriter(t *testing.T) {
	r := New()
	id := eid.MustNew()

	if err := r.OpenWrite(id, 1); err != nil {
		t.Fatalf("OpenWrite(1) = %v", err)
	}
	err := r.OpenWrite(id, 2)
	if !vaulterr.Is(err, vaulterr.InUse) {
		t.Fatalf("OpenWrite(2) while token 1 holds the writer = %v, want InUse", err)
	}
}

func TestCloseWriteReleasesHandle(t *testing.T) {
	r := New()
	id := eid.MustNew()

	if err := r.OpenWrite(id, 1); err != nil {
		t.Fatalf("OpenWrite(1) = %v", err)
	}
	r.CloseWrite(id, 1)

	if r.IsOpenForWrite(id) {
		t.Fatal("IsOpenForWrite() = true after CloseWrite, want false")
	}
	if err := r.OpenWrite(id, 2); err != nil {
		t.Fatalf("OpenWrite(2) after release = %v", err)
	}
}

func TestCloseWriteIgnoresMismatchedToken(t *testing.T) {
	r := New()
	id := eid.MustNew()

	if err := r.OpenWrite(id, 1); err != nil {
		t.Fatalf("OpenWrite(1) = %v", err)
	}
	r.CloseWrite(id, 99) // not the current writer, must be a no-op

	if !r.IsOpenForWrite(id) {
		t.Fatal("IsOpenForWrite() = false after a mismatched CloseWrite, want true")
	}
}

func TestReadersDoNotConflictWithEachOther(t *testing.T) {
	r := New()
	id := eid.MustNew()

	r.OpenRead(id)
	r.OpenRead(id)
	r.OpenRead(id)
	if got := r.ReaderCount(id); got != 3 {
		t.Fatalf("ReaderCount() = %d, want 3", got)
	}

	r.CloseRead(id)
	if got := r.ReaderCount(id); got != 2 {
		t.Fatalf("ReaderCount() after one close = %d, want 2", got)
	}
}

func TestReadersDoNotBlockOnWriter(t *testing.T) {
	r := New()
	id := eid.MustNew()

	if err := r.OpenWrite(id, 1); err != nil {
		t.Fatalf("OpenWrite(1) = %v", err)
	}
	r.OpenRead(id)
	r.OpenRead(id)

	if got := r.ReaderCount(id); got != 2 {
		t.Fatalf("ReaderCount() with a concurrent writer = %d, want 2", got)
	}
	if !r.IsOpenForWrite(id) {
		t.Fatal("IsOpenForWrite() = false while writer still holds the handle")
	}
}

func TestForgetDropsHandle(t *testing.T) {
	r := New()
	id := eid.MustNew()

	r.OpenRead(id)
	r.Forget(id)

	if got := r.ReaderCount(id); got != 0 {
		t.Fatalf("ReaderCount() after Forget = %d, want 0 (fresh handle)", got)
	}
}
