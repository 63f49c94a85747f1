package volume

import (
	"context"
	"testing"

	"github.com/marmos91/dittovault/pkg/cryptoprovider"
	"github.com/marmos91/dittovault/pkg/depot/memory"
	"github.com/marmos91/dittovault/pkg/eid"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

func newTestVolume(t *testing.T, compress bool) *Volume {
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

	return New(store, provider, masterKey, compress, 0)
}

func TestPutThenGetRoundTrip(t *testing.T) {
	v := newTestVolume(t, false)
	ctx := context.Background()
	id := eid.MustNew()

	want := []byte("hello, vault")
	if _, err := v.Put(ctx, id, want); err != nil {
		t.Fatalf("Put() = %v", err)
	}

	got, err := v.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("Get() = %q, want %q", got, want)
	}
}

func TestPutThenGetRoundTripCompressed(t *testing.T) {
	v := newTestVolume(t, true)
	ctx := context.Background()
	id := eid.MustNew()

	want := make([]byte, 4096)
	for i := range want {
		want[i] = byte(i % 7)
	}

	if _, err := v.Put(ctx, id, want); err != nil {
		t.Fatalf("Put() = %v", err)
	}
	got, err := v.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if string(got) != string(want) {
		t.Fatal("round trip through compression did not match")
	}
}

func TestPutExactlyOneFrameProducesOneLocSpan(t *testing.T) {
	v := newTestVolume(t, false)
	ctx := context.Background()
	id := eid.MustNew()

	data := make([]byte, frameSizeForTest())
	addr, err := v.Put(ctx, id, data)
	if err != nil {
		t.Fatalf("Put() = %v", err)
	}
	if len(addr) != 1 {
		t.Fatalf("len(addr) = %d, want 1", len(addr))
	}
}

func TestPutFrameSizePlusOneProducesTwoLocSpans(t *testing.T) {
	v := newTestVolume(t, false)
	ctx := context.Background()
	id := eid.MustNew()

	data := make([]byte, frameSizeForTest()+1)
	addr, err := v.Put(ctx, id, data)
	if err != nil {
		t.Fatalf("Put() = %v", err)
	}
	if len(addr) != 2 {
		t.Fatalf("len(addr) = %d, want 2", len(addr))
	}
}

func TestOverwriteReleasesOldBlocksAfterNewAddressWritten(t *testing.T) {
	v := newTestVolume(t, false)
	ctx := context.Background()
	id := eid.MustNew()

	if _, err := v.Put(ctx, id, []byte("version one")); err != nil {
		t.Fatalf("Put() = %v", err)
	}
	firstAddr, err := v.GetAddress(ctx, id)
	if err != nil {
		t.Fatalf("GetAddress() = %v", err)
	}

	if _, err := v.Put(ctx, id, []byte("version two, a little longer")); err != nil {
		t.Fatalf("second Put() = %v", err)
	}

	got, err := v.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if string(got) != "version two, a little longer" {
		t.Fatalf("Get() = %q, want updated content", got)
	}

	// the old span's blocks should now be released - reading them
	// directly reports NotFound rather than stale bytes.
	if len(firstAddr) > 0 {
		if _, err := v.depot.GetBlocks(ctx, firstAddr[0].Span); !vaulterr.Is(err, vaulterr.NotFound) {
			t.Fatalf("GetBlocks() on released span = %v, want NotFound", err)
		}
	}
}

func TestGetAddressMissingIsNotFound(t *testing.T) {
	v := newTestVolume(t, false)
	ctx := context.Background()

	_, err := v.GetAddress(ctx, eid.MustNew())
	if !vaulterr.Is(err, vaulterr.NotFound) {
		t.Fatalf("GetAddress() on unwritten id = %v, want NotFound", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	v := newTestVolume(t, false)
	ctx := context.Background()
	id := eid.MustNew()

	if _, err := v.Put(ctx, id, []byte("gone soon")); err != nil {
		t.Fatalf("Put() = %v", err)
	}
	if err := v.Delete(ctx, id); err != nil {
		t.Fatalf("first Delete() = %v", err)
	}
	if err := v.Delete(ctx, id); err != nil {
		t.Fatalf("second Delete() = %v, want nil (idempotent)", err)
	}

	if _, err := v.GetAddress(ctx, id); !vaulterr.Is(err, vaulterr.NotFound) {
		t.Fatalf("GetAddress() after Delete() = %v, want NotFound", err)
	}
}

func TestReadRangeReturnsSlice(t *testing.T) {
	v := newTestVolume(t, false)
	ctx := context.Background()
	id := eid.MustNew()

	want := []byte("0123456789abcdef")
	addr, err := v.Put(ctx, id, want)
	if err != nil {
		t.Fatalf("Put() = %v", err)
	}

	got, err := v.ReadRange(ctx, id, addr, 3, 5)
	if err != nil {
		t.Fatalf("ReadRange() = %v", err)
	}
	if string(got) != "34567" {
		t.Fatalf("ReadRange() = %q, want %q", got, "34567")
	}
}

func TestEmptyEntityRoundTrips(t *testing.T) {
	v := newTestVolume(t, false)
	ctx := context.Background()
	id := eid.MustNew()

	if _, err := v.Put(ctx, id, nil); err != nil {
		t.Fatalf("Put() = %v", err)
	}
	got, err := v.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Get() = %v, want empty", got)
	}
}

func frameSizeForTest() int {
	return 16 * 8192 // block.FrameSize, spelled out to avoid importing block just for this
}
