package volume

import (
	"bytes"
	"testing"

	"github.com/marmos91/dittovault/pkg/block"
	"github.com/marmos91/dittovault/pkg/cryptoprovider"
	"github.com/marmos91/dittovault/pkg/eid"
)

func newTestProviderAndKey(t *testing.T) (*cryptoprovider.Provider, cryptoprovider.Key) {
	t.Helper()
	p, err := cryptoprovider.New(cryptoprovider.DefaultCost, cryptoprovider.Aes)
	if err != nil {
		t.Fatalf("cryptoprovider.New() = %v", err)
	}
	key, err := p.GenMasterKey()
	if err != nil {
		t.Fatalf("GenMasterKey() = %v", err)
	}
	return p, key
}

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	p, key := newTestProviderAndKey(t)
	id := eid.MustNew()
	plaintext := []byte("a small frame of plaintext")

	encoded, err := encodeFrame(p, key, id, 0, plaintext, false)
	if err != nil {
		t.Fatalf("encodeFrame() = %v", err)
	}
	if len(encoded)%block.Size != 0 {
		t.Fatalf("encoded frame length %d is not a block multiple", len(encoded))
	}

	decoded, err := decodeFrame(p, key, id, 0, encoded)
	if err != nil {
		t.Fatalf("decodeFrame() = %v", err)
	}
	if !bytes.Equal(decoded, plaintext) {
		t.Fatalf("decodeFrame() = %q, want %q", decoded, plaintext)
	}
}

func TestEncodeDecodeFrameRoundTripCompressed(t *testing.T) {
	p, key := newTestProviderAndKey(t)
	id := eid.MustNew()
	plaintext := bytes.Repeat([]byte("abcdefgh"), 1000)

	encoded, err := encodeFrame(p, key, id, 3, plaintext, true)
	if err != nil {
		t.Fatalf("encodeFrame() = %v", err)
	}
	decoded, err := decodeFrame(p, key, id, 3, encoded)
	if err != nil {
		t.Fatalf("decodeFrame() = %v", err)
	}
	if !bytes.Equal(decoded, plaintext) {
		t.Fatal("compressed round trip did not match")
	}
}

func TestDecodeFrameWrongFrameIndexFailsMAC(t *testing.T) {
	p, key := newTestProviderAndKey(t)
	id := eid.MustNew()

	encoded, err := encodeFrame(p, key, id, 0, []byte("payload"), false)
	if err != nil {
		t.Fatalf("encodeFrame() = %v", err)
	}

	if _, err := decodeFrame(p, key, id, 1, encoded); err == nil {
		t.Fatal("decodeFrame() with the wrong frame index should fail authentication")
	}
}

func TestDecodeFrameWrongIDFailsMAC(t *testing.T) {
	p, key := newTestProviderAndKey(t)
	id := eid.MustNew()
	other := eid.MustNew()

	encoded, err := encodeFrame(p, key, id, 0, []byte("payload"), false)
	if err != nil {
		t.Fatalf("encodeFrame() = %v", err)
	}

	if _, err := decodeFrame(p, key, other, 0, encoded); err == nil {
		t.Fatal("decodeFrame() with the wrong id should fail authentication")
	}
}

func TestFrameNonceIsDeterministic(t *testing.T) {
	id := eid.MustNew()
	a := frameNonce(id, 5)
	b := frameNonce(id, 5)
	if a != b {
		t.Fatal("frameNonce() should be deterministic for the same (id, frame index)")
	}

	c := frameNonce(id, 6)
	if a == c {
		t.Fatal("frameNonce() should differ across frame indices")
	}
}

func TestPadToBlock(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 0},
		{1, block.Size},
		{block.Size, block.Size},
		{block.Size + 1, 2 * block.Size},
	}
	for _, c := range cases {
		if got := padToBlock(c.in); got != c.want {
			t.Errorf("padToBlock(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}
