package volume

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"

	"github.com/marmos91/dittovault/pkg/block"
	"github.com/marmos91/dittovault/pkg/cryptoprovider"
	"github.com/marmos91/dittovault/pkg/eid"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

const (
	flagPlain      byte = 0
	flagCompressed byte = 1

	// frameLenPrefix is the width, in bytes, of the sealed-length header
	// written ahead of each frame's nonce||ciphertext||tag. Padding a
	// frame up to a block multiple means the depot bytes past the real
	// ciphertext are unauthenticated zero filler; this prefix is what
	// lets decode know where that filler starts.
	frameLenPrefix = 4
)

// frameNonce derives the deterministic nonce sealing frameIdx of entity
// id: H(id || frame_index), truncated to the AEAD nonce width.
func frameNonce(id eid.Eid, frameIdx uint64) [cryptoprovider.NonceSize]byte {
	var buf [eid.Size + 8]byte
	copy(buf[:eid.Size], id[:])
	binary.BigEndian.PutUint64(buf[eid.Size:], frameIdx)

	sum := cryptoprovider.Hash(buf[:])
	var nonce [cryptoprovider.NonceSize]byte
	copy(nonce[:], sum[:cryptoprovider.NonceSize])
	return nonce
}

// encodeFrame seals one frame's plaintext and pads it to a block
// multiple, returning the bytes ready to hand to the depot.
func encodeFrame(provider *cryptoprovider.Provider, key cryptoprovider.Key, id eid.Eid, frameIdx uint64, plaintext []byte, compress bool) ([]byte, error) {
	inner, err := packInner(plaintext, compress)
	if err != nil {
		return nil, fmt.Errorf("volume: encode frame %d: %w", frameIdx, err)
	}

	nonce := frameNonce(id, frameIdx)
	sealed, err := provider.SealDeterministic(key, nonce[:], inner, nil)
	if err != nil {
		return nil, fmt.Errorf("volume: seal frame %d: %w", frameIdx, err)
	}

	total := frameLenPrefix + len(sealed)
	padded := padToBlock(total)

	out := make([]byte, padded)
	binary.BigEndian.PutUint32(out[:frameLenPrefix], uint32(len(sealed)))
	copy(out[frameLenPrefix:total], sealed)
	return out, nil
}

// decodeFrame reverses encodeFrame, given the raw (block-padded) bytes
// read back from the depot for one frame's span.
func decodeFrame(provider *cryptoprovider.Provider, key cryptoprovider.Key, id eid.Eid, frameIdx uint64, raw []byte) ([]byte, error) {
	op := fmt.Sprintf("volume.decodeFrame[%d]", frameIdx)
	if len(raw) < frameLenPrefix {
		return nil, vaulterr.New(vaulterr.Corrupted, op, id.String())
	}
	sealedLen := binary.BigEndian.Uint32(raw[:frameLenPrefix])
	end := frameLenPrefix + int(sealedLen)
	if end > len(raw) {
		return nil, vaulterr.New(vaulterr.Corrupted, op, id.String())
	}
	sealed := raw[frameLenPrefix:end]

	inner, err := provider.OpenDeterministic(key, sealed, nil)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.Corrupted, op, id.String(), err)
	}

	return unpackInner(inner)
}

func packInner(plaintext []byte, compress bool) ([]byte, error) {
	if !compress {
		out := make([]byte, 1+len(plaintext))
		out[0] = flagPlain
		copy(out[1:], plaintext)
		return out, nil
	}

	bound := lz4.CompressBlockBound(len(plaintext))
	dst := make([]byte, bound)
	var c lz4.Compressor
	n, err := c.CompressBlock(plaintext, dst)
	if err != nil || n == 0 {
		// Incompressible (or lz4 declined) - fall back to storing it
		// plain rather than growing the frame.
		out := make([]byte, 1+len(plaintext))
		out[0] = flagPlain
		copy(out[1:], plaintext)
		return out, nil
	}

	out := make([]byte, 1+4+n)
	out[0] = flagCompressed
	binary.BigEndian.PutUint32(out[1:5], uint32(len(plaintext)))
	copy(out[5:], dst[:n])
	return out, nil
}

func unpackInner(inner []byte) ([]byte, error) {
	if len(inner) == 0 {
		return nil, vaulterr.New(vaulterr.Corrupted, "volume.unpackInner", "")
	}
	switch inner[0] {
	case flagPlain:
		return append([]byte(nil), inner[1:]...), nil
	case flagCompressed:
		if len(inner) < 5 {
			return nil, vaulterr.New(vaulterr.Corrupted, "volume.unpackInner", "")
		}
		origLen := binary.BigEndian.Uint32(inner[1:5])
		dst := make([]byte, origLen)
		n, err := lz4.UncompressBlock(inner[5:], dst)
		if err != nil {
			return nil, vaulterr.Wrap(vaulterr.Corrupted, "volume.unpackInner", "", err)
		}
		return dst[:n], nil
	default:
		return nil, vaulterr.New(vaulterr.Corrupted, "volume.unpackInner", "")
	}
}

// padToBlock rounds n up to the next multiple of block.Size.
func padToBlock(n int) int {
	rem := n % block.Size
	if rem == 0 {
		return n
	}
	return n + (block.Size - rem)
}
