package content

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/s2"

	"github.com/marmos91/dittovault/pkg/cryptoprovider"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

const (
	sealFlagPlain      byte = 0
	sealFlagCompressed byte = 1

	// chunkLenPrefix is the width, in bytes, of the sealed-length header
	// written ahead of each chunk's nonce||ciphertext||tag before it's
	// padded to a block multiple - the same convention pkg/volume uses
	// for frames, needed for the same reason: bytes past the real
	// ciphertext are unauthenticated zero filler, and decode needs to
	// know where that filler starts.
	chunkLenPrefix = 4
)

// chunkNonce derives the deterministic nonce sealing a chunk: H(hash),
// truncated to the AEAD nonce width. A chunk is immutable and named by
// its own hash, so unlike a frame there's no write counter to fold in -
// the hash already uniquely determines the nonce for as long as the
// chunk exists.
func chunkNonce(hash Hash) [cryptoprovider.NonceSize]byte {
	sum := cryptoprovider.Hash(hash[:])
	var nonce [cryptoprovider.NonceSize]byte
	copy(nonce[:], sum[:cryptoprovider.NonceSize])
	return nonce
}

// sealChunk compresses plaintext with s2 (falling back to storing it
// plain if s2 doesn't shrink it), seals the result under key keyed to
// hash so two different chunks never reuse a nonce, and prefixes the
// sealed length so a later pad-to-block-size doesn't get mistaken for
// ciphertext on the way back out.
func sealChunk(provider *cryptoprovider.Provider, key cryptoprovider.Key, hash Hash, plaintext []byte) ([]byte, error) {
	inner := packChunk(plaintext)

	nonce := chunkNonce(hash)
	sealed, err := provider.SealDeterministic(key, nonce[:], inner, hash[:])
	if err != nil {
		return nil, fmt.Errorf("content: seal chunk %s: %w", hash, err)
	}

	out := make([]byte, chunkLenPrefix+len(sealed))
	binary.BigEndian.PutUint32(out[:chunkLenPrefix], uint32(len(sealed)))
	copy(out[chunkLenPrefix:], sealed)
	return out, nil
}

// openChunk reverses sealChunk, given the raw (block-padded) bytes read
// back from the depot for one chunk's span.
func openChunk(provider *cryptoprovider.Provider, key cryptoprovider.Key, hash Hash, raw []byte) ([]byte, error) {
	if len(raw) < chunkLenPrefix {
		return nil, vaulterr.New(vaulterr.Corrupted, "content.openChunk", hash.String())
	}
	sealedLen := binary.BigEndian.Uint32(raw[:chunkLenPrefix])
	end := chunkLenPrefix + int(sealedLen)
	if end > len(raw) {
		return nil, vaulterr.New(vaulterr.Corrupted, "content.openChunk", hash.String())
	}
	sealed := raw[chunkLenPrefix:end]

	inner, err := provider.OpenDeterministic(key, sealed, hash[:])
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.Corrupted, "content.openChunk", hash.String(), err)
	}
	return unpackChunk(inner)
}

func packChunk(plaintext []byte) []byte {
	encoded := s2.Encode(nil, plaintext)
	if len(encoded) >= len(plaintext) {
		out := make([]byte, 1+len(plaintext))
		out[0] = sealFlagPlain
		copy(out[1:], plaintext)
		return out
	}

	out := make([]byte, 1+4+len(encoded))
	out[0] = sealFlagCompressed
	binary.BigEndian.PutUint32(out[1:5], uint32(len(plaintext)))
	copy(out[5:], encoded)
	return out
}

func unpackChunk(inner []byte) ([]byte, error) {
	if len(inner) == 0 {
		return nil, vaulterr.New(vaulterr.Corrupted, "content.unpackChunk", "")
	}
	switch inner[0] {
	case sealFlagPlain:
		return append([]byte(nil), inner[1:]...), nil
	case sealFlagCompressed:
		if len(inner) < 5 {
			return nil, vaulterr.New(vaulterr.Corrupted, "content.unpackChunk", "")
		}
		origLen := binary.BigEndian.Uint32(inner[1:5])
		dst := make([]byte, origLen)
		decoded, err := s2.Decode(dst, inner[5:])
		if err != nil {
			return nil, vaulterr.Wrap(vaulterr.Corrupted, "content.unpackChunk", "", err)
		}
		return decoded, nil
	default:
		return nil, vaulterr.New(vaulterr.Corrupted, "content.unpackChunk", "")
	}
}
