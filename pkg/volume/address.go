package volume

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/marmos91/dittovault/pkg/armor"
	"github.com/marmos91/dittovault/pkg/block"
	"github.com/marmos91/dittovault/pkg/cryptoprovider"
	"github.com/marmos91/dittovault/pkg/depot"
	"github.com/marmos91/dittovault/pkg/eid"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

// locSpanSize is the encoded width of one block.LocSpan: Begin(8) +
// Count(4) + OffsetInEntity(8) + PlaintextLen(4).
const locSpanSize = 8 + 4 + 8 + 4

// encodeAddr serializes an Addr to its on-disk byte form.
func encodeAddr(addr block.Addr) []byte {
	out := make([]byte, 4+len(addr)*locSpanSize)
	binary.BigEndian.PutUint32(out[:4], uint32(len(addr)))
	off := 4
	for _, ls := range addr {
		binary.BigEndian.PutUint64(out[off:off+8], ls.Span.Begin)
		binary.BigEndian.PutUint32(out[off+8:off+12], ls.Span.Count)
		binary.BigEndian.PutUint64(out[off+12:off+20], ls.OffsetInEntity)
		binary.BigEndian.PutUint32(out[off+20:off+24], ls.PlaintextLen)
		off += locSpanSize
	}
	return out
}

// decodeAddr reverses encodeAddr.
func decodeAddr(data []byte) (block.Addr, error) {
	if len(data) < 4 {
		return nil, vaulterr.New(vaulterr.Corrupted, "volume.decodeAddr", "short record")
	}
	count := binary.BigEndian.Uint32(data[:4])
	want := 4 + int(count)*locSpanSize
	if len(data) != want {
		return nil, vaulterr.New(vaulterr.Corrupted, "volume.decodeAddr", "length mismatch")
	}

	addr := make(block.Addr, count)
	off := 4
	for i := range addr {
		addr[i] = block.LocSpan{
			Span: block.Span{
				Begin: binary.BigEndian.Uint64(data[off : off+8]),
				Count: binary.BigEndian.Uint32(data[off+8 : off+12]),
			},
			OffsetInEntity: binary.BigEndian.Uint64(data[off+12 : off+20]),
			PlaintextLen:   binary.BigEndian.Uint32(data[off+20 : off+24]),
		}
		off += locSpanSize
	}
	return addr, nil
}

// addressNonce derives the deterministic nonce used to seal an entity's
// address record: H(id), truncated to the AEAD nonce width. Unlike
// frames, an address has no natural per-write counter to fold into the
// nonce, so seq travels as associated data instead (see addressCodec).
func addressNonce(id eid.Eid) [cryptoprovider.NonceSize]byte {
	sum := cryptoprovider.Hash(id[:])
	var nonce [cryptoprovider.NonceSize]byte
	copy(nonce[:], sum[:cryptoprovider.NonceSize])
	return nonce
}

// addressCodec implements armor.Codec for one entity's address record:
// serialize (done by the caller, which hands us already-encoded Addr
// bytes) → optionally LZ4 compress → AEAD seal with an id-derived nonce
// and seq as associated data.
type addressCodec struct {
	provider *cryptoprovider.Provider
	key      cryptoprovider.Key
	id       eid.Eid
	compress bool
}

func (c addressCodec) Encode(seq uint64, arm armor.Arm, payload []byte) ([]byte, error) {
	inner, err := packInner(payload, c.compress)
	if err != nil {
		return nil, fmt.Errorf("volume: address codec: %w", err)
	}

	nonce := addressNonce(c.id)
	aad := seqAAD(seq)
	sealed, err := c.provider.SealDeterministic(c.key, nonce[:], inner, aad)
	if err != nil {
		return nil, fmt.Errorf("volume: address codec: seal: %w", err)
	}

	out := make([]byte, 9+len(sealed))
	binary.BigEndian.PutUint64(out[0:8], seq)
	out[8] = byte(arm)
	copy(out[9:], sealed)
	return out, nil
}

func (c addressCodec) Decode(data []byte) (uint64, armor.Arm, []byte, error) {
	if len(data) < 9 {
		return 0, 0, nil, vaulterr.New(vaulterr.Corrupted, "volume.addressCodec.Decode", c.id.String())
	}
	seq := binary.BigEndian.Uint64(data[0:8])
	arm := armor.Arm(data[8])
	sealed := data[9:]

	aad := seqAAD(seq)
	inner, err := c.provider.OpenDeterministic(c.key, sealed, aad)
	if err != nil {
		return 0, 0, nil, vaulterr.Wrap(vaulterr.Corrupted, "volume.addressCodec.Decode", c.id.String(), err)
	}
	payload, err := unpackInner(inner)
	if err != nil {
		return 0, 0, nil, err
	}
	return seq, arm, payload, nil
}

func seqAAD(seq uint64) []byte {
	aad := make([]byte, 8)
	binary.BigEndian.PutUint64(aad, seq)
	return aad
}

// addressBackend adapts depot's flat get/put_address to armor.Backend by
// hashing (id, arm) into the physical key the depot actually stores
// under, per spec's "write to H(id || target_arm)" rule.
type addressBackend struct {
	depot depot.Storable
}

func (b addressBackend) Get(ctx context.Context, key eid.Eid) ([]byte, error) {
	return b.depot.GetAddress(ctx, key)
}

func (b addressBackend) Put(ctx context.Context, key eid.Eid, data []byte) error {
	return b.depot.PutAddress(ctx, key, data)
}

// armKeyForID computes the physical per-arm depot key H(id || arm) for
// an entity's address record.
func armKeyForID(id eid.Eid) func(armor.Arm) eid.Eid {
	return func(a armor.Arm) eid.Eid {
		var buf [eid.Size + 1]byte
		copy(buf[:eid.Size], id[:])
		buf[eid.Size] = byte(a)
		sum := cryptoprovider.Hash(buf[:])
		return eid.Eid(sum)
	}
}
