package vault

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/marmos91/dittovault/pkg/armor"
	"github.com/marmos91/dittovault/pkg/cryptoprovider"
	"github.com/marmos91/dittovault/pkg/depot"
	"github.com/marmos91/dittovault/pkg/eid"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

// magic identifies a dittovault super-block on disk.
var magic = [8]byte{'D', 'I', 'T', 'T', 'O', 'V', 'L', 'T'}

// formatVersion is bumped whenever the super-block layout changes
// incompatibly.
const formatVersion = 1

// macSize is the width of the super-block's corruption-detection tag.
// Unlike the frame and address records, most of a super-block's fields
// carry no secret (only wrappedMasterKey does, and that's already
// AEAD-sealed on its own) - so this is a checksum, not an AEAD tag, just
// as spec.md's literal field list places a bare `MAC(16)` after `seq`
// and `arm` rather than wrapping the whole record in a second cipher.
const macSize = 16

// superBlock is the fixed-layout record spec.md §6 describes, persisted
// through a dual-arm pkg/armor.Armor[uint64] keyed by depot slot 0/1.
type superBlock struct {
	volumeID        eid.Eid
	ctimeMillis     int64
	cost            cryptoprovider.Cost
	cipher          cryptoprovider.Cipher
	compress        bool
	salt            cryptoprovider.Salt
	wrappedMasterKey []byte
	rootPtr         eid.Eid // root directory fnode's entity id
	watermark       uint64  // allocator watermark as of the last commit
	lastTxID        uint64  // highest transaction id as of the last commit
}

func (sb *superBlock) marshal() []byte {
	buf := make([]byte, 0, 8+4+eid.Size+8+4+4+1+1+cryptoprovider.SaltSize+4+len(sb.wrappedMasterKey)+eid.Size+8+8)
	buf = append(buf, magic[:]...)
	buf = appendUint32(buf, formatVersion)
	buf = append(buf, sb.volumeID[:]...)
	buf = appendInt64(buf, sb.ctimeMillis)
	buf = appendUint32(buf, sb.cost.OpsLimit)
	buf = appendUint32(buf, sb.cost.MemLimit)
	buf = append(buf, byte(sb.cipher))
	buf = appendBool(buf, sb.compress)
	buf = append(buf, sb.salt[:]...)
	buf = appendUint32(buf, uint32(len(sb.wrappedMasterKey)))
	buf = append(buf, sb.wrappedMasterKey...)
	buf = append(buf, sb.rootPtr[:]...)
	buf = appendUint64(buf, sb.watermark)
	buf = appendUint64(buf, sb.lastTxID)
	return buf
}

func unmarshalSuperBlock(data []byte) (*superBlock, error) {
	const op = "vault.unmarshalSuperBlock"
	if len(data) < 8+4 {
		return nil, vaulterr.New(vaulterr.Corrupted, op, "short record")
	}
	if [8]byte(data[:8]) != magic {
		return nil, vaulterr.New(vaulterr.Corrupted, op, "bad magic")
	}
	rest := data[8:]

	ver, rest, err := takeUint32(rest)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Corrupted, op, "truncated format version")
	}
	if ver != formatVersion {
		return nil, vaulterr.New(vaulterr.Corrupted, op, fmt.Sprintf("unsupported format version %d", ver))
	}

	sb := &superBlock{}

	if len(rest) < eid.Size {
		return nil, vaulterr.New(vaulterr.Corrupted, op, "truncated volume id")
	}
	copy(sb.volumeID[:], rest[:eid.Size])
	rest = rest[eid.Size:]

	ctime, rest2, err := takeInt64(rest)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Corrupted, op, "truncated ctime")
	}
	sb.ctimeMillis = ctime
	rest = rest2

	ops, rest2, err := takeUint32(rest)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Corrupted, op, "truncated ops_limit")
	}
	rest = rest2
	mem, rest2, err := takeUint32(rest)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Corrupted, op, "truncated mem_limit")
	}
	rest = rest2
	sb.cost = cryptoprovider.Cost{OpsLimit: ops, MemLimit: mem}

	if len(rest) < 1 {
		return nil, vaulterr.New(vaulterr.Corrupted, op, "truncated cipher")
	}
	sb.cipher = cryptoprovider.Cipher(rest[0])
	rest = rest[1:]

	if len(rest) < 1 {
		return nil, vaulterr.New(vaulterr.Corrupted, op, "truncated compress flag")
	}
	sb.compress = rest[0] != 0
	rest = rest[1:]

	if len(rest) < cryptoprovider.SaltSize {
		return nil, vaulterr.New(vaulterr.Corrupted, op, "truncated salt")
	}
	copy(sb.salt[:], rest[:cryptoprovider.SaltSize])
	rest = rest[cryptoprovider.SaltSize:]

	keyLen, rest2, err := takeUint32(rest)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Corrupted, op, "truncated wrapped key length")
	}
	rest = rest2
	if uint32(len(rest)) < keyLen {
		return nil, vaulterr.New(vaulterr.Corrupted, op, "truncated wrapped key")
	}
	sb.wrappedMasterKey = append([]byte(nil), rest[:keyLen]...)
	rest = rest[keyLen:]

	if len(rest) < eid.Size {
		return nil, vaulterr.New(vaulterr.Corrupted, op, "truncated root pointer")
	}
	copy(sb.rootPtr[:], rest[:eid.Size])
	rest = rest[eid.Size:]

	watermark, rest2, err := takeUint64(rest)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Corrupted, op, "truncated watermark")
	}
	rest = rest2
	sb.watermark = watermark

	lastTxID, rest2, err := takeUint64(rest)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Corrupted, op, "truncated last txid")
	}
	_ = rest2
	sb.lastTxID = lastTxID

	return sb, nil
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendInt64(b []byte, v int64) []byte {
	return appendUint64(b, uint64(v))
}

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

func takeUint32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, vaulterr.New(vaulterr.Corrupted, "vault.takeUint32", "short read")
	}
	return binary.BigEndian.Uint32(b[:4]), b[4:], nil
}

func takeUint64(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, vaulterr.New(vaulterr.Corrupted, "vault.takeUint64", "short read")
	}
	return binary.BigEndian.Uint64(b[:8]), b[8:], nil
}

func takeInt64(b []byte) (int64, []byte, error) {
	v, rest, err := takeUint64(b)
	return int64(v), rest, err
}

// superBlockBackend adapts depot.Storable's slot-addressed super-block
// calls to armor.Backend[uint64]; Left maps to slot 0, Right to slot 1.
type superBlockBackend struct {
	depot depot.Storable
}

func (b superBlockBackend) Get(ctx context.Context, slot uint64) ([]byte, error) {
	return b.depot.GetSuperBlock(ctx, slot)
}

func (b superBlockBackend) Put(ctx context.Context, slot uint64, data []byte) error {
	return b.depot.PutSuperBlock(ctx, slot, data)
}

func armSlot(a armor.Arm) uint64 {
	if a == armor.Left {
		return 0
	}
	return 1
}

// superBlockCodec is the armor.Codec for super-block records: it appends
// seq, arm and a truncated content hash of everything before it as a
// corruption check, matching spec.md's literal `... | seq(8) | arm(1) |
// MAC(16)` trailer.
type superBlockCodec struct{}

func (superBlockCodec) Encode(seq uint64, arm armor.Arm, payload []byte) ([]byte, error) {
	out := make([]byte, 0, len(payload)+9+macSize)
	out = append(out, payload...)
	out = appendUint64(out, seq)
	out = append(out, byte(arm))
	sum := cryptoprovider.Hash(out)
	out = append(out, sum[:macSize]...)
	return out, nil
}

func (superBlockCodec) Decode(data []byte) (uint64, armor.Arm, []byte, error) {
	const op = "vault.superBlockCodec.Decode"
	if len(data) < 9+macSize {
		return 0, 0, nil, vaulterr.New(vaulterr.Corrupted, op, "short record")
	}
	body := data[:len(data)-macSize]
	wantMAC := data[len(data)-macSize:]
	sum := cryptoprovider.Hash(body)
	if !macEqual(sum[:macSize], wantMAC) {
		return 0, 0, nil, vaulterr.New(vaulterr.Corrupted, op, "mac mismatch")
	}

	payload := body[:len(body)-9]
	seq := binary.BigEndian.Uint64(body[len(payload) : len(payload)+8])
	arm := armor.Arm(body[len(payload)+8])
	return seq, arm, append([]byte(nil), payload...), nil
}

func macEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// newSuperBlockArmor returns the dual-arm record the vault's super-block
// is persisted through.
func newSuperBlockArmor(d depot.Storable) *armor.Armor[uint64] {
	return armor.New[uint64](superBlockBackend{depot: d}, superBlockCodec{}, armSlot)
}
