// Package armor implements dual-arm atomic writes: a record is kept as
// two independently-addressed physical copies (Left and Right arms),
// each carrying a monotonically increasing sequence number, so a crash
// mid-write never leaves a volume without a valid prior copy to fall
// back to.
package armor

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/marmos91/dittovault/pkg/vaulterr"
)

// Arm names one of the two physical copies an armored record keeps.
type Arm uint8

const (
	Left Arm = iota
	Right
)

// Other returns the arm not currently holding the winning copy.
func (a Arm) Other() Arm {
	if a == Left {
		return Right
	}
	return Left
}

func (a Arm) String() string {
	if a == Left {
		return "left"
	}
	return "right"
}

// Codec turns a sequenced payload into depot bytes and back, including
// whatever authentication the caller wants (callers pass one backed by
// pkg/cryptoprovider so armor itself never touches key material).
type Codec interface {
	Encode(seq uint64, arm Arm, payload []byte) ([]byte, error)
	Decode(data []byte) (seq uint64, arm Arm, payload []byte, err error)
}

// Backend is the minimal get/put capability Armor needs from a depot key
// space. K is typically uint64 (super-block slots) or eid.Eid (address
// records); Armor is agnostic to which.
type Backend[K any] interface {
	Get(ctx context.Context, key K) ([]byte, error)
	Put(ctx context.Context, key K, data []byte) error
}

// Armor maintains one dual-arm logical record over a key space K, given
// a function that computes each arm's physical key. It is not safe for
// concurrent use by multiple goroutines against the same logical
// record without external synchronization beyond its own mutex - the
// mutex only protects Armor's in-memory seq/arm bookkeeping, not
// cross-process concurrent writers (a Non-goal).
type Armor[K any] struct {
	backend Backend[K]
	codec   Codec
	armKey  func(Arm) K

	mu     sync.Mutex
	seq    uint64
	arm    Arm
	loaded bool
}

// New returns an Armor over backend, using armKey to compute the
// physical key for each arm.
func New[K any](backend Backend[K], codec Codec, armKey func(Arm) K) *Armor[K] {
	return &Armor[K]{backend: backend, codec: codec, armKey: armKey}
}

// Load fetches both arms and returns the payload of whichever has the
// greater valid sequence number. Ties prefer Left (should be
// impossible under single-writer discipline). If one arm is missing or
// fails its MAC, the other is authoritative; if both fail, Load returns
// a vaulterr.Corrupted error.
func (a *Armor[K]) Load(ctx context.Context) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	leftSeq, leftArm, leftPayload, leftErr := a.readArm(ctx, Left)
	rightSeq, rightArm, rightPayload, rightErr := a.readArm(ctx, Right)

	switch {
	case leftErr == nil && rightErr == nil:
		if rightSeq > leftSeq {
			a.seq, a.arm, a.loaded = rightSeq, rightArm, true
			return rightPayload, nil
		}
		a.seq, a.arm, a.loaded = leftSeq, leftArm, true
		return leftPayload, nil

	case leftErr == nil:
		a.seq, a.arm, a.loaded = leftSeq, leftArm, true
		return leftPayload, nil

	case rightErr == nil:
		a.seq, a.arm, a.loaded = rightSeq, rightArm, true
		return rightPayload, nil

	default:
		return nil, vaulterr.New(vaulterr.Corrupted, "armor.Load", fmt.Sprintf("left: %v, right: %v", leftErr, rightErr))
	}
}

func (a *Armor[K]) readArm(ctx context.Context, arm Arm) (uint64, Arm, []byte, error) {
	raw, err := a.backend.Get(ctx, a.armKey(arm))
	if err != nil {
		return 0, arm, nil, err
	}
	seq, decodedArm, payload, err := a.codec.Decode(raw)
	if err != nil {
		return 0, arm, nil, err
	}
	return seq, decodedArm, payload, nil
}

// Write stores payload to whichever arm is not currently winning, with
// seq+1, then flips Armor's in-memory notion of the current arm. The
// previous winning arm is left untouched as the fallback copy.
func (a *Armor[K]) Write(ctx context.Context, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	target := a.arm.Other()
	if !a.loaded {
		target = Left
	}
	nextSeq := a.seq + 1

	data, err := a.codec.Encode(nextSeq, target, payload)
	if err != nil {
		return fmt.Errorf("armor: encode: %w", err)
	}
	if err := a.backend.Put(ctx, a.armKey(target), data); err != nil {
		return fmt.Errorf("armor: write %s arm: %w", target, err)
	}

	a.seq, a.arm, a.loaded = nextSeq, target, true
	return nil
}

// Seq returns the sequence number of the last successfully loaded or
// written record. Zero before the first Load or Write.
func (a *Armor[K]) Seq() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seq
}

// PlainCodec is a Codec that adds no encryption or authentication
// beyond a length-prefixed header, for backends (tests, the in-memory
// depot) that want armor's sequencing behavior without crypto. Volume
// code uses an AEAD-backed Codec instead; see pkg/volume.
type PlainCodec struct{}

const plainHeaderSize = 9 // seq(8) + arm(1)

func (PlainCodec) Encode(seq uint64, arm Arm, payload []byte) ([]byte, error) {
	out := make([]byte, plainHeaderSize+len(payload))
	binary.BigEndian.PutUint64(out[0:8], seq)
	out[8] = byte(arm)
	copy(out[plainHeaderSize:], payload)
	return out, nil
}

func (PlainCodec) Decode(data []byte) (uint64, Arm, []byte, error) {
	if len(data) < plainHeaderSize {
		return 0, 0, nil, vaulterr.New(vaulterr.Corrupted, "armor.PlainCodec.Decode", "short record")
	}
	seq := binary.BigEndian.Uint64(data[0:8])
	arm := Arm(data[8])
	payload := append([]byte(nil), data[plainHeaderSize:]...)
	return seq, arm, payload, nil
}
