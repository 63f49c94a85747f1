// Package eid defines the entity identifier used for every persisted
// object above the depot layer.
package eid

import (
	"encoding/hex"
	"fmt"

	"github.com/marmos91/dittovault/pkg/cryptoprovider"
)

// Size is the width of an entity id in bytes.
const Size = 32

// Eid is an opaque identifier drawn from the RNG at creation. Everything
// the volume persists above the depot - super-blocks excepted, which are
// addressed by fixed slot number rather than Eid - is named by one of
// these.
type Eid [Size]byte

// Nil is the zero-value entity id. It never names a real entity and is
// used as a sentinel for "no address yet" fields.
var Nil Eid

// New draws a fresh entity id from the vault's crypto-secure RNG.
func New() (Eid, error) {
	var id Eid
	if err := cryptoprovider.FillRandom(id[:]); err != nil {
		return Nil, fmt.Errorf("eid: generate: %w", err)
	}
	return id, nil
}

// MustNew is like New but panics on RNG failure. Only safe to use where
// RNG failure is already an unrecoverable process condition (e.g. at
// volume bootstrap after the crypto provider's own self-check passed).
func MustNew() Eid {
	id, err := New()
	if err != nil {
		panic(err)
	}
	return id
}

// FromBytes copies b into an Eid. b must be exactly Size bytes.
func FromBytes(b []byte) (Eid, error) {
	var id Eid
	if len(b) != Size {
		return Nil, fmt.Errorf("eid: want %d bytes, got %d", Size, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// IsNil reports whether id is the zero value.
func (id Eid) IsNil() bool {
	return id == Nil
}

// Bytes returns the id's bytes as a freshly allocated slice.
func (id Eid) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, id[:])
	return out
}

// String renders the id as lowercase hex, for logging and error messages.
func (id Eid) String() string {
	return hex.EncodeToString(id[:])
}

// Prefix returns the first byte of the id as two hex characters. Depot
// backends use this to bound directory fan-out (see pkg/depot/file).
func (id Eid) Prefix() string {
	return hex.EncodeToString(id[:1])
}
