// Package cryptoprovider is the vault's sole source of randomness, key
// derivation and authenticated encryption. No other package touches
// crypto/rand, golang.org/x/crypto/argon2 or an AEAD cipher directly; they
// go through a Provider instead, so that swapping cost parameters or a
// cipher algorithm never means auditing call sites across the tree.
package cryptoprovider

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// KeySize is the width, in bytes, of a master key and every key derived
// from it.
const KeySize = 32

// SaltSize is the width, in bytes, of the password KDF salt stored in the
// super-block.
const SaltSize = 16

// Cipher selects the AEAD algorithm a volume seals its frames with.
type Cipher int

const (
	// Aes selects AES-256-GCM. Built on the standard library: Go ships a
	// constant-time, hardware-accelerated implementation, so there is no
	// third-party AEAD worth adopting in its place for this one cipher.
	Aes Cipher = iota

	// Xchacha selects XChaCha20-Poly1305, for platforms or threat models
	// where AES-NI isn't available or nonce reuse resistance matters more
	// than raw throughput.
	Xchacha
)

func (c Cipher) String() string {
	switch c {
	case Aes:
		return "aes"
	case Xchacha:
		return "xchacha"
	default:
		return "unknown"
	}
}

// ParseCipher parses a cipher name as read from volume configuration.
func ParseCipher(s string) (Cipher, error) {
	switch s {
	case "aes", "Aes", "AES":
		return Aes, nil
	case "xchacha", "Xchacha", "XChaCha", "XCHACHA":
		return Xchacha, nil
	default:
		return 0, fmt.Errorf("cryptoprovider: unknown cipher %q", s)
	}
}

// Cost holds the Argon2id work parameters used to derive the master key
// from a user password. OpsLimit trades CPU time, MemLimit trades memory;
// together they set how expensive an offline password guess is.
type Cost struct {
	OpsLimit uint32 // Argon2 time parameter (iterations)
	MemLimit uint32 // Argon2 memory parameter, in KiB
}

// DefaultCost is a reasonable interactive cost: ~100ms on commodity
// hardware. Callers opening a volume for batch/server use should raise
// MemLimit.
var DefaultCost = Cost{OpsLimit: 3, MemLimit: 64 * 1024}

// Key is a 256-bit key, either the volume master key or one of its
// per-purpose derivations.
type Key [KeySize]byte

// Zero overwrites k's bytes. Callers holding a Key past its useful
// lifetime (e.g. after Close) should call this.
func (k *Key) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// Salt is the random value mixed into the Argon2 derivation of a
// password-protected master key.
type Salt [SaltSize]byte

// Provider bundles a cipher choice with the KDF cost used to protect the
// master key. It is safe for concurrent use.
type Provider struct {
	cipher Cipher
	cost   Cost
}

// New builds a Provider for the given KDF cost and cipher.
func New(cost Cost, cipher Cipher) (*Provider, error) {
	if cost.OpsLimit == 0 || cost.MemLimit == 0 {
		return nil, fmt.Errorf("cryptoprovider: cost must be non-zero, got %+v", cost)
	}
	switch cipher {
	case Aes, Xchacha:
	default:
		return nil, fmt.Errorf("cryptoprovider: unsupported cipher %v", cipher)
	}
	return &Provider{cipher: cipher, cost: cost}, nil
}

// Cipher reports the provider's configured AEAD cipher.
func (p *Provider) Cipher() Cipher { return p.cipher }

// Cost reports the provider's configured KDF cost.
func (p *Provider) Cost() Cost { return p.cost }

// GenMasterKey draws a fresh random master key. Called once, at volume
// creation; the result is wrapped under the user's password and stored in
// the super-block, never the key itself.
func (p *Provider) GenMasterKey() (Key, error) {
	var k Key
	if err := FillRandom(k[:]); err != nil {
		return Key{}, fmt.Errorf("cryptoprovider: generate master key: %w", err)
	}
	return k, nil
}

// Derive produces the subkey for a given purpose id from a master key.
// Every subsystem that needs its own key (frame encryption, address
// encryption, WAL record MAC, ...) derives one here instead of reusing
// the master key directly, so compromise of one subkey doesn't expose the
// others.
func (p *Provider) Derive(master Key, purpose uint64) Key {
	var input [KeySize + 8]byte
	copy(input[:KeySize], master[:])
	putUint64(input[KeySize:], purpose)

	sum := blake2b.Sum256(input[:])
	return Key(sum)
}

func putUint64(b []byte, v uint64) {
	_ = b[7]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}

// Hash returns the BLAKE2b-256 digest of data, used for content-defined
// chunk addressing and block verification digests.
func Hash(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

var globalInit sync.Once

// InitEnv performs process-wide crypto self-checks once per process: it
// confirms the AEAD and KDF primitives the running binary was linked
// against behave as expected before any volume is opened. Safe to call
// more than once; only the first call does any work.
func InitEnv() error {
	var initErr error
	globalInit.Do(func() {
		initErr = selfCheck()
	})
	return initErr
}

func selfCheck() error {
	p, err := New(DefaultCost, Aes)
	if err != nil {
		return fmt.Errorf("cryptoprovider: self-check: %w", err)
	}
	key, err := p.GenMasterKey()
	if err != nil {
		return fmt.Errorf("cryptoprovider: self-check: %w", err)
	}
	sealed, err := p.Seal(key, []byte("self-check"))
	if err != nil {
		return fmt.Errorf("cryptoprovider: self-check: aes seal: %w", err)
	}
	if _, err := p.Open(key, sealed); err != nil {
		return fmt.Errorf("cryptoprovider: self-check: aes open: %w", err)
	}

	px, err := New(DefaultCost, Xchacha)
	if err != nil {
		return fmt.Errorf("cryptoprovider: self-check: %w", err)
	}
	sealedX, err := px.Seal(key, []byte("self-check"))
	if err != nil {
		return fmt.Errorf("cryptoprovider: self-check: xchacha seal: %w", err)
	}
	if _, err := px.Open(key, sealedX); err != nil {
		return fmt.Errorf("cryptoprovider: self-check: xchacha open: %w", err)
	}
	return nil
}
