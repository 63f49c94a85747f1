package cryptoprovider

import (
	"crypto/rand"
	"fmt"
)

// FillRandom fills b with cryptographically secure random bytes. It is
// the one place in the module that touches crypto/rand directly; every
// other package draws randomness (nonces, salts, entity ids) through
// here or through a Provider method built on it.
func FillRandom(b []byte) error {
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("cryptoprovider: rng: %w", err)
	}
	return nil
}

// GenSalt draws a fresh password-KDF salt.
func GenSalt() (Salt, error) {
	var s Salt
	if err := FillRandom(s[:]); err != nil {
		return Salt{}, fmt.Errorf("cryptoprovider: gen salt: %w", err)
	}
	return s, nil
}
