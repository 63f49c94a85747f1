package cryptoprovider

import "golang.org/x/crypto/argon2"

// argon2Threads is fixed rather than scaled to GOMAXPROCS: the KDF runs
// once per volume open, and a fixed thread count keeps a derived key
// reproducible across machines with different core counts.
const argon2Threads = 4

// DeriveFromPassword derives a 256-bit key from a password and salt under
// the provider's configured Argon2id cost. The same password, salt and
// cost always yield the same key, which is what lets a stored, wrapped
// master key be unwrapped again on next open.
func (p *Provider) DeriveFromPassword(password []byte, salt Salt) Key {
	sum := argon2.IDKey(password, salt[:], p.cost.OpsLimit, p.cost.MemLimit, argon2Threads, KeySize)
	var k Key
	copy(k[:], sum)
	return k
}

// WrapMasterKey encrypts the volume master key under a password-derived
// key, for storage in the super-block.
func (p *Provider) WrapMasterKey(master Key, password []byte, salt Salt) ([]byte, error) {
	wrapKey := p.DeriveFromPassword(password, salt)
	defer wrapKey.Zero()
	return p.Seal(wrapKey, master[:])
}

// UnwrapMasterKey reverses WrapMasterKey. Returns ErrWrongPassword
// if the password doesn't match the one the key was wrapped under.
func (p *Provider) UnwrapMasterKey(wrapped []byte, password []byte, salt Salt) (Key, error) {
	wrapKey := p.DeriveFromPassword(password, salt)
	defer wrapKey.Zero()

	plaintext, err := p.Open(wrapKey, wrapped)
	if err != nil {
		return Key{}, ErrWrongPassword
	}
	if len(plaintext) != KeySize {
		return Key{}, ErrWrongPassword
	}
	var master Key
	copy(master[:], plaintext)
	return master, nil
}
