package cryptoprovider

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the width, in bytes, of the AEAD nonce prefixed to every
// sealed frame, regardless of which cipher produced it. Both ciphers
// below are configured to accept this nonce width so the on-disk frame
// layout never needs to vary by cipher.
const NonceSize = 24

// MACSize is the width, in bytes, of the authentication tag suffixed to
// every sealed frame.
const MACSize = 16

// Seal encrypts plaintext under key using the provider's configured
// cipher and a freshly drawn nonce, and returns nonce || ciphertext ||
// tag.
func (p *Provider) Seal(key Key, plaintext []byte) ([]byte, error) {
	aead, err := p.aead(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+MACSize)
	if err := FillRandom(nonce); err != nil {
		return nil, fmt.Errorf("cryptoprovider: seal: nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open verifies and decrypts a nonce || ciphertext || tag blob produced
// by Seal. Returns ErrCorrupted wrapped with the underlying cause if
// authentication fails.
func (p *Provider) Open(key Key, sealed []byte) ([]byte, error) {
	if len(sealed) < NonceSize+MACSize {
		return nil, fmt.Errorf("cryptoprovider: open: %w", ErrCorrupted)
	}

	aead, err := p.aead(key)
	if err != nil {
		return nil, err
	}

	nonce, ciphertext := sealed[:NonceSize], sealed[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: open: %w: %w", ErrCorrupted, err)
	}
	return plaintext, nil
}

// SealDeterministic encrypts plaintext under key using an explicit
// caller-supplied nonce and associated data, rather than drawing a
// fresh random nonce. Callers are responsible for never reusing a
// (key, nonce) pair - pkg/volume derives nonces as H(id || frame
// index), which is unique as long as entity ids are.
func (p *Provider) SealDeterministic(key Key, nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("cryptoprovider: seal: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	aead, err := p.aead(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, NonceSize+len(plaintext)+MACSize)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, aad), nil
}

// OpenDeterministic verifies and decrypts a nonce || ciphertext || tag
// blob produced by SealDeterministic, checking aad against what was
// sealed.
func (p *Provider) OpenDeterministic(key Key, sealed, aad []byte) ([]byte, error) {
	if len(sealed) < NonceSize+MACSize {
		return nil, fmt.Errorf("cryptoprovider: open: %w", ErrCorrupted)
	}
	aead, err := p.aead(key)
	if err != nil {
		return nil, err
	}
	nonce, ciphertext := sealed[:NonceSize], sealed[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: open: %w: %w", ErrCorrupted, err)
	}
	return plaintext, nil
}

func (p *Provider) aead(key Key) (cipher.AEAD, error) {
	switch p.cipher {
	case Aes:
		return newAESGCM(key)
	case Xchacha:
		return chacha20poly1305.NewX(key[:])
	default:
		return nil, fmt.Errorf("cryptoprovider: unsupported cipher %v", p.cipher)
	}
}

func newAESGCM(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: aes: %w", err)
	}
	return cipher.NewGCMWithNonceSize(block, NonceSize)
}
