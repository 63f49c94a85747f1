package cryptoprovider

import "errors"

// ErrCorrupted is wrapped into the error returned by Open when the AEAD
// tag doesn't verify.
var ErrCorrupted = errors.New("cryptoprovider: corrupted ciphertext")

// ErrWrongPassword is returned by UnwrapMasterKey when a derived key
// fails to unwrap the stored master key. Kept here so both the vault
// package and tests share one sentinel.
var ErrWrongPassword = errors.New("cryptoprovider: wrong password")
