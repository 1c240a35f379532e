package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDFIterations and PBKDFSaltSize fix the key-agreement KDF parameters:
// PBKDF2-HMAC-SHA256, 10,000 iterations, a fresh 16-byte salt per exchange.
const (
	PBKDFIterations = 10000
	PBKDFSaltSize   = 16
)

// NewPBKDFSalt generates a fresh random salt for DerivePasswordKey.
func NewPBKDFSalt() ([PBKDFSaltSize]byte, error) {
	var salt [PBKDFSaltSize]byte
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return salt, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DerivePasswordKey derives the 32-byte AES-256-GCM key used to seal the
// active side's key-agreement secret, from the human-readable password and
// a salt.
func DerivePasswordKey(password string, salt [PBKDFSaltSize]byte) [KeySize]byte {
	derived := pbkdf2.Key([]byte(password), salt[:], PBKDFIterations, KeySize, sha256.New)
	var key [KeySize]byte
	copy(key[:], derived)
	return key
}

// DeriveSessionKey derives a 32-byte AES-256-GCM key from the X25519 shared
// secret via HKDF-SHA512, salted with one side's exchanged nonce. The info
// string is empty: `.expand("", AES-256-GCM)`.
func DeriveSessionKey(shared [32]byte, salt [NonceSize]byte) [KeySize]byte {
	reader := hkdf.New(sha512.New, shared[:], salt[:], nil)
	var key [KeySize]byte
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		// HKDF-SHA512 can only fail if the requested length exceeds its
		// output limit (255*64 bytes); KeySize is 32, so this is unreachable.
		panic(fmt.Sprintf("hkdf expand: %v", err))
	}
	return key
}

// ConstantTimeEqual reports whether two byte slices are equal without
// leaking timing information, for comparing MACs or credentials.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return hmac.Equal(a, b)
}
