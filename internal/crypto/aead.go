package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// KeySize is the AES-256-GCM key length in bytes.
const KeySize = 32

// AEAD wraps an AES-256-GCM cipher with a NonceValue so callers never have
// to manage nonce state directly. A Transport holds one AEAD per direction.
type AEAD struct {
	gcm   cipher.AEAD
	nonce *NonceValue
}

// NewAEAD builds an AEAD from a derived 32-byte key and the NonceValue that
// advances on every seal/open this AEAD performs.
func NewAEAD(key [KeySize]byte, nonce *NonceValue) (*AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AEAD{gcm: gcm, nonce: nonce}, nil
}

// Seal encrypts plaintext, advancing the nonce first, and returns
// ciphertext || tag with no associated data.
func (a *AEAD) Seal(plaintext []byte) []byte {
	nonce := a.nonce.Advance()
	return a.gcm.Seal(nil, nonce[:], plaintext, nil)
}

// SealWithAAD is Seal but with associated data, used for the key-agreement
// blob where the active device id is bound as AAD.
func (a *AEAD) SealWithAAD(plaintext, aad []byte) []byte {
	nonce := a.nonce.Advance()
	return a.gcm.Seal(nil, nonce[:], plaintext, aad)
}

// Open decrypts ciphertext||tag, advancing the nonce first. An
// authentication failure returns an error; the caller is responsible for
// mapping it to corexerr.KindCryptoFailure and closing the transport.
func (a *AEAD) Open(ciphertext []byte) ([]byte, error) {
	nonce := a.nonce.Advance()
	plaintext, err := a.gcm.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return plaintext, nil
}

// OpenWithAAD is Open but with associated data.
func (a *AEAD) OpenWithAAD(ciphertext, aad []byte) ([]byte, error) {
	nonce := a.nonce.Advance()
	plaintext, err := a.gcm.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return plaintext, nil
}

// SealOneShot encrypts plaintext under the caller-supplied nonce and
// returns ciphertext||tag. Used by the key-agreement handshake, which has
// no established NonceValue yet and instead ships the nonce alongside the
// sealed blob.
func SealOneShot(key [KeySize]byte, nonce [NonceSize]byte, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return gcm.Seal(nil, nonce[:], plaintext, aad), nil
}

// OpenOneShot is the inverse of SealOneShot.
func OpenOneShot(key [KeySize]byte, nonce [NonceSize]byte, ciphertext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return plaintext, nil
}
