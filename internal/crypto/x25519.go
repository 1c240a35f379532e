package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"

	"github.com/mirrorx/endpoint/internal/secmem"
)

// X25519KeyPair is an ephemeral Diffie-Hellman keypair used once per
// key-agreement exchange.
type X25519KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateX25519KeyPair generates a fresh ephemeral X25519 keypair.
func GenerateX25519KeyPair() (X25519KeyPair, error) {
	var kp X25519KeyPair
	if _, err := io.ReadFull(rand.Reader, kp.Private[:]); err != nil {
		return kp, fmt.Errorf("generate x25519 private key: %w", err)
	}
	curve25519.ScalarBaseMult(&kp.Public, &kp.Private)
	return kp, nil
}

// ECDH computes the X25519 shared secret between a local private key and a
// remote public key, rejecting low-order points that would otherwise yield
// a predictable all-zero or attacker-controlled secret.
func ECDH(private, remotePublic [32]byte) ([32]byte, error) {
	var zero, shared [32]byte

	if remotePublic == zero {
		return shared, fmt.Errorf("remote public key is all-zero")
	}

	out, err := curve25519.X25519(private[:], remotePublic[:])
	if err != nil {
		return shared, fmt.Errorf("x25519: %w", err)
	}
	copy(shared[:], out)

	if shared == zero {
		return shared, fmt.Errorf("ecdh result is a low-order point")
	}
	return shared, nil
}

// Zero overwrites the keypair's private half.
func (kp *X25519KeyPair) Zero() {
	secmem.Zero(kp.Private[:])
}
