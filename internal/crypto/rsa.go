package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
)

// RSAKeyBits is the reply keypair size: generated once
// per exchange and used exactly once to receive the passive side's reply.
const RSAKeyBits = 4096

// GenerateRSAReplyKey generates the active side's one-shot RSA-4096 reply
// keypair.
func GenerateRSAReplyKey() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa reply key: %w", err)
	}
	return key, nil
}

// RSAEncryptPKCS1v15 encrypts plaintext with the given RSA public key using
// PKCS1-v1.5 padding, used for the passive side's
// one-shot reply wrapper.
func RSAEncryptPKCS1v15(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, plaintext)
	if err != nil {
		return nil, fmt.Errorf("rsa encrypt: %w", err)
	}
	return ciphertext, nil
}

// RSADecryptPKCS1v15 decrypts a PKCS1-v1.5 ciphertext with the active
// side's reply private key.
func RSADecryptPKCS1v15(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	plaintext, err := rsa.DecryptPKCS1v15(rand.Reader, priv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("rsa decrypt: %w", err)
	}
	return plaintext, nil
}
