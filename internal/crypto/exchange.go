package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
)

// ActiveSecret is the structure the active side seals with a password-
// derived key and sends through the portal: its
// one-shot RSA reply public key, its ephemeral X25519 public key, and the
// nonce it will use as salt for the passive side's key derivation.
type ActiveSecret struct {
	ReplyPublicN []byte // RSA modulus, big-endian
	ReplyPublicE uint32
	ActivePublic [32]byte
	ActiveNonce  [NonceSize]byte
}

// Marshal serialises ActiveSecret as a fixed-width little-endian layout:
// a 4-byte modulus length, the modulus, a 4-byte exponent, the X25519
// public key and the nonce. This is not internal/wire's varint encoding;
// it is kept local to this package so crypto has no dependency on wire.
func (s *ActiveSecret) Marshal() []byte {
	buf := make([]byte, 0, 4+len(s.ReplyPublicN)+4+32+NonceSize)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s.ReplyPublicN)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s.ReplyPublicN...)

	var eBuf [4]byte
	binary.LittleEndian.PutUint32(eBuf[:], s.ReplyPublicE)
	buf = append(buf, eBuf[:]...)

	buf = append(buf, s.ActivePublic[:]...)
	buf = append(buf, s.ActiveNonce[:]...)
	return buf
}

// UnmarshalActiveSecret is the inverse of Marshal. A malformed blob is
// reported by the caller as InvalidArgs.
func UnmarshalActiveSecret(b []byte) (*ActiveSecret, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("active secret: too short for length prefix")
	}
	nLen := int(binary.LittleEndian.Uint32(b[0:4]))
	b = b[4:]
	if len(b) < nLen+4+32+NonceSize {
		return nil, fmt.Errorf("active secret: truncated")
	}

	s := &ActiveSecret{}
	s.ReplyPublicN = append([]byte(nil), b[:nLen]...)
	b = b[nLen:]

	s.ReplyPublicE = binary.LittleEndian.Uint32(b[:4])
	b = b[4:]

	copy(s.ActivePublic[:], b[:32])
	b = b[32:]

	copy(s.ActiveNonce[:], b[:NonceSize])
	return s, nil
}

// BuildActiveSecret assembles an ActiveSecret from the active side's freshly
// generated RSA reply key, X25519 keypair, and nonce.
func BuildActiveSecret(replyPub *rsa.PublicKey, activePub [32]byte, activeNonce [NonceSize]byte) *ActiveSecret {
	return &ActiveSecret{
		ReplyPublicN: replyPub.N.Bytes(),
		ReplyPublicE: uint32(replyPub.E),
		ActivePublic: activePub,
		ActiveNonce:  activeNonce,
	}
}

// PublicKey reconstructs an *rsa.PublicKey from the serialised modulus/
// exponent, for the passive side to encrypt its reply against.
func (s *ActiveSecret) PublicKey() *rsa.PublicKey {
	n := new(big.Int).SetBytes(s.ReplyPublicN)
	return &rsa.PublicKey{N: n, E: int(s.ReplyPublicE)}
}

// SealActiveSecret seals a serialised ActiveSecret with a password-derived
// key, binding activeDeviceID as associated data.
// Returns the salt, nonce, and sealed blob to send to the portal.
func SealActiveSecret(secret *ActiveSecret, password string, activeDeviceID uint64) (salt [PBKDFSaltSize]byte, nonce [NonceSize]byte, sealed []byte, err error) {
	salt, err = NewPBKDFSalt()
	if err != nil {
		return salt, nonce, nil, err
	}
	if _, err = io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return salt, nonce, nil, fmt.Errorf("generate seal nonce: %w", err)
	}

	key := DerivePasswordKey(password, salt)
	aad := deviceIDBytes(activeDeviceID)
	sealed, err = SealOneShot(key, nonce, secret.Marshal(), aad)
	return salt, nonce, sealed, err
}

// OpenActiveSecret is the passive side's half of step 4: derive the same
// password key, open the blob, and deserialise the ActiveSecret. An
// AEAD-open failure (bad password) and a deserialisation failure (bad
// args) are both plain wrapped errors that differ only in message; a
// caller that must tell them apart calls OpenOneShot and
// UnmarshalActiveSecret separately.
func OpenActiveSecret(sealed []byte, password string, salt [PBKDFSaltSize]byte, nonce [NonceSize]byte, activeDeviceID uint64) (*ActiveSecret, error) {
	key := DerivePasswordKey(password, salt)
	aad := deviceIDBytes(activeDeviceID)

	plaintext, err := OpenOneShot(key, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("open active secret: %w", err)
	}

	secret, err := UnmarshalActiveSecret(plaintext)
	if err != nil {
		return nil, fmt.Errorf("deserialise active secret: %w", err)
	}
	return secret, nil
}

// PassiveKeys is the (sealing, opening) key pair either side derives once
// the ECDH shared secret is known.
type PassiveKeys struct {
	SealingKey [KeySize]byte
	OpeningKey [KeySize]byte
}

// DerivePassiveKeys computes the passive side's sealing/opening keys: it
// seals with salt=p_nonce and opens with salt=a_nonce.
func DerivePassiveKeys(shared [32]byte, passiveNonce, activeNonce [NonceSize]byte) PassiveKeys {
	return PassiveKeys{
		SealingKey: DeriveSessionKey(shared, passiveNonce),
		OpeningKey: DeriveSessionKey(shared, activeNonce),
	}
}

// DeriveActiveKeys computes the active side's mirrored keys: its sealing
// key uses a_nonce (the salt the passive side used to open), and its
// opening key uses p_nonce (the salt the passive side used to seal).
func DeriveActiveKeys(shared [32]byte, activeNonce, passiveNonce [NonceSize]byte) PassiveKeys {
	return PassiveKeys{
		SealingKey: DeriveSessionKey(shared, activeNonce),
		OpeningKey: DeriveSessionKey(shared, passiveNonce),
	}
}

// PassiveReply is what the passive side RSA-encrypts and returns through
// the portal.
type PassiveReply struct {
	PassivePublic [32]byte
	PassiveNonce  [NonceSize]byte
}

func (r *PassiveReply) Marshal() []byte {
	buf := make([]byte, 0, 32+NonceSize)
	buf = append(buf, r.PassivePublic[:]...)
	buf = append(buf, r.PassiveNonce[:]...)
	return buf
}

func UnmarshalPassiveReply(b []byte) (*PassiveReply, error) {
	if len(b) != 32+NonceSize {
		return nil, fmt.Errorf("passive reply: want %d bytes, got %d", 32+NonceSize, len(b))
	}
	r := &PassiveReply{}
	copy(r.PassivePublic[:], b[:32])
	copy(r.PassiveNonce[:], b[32:])
	return r, nil
}

// SealPassiveReply RSA-encrypts the passive reply with the active side's
// one-shot reply public key.
func SealPassiveReply(reply *PassiveReply, activeReplyPub *rsa.PublicKey) ([]byte, error) {
	return RSAEncryptPKCS1v15(activeReplyPub, reply.Marshal())
}

// OpenPassiveReply decrypts and deserialises the passive reply with the
// active side's one-shot reply private key.
func OpenPassiveReply(sealed []byte, activeReplyPriv *rsa.PrivateKey) (*PassiveReply, error) {
	plaintext, err := RSADecryptPKCS1v15(activeReplyPriv, sealed)
	if err != nil {
		return nil, err
	}
	return UnmarshalPassiveReply(plaintext)
}

func deviceIDBytes(id uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], id)
	return b[:]
}
