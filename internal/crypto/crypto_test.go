package crypto

import (
	"bytes"
	"testing"
)

func TestNonceValueAdvanceIsMonotonic(t *testing.T) {
	var seed [NonceSize]byte
	n := NewNonceValue(seed)

	prev := n.Advance()
	for i := 0; i < 10; i++ {
		next := n.Advance()
		if bytes.Equal(prev[:], next[:]) {
			t.Fatalf("nonce did not advance at iteration %d", i)
		}
		prev = next
	}
}

func TestAEADSealOpenRoundTrip(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	var seed [NonceSize]byte

	sealer, err := NewAEAD(key, NewNonceValue(seed))
	if err != nil {
		t.Fatalf("NewAEAD: %v", err)
	}
	opener, err := NewAEAD(key, NewNonceValue(seed))
	if err != nil {
		t.Fatalf("NewAEAD: %v", err)
	}

	plaintext := []byte("the quick brown fox")
	ciphertext := sealer.Seal(plaintext)

	got, err := opener.Open(ciphertext)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("Open = %q, want %q", got, plaintext)
	}
}

func TestAEADOpenFailsOnTamperedCiphertext(t *testing.T) {
	var key [KeySize]byte
	var seed [NonceSize]byte
	sealer, _ := NewAEAD(key, NewNonceValue(seed))
	opener, _ := NewAEAD(key, NewNonceValue(seed))

	ciphertext := sealer.Seal([]byte("payload"))
	ciphertext[len(ciphertext)-1] ^= 0xFF

	if _, err := opener.Open(ciphertext); err == nil {
		t.Fatal("expected Open to fail on tampered ciphertext")
	}
}

func TestX25519ECDHAgreesBothDirections(t *testing.T) {
	a, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair: %v", err)
	}
	b, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair: %v", err)
	}

	sharedA, err := ECDH(a.Private, b.Public)
	if err != nil {
		t.Fatalf("ECDH(a,b): %v", err)
	}
	sharedB, err := ECDH(b.Private, a.Public)
	if err != nil {
		t.Fatalf("ECDH(b,a): %v", err)
	}
	if sharedA != sharedB {
		t.Fatal("shared secrets disagree")
	}
}

func TestECDHRejectsZeroRemotePublic(t *testing.T) {
	a, _ := GenerateX25519KeyPair()
	var zero [32]byte
	if _, err := ECDH(a.Private, zero); err == nil {
		t.Fatal("expected ECDH to reject all-zero remote public key")
	}
}

func TestFullKeyAgreementExchange(t *testing.T) {
	const password = "12345678"
	const activeDeviceID uint64 = 1000042

	replyKey, err := GenerateRSAReplyKey()
	if err != nil {
		t.Fatalf("GenerateRSAReplyKey: %v", err)
	}
	activeKP, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair (active): %v", err)
	}
	var activeNonce [NonceSize]byte
	activeNonce[0] = 0xAA

	secret := BuildActiveSecret(&replyKey.PublicKey, activeKP.Public, activeNonce)
	salt, nonce, sealed, err := SealActiveSecret(secret, password, activeDeviceID)
	if err != nil {
		t.Fatalf("SealActiveSecret: %v", err)
	}

	// Passive side
	opened, err := OpenActiveSecret(sealed, password, salt, nonce, activeDeviceID)
	if err != nil {
		t.Fatalf("OpenActiveSecret: %v", err)
	}
	if opened.ActivePublic != activeKP.Public {
		t.Fatal("recovered active public key mismatch")
	}

	passiveKP, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair (passive): %v", err)
	}
	var passiveNonce [NonceSize]byte
	passiveNonce[0] = 0xBB

	sharedPassive, err := ECDH(passiveKP.Private, opened.ActivePublic)
	if err != nil {
		t.Fatalf("ECDH (passive): %v", err)
	}
	passiveKeys := DerivePassiveKeys(sharedPassive, passiveNonce, opened.ActiveNonce)

	reply := &PassiveReply{PassivePublic: passiveKP.Public, PassiveNonce: passiveNonce}
	sealedReply, err := SealPassiveReply(reply, opened.PublicKey())
	if err != nil {
		t.Fatalf("SealPassiveReply: %v", err)
	}

	// Active side
	openedReply, err := OpenPassiveReply(sealedReply, replyKey)
	if err != nil {
		t.Fatalf("OpenPassiveReply: %v", err)
	}
	sharedActive, err := ECDH(activeKP.Private, openedReply.PassivePublic)
	if err != nil {
		t.Fatalf("ECDH (active): %v", err)
	}
	activeKeys := DeriveActiveKeys(sharedActive, activeNonce, openedReply.PassiveNonce)

	if activeKeys.SealingKey != passiveKeys.OpeningKey {
		t.Fatal("active sealing key must equal passive opening key")
	}
	if activeKeys.OpeningKey != passiveKeys.SealingKey {
		t.Fatal("active opening key must equal passive sealing key")
	}
}

func TestOpenActiveSecretFailsWithWrongPassword(t *testing.T) {
	replyKey, _ := GenerateRSAReplyKey()
	activeKP, _ := GenerateX25519KeyPair()
	var activeNonce [NonceSize]byte

	secret := BuildActiveSecret(&replyKey.PublicKey, activeKP.Public, activeNonce)
	salt, nonce, sealed, err := SealActiveSecret(secret, "correct-password", 7)
	if err != nil {
		t.Fatalf("SealActiveSecret: %v", err)
	}

	if _, err := OpenActiveSecret(sealed, "wrong-password", salt, nonce, 7); err == nil {
		t.Fatal("expected OpenActiveSecret to fail with wrong password")
	}
}

func TestOpenActiveSecretFailsWithWrongDeviceIDAAD(t *testing.T) {
	replyKey, _ := GenerateRSAReplyKey()
	activeKP, _ := GenerateX25519KeyPair()
	var activeNonce [NonceSize]byte

	secret := BuildActiveSecret(&replyKey.PublicKey, activeKP.Public, activeNonce)
	salt, nonce, sealed, err := SealActiveSecret(secret, "password", 7)
	if err != nil {
		t.Fatalf("SealActiveSecret: %v", err)
	}

	if _, err := OpenActiveSecret(sealed, "password", salt, nonce, 8); err == nil {
		t.Fatal("expected OpenActiveSecret to fail when associated data (device id) mismatches")
	}
}

func TestActiveSecretMarshalRoundTrip(t *testing.T) {
	replyKey, _ := GenerateRSAReplyKey()
	activeKP, _ := GenerateX25519KeyPair()
	var nonce [NonceSize]byte
	nonce[3] = 0x42

	secret := BuildActiveSecret(&replyKey.PublicKey, activeKP.Public, nonce)
	got, err := UnmarshalActiveSecret(secret.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalActiveSecret: %v", err)
	}
	if got.ActivePublic != secret.ActivePublic || got.ActiveNonce != secret.ActiveNonce {
		t.Fatal("round trip lost a field")
	}
	if !bytes.Equal(got.ReplyPublicN, secret.ReplyPublicN) || got.ReplyPublicE != secret.ReplyPublicE {
		t.Fatal("round trip lost the RSA public key")
	}
}
