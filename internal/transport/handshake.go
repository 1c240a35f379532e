package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/mirrorx/endpoint/internal/corexerr"
	"github.com/mirrorx/endpoint/internal/crypto"
)

// CredentialSize is the length of the visit credential exchanged during
// key agreement and re-verified by the transport
// handshake.
const CredentialSize = 16

// HandshakeFrame is the single plaintext frame each side sends immediately
// after the transport connects, before any AEAD-protected traffic.
type HandshakeFrame struct {
	VisitCredentials       [CredentialSize]byte
	ExpectedRemoteDeviceID uint64
}

func encodeHandshake(h HandshakeFrame) []byte {
	buf := make([]byte, CredentialSize+8)
	copy(buf[:CredentialSize], h.VisitCredentials[:])
	putUint64LE(buf[CredentialSize:], h.ExpectedRemoteDeviceID)
	return buf
}

func decodeHandshake(b []byte) (HandshakeFrame, error) {
	if len(b) != CredentialSize+8 {
		return HandshakeFrame{}, fmt.Errorf("handshake frame: want %d bytes, got %d", CredentialSize+8, len(b))
	}
	var h HandshakeFrame
	copy(h.VisitCredentials[:], b[:CredentialSize])
	h.ExpectedRemoteDeviceID = getUint64LE(b[CredentialSize:])
	return h, nil
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getUint64LE(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// PerformHandshake runs both directions of the connect-time handshake: it
// sends our frame while reading and verifying the peer's frame within
// HandshakeTimeout. A failed or timed-out read is reported as
// corexerr.KindTimeout, a malformed or mismatching frame as
// corexerr.KindCryptoFailure; the caller must close the connection.
func PerformHandshake(conn net.Conn, visitCredentials [CredentialSize]byte, localDeviceID, expectedRemoteDeviceID uint64) error {
	local := HandshakeFrame{VisitCredentials: visitCredentials, ExpectedRemoteDeviceID: expectedRemoteDeviceID}

	if err := conn.SetReadDeadline(time.Now().Add(HandshakeTimeout)); err != nil {
		return corexerr.Wrap(corexerr.KindTransportIO, "set handshake read deadline", err)
	}
	defer conn.SetReadDeadline(time.Time{})

	// Both ends send before they read, so the write runs alongside the read;
	// on an unbuffered connection sequential writes would block both sides.
	writeErr := make(chan error, 1)
	go func() { writeErr <- writeFrame(conn, encodeHandshake(local)) }()

	raw, err := readFrame(conn)
	if err != nil {
		return corexerr.Wrap(corexerr.KindTimeout, "read handshake frame", err)
	}
	if err := <-writeErr; err != nil {
		return corexerr.Wrap(corexerr.KindTransportIO, "send handshake frame", err)
	}

	peer, err := decodeHandshake(raw)
	if err != nil {
		return corexerr.Wrap(corexerr.KindCryptoFailure, "decode handshake frame", err)
	}

	if !crypto.ConstantTimeEqual(peer.VisitCredentials[:], visitCredentials[:]) {
		return corexerr.New(corexerr.KindCryptoFailure, "visit credential mismatch")
	}
	if peer.ExpectedRemoteDeviceID != localDeviceID {
		return corexerr.New(corexerr.KindCryptoFailure, "remote device id mismatch")
	}

	return nil
}

// AcceptHandshake is the passive-listener counterpart to PerformHandshake
// for a listener that may be serving several pending visits at once: unlike
// the active side, which already knows which visit_credentials and device
// ids a given dial belongs to, an accepted connection carries no
// identifying information until its own handshake frame arrives. This
// reads that frame first, asks resolve to map its visit_credentials to the
// local device id and the remote id to embed in the reply (ok=false for
// credentials matching no pending visit), then completes and verifies the
// exchange. The resolved credentials are returned even on error so the
// caller can log which pending visit, if any, the attempt matched.
func AcceptHandshake(conn net.Conn, resolve func(credentials [CredentialSize]byte) (localDeviceID, expectedRemoteDeviceID uint64, ok bool)) ([CredentialSize]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(HandshakeTimeout)); err != nil {
		return [CredentialSize]byte{}, corexerr.Wrap(corexerr.KindTransportIO, "set handshake read deadline", err)
	}
	defer conn.SetReadDeadline(time.Time{})

	raw, err := readFrame(conn)
	if err != nil {
		return [CredentialSize]byte{}, corexerr.Wrap(corexerr.KindTimeout, "read handshake frame", err)
	}

	peer, err := decodeHandshake(raw)
	if err != nil {
		return [CredentialSize]byte{}, corexerr.Wrap(corexerr.KindCryptoFailure, "decode handshake frame", err)
	}

	localDeviceID, expectedRemoteDeviceID, ok := resolve(peer.VisitCredentials)
	if !ok {
		return peer.VisitCredentials, corexerr.New(corexerr.KindCryptoFailure, "no pending visit for credentials")
	}
	if peer.ExpectedRemoteDeviceID != localDeviceID {
		return peer.VisitCredentials, corexerr.New(corexerr.KindCryptoFailure, "remote device id mismatch")
	}

	local := HandshakeFrame{VisitCredentials: peer.VisitCredentials, ExpectedRemoteDeviceID: expectedRemoteDeviceID}
	if err := writeFrame(conn, encodeHandshake(local)); err != nil {
		return peer.VisitCredentials, corexerr.Wrap(corexerr.KindTransportIO, "send handshake frame", err)
	}

	return peer.VisitCredentials, nil
}
