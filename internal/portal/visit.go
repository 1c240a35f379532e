package portal

import (
	"context"
	"crypto/rand"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorx/endpoint/internal/corexerr"
	"github.com/mirrorx/endpoint/internal/crypto"
	"github.com/mirrorx/endpoint/internal/secmem"
	"github.com/mirrorx/endpoint/internal/wire"
)

// visitTimeout bounds the full active-side key exchange end to end.
const visitTimeout = 60 * time.Second

// RegisterResult is register's reply.
type RegisterResult struct {
	AssignedDeviceID uint64
	ServerConfig     []byte
}

// Register claims or renews a device id. deviceID is nil to request a
// fresh assignment.
func (c *Client) Register(ctx context.Context, deviceID *uint64, fingerprint string) (*RegisterResult, error) {
	msg := wire.PortalClientMessage{
		ID:   newRequestID(),
		Kind: wire.PortalClientRegisterRequest,
		Register: wire.ClientRegisterRequest{
			HasDeviceID: deviceID != nil,
			FingerPrint: fingerprint,
		},
	}
	if deviceID != nil {
		msg.Register.DeviceID = *deviceID
	}

	reply, err := c.call(ctx, msg)
	if err != nil {
		return nil, err
	}
	if reply.Kind == wire.PortalServerError {
		return nil, corexerr.New(portalErrToKind(reply.Error), "register rejected by portal")
	}
	if reply.Kind != wire.PortalServerRegisterReply {
		return nil, corexerr.New(corexerr.KindInternal, "unexpected portal reply to register")
	}
	return &RegisterResult{AssignedDeviceID: reply.AssignedID, ServerConfig: reply.ServerConfig}, nil
}

// ServerConfig fetches the portal's opaque server-config blob, interpreted
// by the caller (relay endpoints, feature flags).
func (c *Client) ServerConfig(ctx context.Context) ([]byte, error) {
	msg := wire.PortalClientMessage{
		ID:   newRequestID(),
		Kind: wire.PortalClientServerConfigRequest,
	}

	reply, err := c.call(ctx, msg)
	if err != nil {
		return nil, err
	}
	if reply.Kind == wire.PortalServerError {
		return nil, corexerr.New(portalErrToKind(reply.Error), "server config rejected by portal")
	}
	if reply.Kind != wire.PortalServerConfigReply {
		return nil, corexerr.New(corexerr.KindInternal, "unexpected portal reply to server config request")
	}
	return reply.ServerConfig, nil
}

// IsOnline reports whether deviceID currently holds an open portal
// connection.
func (c *Client) IsOnline(ctx context.Context, deviceID uint64) (bool, error) {
	msg := wire.PortalClientMessage{
		ID:          newRequestID(),
		Kind:        wire.PortalClientCheckRemoteOnlineRequest,
		CheckOnline: wire.CheckRemoteDeviceIsOnlineRequest{DeviceID: deviceID},
	}

	reply, err := c.call(ctx, msg)
	if err != nil {
		return false, err
	}
	if reply.Kind == wire.PortalServerError {
		return false, corexerr.New(portalErrToKind(reply.Error), "is_online rejected by portal")
	}
	if reply.Kind != wire.PortalServerIsOnlineReply {
		return false, corexerr.New(corexerr.KindInternal, "unexpected portal reply to is_online")
	}
	return reply.IsOnline, nil
}

// VisitResult is the active side's half of a completed key exchange.
// OwnNonce/PeerNonce are the nonces a transport layer seeds its AEAD
// sequence counters with: OwnNonce for the direction sealed with
// SealingKey, PeerNonce for the direction opened with OpeningKey.
type VisitResult struct {
	RelayAddr        string
	VisitCredentials []byte
	SealingKey       [crypto.KeySize]byte
	OpeningKey       [crypto.KeySize]byte
	OwnNonce         [crypto.NonceSize]byte
	PeerNonce        [crypto.NonceSize]byte
	// LANAddrs, if non-empty, are the passive side's own local interface
	// addresses; the caller tries internal/transport.DialLAN against
	// these before dialing RelayAddr.
	LANAddrs []string
}

// Visit runs the active half of the key exchange described in the portal
// protocol: it seals a freshly generated ActiveSecret with the shared
// password and sends it through the portal to remoteID, then waits for
// the passive side's RSA-wrapped reply and derives the session keys.
func (c *Client) Visit(ctx context.Context, localID, remoteID uint64, password string, visitDesktop bool) (*VisitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, visitTimeout)
	defer cancel()

	replyKey, err := crypto.GenerateRSAReplyKey()
	if err != nil {
		return nil, corexerr.Wrap(corexerr.KindCryptoFailure, "generate reply keypair", err)
	}
	activeKP, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		return nil, corexerr.Wrap(corexerr.KindCryptoFailure, "generate active ephemeral keypair", err)
	}
	defer activeKP.Zero()

	sec := secmem.NewSecureString(password)
	defer sec.Zero()

	var activeNonce [crypto.NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, activeNonce[:]); err != nil {
		return nil, corexerr.Wrap(corexerr.KindCryptoFailure, "generate active nonce", err)
	}

	secret := crypto.BuildActiveSecret(&replyKey.PublicKey, activeKP.Public, activeNonce)
	salt, sealNonce, sealed, err := crypto.SealActiveSecret(secret, sec.Reveal(), localID)
	if err != nil {
		return nil, corexerr.Wrap(corexerr.KindCryptoFailure, "seal active secret", err)
	}

	msg := wire.PortalClientMessage{
		ID:   newRequestID(),
		Kind: wire.PortalClientActiveVisitRequest,
		ActiveVisit: wire.ActiveVisitRequest{
			LocalDeviceID:  localID,
			RemoteDeviceID: remoteID,
			VisitDesktop:   visitDesktop,
			Salt:           salt[:],
			Nonce:          sealNonce[:],
			Sealed:         sealed,
		},
	}

	reply, err := c.call(ctx, msg)
	if err != nil {
		return nil, err
	}
	if reply.Kind == wire.PortalServerError {
		return nil, corexerr.New(portalErrToKind(reply.Error), "visit rejected")
	}
	if reply.Kind != wire.PortalServerActiveVisitReply {
		return nil, corexerr.New(corexerr.KindInternal, "unexpected portal reply to visit")
	}

	passiveReply, err := crypto.OpenPassiveReply(reply.ActiveVisit.SealedReply, replyKey)
	if err != nil {
		return nil, corexerr.Wrap(corexerr.KindCryptoFailure, "open passive reply", err)
	}

	shared, err := crypto.ECDH(activeKP.Private, passiveReply.PassivePublic)
	if err != nil {
		return nil, corexerr.Wrap(corexerr.KindCryptoFailure, "compute active ecdh", err)
	}
	keys := crypto.DeriveActiveKeys(shared, activeNonce, passiveReply.PassiveNonce)

	return &VisitResult{
		RelayAddr:        reply.ActiveVisit.RelayAddr,
		VisitCredentials: reply.ActiveVisit.VisitCredentials,
		SealingKey:       keys.SealingKey,
		OpeningKey:       keys.OpeningKey,
		OwnNonce:         activeNonce,
		PeerNonce:        passiveReply.PassiveNonce,
		LANAddrs:         reply.ActiveVisit.LANAddrs,
	}, nil
}

// handleVisitPassiveRequest answers an unsolicited VisitPassiveRequest
// push with Config.OnVisitRequest, opening the sealed ActiveSecret with
// this device's LocalPassword and replying with the passive half of the
// key exchange, or an error tagged to the same request id.
func (c *Client) handleVisitPassiveRequest(msg wire.PortalServerMessage) {
	req := msg.VisitPassive

	if c.config.OnVisitRequest == nil || !c.config.OnVisitRequest(req.ActiveDeviceID, req.PassiveDeviceID, req.VisitDesktop) {
		c.replyError(msg.ID, wire.PortalErrorRemoteRefuse)
		return
	}

	secret, kind := c.openActiveSecret(req)
	if secret == nil {
		c.replyError(msg.ID, kindToPortalErr(kind))
		return
	}

	passiveKP, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		log.Warn("passive ephemeral keypair generation failed", "error", err)
		c.replyError(msg.ID, wire.PortalErrorInternal)
		return
	}
	defer passiveKP.Zero()

	var passiveNonce [crypto.NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, passiveNonce[:]); err != nil {
		log.Warn("passive nonce generation failed", "error", err)
		c.replyError(msg.ID, wire.PortalErrorInternal)
		return
	}

	shared, err := crypto.ECDH(passiveKP.Private, secret.ActivePublic)
	if err != nil {
		log.Warn("passive ecdh failed", "error", err)
		c.replyError(msg.ID, wire.PortalErrorInternal)
		return
	}
	keys := crypto.DerivePassiveKeys(shared, passiveNonce, secret.ActiveNonce)

	reply := &crypto.PassiveReply{PassivePublic: passiveKP.Public, PassiveNonce: passiveNonce}
	sealedReply, err := crypto.SealPassiveReply(reply, secret.PublicKey())
	if err != nil {
		log.Warn("seal passive reply failed", "error", err)
		c.replyError(msg.ID, wire.PortalErrorInternal)
		return
	}

	credentials, err := randomCredentials()
	if err != nil {
		log.Warn("visit credential generation failed", "error", err)
		c.replyError(msg.ID, wire.PortalErrorInternal)
		return
	}

	var lanAddrs []string
	if c.config.LANAddrs != nil {
		lanAddrs = c.config.LANAddrs()
	}

	err = c.send(wire.PortalClientMessage{
		ID:   msg.ID,
		Kind: wire.PortalClientPassiveVisitReply,
		PassiveReply: wire.PassiveVisitReply{
			RelayAddr:        c.config.Address,
			VisitCredentials: credentials,
			SealedReply:      sealedReply,
			LANAddrs:         lanAddrs,
		},
	})
	if err != nil {
		log.Warn("send passive visit reply failed", "error", err)
		return
	}

	if c.config.OnVisitEstablished != nil {
		var creds [visitCredentialSize]byte
		copy(creds[:], credentials)
		c.config.OnVisitEstablished(VisitEstablished{
			ActiveDeviceID:  req.ActiveDeviceID,
			PassiveDeviceID: req.PassiveDeviceID,
			VisitDesktop:    req.VisitDesktop,
			Credentials:     creds,
			SealingKey:      keys.SealingKey,
			OpeningKey:      keys.OpeningKey,
			OwnNonce:        passiveNonce,
			PeerNonce:       secret.ActiveNonce,
		})
	}
}

// openActiveSecret opens req's sealed ActiveSecret with this device's
// configured password, distinguishing an AEAD-open failure
// (InvalidPassword) from a deserialisation failure (InvalidArgs).
// OpenActiveSecret's single-error convenience form doesn't separate the
// two, so the lower-level primitives are called directly here instead.
func (c *Client) openActiveSecret(req wire.VisitPassiveRequest) (*crypto.ActiveSecret, corexerr.Kind) {
	if len(req.Salt) != crypto.PBKDFSaltSize || len(req.Nonce) != crypto.NonceSize {
		return nil, corexerr.KindInvalidArgs
	}
	var salt [crypto.PBKDFSaltSize]byte
	copy(salt[:], req.Salt)
	var nonce [crypto.NonceSize]byte
	copy(nonce[:], req.Nonce)

	key := crypto.DerivePasswordKey(c.config.LocalPassword.Reveal(), salt)
	plaintext, err := crypto.OpenOneShot(key, nonce, req.Sealed, activeSecretAAD(req.ActiveDeviceID))
	if err != nil {
		return nil, corexerr.KindInvalidPassword
	}

	secret, err := crypto.UnmarshalActiveSecret(plaintext)
	if err != nil {
		return nil, corexerr.KindInvalidArgs
	}
	return secret, ""
}

func (c *Client) replyError(id uuid.UUID, portalErr wire.PortalError) {
	if err := c.send(wire.PortalClientMessage{ID: id, Kind: wire.PortalClientError, Error: portalErr}); err != nil {
		log.Warn("send passive visit error reply failed", "error", err)
	}
}

func activeSecretAAD(deviceID uint64) []byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(deviceID >> (8 * i))
	}
	return b[:]
}
