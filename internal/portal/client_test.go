package portal

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorx/endpoint/internal/corexerr"
	"github.com/mirrorx/endpoint/internal/crypto"
	"github.com/mirrorx/endpoint/internal/secmem"
	"github.com/mirrorx/endpoint/internal/wire"
)

// fakePortal is a minimal stand-in for the portal server: it accepts one
// connection and lets the test script request/response pairs by hand.
type fakePortal struct {
	ln   net.Listener
	conn net.Conn
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return &fakePortal{ln: ln}
}

func (f *fakePortal) accept(t *testing.T) {
	t.Helper()
	conn, err := f.ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	f.conn = conn
}

func (f *fakePortal) recv(t *testing.T) wire.PortalClientMessage {
	t.Helper()
	frame, err := readFrame(f.conn)
	if err != nil {
		t.Fatalf("fake portal readFrame: %v", err)
	}
	msg, err := wire.DecodePortalClientMessage(frame)
	if err != nil {
		t.Fatalf("fake portal decode: %v", err)
	}
	return msg
}

func (f *fakePortal) sendServer(t *testing.T, msg wire.PortalServerMessage) {
	t.Helper()
	if err := writeFrame(f.conn, wire.EncodePortalServerMessage(msg)); err != nil {
		t.Fatalf("fake portal writeFrame: %v", err)
	}
}

func (f *fakePortal) close() {
	if f.conn != nil {
		f.conn.Close()
	}
	f.ln.Close()
}

func newTestClient(t *testing.T, addr string, cfg Config) *Client {
	t.Helper()
	cfg.Address = addr
	c := New(cfg)
	go c.Start()
	t.Cleanup(c.Stop)
	return c
}

func TestClientRegisterReceivesAssignedID(t *testing.T) {
	fp := newFakePortal(t)
	defer fp.close()

	c := newTestClient(t, fp.ln.Addr().String(), Config{})
	fp.accept(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result := make(chan *RegisterResult, 1)
	errCh := make(chan error, 1)
	go func() {
		r, err := c.Register(ctx, nil, "fp-1")
		result <- r
		errCh <- err
	}()

	req := fp.recv(t)
	if req.Kind != wire.PortalClientRegisterRequest {
		t.Fatalf("kind = %v, want PortalClientRegisterRequest", req.Kind)
	}
	if req.Register.FingerPrint != "fp-1" {
		t.Fatalf("fingerprint = %q, want fp-1", req.Register.FingerPrint)
	}
	fp.sendServer(t, wire.PortalServerMessage{
		ID:         req.ID,
		Kind:       wire.PortalServerRegisterReply,
		AssignedID: 42,
	})

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for Register")
	}
	r := <-result
	if r.AssignedDeviceID != 42 {
		t.Fatalf("assigned id = %d, want 42", r.AssignedDeviceID)
	}
}

func TestClientIsOnlineReturnsServerValue(t *testing.T) {
	fp := newFakePortal(t)
	defer fp.close()

	c := newTestClient(t, fp.ln.Addr().String(), Config{})
	fp.accept(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	var online bool
	var callErr error
	go func() {
		online, callErr = c.IsOnline(ctx, 7)
		close(done)
	}()

	req := fp.recv(t)
	if req.Kind != wire.PortalClientCheckRemoteOnlineRequest || req.CheckOnline.DeviceID != 7 {
		t.Fatalf("unexpected request: %+v", req)
	}
	fp.sendServer(t, wire.PortalServerMessage{ID: req.ID, Kind: wire.PortalServerIsOnlineReply, IsOnline: true})

	<-done
	if callErr != nil {
		t.Fatalf("IsOnline: %v", callErr)
	}
	if !online {
		t.Fatal("expected IsOnline to return true")
	}
}

func TestClientVisitRejectedMapsPortalError(t *testing.T) {
	fp := newFakePortal(t)
	defer fp.close()

	c := newTestClient(t, fp.ln.Addr().String(), Config{})
	fp.accept(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	var visitErr error
	go func() {
		_, visitErr = c.Visit(ctx, 1, 2, "password", true)
		close(done)
	}()

	req := fp.recv(t)
	if req.Kind != wire.PortalClientActiveVisitRequest {
		t.Fatalf("kind = %v, want PortalClientActiveVisitRequest", req.Kind)
	}
	fp.sendServer(t, wire.PortalServerMessage{ID: req.ID, Kind: wire.PortalServerError, Error: wire.PortalErrorRemoteOffline})

	<-done
	if got := corexerr.KindOf(visitErr); got != corexerr.KindRemoteOffline {
		t.Fatalf("error kind = %v, want %v", got, corexerr.KindRemoteOffline)
	}
}

func TestClientVisitFullKeyExchangeDerivesMatchingKeys(t *testing.T) {
	fp := newFakePortal(t)
	defer fp.close()

	c := newTestClient(t, fp.ln.Addr().String(), Config{})
	fp.accept(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	var result *VisitResult
	var visitErr error
	go func() {
		result, visitErr = c.Visit(ctx, 1, 2, "hunter2", true)
		close(done)
	}()

	req := fp.recv(t)
	if len(req.ActiveVisit.Sealed) == 0 {
		t.Fatal("expected a sealed active secret")
	}

	var salt [crypto.PBKDFSaltSize]byte
	copy(salt[:], req.ActiveVisit.Salt)
	var nonce [crypto.NonceSize]byte
	copy(nonce[:], req.ActiveVisit.Nonce)

	secret, err := crypto.OpenActiveSecret(req.ActiveVisit.Sealed, "hunter2", salt, nonce, req.ActiveVisit.LocalDeviceID)
	if err != nil {
		t.Fatalf("server-side OpenActiveSecret: %v", err)
	}

	passiveKP, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair: %v", err)
	}
	var passiveNonce [crypto.NonceSize]byte
	copy(passiveNonce[:], bytes12())

	shared, err := crypto.ECDH(passiveKP.Private, secret.ActivePublic)
	if err != nil {
		t.Fatalf("ECDH: %v", err)
	}
	passiveKeys := crypto.DerivePassiveKeys(shared, passiveNonce, secret.ActiveNonce)

	reply := &crypto.PassiveReply{PassivePublic: passiveKP.Public, PassiveNonce: passiveNonce}
	sealedReply, err := crypto.SealPassiveReply(reply, secret.PublicKey())
	if err != nil {
		t.Fatalf("SealPassiveReply: %v", err)
	}

	fp.sendServer(t, wire.PortalServerMessage{
		ID:   req.ID,
		Kind: wire.PortalServerActiveVisitReply,
		ActiveVisit: wire.PortalActiveVisitReply{
			RelayAddr:        "127.0.0.1:9000",
			VisitCredentials: []byte("0123456789abcdef"),
			SealedReply:      sealedReply,
		},
	})

	<-done
	if visitErr != nil {
		t.Fatalf("Visit: %v", visitErr)
	}
	if result.RelayAddr != "127.0.0.1:9000" {
		t.Fatalf("relay addr = %q", result.RelayAddr)
	}
	if result.SealingKey != passiveKeys.OpeningKey || result.OpeningKey != passiveKeys.SealingKey {
		t.Fatal("active and passive derived keys do not mirror each other")
	}
}

// bytes12 returns a fixed 12-byte slice for a deterministic test nonce.
func bytes12() []byte {
	return []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
}

func TestClientHandlesVisitPassivePush(t *testing.T) {
	fp := newFakePortal(t)
	defer fp.close()

	accepted := make(chan [3]any, 1)
	_ = newTestClient(t, fp.ln.Addr().String(), Config{
		LocalPassword: secmem.NewSecureString("hunter2"),
		OnVisitRequest: func(activeID, passiveID uint64, visitDesktop bool) bool {
			accepted <- [3]any{activeID, passiveID, visitDesktop}
			return true
		},
	})
	fp.accept(t)

	replyKey, err := crypto.GenerateRSAReplyKey()
	if err != nil {
		t.Fatalf("GenerateRSAReplyKey: %v", err)
	}
	activeKP, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair: %v", err)
	}
	var activeNonce [crypto.NonceSize]byte
	copy(activeNonce[:], bytes12())

	secret := crypto.BuildActiveSecret(&replyKey.PublicKey, activeKP.Public, activeNonce)
	salt, sealNonce, sealed, err := crypto.SealActiveSecret(secret, "hunter2", 1)
	if err != nil {
		t.Fatalf("SealActiveSecret: %v", err)
	}

	pushID := uuid.New()
	fp.sendServer(t, wire.PortalServerMessage{
		ID:   pushID,
		Kind: wire.PortalServerVisitPassiveRequest,
		VisitPassive: wire.VisitPassiveRequest{
			ActiveDeviceID:  1,
			PassiveDeviceID: 2,
			VisitDesktop:    true,
			Salt:            salt[:],
			Nonce:           sealNonce[:],
			Sealed:          sealed,
		},
	})

	select {
	case got := <-accepted:
		if got[0].(uint64) != 1 || got[1].(uint64) != 2 || got[2].(bool) != true {
			t.Fatalf("unexpected callback args: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnVisitRequest callback")
	}

	reply := fp.recv(t)
	if reply.Kind != wire.PortalClientPassiveVisitReply {
		t.Fatalf("kind = %v, want PortalClientPassiveVisitReply", reply.Kind)
	}
	if reply.ID != pushID {
		t.Fatal("reply id does not match the push id")
	}

	passiveReply, err := crypto.OpenPassiveReply(reply.PassiveReply.SealedReply, replyKey)
	if err != nil {
		t.Fatalf("OpenPassiveReply: %v", err)
	}
	shared, err := crypto.ECDH(activeKP.Private, passiveReply.PassivePublic)
	if err != nil {
		t.Fatalf("ECDH: %v", err)
	}
	activeKeys := crypto.DeriveActiveKeys(shared, activeNonce, passiveReply.PassiveNonce)
	if activeKeys.SealingKey == ([crypto.KeySize]byte{}) {
		t.Fatal("expected a non-zero derived key")
	}
}

func TestClientRejectsVisitPassivePushWhenCallbackDeclines(t *testing.T) {
	fp := newFakePortal(t)
	defer fp.close()

	_ = newTestClient(t, fp.ln.Addr().String(), Config{
		LocalPassword:  secmem.NewSecureString("hunter2"),
		OnVisitRequest: func(uint64, uint64, bool) bool { return false },
	})
	fp.accept(t)

	fp.sendServer(t, wire.PortalServerMessage{
		ID:           uuid.New(),
		Kind:         wire.PortalServerVisitPassiveRequest,
		VisitPassive: wire.VisitPassiveRequest{ActiveDeviceID: 1, PassiveDeviceID: 2},
	})

	reply := fp.recv(t)
	if reply.Kind != wire.PortalClientError || reply.Error != wire.PortalErrorRemoteRefuse {
		t.Fatalf("reply = %+v, want a RemoteRefuse error", reply)
	}
}

func TestOpenActiveSecretDistinguishesPasswordFromArgsErrors(t *testing.T) {
	c := &Client{config: Config{LocalPassword: secmem.NewSecureString("right")}}

	replyKey, err := crypto.GenerateRSAReplyKey()
	if err != nil {
		t.Fatalf("GenerateRSAReplyKey: %v", err)
	}
	kp, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair: %v", err)
	}
	var nonce [crypto.NonceSize]byte
	secret := crypto.BuildActiveSecret(&replyKey.PublicKey, kp.Public, nonce)
	salt, sealNonce, sealed, err := crypto.SealActiveSecret(secret, "right", 9)
	if err != nil {
		t.Fatalf("SealActiveSecret: %v", err)
	}

	req := wire.VisitPassiveRequest{ActiveDeviceID: 9, Salt: salt[:], Nonce: sealNonce[:], Sealed: sealed}

	if _, kind := c.openActiveSecret(req); kind != "" {
		t.Fatalf("expected success with the right password, got kind %v", kind)
	}

	wrong := &Client{config: Config{LocalPassword: secmem.NewSecureString("wrong")}}
	if _, kind := wrong.openActiveSecret(req); kind != corexerr.KindInvalidPassword {
		t.Fatalf("kind = %v, want invalid_password", kind)
	}

	badArgs := req
	badArgs.Salt = []byte("too short")
	if _, kind := c.openActiveSecret(badArgs); kind != corexerr.KindInvalidArgs {
		t.Fatalf("kind = %v, want invalid_args", kind)
	}
}
