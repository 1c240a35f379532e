// Package portal implements the client side of the portal TCP endpoint
// protocol: a long-lived, framed, reconnecting connection used to claim a
// device id, check whether another device is online, and run the
// password-authenticated key exchange that lets two devices agree on a
// relay address and a pair of AES-256-GCM session keys without either
// side trusting the portal itself.
package portal

import (
	"context"
	cryptorand "crypto/rand"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorx/endpoint/internal/corexerr"
	"github.com/mirrorx/endpoint/internal/crypto"
	"github.com/mirrorx/endpoint/internal/logging"
	"github.com/mirrorx/endpoint/internal/secmem"
	"github.com/mirrorx/endpoint/internal/wire"
)

// visitCredentialSize mirrors internal/transport.CredentialSize; kept
// local so portal has no import-time dependency on transport.
const visitCredentialSize = 16

var log = logging.L("portal")

const (
	dialTimeout    = 10 * time.Second
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFactor   = 0.3
)

// OnVisitRequest is invoked on the passive side when another device asks
// to visit it. Its return decides accept/reject; visitDesktop distinguishes
// a full remote-desktop session from a file-transfer-only visit.
type OnVisitRequest func(activeID, passiveID uint64, visitDesktop bool) bool

// Config configures a portal Client.
type Config struct {
	// Address is the portal's host:port.
	Address string
	// LocalPassword is this device's pre-shared password, used to open an
	// incoming ActiveSecret on the passive side. The on_visit_request
	// callback has no password parameter of its own, so a device
	// answering visits must have one configured ahead of time. It is held
	// as a secmem.SecureString so that logging or marshaling a Config
	// never leaks it.
	LocalPassword *secmem.SecureString
	// OnVisitRequest handles an incoming visit push. Required if this
	// device ever acts as a passive side.
	OnVisitRequest OnVisitRequest
	// OnVisitEstablished fires once a passive-side key exchange accepted
	// by OnVisitRequest finishes successfully, carrying everything a
	// transport layer needs to accept the active side's incoming
	// connection and wrap it in matching AEAD keys.
	OnVisitEstablished func(VisitEstablished)
	// LANAddrs, if set, is called when answering a visit push to collect
	// this device's own local interface addresses, advertised to the
	// active side so it can try internal/transport.DialLAN before
	// falling back to the relay. Nil disables the LAN fast-path.
	LANAddrs func() []string
}

// VisitEstablished is delivered to Config.OnVisitEstablished after this
// device has answered a visit push with its passive reply. OwnNonce/
// PeerNonce mirror VisitResult's fields for the passive side: OwnNonce
// seeds the direction sealed with SealingKey, PeerNonce the direction
// opened with OpeningKey.
type VisitEstablished struct {
	ActiveDeviceID  uint64
	PassiveDeviceID uint64
	VisitDesktop    bool
	Credentials     [visitCredentialSize]byte
	SealingKey      [crypto.KeySize]byte
	OpeningKey      [crypto.KeySize]byte
	OwnNonce        [crypto.NonceSize]byte
	PeerNonce       [crypto.NonceSize]byte
}

// Client manages one portal connection: reconnecting with backoff,
// correlating requests to replies by uuid, and dispatching unsolicited
// visit pushes to Config.OnVisitRequest.
type Client struct {
	config Config

	connMu sync.RWMutex
	conn   net.Conn

	pending *pendingRequests

	sendCh chan clientSend
	done   chan struct{}

	stopOnce  sync.Once
	isRunning bool
	runningMu sync.RWMutex
}

type clientSend struct {
	payload []byte
}

// New builds a Client. Call Start to begin connecting.
func New(cfg Config) *Client {
	return &Client{
		config:  cfg,
		pending: newPendingRequests(requestTTL),
		sendCh:  make(chan clientSend, 64),
		done:    make(chan struct{}),
	}
}

// Start begins the reconnect loop in the calling goroutine; callers
// typically run it with `go client.Start()`.
func (c *Client) Start() {
	c.runningMu.Lock()
	if c.isRunning {
		c.runningMu.Unlock()
		return
	}
	c.isRunning = true
	c.runningMu.Unlock()

	c.reconnectLoop()
}

// Stop closes the connection and ends the reconnect loop.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.runningMu.Lock()
		c.isRunning = false
		c.runningMu.Unlock()

		close(c.done)

		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()

		c.pending.drainAll()
		log.Info("portal client stopped")
	})
}

func (c *Client) reconnectLoop() {
	backoff := initialBackoff

	for {
		select {
		case <-c.done:
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", c.config.Address, dialTimeout)
		if err != nil {
			log.Warn("portal connect failed", "error", err)

			jitter := time.Duration(float64(backoff) * jitterFactor * (rand.Float64()*2 - 1))
			sleep := backoff + jitter
			if sleep < 0 {
				sleep = backoff
			}

			select {
			case <-c.done:
				return
			case <-time.After(sleep):
			}

			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = initialBackoff
		log.Info("portal connected", "address", c.config.Address)

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()

		pumpDone := make(chan struct{})
		go c.writePump(conn, pumpDone)
		c.readPump(conn)
		close(pumpDone)

		c.pending.drainAll()

		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()

		c.runningMu.RLock()
		running := c.isRunning
		c.runningMu.RUnlock()
		if !running {
			return
		}
	}
}

func (c *Client) writePump(conn net.Conn, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-c.done:
			return
		case send := <-c.sendCh:
			if err := writeFrame(conn, send.payload); err != nil {
				log.Warn("portal write failed", "error", err)
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) readPump(conn net.Conn) {
	for {
		frame, err := readFrame(conn)
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Warn("portal read failed", "error", err)
			}
			conn.Close()
			return
		}

		msg, err := wire.DecodePortalServerMessage(frame)
		if err != nil {
			log.Warn("portal message decode failed", "error", err)
			continue
		}

		if msg.Kind == wire.PortalServerVisitPassiveRequest {
			go c.handleVisitPassiveRequest(msg)
			continue
		}

		c.pending.deliver(msg.ID, &msg)
	}
}

// send enqueues a client message for transmission without blocking: a
// full send buffer returns a KindOutgoingChannelFull error and a stopped
// client a KindTransportIO error, both immediately.
func (c *Client) send(msg wire.PortalClientMessage) error {
	payload := wire.EncodePortalClientMessage(msg)
	select {
	case c.sendCh <- clientSend{payload: payload}:
		return nil
	case <-c.done:
		return corexerr.New(corexerr.KindTransportIO, "portal client is stopped")
	default:
		return corexerr.New(corexerr.KindOutgoingChannelFull, "portal send buffer full")
	}
}

// call sends msg and waits for the matching reply, mapping a timeout or
// protocol-level PortalError to the closed corexerr.Kind taxonomy.
func (c *Client) call(ctx context.Context, msg wire.PortalClientMessage) (*wire.PortalServerMessage, error) {
	ch := c.pending.insert(msg.ID)
	if err := c.send(msg); err != nil {
		c.pending.remove(msg.ID)
		return nil, err
	}

	select {
	case out := <-ch:
		if out.timedOut {
			return nil, corexerr.New(corexerr.KindTimeout, "portal request timed out")
		}
		return out.reply, nil
	case <-ctx.Done():
		c.pending.remove(msg.ID)
		return nil, corexerr.Wrap(corexerr.KindTimeout, "portal request cancelled", ctx.Err())
	case <-c.done:
		c.pending.remove(msg.ID)
		return nil, corexerr.New(corexerr.KindTransportIO, "portal client stopped")
	}
}

func newRequestID() uuid.UUID {
	return uuid.New()
}

func randomCredentials() ([]byte, error) {
	cred := make([]byte, 16)
	if _, err := cryptorand.Read(cred); err != nil {
		return nil, fmt.Errorf("generate visit credentials: %w", err)
	}
	return cred, nil
}

func portalErrToKind(e wire.PortalError) corexerr.Kind {
	switch e {
	case wire.PortalErrorInvalidPassword:
		return corexerr.KindInvalidPassword
	case wire.PortalErrorInvalidArgs:
		return corexerr.KindInvalidArgs
	case wire.PortalErrorRemoteRefuse:
		return corexerr.KindRemoteRefuse
	case wire.PortalErrorRemoteOffline:
		return corexerr.KindRemoteOffline
	case wire.PortalErrorRemoteInternal:
		return corexerr.KindRemoteInternal
	default:
		return corexerr.KindInternal
	}
}

func kindToPortalErr(k corexerr.Kind) wire.PortalError {
	switch k {
	case corexerr.KindInvalidPassword:
		return wire.PortalErrorInvalidPassword
	case corexerr.KindInvalidArgs:
		return wire.PortalErrorInvalidArgs
	case corexerr.KindRemoteRefuse:
		return wire.PortalErrorRemoteRefuse
	case corexerr.KindRemoteOffline:
		return wire.PortalErrorRemoteOffline
	case corexerr.KindRemoteInternal:
		return wire.PortalErrorRemoteInternal
	default:
		return wire.PortalErrorInternal
	}
}
