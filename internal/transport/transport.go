// Package transport carries length-delimited, optionally AEAD-protected
// message frames between two endpoints over TCP or UDP. It has
// no session logic of its own: callers send and receive opaque payload
// bytes, typically bincode-encoded wire.EndPointMessage values.
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirrorx/endpoint/internal/corexerr"
	"github.com/mirrorx/endpoint/internal/crypto"
	"github.com/mirrorx/endpoint/internal/logging"
)

var log = logging.L("transport")

// LengthPrefixSize is the size of the big-endian frame length prefix.
const LengthPrefixSize = 4

// MaxFrameSize is the largest payload a single frame may carry.
const MaxFrameSize = 32 << 20

// MaxDatagramPayload bounds a frame on the UDP path, where each datagram
// carries exactly one frame: an Ethernet-MTU IPv4/UDP packet minus the
// length prefix. Messages whose sealed form exceeds this must use TCP.
const MaxDatagramPayload = 1500 - 28 - LengthPrefixSize

// DialTimeout and HandshakeTimeout bound connection setup.
const (
	DialTimeout      = 10 * time.Second
	HandshakeTimeout = 30 * time.Second
)

// Transport is a single bidirectional framed connection. One goroutine
// owns the write side (draining Send), one owns the read side (populating
// Recv); neither is shared.
type Transport struct {
	conn     net.Conn
	datagram bool

	sendAEAD *crypto.AEAD
	recvAEAD *crypto.AEAD

	sendCh  chan []byte
	recvCh  chan []byte
	closeCh chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
	lastErr   atomic.Value
}

// New wraps an already-connected net.Conn (post key-agreement, post
// handshake frame) into a Transport and starts its read/write pumps.
// sendAEAD/recvAEAD may be nil, in which case frames are carried as
// plaintext — the core never does this outside of tests, since
// portal-mediated sessions always carry keys.
func New(conn net.Conn, sendAEAD, recvAEAD *crypto.AEAD) *Transport {
	t := &Transport{
		conn:     conn,
		datagram: strings.HasPrefix(conn.LocalAddr().Network(), "udp"),
		sendAEAD: sendAEAD,
		recvAEAD: recvAEAD,
		sendCh:   make(chan []byte, 1),
		recvCh:   make(chan []byte, 1),
		closeCh:  make(chan struct{}),
	}

	t.wg.Add(2)
	go t.writePump()
	go t.readPump()

	return t
}

// Send enqueues a payload for transmission, blocking until there is room in
// the single-frame send buffer, ctx is cancelled, or the transport closes.
func (t *Transport) Send(ctx context.Context, payload []byte) error {
	select {
	case t.sendCh <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.closeCh:
		return corexerr.New(corexerr.KindTransportIO, "transport closed")
	}
}

// Recv returns the channel of opened payload bytes. It is closed when the
// transport's read side ends, fatally, for any reason.
func (t *Transport) Recv() <-chan []byte {
	return t.recvCh
}

// Err returns the error that caused the transport to close, if any.
func (t *Transport) Err() error {
	if v := t.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Close tears down the transport. Safe to call multiple times and from any
// goroutine.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closeCh)
		t.conn.Close()
	})
	t.wg.Wait()
	return nil
}

func (t *Transport) fail(err error) {
	t.lastErr.CompareAndSwap(nil, err)
	t.closeOnce.Do(func() {
		close(t.closeCh)
		t.conn.Close()
	})
}

func (t *Transport) writePump() {
	defer t.wg.Done()
	for {
		select {
		case payload := <-t.sendCh:
			wire := payload
			if t.sendAEAD != nil {
				wire = t.sendAEAD.Seal(payload)
			}
			if t.datagram && len(wire) > MaxDatagramPayload {
				t.fail(corexerr.New(corexerr.KindTransportIO, "frame exceeds the single-datagram limit, use TCP for large messages"))
				return
			}
			if err := writeFrame(t.conn, wire); err != nil {
				log.Warn("transport write failed", "error", err)
				t.fail(corexerr.Wrap(corexerr.KindTransportIO, "write frame", err))
				return
			}
		case <-t.closeCh:
			return
		}
	}
}

func (t *Transport) readPump() {
	defer t.wg.Done()
	defer close(t.recvCh)

	for {
		frame, err := readFrame(t.conn)
		if err != nil {
			select {
			case <-t.closeCh:
			default:
				log.Warn("transport read failed", "error", err)
				t.fail(corexerr.Wrap(corexerr.KindTransportIO, "read frame", err))
			}
			return
		}

		payload := frame
		if t.recvAEAD != nil {
			payload, err = t.recvAEAD.Open(frame)
			if err != nil {
				log.Warn("transport AEAD open failed, closing", "error", err)
				t.fail(corexerr.Wrap(corexerr.KindCryptoFailure, "open frame", err))
				return
			}
		}

		select {
		case t.recvCh <- payload:
		case <-t.closeCh:
			return
		}
	}
}

func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds max %d", len(payload), MaxFrameSize)
	}
	var header [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame length %d exceeds max %d", length, MaxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return payload, nil
}
