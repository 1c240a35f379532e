// Package session turns an internal/transport byte-frame stream into typed
// wire.EndPointMessage values, multiplexes a synchronous request/reply RPC
// on top of it, and fans out video/audio/input traffic to replaceable
// sinks.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/mirrorx/endpoint/internal/corexerr"
	"github.com/mirrorx/endpoint/internal/logging"
	"github.com/mirrorx/endpoint/internal/transport"
	"github.com/mirrorx/endpoint/internal/wire"
)

// RequestHandler answers an incoming CallRequest. It runs in a fresh
// goroutine per request and must not block the session's read loop.
// A nil return becomes CallReply(id, None).
type RequestHandler func(ctx context.Context, req wire.EndPointCallRequest) *wire.EndPointCallReply

// Screen is the capture-or-presenter resource attached to a session's
// "screen" sink. Replacing it tears down the old one first: Close must block until the old capture/presenter has fully
// stopped producing frames.
type Screen interface {
	Close() error
}

// Sinks is the triple of independently-replaceable destinations a session
// routes incoming traffic to. All three are updated only
// through SetSinks, which serializes updates under sinkMu.
type Sinks struct {
	// Video carries decoder-bound frames in receipt order. The spec's
	// data model forbids dropping a VideoFrame at this hop, so Session
	// awaits room in this channel rather than overwriting a buffered
	// frame; it must be bidirectional even though Session only ever
	// sends on it. Capacity-1 overwrite semantics belong to the
	// encoder's capture input and the presenter's decode input
	// (internal/video), not to this wire hop.
	Video  chan wire.VideoFrame
	Audio  chan<- wire.AudioFrame
	Screen Screen
}

// Session wires one internal/transport.Transport to typed dispatch. Exactly
// one goroutine drains the transport's Recv channel. RPC handlers run in
// their own goroutines and audio delivery is a try-send; video delivery
// waits for sink room up to videoStallTimeout, and the input and file
// handlers run on that goroutine.
type Session struct {
	id   string
	tr   *transport.Transport
	calls *pendingCalls
	nextCallID uint32 // atomic, truncated to uint16 on use (wraps)

	handler RequestHandler
	inputHandler func(events []wire.InputEvent)
	fileHandler  func(msg wire.EndPointMessage)

	sinkMu sync.Mutex
	sinks  Sinks

	stopOnce sync.Once
	stopped  atomic.Bool
	doneCh   chan struct{}
	wg       sync.WaitGroup

	callsInFlight  *metrics.Counter
	callsTimedOut  *metrics.Counter
	messagesRecv   *metrics.Counter
	videoStalls    *metrics.Counter

	videoStallTimeout time.Duration

	terminalMu  sync.Mutex
	terminalErr error
}

// Config bundles the callbacks a Session dispatches into. Handler answers
// CallRequests; InputHandler receives InputCommand
// payloads; FileHandler receives FileTransferBlock/FileTransferError
// messages.
type Config struct {
	Handler      RequestHandler
	InputHandler func(events []wire.InputEvent)
	FileHandler  func(msg wire.EndPointMessage)

	// CallTTL overrides the pending-call cache's expiry (default CallTTL).
	// Tests inject a short value to exercise timeout behavior without a
	// real 60s wait.
	CallTTL time.Duration

	// VideoStallTimeout overrides how long sendVideo awaits room in a full
	// video sink before failing the session (default videoStallTimeout).
	// Tests inject a short value to exercise the failure path without a
	// real 5s wait.
	VideoStallTimeout time.Duration
}

// New starts a session over an already-connected, already-handshaken
// Transport. The caller is responsible for attaching initial Sinks via
// SetSinks before traffic that depends on them arrives.
func New(id string, tr *transport.Transport, cfg Config) *Session {
	stallTimeout := cfg.VideoStallTimeout
	if stallTimeout <= 0 {
		stallTimeout = videoStallTimeout
	}

	s := &Session{
		id:      id,
		tr:      tr,
		calls:   newPendingCalls(cfg.CallTTL),
		handler: cfg.Handler,
		inputHandler: cfg.InputHandler,
		fileHandler:  cfg.FileHandler,
		doneCh:  make(chan struct{}),

		videoStallTimeout: stallTimeout,

		callsInFlight: metrics.GetOrCreateCounter(fmt.Sprintf(`mirrorx_session_calls_in_flight{session=%q}`, id)),
		callsTimedOut: metrics.GetOrCreateCounter(fmt.Sprintf(`mirrorx_session_calls_timed_out_total{session=%q}`, id)),
		messagesRecv:  metrics.GetOrCreateCounter(fmt.Sprintf(`mirrorx_session_messages_received_total{session=%q}`, id)),
		videoStalls:   metrics.GetOrCreateCounter(fmt.Sprintf(`mirrorx_session_video_stalls_total{session=%q}`, id)),
	}

	s.wg.Add(1)
	go s.readLoop()

	return s
}

// ID returns the session's identifier (used for logging and the manager's
// session map key).
func (s *Session) ID() string {
	return s.id
}

// Done returns a channel closed once the session's read loop has ended,
// whether from a transport error, an explicit Close, or the peer going
// away. Callers that need to notice an unsolicited teardown (as opposed to
// one they initiated themselves) should select on this instead of polling.
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}

// Err returns the terminal error that ended the session, if any. Nil means
// the session is still running or was closed explicitly with no prior
// failure. A caller driving a GUI reads this once Done() closes to decide
// whether to surface a terminal error to the user (§7: "the GUI displays
// the first terminal error for a session and then tears it down").
func (s *Session) Err() error {
	s.terminalMu.Lock()
	defer s.terminalMu.Unlock()
	return s.terminalErr
}

// fail records err as the session's terminal error (first one wins) and
// tears the session down asynchronously. It must never be called from the
// read loop goroutine itself: Close waits on s.wg, which includes the read
// loop, so closing synchronously from inside it would deadlock.
func (s *Session) fail(err error) {
	s.terminalMu.Lock()
	if s.terminalErr == nil {
		s.terminalErr = err
	}
	s.terminalMu.Unlock()
	go s.Close()
}

// SetSinks atomically replaces the session's video/audio/screen sinks. If a
// Screen was already attached, it is closed before the new one is
// installed, guaranteeing no frame produced by the old capture is routed
// after this call returns.
func (s *Session) SetSinks(next Sinks) error {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()

	if s.sinks.Screen != nil {
		if err := s.sinks.Screen.Close(); err != nil {
			log.Warn("closing previous screen sink", "session", s.id, "error", err)
		}
	}
	s.sinks = next
	return nil
}

// Call sends a CallRequest and blocks until the matching CallReply arrives,
// ctx is cancelled, or the 60 s cache TTL expires.
func (s *Session) Call(ctx context.Context, req wire.EndPointCallRequest) (*wire.EndPointCallReply, error) {
	if s.stopped.Load() {
		return nil, corexerr.New(corexerr.KindOutgoingChannelClosed, "session stopped")
	}

	callID := uint16(atomic.AddUint32(&s.nextCallID, 1))
	s.callsInFlight.Inc()
	defer s.callsInFlight.Dec()

	outcomeCh, err := s.calls.insert(callID, func() {
		s.callsTimedOut.Inc()
	})
	if err != nil {
		return nil, err
	}

	msg := wire.NewCallRequestMessage(callID, req)
	if err := s.tr.Send(ctx, wire.Encode(msg)); err != nil {
		s.calls.invalidate(callID)
		return nil, corexerr.Wrap(corexerr.KindTransportIO, "send call request", err)
	}

	select {
	case outcome := <-outcomeCh:
		if outcome.TimedOut {
			return nil, corexerr.New(corexerr.KindTimeout, "call reply did not arrive within the pending-call TTL")
		}
		return outcome.Reply, nil
	case <-ctx.Done():
		s.calls.invalidate(callID)
		return nil, corexerr.Wrap(corexerr.KindTimeout, "call cancelled", ctx.Err())
	case <-s.doneCh:
		return nil, corexerr.New(corexerr.KindOutgoingChannelClosed, "session stopped while call was pending")
	}
}

// reply sends a CallReply for a CallRequest previously dispatched to
// Config.Handler. A nil reply encodes as CallReply(id, None).
func (s *Session) reply(ctx context.Context, callID uint16, rep *wire.EndPointCallReply) {
	msg := wire.NewCallReplyMessage(callID, rep)
	if err := s.tr.Send(ctx, wire.Encode(msg)); err != nil {
		log.Warn("failed to send call reply", "session", s.id, "callID", callID, "error", err)
	}
}

// SendVideoFrame and SendAudioFrame push outbound media frames (passive
// side encoding results) directly onto the wire, bypassing the RPC path.
func (s *Session) SendVideoFrame(ctx context.Context, f wire.VideoFrame) error {
	return s.tr.Send(ctx, wire.Encode(wire.NewVideoFrameMessage(f)))
}

func (s *Session) SendAudioFrame(ctx context.Context, f wire.AudioFrame) error {
	return s.tr.Send(ctx, wire.Encode(wire.NewAudioFrameMessage(f)))
}

// SendInputCommand pushes outbound input events (active side).
func (s *Session) SendInputCommand(ctx context.Context, events []wire.InputEvent) error {
	return s.tr.Send(ctx, wire.Encode(wire.NewInputCommandMessage(events)))
}

// SendFileBlock pushes a file transfer chunk.
func (s *Session) SendFileBlock(ctx context.Context, b wire.FileBlock) error {
	return s.tr.Send(ctx, wire.Encode(wire.NewFileTransferBlockMessage(b)))
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	defer close(s.doneCh)

	for raw := range s.tr.Recv() {
		s.messagesRecv.Inc()

		msg, err := wire.Decode(raw)
		if err != nil {
			log.Warn("dropping malformed message", "session", s.id, "error", err)
			continue
		}
		s.dispatch(msg)
	}

	// Transport closed: resolve every outstanding call with Timeout instead
	// of letting callers hang until their individual TTLs fire.
	for range s.calls.drainAll() {
		s.callsTimedOut.Inc()
	}
}

func (s *Session) dispatch(msg wire.EndPointMessage) {
	switch msg.Kind {
	case wire.MessageVideoFrame:
		s.sinkMu.Lock()
		video := s.sinks.Video
		s.sinkMu.Unlock()
		s.sendVideo(video, msg.VideoFrame)

	case wire.MessageAudioFrame:
		s.sinkMu.Lock()
		audio := s.sinks.Audio
		s.sinkMu.Unlock()
		trySendAudio(audio, msg.AudioFrame)

	case wire.MessageInputCommand:
		if s.inputHandler != nil {
			s.inputHandler(msg.Input)
		}

	case wire.MessageCallRequest:
		s.dispatchCallRequest(msg.CallID, msg.CallRequest)

	case wire.MessageCallReply:
		var rep *wire.EndPointCallReply
		if msg.HasCallReply {
			rep = &msg.CallReply
		}
		s.calls.deliver(msg.CallID, rep)

	case wire.MessageFileTransferBlock, wire.MessageFileTransferError:
		if s.fileHandler != nil {
			s.fileHandler(msg)
		}

	case wire.MessageError:
		log.Warn("received error message from peer", "session", s.id, "message", msg.ErrorMessage)
	}
}

func (s *Session) dispatchCallRequest(callID uint16, req wire.EndPointCallRequest) {
	if s.handler == nil {
		s.reply(context.Background(), callID, nil)
		return
	}

	// The handler's context is cancelled when the session ends; Close does
	// not wait for handlers to return.
	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-s.doneCh:
				cancel()
			case <-ctx.Done():
			}
		}()
		rep := s.handler(ctx, req)
		s.reply(ctx, callID, rep)
	}()
}

// videoStallTimeout bounds how long the read loop awaits room in a full
// video sink. The spec's data model forbids dropping a VideoFrame at this
// hop ("no frame may be dropped by the transport"), so sendVideo blocks
// instead of overwriting; but an unbounded block would let a wedged or
// abandoned consumer hang the session's read loop forever, so sustained
// backpressure past this bound is treated as the decoder being unable to
// keep up and ends the session instead ("if decoding cannot keep up the
// session fails").
const videoStallTimeout = 5 * time.Second

func (s *Session) sendVideo(ch chan wire.VideoFrame, f wire.VideoFrame) {
	if ch == nil {
		return
	}
	select {
	case ch <- f:
	case <-s.doneCh:
	case <-time.After(s.videoStallTimeout):
		s.videoStalls.Inc()
		log.Error("video sink did not drain in time, failing session", "session", s.id)
		s.fail(corexerr.New(corexerr.KindDecodeFailure, "video consumer fell behind the incoming stream"))
	}
}

func trySendAudio(ch chan<- wire.AudioFrame, f wire.AudioFrame) {
	if ch == nil {
		return
	}
	select {
	case ch <- f:
	default:
		// Audio has no overwrite requirement; a full buffer simply drops
		// the newest packet rather than blocking the read loop.
	}
}

// Close cancels every task the session spawned and drops the transport.
// Outstanding Calls resolve with a Timeout-kind error.
func (s *Session) Close() error {
	var err error
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		err = s.tr.Close()
		s.wg.Wait()

		s.sinkMu.Lock()
		if s.sinks.Screen != nil {
			if cerr := s.sinks.Screen.Close(); cerr != nil {
				log.Warn("closing screen sink on session close", "session", s.id, "error", cerr)
			}
		}
		s.sinkMu.Unlock()
	})
	return err
}

var log = logging.L("session")
