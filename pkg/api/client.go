package api

import (
	"context"
	"image"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/mirrorx/endpoint/internal/audio"
	"github.com/mirrorx/endpoint/internal/corexerr"
	"github.com/mirrorx/endpoint/internal/crypto"
	"github.com/mirrorx/endpoint/internal/filetransfer"
	"github.com/mirrorx/endpoint/internal/input"
	"github.com/mirrorx/endpoint/internal/negotiate"
	"github.com/mirrorx/endpoint/internal/portal"
	"github.com/mirrorx/endpoint/internal/secmem"
	"github.com/mirrorx/endpoint/internal/session"
	"github.com/mirrorx/endpoint/internal/transport"
	"github.com/mirrorx/endpoint/internal/video"
	"github.com/mirrorx/endpoint/internal/wire"
	"github.com/mirrorx/endpoint/internal/workerpool"
)

// pendingVisitTTL bounds how long a passive-side key exchange's result
// waits for the active side's transport connection to actually arrive.
const pendingVisitTTL = 60 * time.Second

// defaultCaptureFPS is used when nothing overrides it; 30 matches
// internal/video.DefaultEncoderConfig's own implicit assumption.
const defaultCaptureFPS = 30

// Client is the facade a GUI or CLI process drives: one portal connection,
// one listener for incoming visits, and the session bookkeeping that wires
// every accepted or initiated visit to the capture/input/file-transfer
// pipelines Config supplies.
type Client struct {
	cfg Config

	portal    *portal.Client
	codecPool *workerpool.Pool
	sessions  *session.Manager

	listener net.Listener

	mu            sync.Mutex
	localDeviceID uint64
	pendingVisits map[[transport.CredentialSize]byte]pendingVisit
	active        map[string]*Session
}

// pendingVisit is what a passive-side key exchange leaves behind for the
// transport handshake to pick up once the active side's connection
// actually arrives. It is deleted from Client.pendingVisits once a
// handshake for it succeeds; after a failed handshake it stays until
// expiresAt, after which lookups ignore it.
type pendingVisit struct {
	expiresAt      time.Time
	localDeviceID  uint64
	remoteDeviceID uint64
	sealingKey     [crypto.KeySize]byte
	openingKey     [crypto.KeySize]byte
	ownNonce       [crypto.NonceSize]byte
	peerNonce      [crypto.NonceSize]byte
}

// NewClient builds a Client around cfg. Call Start to begin accepting
// visits and maintaining the portal connection.
func NewClient(cfg Config) *Client {
	workers, queue := cfg.CodecWorkers, cfg.CodecQueueSize
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 64
	}

	c := &Client{
		cfg:           cfg,
		localDeviceID: cfg.LocalDeviceID,
		codecPool:     workerpool.New(workers, queue),
		sessions:      session.NewManager(),
		pendingVisits: make(map[[transport.CredentialSize]byte]pendingVisit),
		active:        make(map[string]*Session),
	}

	c.portal = portal.New(portal.Config{
		Address:       cfg.PortalAddress,
		LocalPassword: secmem.NewSecureString(cfg.LocalPassword),
		OnVisitRequest: func(activeID, _ uint64, visitDesktop bool) bool {
			if cfg.OnVisitRequest == nil {
				return false
			}
			return cfg.OnVisitRequest(activeID, visitDesktop)
		},
		OnVisitEstablished: c.rememberPendingVisit,
		LANAddrs:           c.localLANAddrs,
	})

	return c
}

// Start opens the passive-side listener and begins the portal client's
// reconnect loop. Both run until Stop is called.
func (c *Client) Start() error {
	ln, err := transport.ListenTCP(c.cfg.ListenAddr)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.listener = ln
	c.mu.Unlock()

	go c.portal.Start()
	go c.acceptLoop(ln)

	return nil
}

// localLANAddrs is the portal.Config.LANAddrs callback: it reports this
// device's own local interface addresses on the passive listener's port,
// so the active side can try a same-subnet DialLAN before falling back to
// the relay. Returns nil before Start has bound a listener.
func (c *Client) localLANAddrs() []string {
	c.mu.Lock()
	ln := c.listener
	c.mu.Unlock()
	if ln == nil {
		return nil
	}

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil
	}
	return transport.LocalLANAddrs(port)
}

// Stop closes the listener, the portal connection, every session this
// Client is tracking, and drains the codec worker pool.
func (c *Client) Stop() {
	if c.listener != nil {
		c.listener.Close()
	}
	c.portal.Stop()

	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.active))
	for _, s := range c.active {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.codecPool.Shutdown(ctx)
}

// Register claims or renews this device's portal id, remembering the
// assigned id for subsequent Visit calls.
func (c *Client) Register(ctx context.Context, fingerprint string) (uint64, error) {
	c.mu.Lock()
	var idPtr *uint64
	if c.localDeviceID != 0 {
		id := c.localDeviceID
		idPtr = &id
	}
	c.mu.Unlock()

	res, err := c.portal.Register(ctx, idPtr, fingerprint)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.localDeviceID = res.AssignedDeviceID
	c.mu.Unlock()

	return res.AssignedDeviceID, nil
}

// IsOnline reports whether deviceID currently holds an open portal
// connection.
func (c *Client) IsOnline(ctx context.Context, deviceID uint64) (bool, error) {
	return c.portal.IsOnline(ctx, deviceID)
}

// ServerConfig fetches the portal's opaque server-config blob.
func (c *Client) ServerConfig(ctx context.Context) ([]byte, error) {
	return c.portal.ServerConfig(ctx)
}

// rememberPendingVisit is the portal.Config.OnVisitEstablished callback: it
// stashes the passive-side key material under the visit credentials the
// active side's transport handshake will present.
func (c *Client) rememberPendingVisit(ev portal.VisitEstablished) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pendingVisits[ev.Credentials] = pendingVisit{
		expiresAt:      time.Now().Add(pendingVisitTTL),
		localDeviceID:  c.localDeviceID,
		remoteDeviceID: ev.ActiveDeviceID,
		sealingKey:     ev.SealingKey,
		openingKey:     ev.OpeningKey,
		ownNonce:       ev.OwnNonce,
		peerNonce:      ev.PeerNonce,
	}
}

// resolvePendingVisit is the transport.AcceptHandshake resolver: it looks
// up the pending visit matching the peer's credentials without consuming
// it, since the handshake itself may still fail verification.
func (c *Client) resolvePendingVisit(credentials [transport.CredentialSize]byte) (localDeviceID, expectedRemoteDeviceID uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pv, found := c.pendingVisits[credentials]
	if !found || time.Now().After(pv.expiresAt) {
		return 0, 0, false
	}
	return pv.localDeviceID, pv.remoteDeviceID, true
}

func (c *Client) takePendingVisit(credentials [transport.CredentialSize]byte) (pendingVisit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pv, ok := c.pendingVisits[credentials]
	if ok {
		delete(c.pendingVisits, credentials)
	}
	return pv, ok
}

func (c *Client) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Info("passive listener stopped accepting", "error", err)
			return
		}
		go c.acceptVisit(conn)
	}
}

func (c *Client) acceptVisit(conn net.Conn) {
	credentials, err := transport.AcceptHandshake(conn, c.resolvePendingVisit)
	if err != nil {
		log.Warn("passive handshake failed", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}

	pv, ok := c.takePendingVisit(credentials)
	if !ok {
		log.Warn("passive handshake matched no pending visit", "remote", conn.RemoteAddr())
		conn.Close()
		return
	}

	sess, err := c.buildPassiveSession(conn, pv)
	if err != nil {
		log.Warn("build passive session failed", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}

	c.track(sess)
	if c.cfg.OnIncomingSession != nil {
		c.cfg.OnIncomingSession(sess)
	}
}

// buildPassiveSession wires a freshly handshaken connection into a ready
// Session: transport AEAD, screen negotiation backed by Config.Capturer,
// input dispatch backed by Config.Injector, file transfer, and (if
// Config.AudioCapturer is set) outbound audio capture.
func (c *Client) buildPassiveSession(conn net.Conn, pv pendingVisit) (*Session, error) {
	sendAEAD, err := crypto.NewAEAD(pv.sealingKey, crypto.NewNonceValue(pv.ownNonce))
	if err != nil {
		return nil, err
	}
	recvAEAD, err := crypto.NewAEAD(pv.openingKey, crypto.NewNonceValue(pv.peerNonce))
	if err != nil {
		return nil, err
	}
	tr := transport.New(conn, sendAEAD, recvAEAD)

	files := filetransfer.NewManager()

	capturer := c.cfg.Capturer
	if capturer == nil {
		capturer = noCapturer{}
	}
	pipeline := &capturePipeline{capturer: capturer, pool: c.codecPool, fps: defaultCaptureFPS}
	negotiateHandler := negotiate.NewHandler(videoCapturerAdapter{capturer}, pipeline.start)

	var dispatcher *input.Dispatcher
	if c.cfg.Injector != nil {
		dispatcher = input.NewDispatcher(c.cfg.Injector, 0, 0)
	}

	handler := newPassiveHandler(negotiateHandler, files)

	apiSess := &Session{
		Role:           RolePassive,
		RemoteDeviceID: pv.remoteDeviceID,
		files:          files,
		videoCh:        make(chan wire.VideoFrame, 1),
		audioCh:        make(chan wire.AudioFrame, 16),
	}

	id := session.EndPointID{LocalDeviceID: pv.localDeviceID, RemoteDeviceID: pv.remoteDeviceID}.String()

	// Negotiate/SwitchScreen replace negotiateHandler's own current Screen
	// internally; this keeps the session's sinks in step so Session.Close
	// also tears down whatever capture pipeline is running even if nothing
	// switches screens again first. Handlers run in their own goroutines, so
	// waiting on innerReady (closed right after session.New returns below)
	// cannot stall the read loop.
	innerReady := make(chan struct{})
	combinedHandler := func(ctx context.Context, req wire.EndPointCallRequest) *wire.EndPointCallReply {
		reply := handler.Handle(ctx, req)
		<-innerReady
		if req.Kind == wire.CallRequestNegotiate || req.Kind == wire.CallRequestSwitchScreen {
			sinks := session.Sinks{Video: apiSess.videoCh, Audio: apiSess.audioCh, Screen: negotiateHandler.Screen()}
			if err := apiSess.inner.SetSinks(sinks); err != nil {
				log.Warn("update screen sink failed", "session", id, "error", err)
			}
		}
		return reply
	}

	inner := session.New(id, tr, session.Config{
		Handler: combinedHandler,
		InputHandler: func(events []wire.InputEvent) {
			if dispatcher == nil {
				return
			}
			if err := dispatcher.Handle(events); err != nil {
				log.Warn("input dispatch failed", "session", id, "error", err)
			}
		},
		FileHandler: files.HandleBlock,
	})
	apiSess.inner = inner
	close(innerReady)

	handler.attachSender(func(b wire.FileBlock) error {
		return inner.SendFileBlock(context.Background(), b)
	})
	pipeline.attach(func(ctx context.Context, f wire.VideoFrame) error {
		return inner.SendVideoFrame(ctx, f)
	})

	if err := inner.SetSinks(session.Sinks{Video: apiSess.videoCh, Audio: apiSess.audioCh}); err != nil {
		inner.Close()
		files.Close()
		return nil, err
	}

	if c.cfg.AudioCapturer != nil {
		stop, err := c.startAudioCapture(func(ctx context.Context, f wire.AudioFrame) error {
			return inner.SendAudioFrame(ctx, f)
		})
		if err != nil {
			log.Warn("audio capture start failed", "session", id, "error", err)
		} else {
			apiSess.stopAudioCapture = stop
		}
	}

	c.startMediaPipelines(apiSess)

	return apiSess, nil
}

// dialVisitTransport races vr's LAN fast-path candidates, if any, against a
// short timeout before falling back to the portal-provided relay address
// (§4.2a: same-subnet optimization, never attempted when there are no
// candidates or none answer in time). Returns nil if neither path connects.
func (c *Client) dialVisitTransport(ctx context.Context, vr *portal.VisitResult) net.Conn {
	if len(vr.LANAddrs) > 0 {
		if conn, err := transport.DialLAN(ctx, vr.LANAddrs); err == nil {
			log.Info("lan fast-path dial succeeded", "relay", vr.RelayAddr)
			return conn
		} else {
			log.Info("lan fast-path dial failed, falling back to relay", "relay", vr.RelayAddr, "error", err)
		}
	}

	conn, err := transport.DialTCP(ctx, vr.RelayAddr)
	if err != nil {
		log.Warn("relay dial failed", "relay", vr.RelayAddr, "error", err)
		return nil
	}
	return conn
}

// Visit runs the active-side key exchange against remoteID through the
// portal, dials the passive side's relay address, completes the transport
// handshake, and returns a ready-to-use Session.
func (c *Client) Visit(ctx context.Context, remoteID uint64, password string, visitDesktop bool) (*Session, error) {
	c.mu.Lock()
	localID := c.localDeviceID
	c.mu.Unlock()

	vr, err := c.portal.Visit(ctx, localID, remoteID, password, visitDesktop)
	if err != nil {
		return nil, err
	}

	if len(vr.VisitCredentials) != transport.CredentialSize {
		return nil, corexerr.New(corexerr.KindInvalidArgs, "portal returned malformed visit credentials")
	}
	var credentials [transport.CredentialSize]byte
	copy(credentials[:], vr.VisitCredentials)

	conn := c.dialVisitTransport(ctx, vr)
	if conn == nil {
		return nil, corexerr.New(corexerr.KindTransportIO, "no transport reachable: neither lan fast-path nor relay")
	}

	if err := transport.PerformHandshake(conn, credentials, localID, remoteID); err != nil {
		conn.Close()
		return nil, err
	}

	sendAEAD, err := crypto.NewAEAD(vr.SealingKey, crypto.NewNonceValue(vr.OwnNonce))
	if err != nil {
		conn.Close()
		return nil, err
	}
	recvAEAD, err := crypto.NewAEAD(vr.OpeningKey, crypto.NewNonceValue(vr.PeerNonce))
	if err != nil {
		conn.Close()
		return nil, err
	}
	tr := transport.New(conn, sendAEAD, recvAEAD)

	files := filetransfer.NewManager()
	id := session.EndPointID{LocalDeviceID: localID, RemoteDeviceID: remoteID}.String()

	apiSess := &Session{
		Role:           RoleActive,
		RemoteDeviceID: remoteID,
		files:          files,
		videoCh:        make(chan wire.VideoFrame, 1),
		audioCh:        make(chan wire.AudioFrame, 16),
	}

	inner := session.New(id, tr, session.Config{FileHandler: files.HandleBlock})
	apiSess.inner = inner

	if err := inner.SetSinks(session.Sinks{Video: apiSess.videoCh, Audio: apiSess.audioCh}); err != nil {
		inner.Close()
		files.Close()
		return nil, err
	}

	c.startMediaPipelines(apiSess)
	c.track(apiSess)

	return apiSess, nil
}

// track registers sess with the session manager and this Client's own
// active-session map, and arranges for both to be cleaned up once the
// underlying transport session ends. Session ids are the unordered device
// pair, so a second visit between the same two devices replaces the first
// session; cleanup therefore only removes registrations this exact session
// still holds.
func (c *Client) track(sess *Session) {
	id := sess.inner.ID()
	c.sessions.Add(sess.inner)

	c.mu.Lock()
	c.active[id] = sess
	c.mu.Unlock()

	go func() {
		<-sess.inner.Done()

		if err := sess.inner.Err(); err != nil {
			log.Warn("session ended with a terminal error", "session", id, "error", err)
		}

		c.mu.Lock()
		if cur, ok := c.active[id]; ok && cur == sess {
			delete(c.active, id)
		}
		c.mu.Unlock()
		_ = sess.Close() // tears down the file-transfer manager and audio capture too
		c.sessions.Release(sess.inner)

		if c.cfg.OnSessionClosed != nil {
			c.cfg.OnSessionClosed(sess)
		}
	}()
}

// startAudioCapture builds an Opus encoder around Config.AudioCapturer and
// starts it, routing every encoded frame through send with the encode call
// itself running on Client's codec worker pool rather than whatever
// goroutine the platform capturer calls back on. It returns the capturer's
// Stop method, or an error if either the encoder or the capturer itself
// failed to start.
func (c *Client) startAudioCapture(send func(ctx context.Context, f wire.AudioFrame) error) (func(), error) {
	channels := c.cfg.AudioChannels
	if channels <= 0 {
		channels = 2
	}

	enc, err := audio.NewEncoder(channels)
	if err != nil {
		return nil, err
	}

	err = c.cfg.AudioCapturer.Start(func(frame audio.PCMFrame) {
		frames, err := workerpool.Call(c.codecPool.Context(), c.codecPool, func() ([]wire.AudioFrame, error) {
			return enc.Encode(frame)
		})
		if err != nil {
			log.Warn("audio encode failed", "error", err)
			return
		}
		for _, f := range frames {
			if err := send(context.Background(), f); err != nil {
				log.Warn("send audio frame failed", "error", err)
			}
		}
	})
	if err != nil {
		return nil, err
	}

	return c.cfg.AudioCapturer.Stop, nil
}

// startMediaPipelines attaches Config.Presenter and Config.AudioPlayback to
// a session's incoming media channels. It is the receive-side mirror of
// capturePipeline: decode runs on the codec pool so a slow codec call never
// stalls the session's dispatch, and each loop's stop function lands on the
// Session so Close tears it down with everything else.
func (c *Client) startMediaPipelines(apiSess *Session) {
	if c.cfg.Presenter != nil {
		apiSess.stopPresent = c.startVideoPresent(apiSess.videoCh, c.cfg.Presenter)
	}
	if c.cfg.AudioPlayback != nil {
		apiSess.stopPlayback = c.startAudioPlayback(apiSess.audioCh, c.cfg.AudioPlayback)
	}
}

// startVideoPresent drains a session's incoming video channel through an
// internal/video.Decoder into presenter. Decoded frames cross a capacity-1
// overwrite slot on the way to Paint, so a presenter slower than the stream
// always paints the newest frame. A decode failure terminates the media
// stream, per the posture that a decoder losing sync has no recovery path
// short of renegotiation.
func (c *Client) startVideoPresent(frames <-chan wire.VideoFrame, presenter video.Presenter) func() {
	dec := video.NewDecoder()
	renderCh := make(chan video.DecodedFrame, 1)
	stopCh := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(renderCh)
		for {
			select {
			case <-stopCh:
				return
			case f, ok := <-frames:
				if !ok {
					return
				}
				decoded, err := workerpool.Call(c.codecPool.Context(), c.codecPool, func() (video.DecodedFrame, error) {
					return dec.Decode(int(f.Width), int(f.Height), f.Bytes)
				})
				if err != nil {
					log.Error("video decode failed, terminating presentation", "error", err)
					return
				}
				sendDecoded(renderCh, decoded)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for decoded := range renderCh {
			if err := presenter.Paint(decoded); err != nil {
				log.Warn("presenter paint failed", "error", err)
			}
		}
	}()

	return func() {
		close(stopCh)
		wg.Wait()
	}
}

// sendDecoded delivers a frame to the render slot with single-slot
// overwrite semantics: a stale frame still waiting for the presenter is
// dropped in favor of the new one, never the reverse.
func sendDecoded(ch chan video.DecodedFrame, f video.DecodedFrame) {
	select {
	case ch <- f:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- f:
		default:
		}
	}
}

// startAudioPlayback drains a session's incoming audio channel through an
// internal/audio.PlaybackDecoder into sink. The decoder is built lazily
// from the first frame's channel count, since the peer's capture layout
// isn't known until audio actually arrives; its one-time buffer-size
// measurement is forwarded to Config.OnAudioBufferSize.
func (c *Client) startAudioPlayback(frames <-chan wire.AudioFrame, sink func([]float32)) func() {
	outputRate := c.cfg.AudioOutputRate
	if outputRate <= 0 {
		outputRate = audio.OpusSampleRate
	}

	stopCh := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		var playback *audio.PlaybackDecoder
		for {
			select {
			case <-stopCh:
				return
			case f, ok := <-frames:
				if !ok {
					return
				}
				if playback == nil {
					channels := int(f.Channels)
					if channels < 1 {
						channels = 1
					}
					if channels > audio.MaxChannels {
						channels = audio.MaxChannels
					}
					dec, err := audio.NewDecoder(channels, outputRate, c.cfg.OnAudioBufferSize)
					if err != nil {
						log.Error("audio playback decoder init failed", "error", err)
						return
					}
					playback = audio.NewPlaybackDecoder(dec, sink)
				}
				if _, err := workerpool.Call(c.codecPool.Context(), c.codecPool, func() (struct{}, error) {
					return struct{}{}, playback.Feed(f)
				}); err != nil {
					log.Error("audio decode failed, terminating playback", "error", err)
					return
				}
			}
		}
	}()

	return func() {
		close(stopCh)
		wg.Wait()
	}
}

// capturePipeline is the negotiate.Handler's startCapture implementation:
// it owns the platform Capturer, runs the capture→encode loop for whichever
// monitor is currently selected, and forwards encoded frames through send
// once a session has attached one. send starts out nil because a
// negotiate.Handler (and the pipeline it drives) must exist before the
// Session that will eventually supply it; attach fills it in once
// buildPassiveSession's session.New call returns.
type capturePipeline struct {
	capturer video.Capturer
	pool     *workerpool.Pool
	fps      int

	mu   sync.Mutex
	send func(context.Context, wire.VideoFrame) error
}

func (p *capturePipeline) attach(send func(context.Context, wire.VideoFrame) error) {
	p.mu.Lock()
	p.send = send
	p.mu.Unlock()
}

func (p *capturePipeline) start(ctx context.Context, monitorID string, codec wire.VideoCodec) (negotiate.Screen, error) {
	if codec != wire.VideoCodecH264 {
		return nil, corexerr.New(corexerr.KindInvalidArgs, "unsupported video codec")
	}

	monitors, err := p.capturer.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	var target *video.MonitorInfo
	for i := range monitors {
		if monitors[i].ID == monitorID {
			target = &monitors[i]
			break
		}
	}
	if target == nil {
		return nil, corexerr.New(corexerr.KindInvalidArgs, "unknown monitor id")
	}

	runCtx, cancel := context.WithCancel(context.Background())

	rawCh, err := p.capturer.Start(runCtx, monitorID, p.fps)
	if err != nil {
		cancel()
		return nil, err
	}

	enc, err := video.NewEncoder(video.DefaultEncoderConfig(int(target.Width), int(target.Height), p.fps))
	if err != nil {
		cancel()
		return nil, err
	}

	done := make(chan struct{})
	go p.forward(runCtx, rawCh, enc, target.Width, target.Height, monitorID, done)

	return &captureScreen{cancel: cancel, done: done, stop: p.capturer.Close}, nil
}

func (p *capturePipeline) forward(ctx context.Context, rawCh <-chan video.RawFrame, enc *video.Encoder, width, height uint32, monitorID string, done chan struct{}) {
	defer close(done)
	defer enc.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawCh:
			if !ok {
				return
			}

			payload, err := workerpool.Call(ctx, p.pool, func() ([]byte, error) {
				return encodeOne(enc, raw)
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("video encode failed", "monitor", monitorID, "error", err)
				continue
			}
			if payload == nil {
				continue // unchanged frame, skipped by the encoder's diff check
			}

			p.mu.Lock()
			send := p.send
			p.mu.Unlock()
			if send == nil {
				continue
			}
			if err := send(ctx, wire.VideoFrame{Width: width, Height: height, PTS: raw.PTS, Bytes: payload}); err != nil {
				log.Warn("send video frame failed", "monitor", monitorID, "error", err)
			}
		}
	}
}

func encodeOne(enc *video.Encoder, raw video.RawFrame) ([]byte, error) {
	payload, _, err := enc.EncodeRaw(raw)
	return payload, err
}

// captureScreen is the Screen handle negotiate.Handler tracks for one
// running capture/encode pipeline. Close cancels the forwarding goroutine,
// waits for it to exit, and only then stops the capturer itself,
// guaranteeing no frame tagged with the old monitor can be sent after
// Close returns.
type captureScreen struct {
	cancel context.CancelFunc
	done   chan struct{}
	stop   func() error
}

func (s *captureScreen) Close() error {
	s.cancel()
	<-s.done
	return s.stop()
}

// videoCapturerAdapter satisfies negotiate.Capturer over an
// internal/video.Capturer: the two packages define structurally identical
// but distinct MonitorInfo types to avoid an import cycle, so Enumerate's
// result needs converting. Screenshot is promoted unchanged since both
// interfaces share its signature.
type videoCapturerAdapter struct {
	video.Capturer
}

func (a videoCapturerAdapter) Enumerate(ctx context.Context) ([]negotiate.MonitorInfo, error) {
	infos, err := a.Capturer.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]negotiate.MonitorInfo, len(infos))
	for i, m := range infos {
		out[i] = negotiate.MonitorInfo{
			ID:          m.ID,
			Name:        m.Name,
			Width:       m.Width,
			Height:      m.Height,
			RefreshRate: m.RefreshRate,
			IsPrimary:   m.IsPrimary,
		}
	}
	return out, nil
}

// noCapturer stands in for Config.Capturer when a device is never meant to
// answer visitDesktop=true visits productively: Negotiate still gets a
// reply instead of a nil-pointer panic, just one carrying CallReplyMonitorError.
type noCapturer struct{}

func (noCapturer) Enumerate(ctx context.Context) ([]video.MonitorInfo, error) {
	return nil, corexerr.New(corexerr.KindInternal, "no capturer configured")
}

func (noCapturer) Screenshot(ctx context.Context, monitorID string) (image.Image, error) {
	return nil, corexerr.New(corexerr.KindInternal, "no capturer configured")
}

func (noCapturer) Start(ctx context.Context, monitorID string, fps int) (<-chan video.RawFrame, error) {
	return nil, corexerr.New(corexerr.KindInternal, "no capturer configured")
}

func (noCapturer) Close() error { return nil }
