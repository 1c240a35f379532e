// Package negotiate implements the passive side's handling of
// NegotiateRequest and SwitchScreenRequest: monitor enumeration, screenshot
// thumbnail capture, and the teardown-before-switch guarantee for screen
// capture pipelines.
package negotiate

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"

	"github.com/mirrorx/endpoint/internal/corexerr"
	"github.com/mirrorx/endpoint/internal/logging"
	"github.com/mirrorx/endpoint/internal/wire"
)

// MonitorInfo is what a platform Capturer reports for one display. It is
// the pre-thumbnail shape; Handler attaches the PNG itself at negotiation
// time so a stale thumbnail never outlives the monitor list it came from.
type MonitorInfo struct {
	ID          string
	Name        string
	Width       uint32
	Height      uint32
	RefreshRate uint32
	IsPrimary   bool
}

// Capturer is the subset of internal/video.Capturer negotiate depends on:
// enumerating monitors and grabbing one still frame for the thumbnail.
// Starting/stopping the actual capture/encode pipeline is owned by the
// caller (the startCapture function passed to NewHandler), which keeps
// negotiate free of any codec
// dependency.
type Capturer interface {
	Enumerate(ctx context.Context) ([]MonitorInfo, error)
	Screenshot(ctx context.Context, monitorID string) (image.Image, error)
}

// Screen is the teardown handle for a running capture/encode pipeline,
// satisfying session.Screen.
type Screen interface {
	Close() error
}

// Handler answers NegotiateRequest/SwitchScreenRequest CallRequests on the
// passive side. startCapture starts a fresh capture/encode
// pipeline for the given monitor and returns the Screen handle that owns
// it; Handler guarantees the previous Screen is fully closed (and so stops
// producing frames) before startCapture is called for a switch.
type Handler struct {
	capturer     Capturer
	startCapture func(ctx context.Context, monitorID string, codec wire.VideoCodec) (Screen, error)

	// mu serializes Handle calls: the session dispatches each CallRequest
	// in its own goroutine, and a SwitchScreen racing a Negotiate must not
	// interleave teardown and start of capture pipelines.
	mu      sync.Mutex
	codec   wire.VideoCodec
	current Screen
}

// NewHandler builds a negotiate Handler. startCapture is supplied by the
// caller (pkg/api's capture pipeline) so negotiate never imports the codec
// package.
func NewHandler(capturer Capturer, startCapture func(ctx context.Context, monitorID string, codec wire.VideoCodec) (Screen, error)) *Handler {
	return &Handler{capturer: capturer, startCapture: startCapture}
}

// Handle is the RequestHandler session.Config.Handler expects. It dispatches
// Negotiate and SwitchScreen requests; any other kind is a programmer error
// in the caller's routing and returns CallReply(id, None).
func (h *Handler) Handle(ctx context.Context, req wire.EndPointCallRequest) *wire.EndPointCallReply {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch req.Kind {
	case wire.CallRequestNegotiate:
		return h.negotiate(ctx, req.Negotiate)
	case wire.CallRequestSwitchScreen:
		return h.switchScreen(ctx, req.SwitchScreen)
	default:
		return nil
	}
}

func (h *Handler) negotiate(ctx context.Context, req wire.NegotiateRequest) *wire.EndPointCallReply {
	codec, ok := pickCodec(req.VideoCodecs)
	if !ok {
		return &wire.EndPointCallReply{Kind: wire.CallReplyVideoError}
	}

	monitors, err := h.capturer.Enumerate(ctx)
	if err != nil {
		log.Warn("enumerate monitors", "error", err)
		return &wire.EndPointCallReply{Kind: wire.CallReplyMonitorError}
	}
	if len(monitors) == 0 {
		return &wire.EndPointCallReply{Kind: wire.CallReplyMonitorError}
	}

	primary := monitors[0]
	for _, m := range monitors {
		if m.IsPrimary {
			primary = m
			break
		}
	}

	mon, err := h.buildMonitor(ctx, primary)
	if err != nil {
		log.Warn("capture negotiate thumbnail", "monitor", primary.ID, "error", err)
		return &wire.EndPointCallReply{Kind: wire.CallReplyMonitorError}
	}

	h.codec = codec
	return &wire.EndPointCallReply{
		Kind: wire.CallReplyNegotiate,
		Negotiate: wire.NegotiateReply{
			PrimaryMonitor: mon,
			Codec:          codec,
		},
	}
}

func (h *Handler) switchScreen(ctx context.Context, req wire.SwitchScreenRequest) *wire.EndPointCallReply {
	monitors, err := h.capturer.Enumerate(ctx)
	if err != nil {
		log.Warn("enumerate monitors for switch", "error", err)
		return &wire.EndPointCallReply{Kind: wire.CallReplyMonitorError}
	}

	var target *MonitorInfo
	for i := range monitors {
		if monitors[i].ID == req.DisplayID {
			target = &monitors[i]
			break
		}
	}
	if target == nil {
		return &wire.EndPointCallReply{Kind: wire.CallReplyMonitorError}
	}

	// Teardown-before-switch: the old capture must stop producing frames
	// before the new one starts, so no VideoFrame tagged with the old
	// monitor can arrive after this reply.
	if h.current != nil {
		if err := h.current.Close(); err != nil {
			log.Warn("closing previous screen capture", "error", err)
		}
		h.current = nil
	}

	screen, err := h.startCapture(ctx, target.ID, h.codec)
	if err != nil {
		log.Warn("start capture", "monitor", target.ID, "error", err)
		return &wire.EndPointCallReply{Kind: wire.CallReplyMonitorError}
	}
	h.current = screen

	return &wire.EndPointCallReply{
		Kind: wire.CallReplySwitchScreen,
		SwitchScreen: wire.SwitchScreenReply{
			Width:  target.Width,
			Height: target.Height,
		},
	}
}

// Screen returns the currently active capture handle, or nil.
func (h *Handler) Screen() Screen {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *Handler) buildMonitor(ctx context.Context, info MonitorInfo) (wire.Monitor, error) {
	img, err := h.capturer.Screenshot(ctx, info.ID)
	if err != nil {
		return wire.Monitor{}, corexerr.Wrap(corexerr.KindInternal, "screenshot", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return wire.Monitor{}, corexerr.Wrap(corexerr.KindInternal, "encode thumbnail png", err)
	}

	return wire.Monitor{
		ID:          info.ID,
		Name:        info.Name,
		Width:       info.Width,
		Height:      info.Height,
		RefreshRate: info.RefreshRate,
		IsPrimary:   info.IsPrimary,
		Thumbnail:   buf.Bytes(),
	}, nil
}

// pickCodec selects the first codec in want that this module knows how to
// encode. Only H264 is implemented; VP8/VP9/AV1 are out of scope.
func pickCodec(want []wire.VideoCodec) (wire.VideoCodec, bool) {
	for _, c := range want {
		if c == wire.VideoCodecH264 {
			return c, true
		}
	}
	return 0, false
}

var log = logging.L("negotiate")
