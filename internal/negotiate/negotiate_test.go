package negotiate

import (
	"context"
	"image"
	"testing"

	"github.com/mirrorx/endpoint/internal/wire"
)

type fakeCapturer struct {
	monitors []MonitorInfo
	err      error
}

func (f *fakeCapturer) Enumerate(ctx context.Context) ([]MonitorInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.monitors, nil
}

func (f *fakeCapturer) Screenshot(ctx context.Context, monitorID string) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

type fakeScreen struct {
	closed bool
}

func (s *fakeScreen) Close() error {
	s.closed = true
	return nil
}

func twoMonitors() []MonitorInfo {
	return []MonitorInfo{
		{ID: `\\.\DISPLAY1`, Width: 1920, Height: 1080, RefreshRate: 60, IsPrimary: true},
		{ID: `\\.\DISPLAY2`, Width: 1280, Height: 720, RefreshRate: 30},
	}
}

func TestNegotiatePicksPrimaryMonitorAndH264(t *testing.T) {
	h := NewHandler(&fakeCapturer{monitors: twoMonitors()}, func(ctx context.Context, id string, codec wire.VideoCodec) (Screen, error) {
		return &fakeScreen{}, nil
	})

	rep := h.Handle(context.Background(), wire.EndPointCallRequest{
		Kind:      wire.CallRequestNegotiate,
		Negotiate: wire.NegotiateRequest{VideoCodecs: []wire.VideoCodec{wire.VideoCodecH264}},
	})

	if rep.Kind != wire.CallReplyNegotiate {
		t.Fatalf("Kind = %v, want CallReplyNegotiate", rep.Kind)
	}
	if rep.Negotiate.PrimaryMonitor.ID != `\\.\DISPLAY1` {
		t.Fatalf("PrimaryMonitor.ID = %q", rep.Negotiate.PrimaryMonitor.ID)
	}
	if len(rep.Negotiate.PrimaryMonitor.Thumbnail) == 0 {
		t.Fatal("expected a non-empty PNG thumbnail")
	}
	if rep.Negotiate.Codec != wire.VideoCodecH264 {
		t.Fatalf("Codec = %v, want H264", rep.Negotiate.Codec)
	}
}

func TestNegotiateWithZeroMonitorsReturnsMonitorError(t *testing.T) {
	h := NewHandler(&fakeCapturer{monitors: nil}, nil)

	rep := h.Handle(context.Background(), wire.EndPointCallRequest{
		Kind:      wire.CallRequestNegotiate,
		Negotiate: wire.NegotiateRequest{VideoCodecs: []wire.VideoCodec{wire.VideoCodecH264}},
	})

	if rep.Kind != wire.CallReplyMonitorError {
		t.Fatalf("Kind = %v, want CallReplyMonitorError", rep.Kind)
	}
}

func TestSwitchScreenTearsDownPreviousCapture(t *testing.T) {
	var produced []*fakeScreen

	h := NewHandler(&fakeCapturer{monitors: twoMonitors()}, func(ctx context.Context, id string, codec wire.VideoCodec) (Screen, error) {
		s := &fakeScreen{}
		produced = append(produced, s)
		return s, nil
	})

	rep := h.Handle(context.Background(), wire.EndPointCallRequest{
		Kind:         wire.CallRequestSwitchScreen,
		SwitchScreen: wire.SwitchScreenRequest{DisplayID: `\\.\DISPLAY1`},
	})
	if rep.Kind != wire.CallReplySwitchScreen {
		t.Fatalf("first switch Kind = %v", rep.Kind)
	}
	if len(produced) != 1 {
		t.Fatalf("expected one capture started, got %d", len(produced))
	}

	rep = h.Handle(context.Background(), wire.EndPointCallRequest{
		Kind:         wire.CallRequestSwitchScreen,
		SwitchScreen: wire.SwitchScreenRequest{DisplayID: `\\.\DISPLAY2`},
	})
	if rep.Kind != wire.CallReplySwitchScreen {
		t.Fatalf("second switch Kind = %v", rep.Kind)
	}
	if rep.SwitchScreen.Width != 1280 || rep.SwitchScreen.Height != 720 {
		t.Fatalf("SwitchScreen = %+v", rep.SwitchScreen)
	}

	if !produced[0].closed {
		t.Fatal("expected the first capture to be closed before the second one started")
	}
	if produced[1].closed {
		t.Fatal("the newly started capture must not be closed")
	}
	if h.Screen() != produced[1] {
		t.Fatal("Handler.Screen() should return the currently active capture")
	}
}

func TestSwitchScreenUnknownDisplayIDReturnsMonitorError(t *testing.T) {
	h := NewHandler(&fakeCapturer{monitors: twoMonitors()}, func(ctx context.Context, id string, codec wire.VideoCodec) (Screen, error) {
		return &fakeScreen{}, nil
	})

	rep := h.Handle(context.Background(), wire.EndPointCallRequest{
		Kind:         wire.CallRequestSwitchScreen,
		SwitchScreen: wire.SwitchScreenRequest{DisplayID: "nope"},
	})
	if rep.Kind != wire.CallReplyMonitorError {
		t.Fatalf("Kind = %v, want CallReplyMonitorError", rep.Kind)
	}
}
