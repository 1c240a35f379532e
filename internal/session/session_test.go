package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mirrorx/endpoint/internal/corexerr"
	"github.com/mirrorx/endpoint/internal/transport"
	"github.com/mirrorx/endpoint/internal/wire"
)

func newPipeSessions(t *testing.T, cfgA, cfgB Config) (*Session, *Session) {
	t.Helper()
	a, b := net.Pipe()
	ta := transport.New(a, nil, nil)
	tb := transport.New(b, nil, nil)

	sa := New("a", ta, cfgA)
	sb := New("b", tb, cfgB)

	t.Cleanup(func() {
		sa.Close()
		sb.Close()
	})
	return sa, sb
}

func TestCallRoundTripsThroughHandler(t *testing.T) {
	handler := func(ctx context.Context, req wire.EndPointCallRequest) *wire.EndPointCallReply {
		if req.Kind != wire.CallRequestSwitchScreen {
			t.Fatalf("unexpected request kind %v", req.Kind)
		}
		return &wire.EndPointCallReply{
			Kind:         wire.CallReplySwitchScreen,
			SwitchScreen: wire.SwitchScreenReply{Width: 1280, Height: 720},
		}
	}

	active, _ := newPipeSessions(t, Config{}, Config{Handler: handler})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := active.Call(ctx, wire.EndPointCallRequest{
		Kind:         wire.CallRequestSwitchScreen,
		SwitchScreen: wire.SwitchScreenRequest{DisplayID: "DISPLAY2"},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.SwitchScreen.Width != 1280 || reply.SwitchScreen.Height != 720 {
		t.Fatalf("reply = %+v", reply.SwitchScreen)
	}
}

func TestCallWithNoHandlerResolvesNil(t *testing.T) {
	// No handler registered on the peer: dispatchCallRequest replies with
	// CallReply(id, None) immediately instead of leaving the call pending.
	active, _ := newPipeSessions(t, Config{}, Config{Handler: nil})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := active.Call(ctx, wire.EndPointCallRequest{Kind: wire.CallRequestNegotiate})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply != nil {
		t.Fatalf("expected nil reply for an unhandled request, got %+v", reply)
	}
}

func TestCallResolvesWithErrorWhenContextCancelled(t *testing.T) {
	active, _ := newPipeSessions(t, Config{}, Config{
		Handler: func(ctx context.Context, req wire.EndPointCallRequest) *wire.EndPointCallReply {
			time.Sleep(200 * time.Millisecond)
			return &wire.EndPointCallReply{Kind: wire.CallReplyOk}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := active.Call(ctx, wire.EndPointCallRequest{Kind: wire.CallRequestNegotiate})
	if err == nil {
		t.Fatal("expected Call to fail once its context is cancelled")
	}
	if corexerr.KindOf(err) != corexerr.KindTimeout {
		t.Fatalf("KindOf(err) = %v, want KindTimeout", corexerr.KindOf(err))
	}
}

func TestCallResolvesWhenSessionCloses(t *testing.T) {
	active, passive := newPipeSessions(t, Config{}, Config{
		Handler: func(ctx context.Context, req wire.EndPointCallRequest) *wire.EndPointCallReply {
			select {} // never replies
		},
	})

	resultCh := make(chan error, 1)
	go func() {
		_, err := active.Call(context.Background(), wire.EndPointCallRequest{Kind: wire.CallRequestNegotiate})
		resultCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	active.Close()
	passive.Close()

	select {
	case err := <-resultCh:
		if err == nil {
			t.Fatal("expected Call to resolve with an error once the session closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not resolve after session close")
	}
}

func TestCallTimesOutWhenReplyNeverArrives(t *testing.T) {
	// The peer reads the request off the wire (so Send doesn't block on
	// net.Pipe's synchronous write) but never sends a reply back.
	a, b := net.Pipe()
	ta := transport.New(a, nil, nil)
	tb := transport.New(b, nil, nil)
	defer tb.Close()
	go func() {
		for range tb.Recv() {
		}
	}()

	s := New("solo", ta, Config{CallTTL: 20 * time.Millisecond})
	defer s.Close()

	start := time.Now()
	_, err := s.Call(context.Background(), wire.EndPointCallRequest{Kind: wire.CallRequestNegotiate})
	if err == nil {
		t.Fatal("expected Call to time out")
	}
	if corexerr.KindOf(err) != corexerr.KindTimeout {
		t.Fatalf("KindOf(err) = %v, want KindTimeout", corexerr.KindOf(err))
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("Call returned after %v, before its TTL elapsed", elapsed)
	}
}

func TestPendingCallsRejectsLiveCallIDCollision(t *testing.T) {
	p := newPendingCalls(time.Minute)

	if _, err := p.insert(7, func() {}); err != nil {
		t.Fatalf("first insert for a call id must succeed, got %v", err)
	}
	if _, err := p.insert(7, func() {}); err == nil {
		t.Fatal("expected a collision for a call id with a live entry")
	}

	p.invalidate(7)
	if _, err := p.insert(7, func() {}); err != nil {
		t.Fatalf("expected insert to succeed once the previous entry is gone, got %v", err)
	}
}

func TestPendingCallsCapsConcurrentEntries(t *testing.T) {
	p := newPendingCalls(time.Minute)

	for i := 0; i < maxPendingCalls; i++ {
		if _, err := p.insert(uint16(i), func() {}); err != nil {
			t.Fatalf("insert %d within the cap must succeed, got %v", i, err)
		}
	}

	if _, err := p.insert(maxPendingCalls, func() {}); err == nil {
		t.Fatalf("expected insert %d to be rejected once the cache is full", maxPendingCalls)
	}

	p.invalidate(0)
	if _, err := p.insert(maxPendingCalls, func() {}); err != nil {
		t.Fatalf("expected insert to succeed once an entry was freed, got %v", err)
	}
}

func TestVideoSinkDeliversEveryFrameInOrder(t *testing.T) {
	active, passive := newPipeSessions(t, Config{}, Config{})

	videoCh := make(chan wire.VideoFrame, 1)
	if err := active.SetSinks(Sinks{Video: videoCh}); err != nil {
		t.Fatalf("SetSinks: %v", err)
	}

	ctx := context.Background()
	if err := passive.SendVideoFrame(ctx, wire.VideoFrame{Width: 1, Height: 1, PTS: 1}); err != nil {
		t.Fatalf("SendVideoFrame: %v", err)
	}

	select {
	case f := <-videoCh:
		if f.PTS != 1 {
			t.Fatalf("expected pts=1, got pts=%d", f.PTS)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first frame never reached the sink")
	}

	if err := passive.SendVideoFrame(ctx, wire.VideoFrame{Width: 2, Height: 2, PTS: 2}); err != nil {
		t.Fatalf("SendVideoFrame: %v", err)
	}

	select {
	case f := <-videoCh:
		if f.PTS != 2 {
			t.Fatalf("expected pts=2, got pts=%d", f.PTS)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second frame never reached the sink; it must not have been dropped")
	}
}

func TestVideoSinkBacksPressureInsteadOfDroppingOldestFrame(t *testing.T) {
	active, passive := newPipeSessions(t, Config{}, Config{})

	videoCh := make(chan wire.VideoFrame, 1)
	if err := active.SetSinks(Sinks{Video: videoCh}); err != nil {
		t.Fatalf("SetSinks: %v", err)
	}

	ctx := context.Background()
	if err := passive.SendVideoFrame(ctx, wire.VideoFrame{Width: 1, Height: 1, PTS: 1}); err != nil {
		t.Fatalf("SendVideoFrame: %v", err)
	}
	if err := passive.SendVideoFrame(ctx, wire.VideoFrame{Width: 2, Height: 2, PTS: 2}); err != nil {
		t.Fatalf("SendVideoFrame: %v", err)
	}

	// The sink is never drained, so the second frame must still be in
	// flight rather than having overwritten the first.
	time.Sleep(50 * time.Millisecond)

	select {
	case f := <-videoCh:
		if f.PTS != 1 {
			t.Fatalf("expected the oldest frame (pts=1) to still be buffered, got pts=%d", f.PTS)
		}
	default:
		t.Fatal("expected the first frame to still be buffered in the video sink")
	}

	select {
	case f := <-videoCh:
		if f.PTS != 2 {
			t.Fatalf("expected pts=2 once room was made, got pts=%d", f.PTS)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second frame was never delivered once room was made; it must have been dropped")
	}
}

func TestVideoSinkFailsSessionOnSustainedStall(t *testing.T) {
	active, passive := newPipeSessions(t, Config{VideoStallTimeout: 30 * time.Millisecond}, Config{})

	videoCh := make(chan wire.VideoFrame, 1)
	if err := active.SetSinks(Sinks{Video: videoCh}); err != nil {
		t.Fatalf("SetSinks: %v", err)
	}

	ctx := context.Background()
	if err := passive.SendVideoFrame(ctx, wire.VideoFrame{Width: 1, Height: 1, PTS: 1}); err != nil {
		t.Fatalf("SendVideoFrame: %v", err)
	}
	if err := passive.SendVideoFrame(ctx, wire.VideoFrame{Width: 2, Height: 2, PTS: 2}); err != nil {
		t.Fatalf("SendVideoFrame: %v", err)
	}

	// Nothing ever drains videoCh, so the second frame stalls past
	// VideoStallTimeout and the session must fail rather than hang or
	// silently drop the frame.
	select {
	case <-active.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session never tore down after sustained video backpressure")
	}

	if corexerr.KindOf(active.Err()) != corexerr.KindDecodeFailure {
		t.Fatalf("Err() = %v, want KindDecodeFailure", active.Err())
	}
}

func TestInputHandlerReceivesEvents(t *testing.T) {
	received := make(chan []wire.InputEvent, 1)
	active, _ := newPipeSessions(t, Config{}, Config{
		InputHandler: func(events []wire.InputEvent) {
			received <- events
		},
	})

	if err := active.SendInputCommand(context.Background(), []wire.InputEvent{wire.MouseMove(wire.MouseKeyNone, 1, 2)}); err != nil {
		t.Fatalf("SendInputCommand: %v", err)
	}

	select {
	case events := <-received:
		if len(events) != 1 || events[0].Kind != wire.InputEventMouseMove {
			t.Fatalf("unexpected events: %+v", events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("input handler never received events")
	}
}
