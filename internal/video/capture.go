// Package video implements the passive-side capture/encode and
// active-side decode/present halves of the screen-sharing pipeline, plus a
// software reference presenter.
package video

import (
	"context"
	"image"

	"github.com/mirrorx/endpoint/internal/logging"
)

// RawFrame is one captured surface, BGRA or RGBA depending on the platform
// capturer, at the stride the capturer reports (may exceed width*4 for
// row-alignment padding).
type RawFrame struct {
	Width, Height int
	Stride        int
	Pix           []byte
	PTS           int64
}

// Capturer is the platform screen-capture backend, generalized from a
// ScreenCapturer-style interface to a monitor-enumeration and single-slot
// frame-channel model.
type Capturer interface {
	// Enumerate lists the monitors attached to this machine.
	Enumerate(ctx context.Context) ([]MonitorInfo, error)
	// Screenshot grabs one still frame for a negotiate thumbnail.
	Screenshot(ctx context.Context, monitorID string) (image.Image, error)
	// Start begins polling monitorID at fps and returns a capacity-1,
	// overwrite-on-full channel of raw frames: if encode falls behind
	// capture, capture drops the older frame rather than blocking.
	Start(ctx context.Context, monitorID string, fps int) (<-chan RawFrame, error)
	Close() error
}

// MonitorInfo mirrors internal/negotiate.MonitorInfo; duplicated here
// rather than imported so internal/video has no dependency on
// internal/negotiate (negotiate depends on video's capture interface
// through the caller's wiring, not the reverse).
type MonitorInfo struct {
	ID          string
	Name        string
	Width       uint32
	Height      uint32
	RefreshRate uint32
	IsPrimary   bool
}

// BGRAProvider is implemented by capturers producing BGRA pixel data, so
// the encoder can skip a BGRA→RGBA conversion before the BT.709 matrix.
type BGRAProvider interface {
	IsBGRA() bool
}

// TightLoopHint is implemented by capturers that internally block waiting
// for the next frame (e.g. DXGI AcquireNextFrame); the capture loop then
// skips its own rate-limiting ticker.
type TightLoopHint interface {
	TightLoop() bool
}

// sendRaw delivers f to ch with single-slot overwrite semantics: a stale
// buffered frame is dropped before the new one is pushed, so the channel
// never blocks the capture loop.
func sendRaw(ch chan RawFrame, f RawFrame) {
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

var log = logging.L("video")
