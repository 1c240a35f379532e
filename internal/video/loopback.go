package video

import (
	"encoding/binary"
	"fmt"
)

// loopbackBackend is not a codec: it wraps the already-BT.709-converted
// NV12 plane data in a small self-describing container so decodeLoopback in
// this package can round-trip it end to end. It exists so the pipeline
// (capture -> encode -> wire -> decode -> present) and its tests run and
// compile on a plain `go build` with no cgo toolchain available, and it is
// what newBackend falls back to when neither a hardware factory nor the
// cgo-gated openh264 software factory (encoder_openh264.go) registered one.
// A build that needs an actual H.264 bitstream must compile with the
// openh264 (or a platform hardware) build tag; loopbackBackend never
// produces or consumes real H.264.
type loopbackBackend struct {
	width, height int
}

func newLoopbackBackend(cfg EncoderConfig) (encoderBackend, error) {
	return &loopbackBackend{width: cfg.Width, height: cfg.Height}, nil
}

// loopbackHeaderSize is 4 bytes width + 4 bytes height + 1 keyframe flag.
const loopbackHeaderSize = 9

func (b *loopbackBackend) Encode(nv12 []byte, keyframe bool) ([]byte, error) {
	out := make([]byte, loopbackHeaderSize+len(nv12))
	binary.BigEndian.PutUint32(out[0:4], uint32(b.width))
	binary.BigEndian.PutUint32(out[4:8], uint32(b.height))
	if keyframe {
		out[8] = 1
	}
	copy(out[loopbackHeaderSize:], nv12)
	return out, nil
}

func (b *loopbackBackend) SetDimensions(width, height int) error {
	b.width, b.height = width, height
	return nil
}

func (b *loopbackBackend) Close() error { return nil }

func (b *loopbackBackend) Name() string { return "loopback" }

func (b *loopbackBackend) IsHardware() bool { return false }

func (b *loopbackBackend) IsPlaceholder() bool { return true }

// decodeLoopback is the matching decode side of loopbackBackend's
// container: it reports whether the frame is a keyframe and its dimensions
// alongside the raw NV12 payload.
func decodeLoopback(payload []byte) (width, height int, keyframe bool, nv12 []byte, err error) {
	if len(payload) < loopbackHeaderSize {
		return 0, 0, false, nil, fmt.Errorf("video payload too short: %d bytes", len(payload))
	}
	width = int(binary.BigEndian.Uint32(payload[0:4]))
	height = int(binary.BigEndian.Uint32(payload[4:8]))
	keyframe = payload[8] != 0
	nv12 = payload[loopbackHeaderSize:]

	expected := width*height + width*height/2
	if len(nv12) != expected {
		return 0, 0, false, nil, fmt.Errorf("video payload size %d does not match %dx%d NV12 (want %d)", len(nv12), width, height, expected)
	}
	return width, height, keyframe, nv12, nil
}
