package video

import (
	"sync"

	"github.com/mirrorx/endpoint/internal/corexerr"
)

// PixelFormat is the plane layout a Decoder normalises its output to: NV12
// has 2 planes, YUV420P has 3.
type PixelFormat int

const (
	PixelFormatNV12 PixelFormat = iota
	PixelFormatYUV420P
)

// DecodedFrame is the decoder's output: one freshly-allocated byte buffer
// plus a line size per plane, consumed exactly once by the presenter.
type DecodedFrame struct {
	Width, Height int
	Format        PixelFormat
	Planes        [][]byte
	LineSizes     []int
}

// decoderBackend is the capability-set interface real decoders satisfy. The
// cgo-gated openh264 backend registers through RegisterDecoderFactory (see
// encoder_openh264.go); a build with that tag absent falls back to
// loopbackDecoder, which only understands loopbackBackend's own container
// format and never decodes a real H.264 bitstream.
type decoderBackend interface {
	Decode(payload []byte) (DecodedFrame, error)
	Close() error
	Name() string
}

type decoderFactory func() (decoderBackend, error)

var (
	decoderFactoriesMu sync.Mutex
	decoderFactories   []decoderFactory
)

// RegisterDecoderFactory lets a cgo build tag register a real H.264 decoder
// backend, tried before the loopback last resort.
func RegisterDecoderFactory(factory decoderFactory) {
	decoderFactoriesMu.Lock()
	defer decoderFactoriesMu.Unlock()
	decoderFactories = append(decoderFactories, factory)
}

func newDecoderBackend() decoderBackend {
	decoderFactoriesMu.Lock()
	factories := append([]decoderFactory(nil), decoderFactories...)
	decoderFactoriesMu.Unlock()

	for _, factory := range factories {
		if backend, err := factory(); err == nil && backend != nil {
			return backend
		}
	}
	return newLoopbackDecoder()
}

// Decoder turns received wire.VideoFrame payloads into DecodedFrames,
// rebuilding its backend whenever the incoming width/height changes: on
// receipt of a frame whose dimensions differ from the decoder's current
// configuration, the backend is closed and a fresh one created rather than
// reinterpreting stale buffers. The backend that does the actual parsing is
// whichever RegisterDecoderFactory call won (see decoderBackend), defaulting
// to the loopback container decoder when no codec build tag is compiled in.
type Decoder struct {
	mu            sync.Mutex
	backend       decoderBackend
	width, height int
}

func NewDecoder() *Decoder {
	return &Decoder{backend: newDecoderBackend()}
}

// Decode parses one VideoFrame payload whose wire header declared
// width x height. A dimension change from the previous call closes the
// current backend and builds a fresh one strictly before the payload is
// decoded, so the first frame at a new resolution is never fed to a backend
// still configured for the old size.
func (d *Decoder) Decode(width, height int, payload []byte) (DecodedFrame, error) {
	d.mu.Lock()
	if width != d.width || height != d.height {
		if d.width != 0 || d.height != 0 {
			d.backend.Close()
			d.backend = newDecoderBackend()
		}
		d.width, d.height = width, height
	}
	backend := d.backend
	d.mu.Unlock()

	frame, err := backend.Decode(payload)
	if err != nil {
		return DecodedFrame{}, corexerr.Wrap(corexerr.KindDecodeFailure, "decode video frame", err)
	}
	return frame, nil
}

// Dimensions returns the decoder's current width/height (0,0 before the
// first frame).
func (d *Decoder) Dimensions() (width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.width, d.height
}

// loopbackDecoder is decodeLoopback wrapped in the decoderBackend interface.
type loopbackDecoder struct{}

func newLoopbackDecoder() decoderBackend { return loopbackDecoder{} }

func (loopbackDecoder) Decode(payload []byte) (DecodedFrame, error) {
	width, height, _, nv12, err := decodeLoopback(payload)
	if err != nil {
		return DecodedFrame{}, err
	}

	ySize := width * height
	uvSize := width * height / 2
	if len(nv12) != ySize+uvSize {
		return DecodedFrame{}, corexerr.New(corexerr.KindDecodeFailure, "nv12 buffer size mismatch")
	}

	y := make([]byte, ySize)
	copy(y, nv12[:ySize])
	uv := make([]byte, uvSize)
	copy(uv, nv12[ySize:])

	return DecodedFrame{
		Width:     width,
		Height:    height,
		Format:    PixelFormatNV12,
		Planes:    [][]byte{y, uv},
		LineSizes: []int{width, width},
	}, nil
}

func (loopbackDecoder) Close() error { return nil }

func (loopbackDecoder) Name() string { return "loopback" }
