package video

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/mirrorx/endpoint/internal/corexerr"
)

// EncoderConfig narrows a real H.264 encoder's tunables to frame size,
// frame rate, target bitrate (4000 kbps by default) and a hardware
// preference. Profile, level, B-frame and latency tuning are not set here
// and are left to each backend's own defaults.
type EncoderConfig struct {
	Width, Height  int
	FPS            int
	BitrateKbps    int
	PreferHardware bool
}

func DefaultEncoderConfig(width, height, fps int) EncoderConfig {
	return EncoderConfig{Width: width, Height: height, FPS: fps, BitrateKbps: 4000}
}

// encoderBackend is the capability-set interface real encoders satisfy,
// narrowed to a single NV12 input path. Hardware backends register through
// RegisterHardwareFactory (platform cgo build tags, e.g. NVENC/MFT — none
// ship in this module, see DESIGN.md); the cgo-gated software H.264 backend
// registers through RegisterSoftwareFactory (see encoder_openh264.go). A
// build with neither tag compiled in falls back to loopbackBackend, which is
// not a codec at all — see loopback.go.
type encoderBackend interface {
	Encode(nv12 []byte, keyframe bool) ([]byte, error)
	SetDimensions(width, height int) error
	Close() error
	Name() string
	IsHardware() bool
	IsPlaceholder() bool
}

type backendFactory func(cfg EncoderConfig) (encoderBackend, error)

var (
	hardwareFactoriesMu sync.Mutex
	hardwareFactories   []backendFactory

	softwareFactoriesMu sync.Mutex
	softwareFactories   []backendFactory
)

// RegisterHardwareFactory lets a platform build tag register a hardware
// H.264 backend, tried first.
func RegisterHardwareFactory(factory backendFactory) {
	hardwareFactoriesMu.Lock()
	defer hardwareFactoriesMu.Unlock()
	hardwareFactories = append(hardwareFactories, factory)
}

// RegisterSoftwareFactory lets a cgo build tag register a real software
// H.264 backend (see encoder_openh264.go), tried after hardware factories
// and before the loopback last resort.
func RegisterSoftwareFactory(factory backendFactory) {
	softwareFactoriesMu.Lock()
	defer softwareFactoriesMu.Unlock()
	softwareFactories = append(softwareFactories, factory)
}

// Encoder owns the capture→NV12→codec pipeline for one monitor: BGRA→NV12
// colour conversion (BT.709 limited range), gocv-backed frame-unchanged
// detection to skip redundant encodes, and keyframe cadence.
type Encoder struct {
	mu      sync.Mutex
	cfg     EncoderConfig
	backend encoderBackend

	diff        *frameDiffer
	frameCount  int
	keyInterval int
}

func NewEncoder(cfg EncoderConfig) (*Encoder, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, corexerr.New(corexerr.KindInvalidArgs, "encoder dimensions must be positive")
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}

	backend, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}

	return &Encoder{
		cfg:         cfg,
		backend:     backend,
		diff:        newFrameDiffer(),
		keyInterval: cfg.FPS * 4,
	}, nil
}

// EncodeRaw converts a captured BGRA frame to NV12 and feeds it to the
// backend. Returns (nil, nil) when the frame is unchanged from the last one
// encoded and this is not a forced keyframe boundary, keeping the bounded
// video sink from filling with identical frames.
func (e *Encoder) EncodeRaw(raw RawFrame) ([]byte, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if raw.Width != e.cfg.Width || raw.Height != e.cfg.Height {
		if err := e.backend.SetDimensions(raw.Width, raw.Height); err != nil {
			return nil, false, err
		}
		e.cfg.Width, e.cfg.Height = raw.Width, raw.Height
		e.diff.Reset()
	}

	keyframe := e.frameCount%e.keyInterval == 0
	e.frameCount++

	if !keyframe && !e.diff.HasChanged(raw.Pix, raw.Width, raw.Height, raw.Stride) {
		return nil, false, nil
	}

	nv12 := bgraToNV12(raw.Pix, raw.Width, raw.Height, raw.Stride)
	payload, err := e.backend.Encode(nv12, keyframe)
	if err != nil {
		return nil, false, corexerr.Wrap(corexerr.KindInternal, "encode frame", err)
	}
	return payload, keyframe, nil
}

func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend.Close()
}

func (e *Encoder) BackendName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend.Name()
}

// newBackend tries, in order: registered hardware factories (only if the
// caller asked for hardware), then registered software factories (the
// cgo-gated go-openh264 backend, when that build tag is compiled in), then
// loopbackBackend as the last resort. A build with no codec tag compiled in
// always ends up on loopback, which round-trips frames rather than encoding
// them — callers that need a real bitstream must build with the openh264
// (or a hardware) tag.
func newBackend(cfg EncoderConfig) (encoderBackend, error) {
	if cfg.PreferHardware {
		hardwareFactoriesMu.Lock()
		hwFactories := append([]backendFactory(nil), hardwareFactories...)
		hardwareFactoriesMu.Unlock()
		for _, factory := range hwFactories {
			if backend, err := factory(cfg); err == nil && backend != nil {
				return backend, nil
			}
		}
	}

	softwareFactoriesMu.Lock()
	swFactories := append([]backendFactory(nil), softwareFactories...)
	softwareFactoriesMu.Unlock()
	for _, factory := range swFactories {
		if backend, err := factory(cfg); err == nil && backend != nil {
			return backend, nil
		}
	}

	return newLoopbackBackend(cfg)
}

// frameDiffer detects unchanged frames using gocv's Mat-level absolute
// difference rather than a CRC32 hash, so identical desktop regions never
// reach the codec. Grounded on the gocv usage pattern in the
// n0remac-robot-webrtc example (CvtColor/AbsDiff-style Mat pipelines).
type frameDiffer struct {
	mu       sync.Mutex
	lastGray gocv.Mat
	hasLast  bool
}

func newFrameDiffer() *frameDiffer {
	return &frameDiffer{lastGray: gocv.NewMat()}
}

func (d *frameDiffer) HasChanged(bgra []byte, width, height, stride int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	tight := bgra
	if stride != width*4 {
		tight = make([]byte, width*height*4)
		for y := 0; y < height; y++ {
			copy(tight[y*width*4:(y+1)*width*4], bgra[y*stride:y*stride+width*4])
		}
	}

	mat, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC4, tight)
	if err != nil {
		return true // can't diff, assume changed so we never drop a real update
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRAToGray)

	if !d.hasLast || d.lastGray.Empty() || d.lastGray.Rows() != gray.Rows() {
		gray.CopyTo(&d.lastGray)
		d.hasLast = true
		return true
	}

	absDiff := gocv.NewMat()
	defer absDiff.Close()
	gocv.AbsDiff(gray, d.lastGray, &absDiff)

	changed := gocv.CountNonZero(absDiff) > 0
	gray.CopyTo(&d.lastGray)
	return changed
}

func (d *frameDiffer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hasLast = false
}
