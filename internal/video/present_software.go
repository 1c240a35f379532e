package video

import (
	"image"
	"sync"
	"time"

	"github.com/mirrorx/endpoint/internal/corexerr"
)

// Presenter is the capability a real GL/platform presenter satisfies;
// this package additionally ships a software reference implementation so
// the pipeline is testable without a GL context.
type Presenter interface {
	Paint(f DecodedFrame) error
	// FrameRate is the rolling estimate of frames painted in the last
	// 1000ms.
	FrameRate() float64
	Close() error
}

// SoftwarePresenter blits NV12/YUV420P planes into an image.NRGBA via the
// BT.709 matrix in colorconv.go, in place of the real OpenGL shader path.
type SoftwarePresenter struct {
	mu  sync.Mutex
	img *image.NRGBA

	frameTimes []time.Time
}

func NewSoftwarePresenter() *SoftwarePresenter {
	return &SoftwarePresenter{}
}

func (p *SoftwarePresenter) Paint(f DecodedFrame) error {
	var rgba []byte
	switch f.Format {
	case PixelFormatNV12:
		if len(f.Planes) != 2 || len(f.LineSizes) != 2 {
			return corexerr.New(corexerr.KindUnsupportedPixelFmt, "NV12 frame must carry exactly 2 planes")
		}
		rgba = nv12PlanesToNRGBA(f.Planes[0], f.Planes[1], f.Width, f.Height, f.LineSizes[0], f.LineSizes[1])
	case PixelFormatYUV420P:
		if len(f.Planes) != 3 || len(f.LineSizes) != 3 {
			return corexerr.New(corexerr.KindUnsupportedPixelFmt, "YUV420P frame must carry exactly 3 planes")
		}
		rgba = yuv420pPlanesToNRGBA(f.Planes[0], f.Planes[1], f.Planes[2], f.Width, f.Height, f.LineSizes[0], f.LineSizes[1], f.LineSizes[2])
	default:
		return corexerr.New(corexerr.KindUnsupportedPixelFmt, "unknown decoded frame format")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.img = &image.NRGBA{
		Pix:    rgba,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}

	now := time.Now()
	p.frameTimes = append(p.frameTimes, now)
	cutoff := now.Add(-time.Second)
	i := 0
	for i < len(p.frameTimes) && p.frameTimes[i].Before(cutoff) {
		i++
	}
	p.frameTimes = p.frameTimes[i:]

	return nil
}

// FrameRate returns how many frames were painted in the trailing 1000ms.
func (p *SoftwarePresenter) FrameRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := time.Now().Add(-time.Second)
	n := 0
	for _, t := range p.frameTimes {
		if !t.Before(cutoff) {
			n++
		}
	}
	return float64(n)
}

// Image returns the most recently painted frame, or nil before the first
// Paint call.
func (p *SoftwarePresenter) Image() *image.NRGBA {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.img
}

func (p *SoftwarePresenter) Close() error { return nil }
