// Package audio implements the passive-side capture/encode and active-side
// decode/present halves of the voice pipeline: interleaved f32 PCM capture,
// Opus packet encoding, resampling on both legs, and a one-time playback
// buffer-size measurement on decode.
package audio

import (
	"sync/atomic"

	"github.com/mirrorx/endpoint/internal/logging"
)

var log = logging.L("audio")

// PCMFrame is one block of interleaved f32 PCM captured at SampleRate,
// Channels per frame (<= 2; anything wider is downmixed by the capturer).
type PCMFrame struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

// Capturer is the platform audio-capture backend. Start calls back with
// PCMFrame values until Stop is called, generalized from 8kHz mono mu-law
// frames to arbitrary-rate float32 PCM.
type Capturer interface {
	Start(callback func(PCMFrame)) error
	Stop()
}

// noopCapturer is returned by platforms with no capture backend wired in;
// Start fails immediately rather than silently producing no audio.
type noopCapturer struct {
	running atomic.Bool
}

// NewNoopCapturer returns a Capturer whose Start always reports that audio
// capture is unsupported on this build.
func NewNoopCapturer() Capturer {
	return &noopCapturer{}
}

func (c *noopCapturer) Start(callback func(PCMFrame)) error {
	return errAudioUnsupported
}

func (c *noopCapturer) Stop() {}
