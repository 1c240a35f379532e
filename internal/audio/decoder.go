package audio

import (
	"sync"

	"github.com/hraban/opus"

	"github.com/mirrorx/endpoint/internal/corexerr"
	"github.com/mirrorx/endpoint/internal/wire"
)

// minPlaybackFractionDenominator sets the fraction of one second a decoded
// frame must exceed, per channel, before the decoder accepts it as the measurement for
// sizing the playback buffer (10ms, i.e. sample_rate/100).
const minPlaybackFractionDenominator = 100

// Decoder reconstructs PCM from Opus packets, resamples to the local
// output device's rate if it differs, and runs a one-time measurement of
// the post-decode frame size so the caller can size its playback ring
// buffer once instead of guessing up front.
type Decoder struct {
	mu         sync.Mutex
	dec        *opus.Decoder
	channels   int
	outputRate int

	measured    bool
	bufferSize  int
	onMeasured  func(samplesPerChannel int)
}

// NewDecoder builds an Opus decoder that reconstructs audio at
// outputRate/channels (the local device's native output format).
// onMeasured, if non-nil, fires exactly once with the first decoded frame
// whose post-decode sample count per channel exceeds outputRate/100.
func NewDecoder(channels, outputRate int, onMeasured func(samplesPerChannel int)) (*Decoder, error) {
	dec, err := opus.NewDecoder(OpusSampleRate, channels)
	if err != nil {
		return nil, corexerr.Wrap(corexerr.KindDecodeFailure, "create opus decoder", err)
	}
	return &Decoder{dec: dec, channels: channels, outputRate: outputRate, onMeasured: onMeasured}, nil
}

// Decode decodes one wire.AudioFrame's Opus payload to f32 PCM at the
// decoder's output rate, running the buffer-size measurement if it hasn't
// fired yet.
func (d *Decoder) Decode(frame wire.AudioFrame) ([]float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pcm := make([]float32, opusFrameSamples*d.channels*6) // generous upper bound for a 120ms packet
	n, err := d.dec.DecodeFloat32(frame.Bytes, pcm)
	if err != nil {
		return nil, corexerr.Wrap(corexerr.KindDecodeFailure, "opus decode", err)
	}
	pcm = pcm[:n*d.channels]

	out := pcm
	if d.outputRate != OpusSampleRate {
		out = resampleLinear(pcm, d.channels, OpusSampleRate, d.outputRate)
	}

	if !d.measured {
		samplesPerChannel := len(out) / d.channels
		if samplesPerChannel > d.outputRate/minPlaybackFractionDenominator {
			d.measured = true
			d.bufferSize = samplesPerChannel
			if d.onMeasured != nil {
				d.onMeasured(samplesPerChannel)
			}
		}
	}

	return out, nil
}

// BufferSize returns the measured per-channel playback buffer size, or 0
// before the measurement has completed.
func (d *Decoder) BufferSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bufferSize
}
