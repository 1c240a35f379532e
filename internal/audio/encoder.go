package audio

import (
	"sync"

	"github.com/hraban/opus"

	"github.com/mirrorx/endpoint/internal/corexerr"
	"github.com/mirrorx/endpoint/internal/wire"
)

// OpusSampleRate is the rate the encoder always resamples capture audio to
// before encoding; Opus only accepts a fixed set of rates and 48 kHz is the
// highest-quality one of them.
const OpusSampleRate = 48000

// MaxChannels caps the encoder/decoder at stereo; a capture source with
// more channels is downmixed first.
const MaxChannels = 2

// opusFrameSamples is 20ms of audio at OpusSampleRate, matching the
// capturer's nominal frame size.
const opusFrameSamples = OpusSampleRate / 50

// Encoder turns captured PCMFrames into Opus-encoded wire.AudioFrame
// payloads: resample to 48kHz, downmix beyond stereo, encode.
type Encoder struct {
	mu       sync.Mutex
	enc      *opus.Encoder
	channels int
}

// NewEncoder builds an Opus encoder tuned for voice (VoIP application
// profile, since this pipeline carries spoken audio rather than music).
func NewEncoder(channels int) (*Encoder, error) {
	if channels > MaxChannels {
		channels = MaxChannels
	}
	if channels < 1 {
		channels = 1
	}
	enc, err := opus.NewEncoder(OpusSampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, corexerr.Wrap(corexerr.KindEncodeFailure, "create opus encoder", err)
	}
	return &Encoder{enc: enc, channels: channels}, nil
}

// Encode resamples/downmixes frame to the encoder's configured rate and
// channel count and returns one wire.AudioFrame per opusFrameSamples-sized
// chunk (a capture frame that doesn't divide evenly into 20ms chunks has
// its remainder buffered by the caller; Encode itself processes whole
// frames only).
func (e *Encoder) Encode(frame PCMFrame) ([]wire.AudioFrame, error) {
	pcm := frame.Samples
	if frame.Channels > MaxChannels {
		pcm = downmixToStereo(pcm, frame.Channels)
	}
	channels := frame.Channels
	if channels > MaxChannels {
		channels = MaxChannels
	}
	if frame.SampleRate != OpusSampleRate {
		pcm = resampleLinear(pcm, channels, frame.SampleRate, OpusSampleRate)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	chunkLen := opusFrameSamples * channels
	var out []wire.AudioFrame
	buf := make([]byte, 4000)

	for off := 0; off+chunkLen <= len(pcm); off += chunkLen {
		n, err := e.enc.EncodeFloat32(pcm[off:off+chunkLen], buf)
		if err != nil {
			return nil, corexerr.Wrap(corexerr.KindEncodeFailure, "opus encode", err)
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		out = append(out, wire.AudioFrame{
			Channels:     uint32(channels),
			SampleFormat: wire.SampleFormatFLT,
			SampleRate:   OpusSampleRate,
			Bytes:        payload,
		})
	}
	return out, nil
}
