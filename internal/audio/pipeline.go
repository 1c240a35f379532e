package audio

import "github.com/mirrorx/endpoint/internal/wire"

// CaptureEncoder wires a Capturer to an Encoder, pushing every produced
// wire.AudioFrame to sink. Errors from a single Encode call are reported to
// onError rather than stopping capture, matching the video pipeline's
// "keep streaming despite one bad frame" posture for an interactive
// session.
type CaptureEncoder struct {
	capturer Capturer
	encoder  *Encoder
	sink     func(wire.AudioFrame)
	onError  func(error)
}

// NewCaptureEncoder builds a CaptureEncoder. sink receives each encoded
// frame in capture-callback order; onError may be nil.
func NewCaptureEncoder(capturer Capturer, encoder *Encoder, sink func(wire.AudioFrame), onError func(error)) *CaptureEncoder {
	return &CaptureEncoder{capturer: capturer, encoder: encoder, sink: sink, onError: onError}
}

// Start begins capture; each PCM frame is encoded and forwarded to sink.
func (p *CaptureEncoder) Start() error {
	return p.capturer.Start(func(frame PCMFrame) {
		encoded, err := p.encoder.Encode(frame)
		if err != nil {
			if p.onError != nil {
				p.onError(err)
			}
			return
		}
		for _, f := range encoded {
			p.sink(f)
		}
	})
}

// Stop tears down capture.
func (p *CaptureEncoder) Stop() {
	p.capturer.Stop()
}

// PlaybackDecoder decodes incoming wire.AudioFrame messages and forwards
// the resulting PCM to a playback sink (a ring buffer, in the real
// presenter; a plain slice collector in tests).
type PlaybackDecoder struct {
	decoder *Decoder
	sink    func([]float32)
}

// NewPlaybackDecoder builds a PlaybackDecoder.
func NewPlaybackDecoder(decoder *Decoder, sink func([]float32)) *PlaybackDecoder {
	return &PlaybackDecoder{decoder: decoder, sink: sink}
}

// Feed decodes one incoming AudioFrame and forwards the PCM to the sink.
func (p *PlaybackDecoder) Feed(frame wire.AudioFrame) error {
	pcm, err := p.decoder.Decode(frame)
	if err != nil {
		return err
	}
	p.sink(pcm)
	return nil
}
