package audio

import (
	"testing"
	"time"

	"github.com/mirrorx/endpoint/internal/wire"
)

func TestResampleLinearPreservesLength(t *testing.T) {
	pcm := make([]float32, 480) // 10ms mono at 48kHz
	out := resampleLinear(pcm, 1, 48000, 48000)
	if len(out) != len(pcm) {
		t.Fatalf("resampling to the same rate should be a no-op, got len %d want %d", len(out), len(pcm))
	}
}

func TestResampleLinearUpAndDownSample(t *testing.T) {
	pcm := make([]float32, 160) // 20ms mono at 8kHz
	for i := range pcm {
		pcm[i] = float32(i)
	}

	up := resampleLinear(pcm, 1, 8000, 48000)
	wantUp := 160 * 48000 / 8000
	if len(up) != wantUp {
		t.Fatalf("upsample len = %d, want %d", len(up), wantUp)
	}

	down := resampleLinear(up, 1, 48000, 8000)
	if len(down) == 0 {
		t.Fatal("downsample produced no samples")
	}
}

func TestDownmixToStereoSumsExtraChannels(t *testing.T) {
	// 4 channels, 1 frame: L=1, R=1, extraL=1, extraR=1 -> stereo L=2, R=2
	pcm := []float32{1, 1, 1, 1}
	out := downmixToStereo(pcm, 4)
	if len(out) != 2 {
		t.Fatalf("expected 2 stereo samples, got %d", len(out))
	}
	if out[0] != 2 || out[1] != 2 {
		t.Fatalf("downmix = %v, want [2 2]", out)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc, err := NewEncoder(2)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	frame := PCMFrame{SampleRate: OpusSampleRate, Channels: 2, Samples: make([]float32, opusFrameSamples*2)}
	frames, err := enc.Encode(frame)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected exactly one opus frame from one 20ms chunk, got %d", len(frames))
	}

	var measuredSamples int
	dec, err := NewDecoder(2, OpusSampleRate, func(n int) { measuredSamples = n })
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	pcm, err := dec.Decode(frames[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(pcm) == 0 {
		t.Fatal("decoded PCM is empty")
	}
	if measuredSamples == 0 {
		t.Fatal("expected the buffer-size measurement callback to fire on the first large-enough frame")
	}
	if dec.BufferSize() != measuredSamples {
		t.Fatalf("BufferSize() = %d, want %d", dec.BufferSize(), measuredSamples)
	}
}

func TestCaptureEncoderForwardsFramesToSink(t *testing.T) {
	capturer := NewSoftwareCapturer(OpusSampleRate, 1)
	enc, err := NewEncoder(1)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	received := make(chan wire.AudioFrame, 8)
	ce := NewCaptureEncoder(capturer, enc, func(f wire.AudioFrame) { received <- f }, nil)
	if err := ce.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ce.Stop()

	select {
	case f := <-received:
		if f.SampleRate != OpusSampleRate {
			t.Fatalf("frame sample rate = %d, want %d", f.SampleRate, OpusSampleRate)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for an encoded frame")
	}
}
