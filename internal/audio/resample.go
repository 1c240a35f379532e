package audio

import "github.com/mirrorx/endpoint/internal/corexerr"

var errAudioUnsupported = corexerr.New(corexerr.KindInternal, "audio capture is not supported on this platform")

// resampleLinear resamples interleaved PCM from srcRate to dstRate using
// linear interpolation per channel. There is no resampling library in this
// module's dependency set, and this pipeline's quality bar (voice over a
// remote-desktop session, not studio audio) does not call for pulling in a
// full SRC implementation — a straightforward linear resampler is the
// standard stopgap for this case.
func resampleLinear(pcm []float32, channels, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(pcm) == 0 {
		return pcm
	}

	frames := len(pcm) / channels
	dstFrames := int(int64(frames) * int64(dstRate) / int64(srcRate))
	if dstFrames <= 0 {
		return nil
	}

	out := make([]float32, dstFrames*channels)
	var ratio float64
	if dstFrames > 1 {
		ratio = float64(frames-1) / float64(dstFrames-1)
	}

	for i := 0; i < dstFrames; i++ {
		srcPos := float64(i) * ratio
		lo := int(srcPos)
		hi := lo + 1
		if hi >= frames {
			hi = frames - 1
		}
		frac := float32(srcPos - float64(lo))

		for c := 0; c < channels; c++ {
			a := pcm[lo*channels+c]
			b := pcm[hi*channels+c]
			out[i*channels+c] = a + (b-a)*frac
		}
	}
	return out
}

// downmixToStereo sums channels beyond the first two into left/right
// (even-indexed channels into left, odd-indexed into right),
// enforcing the "channels capped at 2" capture rule without dropping a
// surround source's energy entirely.
func downmixToStereo(pcm []float32, channels int) []float32 {
	if channels <= 2 {
		return pcm
	}
	frames := len(pcm) / channels
	out := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		var left, right float32
		for c := 0; c < channels; c++ {
			v := pcm[i*channels+c]
			if c%2 == 0 {
				left += v
			} else {
				right += v
			}
		}
		out[i*2] = left
		out[i*2+1] = right
	}
	return out
}
