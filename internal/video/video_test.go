package video

import (
	"testing"
)

func solidBGRA(width, height int, b, g, r byte) []byte {
	pix := make([]byte, width*height*4)
	for i := 0; i < width*height; i++ {
		pix[i*4+0] = b
		pix[i*4+1] = g
		pix[i*4+2] = r
		pix[i*4+3] = 0xFF
	}
	return pix
}

func TestEncodeDecodeRoundTripPreservesDimensions(t *testing.T) {
	enc, err := NewEncoder(DefaultEncoderConfig(64, 48, 30))
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	defer enc.Close()

	raw := RawFrame{Width: 64, Height: 48, Stride: 64 * 4, Pix: solidBGRA(64, 48, 10, 20, 30)}
	payload, keyframe, err := enc.EncodeRaw(raw)
	if err != nil {
		t.Fatalf("EncodeRaw: %v", err)
	}
	if payload == nil {
		t.Fatal("expected a non-nil payload for the first (keyframe) frame")
	}
	if !keyframe {
		t.Fatal("expected the first frame to be a keyframe")
	}

	dec := NewDecoder()
	frame, err := dec.Decode(64, 48, payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Width != 64 || frame.Height != 48 {
		t.Fatalf("decoded dims = %dx%d, want 64x48", frame.Width, frame.Height)
	}
	if len(frame.Planes) != 2 {
		t.Fatalf("expected 2 NV12 planes, got %d", len(frame.Planes))
	}
}

func TestDecoderRebuildsOnDimensionChange(t *testing.T) {
	encA, _ := NewEncoder(DefaultEncoderConfig(32, 24, 30))
	defer encA.Close()
	payloadA, _, err := encA.EncodeRaw(RawFrame{Width: 32, Height: 24, Stride: 32 * 4, Pix: solidBGRA(32, 24, 1, 2, 3)})
	if err != nil {
		t.Fatalf("EncodeRaw A: %v", err)
	}

	encB, _ := NewEncoder(DefaultEncoderConfig(64, 48, 30))
	defer encB.Close()
	payloadB, _, err := encB.EncodeRaw(RawFrame{Width: 64, Height: 48, Stride: 64 * 4, Pix: solidBGRA(64, 48, 4, 5, 6)})
	if err != nil {
		t.Fatalf("EncodeRaw B: %v", err)
	}

	dec := NewDecoder()
	if _, err := dec.Decode(32, 24, payloadA); err != nil {
		t.Fatalf("Decode A: %v", err)
	}
	if w, h := dec.Dimensions(); w != 32 || h != 24 {
		t.Fatalf("Dimensions after A = %dx%d, want 32x24", w, h)
	}

	frameB, err := dec.Decode(64, 48, payloadB)
	if err != nil {
		t.Fatalf("Decode B: %v", err)
	}
	if frameB.Width != 64 || frameB.Height != 48 {
		t.Fatalf("decoded B dims = %dx%d, want 64x48", frameB.Width, frameB.Height)
	}
	if w, h := dec.Dimensions(); w != 64 || h != 48 {
		t.Fatalf("Dimensions after B = %dx%d, want 64x48 (decoder should rebuild)", w, h)
	}
}

func TestEncodeRawSkipsUnchangedNonKeyframe(t *testing.T) {
	enc, err := NewEncoder(DefaultEncoderConfig(16, 16, 30))
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	defer enc.Close()
	enc.keyInterval = 1000 // push the next keyframe far out so we can observe the skip

	raw := RawFrame{Width: 16, Height: 16, Stride: 16 * 4, Pix: solidBGRA(16, 16, 9, 9, 9)}

	if _, _, err := enc.EncodeRaw(raw); err != nil {
		t.Fatalf("first EncodeRaw: %v", err)
	}

	payload, keyframe, err := enc.EncodeRaw(raw)
	if err != nil {
		t.Fatalf("second EncodeRaw: %v", err)
	}
	if payload != nil || keyframe {
		t.Fatalf("expected the unchanged second frame to be skipped, got payload=%v keyframe=%v", payload != nil, keyframe)
	}
}

func TestDecodePlaceholderRejectsTruncatedPayload(t *testing.T) {
	dec := NewDecoder()
	if _, err := dec.Decode(16, 16, []byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error decoding a too-short payload")
	}
}

func TestSoftwarePresenterPaintsBothPlaneLayouts(t *testing.T) {
	p := NewSoftwarePresenter()

	nv12 := DecodedFrame{
		Width: 2, Height: 2, Format: PixelFormatNV12,
		Planes:    [][]byte{{126, 126, 126, 126}, {128, 128}},
		LineSizes: []int{2, 2},
	}
	if err := p.Paint(nv12); err != nil {
		t.Fatalf("Paint NV12: %v", err)
	}

	yuv := DecodedFrame{
		Width: 2, Height: 2, Format: PixelFormatYUV420P,
		Planes:    [][]byte{{126, 126, 126, 126}, {128}, {128}},
		LineSizes: []int{2, 1, 1},
	}
	if err := p.Paint(yuv); err != nil {
		t.Fatalf("Paint YUV420P: %v", err)
	}

	img := p.Image()
	if img == nil || img.Rect.Dx() != 2 || img.Rect.Dy() != 2 {
		t.Fatalf("unexpected painted image: %v", img)
	}
}

func TestSoftwarePresenterRejectsMismatchedPlaneCount(t *testing.T) {
	p := NewSoftwarePresenter()
	bad := DecodedFrame{
		Width: 2, Height: 2, Format: PixelFormatYUV420P,
		Planes:    [][]byte{{0, 0, 0, 0}, {128}},
		LineSizes: []int{2, 1},
	}
	if err := p.Paint(bad); err == nil {
		t.Fatal("expected Paint to reject a YUV420P frame without 3 planes")
	}
}

func TestBGRAToNV12AndBackPreservesApproximateGray(t *testing.T) {
	// A mid-gray frame should decode back to roughly the same gray level;
	// exact equality isn't expected due to chroma subsampling/rounding.
	pix := solidBGRA(4, 4, 128, 128, 128)
	nv12 := bgraToNV12(pix, 4, 4, 4*4)
	rgba := nv12ToNRGBA(nv12, 4, 4)

	got := int(rgba[0])
	if got < 110 || got > 145 {
		t.Fatalf("round-tripped gray channel = %d, want close to 128", got)
	}
}
