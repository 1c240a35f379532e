package wire

import (
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, m EndPointMessage) EndPointMessage {
	t.Helper()
	encoded := Encode(m)
	got, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return got
}

func TestVideoFrameRoundTrip(t *testing.T) {
	m := NewVideoFrameMessage(VideoFrame{Width: 1920, Height: 1080, PTS: 12345, Bytes: []byte{1, 2, 3, 4}})
	got := roundTrip(t, m)
	if got.VideoFrame.Width != 1920 || got.VideoFrame.Height != 1080 || got.VideoFrame.PTS != 12345 {
		t.Fatalf("VideoFrame fields mismatch: %+v", got.VideoFrame)
	}
	if !bytes.Equal(got.VideoFrame.Bytes, []byte{1, 2, 3, 4}) {
		t.Fatalf("VideoFrame bytes mismatch: %v", got.VideoFrame.Bytes)
	}
}

func TestAudioFrameRoundTrip(t *testing.T) {
	m := NewAudioFrameMessage(AudioFrame{Channels: 2, SampleFormat: SampleFormatFLT, SampleRate: 48000, Bytes: []byte{9, 9}})
	got := roundTrip(t, m)
	if got.AudioFrame.Channels != 2 || got.AudioFrame.SampleFormat != SampleFormatFLT || got.AudioFrame.SampleRate != 48000 {
		t.Fatalf("AudioFrame fields mismatch: %+v", got.AudioFrame)
	}
}

func TestInputCommandRoundTrip(t *testing.T) {
	events := []InputEvent{
		MouseMove(MouseKeyNone, 1.5, 2.5),
		MouseDown(MouseKeyLeft, 10, 20),
		MouseUp(MouseKeyLeft, 10, 20),
		MouseDoubleClick(MouseKeyLeft, 11, 21),
		MouseScrollWheel(-3.0),
		KeyboardKeyDown(KeyA),
		KeyboardKeyUp(KeyA),
	}
	m := NewInputCommandMessage(events)
	got := roundTrip(t, m)

	if len(got.Input) != len(events) {
		t.Fatalf("got %d events, want %d", len(got.Input), len(events))
	}
	for i, e := range events {
		if got.Input[i] != e {
			t.Fatalf("event %d = %+v, want %+v", i, got.Input[i], e)
		}
	}
}

func TestCallRequestNegotiateRoundTrip(t *testing.T) {
	req := EndPointCallRequest{Kind: CallRequestNegotiate, Negotiate: NegotiateRequest{VideoCodecs: []VideoCodec{VideoCodecH264}}}
	m := NewCallRequestMessage(42, req)
	got := roundTrip(t, m)

	if got.CallID != 42 {
		t.Fatalf("CallID = %d, want 42", got.CallID)
	}
	if len(got.CallRequest.Negotiate.VideoCodecs) != 1 || got.CallRequest.Negotiate.VideoCodecs[0] != VideoCodecH264 {
		t.Fatalf("Negotiate codecs mismatch: %+v", got.CallRequest.Negotiate)
	}
}

func TestCallReplyNoneRoundTrip(t *testing.T) {
	m := NewCallReplyMessage(7, nil)
	got := roundTrip(t, m)
	if got.CallID != 7 {
		t.Fatalf("CallID = %d, want 7", got.CallID)
	}
	if got.HasCallReply {
		t.Fatal("expected HasCallReply to be false for a nil reply")
	}
}

func TestCallReplySwitchScreenRoundTrip(t *testing.T) {
	rep := EndPointCallReply{Kind: CallReplySwitchScreen, SwitchScreen: SwitchScreenReply{Width: 1280, Height: 720}}
	m := NewCallReplyMessage(7, &rep)
	got := roundTrip(t, m)

	if !got.HasCallReply {
		t.Fatal("expected HasCallReply true")
	}
	if got.CallReply.SwitchScreen.Width != 1280 || got.CallReply.SwitchScreen.Height != 720 {
		t.Fatalf("SwitchScreen reply mismatch: %+v", got.CallReply.SwitchScreen)
	}
}

func TestCallReplyVisitDirectoryRoundTrip(t *testing.T) {
	rep := EndPointCallReply{
		Kind: CallReplyVisitDirectory,
		VisitDirectory: VisitDirectoryReply{
			Path: "/home/user",
			Entries: []DirEntry{
				{Name: "a.txt", IsDir: false, Size: 100, ModifiedUnix: 1000},
				{Name: "sub", IsDir: true, Size: 0, ModifiedUnix: 2000},
			},
		},
	}
	m := NewCallReplyMessage(1, &rep)
	got := roundTrip(t, m)

	if got.CallReply.VisitDirectory.Path != "/home/user" {
		t.Fatalf("Path = %q", got.CallReply.VisitDirectory.Path)
	}
	if len(got.CallReply.VisitDirectory.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(got.CallReply.VisitDirectory.Entries))
	}
	if got.CallReply.VisitDirectory.Entries[1].IsDir != true {
		t.Fatal("expected second entry to be a directory")
	}
}

func TestFileTransferBlockRoundTrip(t *testing.T) {
	m := NewFileTransferBlockMessage(FileBlock{ID: "xfer-1", Offset: 4096, Bytes: []byte{5, 6, 7}, IsLast: true})
	got := roundTrip(t, m)

	if got.FileBlock.ID != "xfer-1" || got.FileBlock.Offset != 4096 || !got.FileBlock.IsLast {
		t.Fatalf("FileBlock mismatch: %+v", got.FileBlock)
	}
	if !bytes.Equal(got.FileBlock.Bytes, []byte{5, 6, 7}) {
		t.Fatalf("FileBlock bytes mismatch: %v", got.FileBlock.Bytes)
	}
}

func TestFileTransferErrorAndErrorMessageRoundTrip(t *testing.T) {
	got := roundTrip(t, NewFileTransferErrorMessage("xfer-2"))
	if got.FileErrorID != "xfer-2" {
		t.Fatalf("FileErrorID = %q, want xfer-2", got.FileErrorID)
	}

	got = roundTrip(t, NewErrorMessage("boom"))
	if got.ErrorMessage != "boom" {
		t.Fatalf("ErrorMessage = %q, want boom", got.ErrorMessage)
	}
}

func TestDecodeRejectsUnknownMessageKind(t *testing.T) {
	w := NewWriter()
	w.PutUvarint(99)
	if _, err := Decode(w.Bytes()); err == nil {
		t.Fatal("expected Decode to reject an unknown message kind")
	}
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	full := Encode(NewVideoFrameMessage(VideoFrame{Width: 10, Height: 10, PTS: 1, Bytes: []byte{1, 2, 3, 4, 5}}))
	if _, err := Decode(full[:len(full)-2]); err == nil {
		t.Fatal("expected Decode to reject truncated input")
	}
}
