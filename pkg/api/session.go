package api

import (
	"context"
	"sync"

	"github.com/mirrorx/endpoint/internal/filetransfer"
	"github.com/mirrorx/endpoint/internal/session"
	"github.com/mirrorx/endpoint/internal/wire"
)

// Role distinguishes which side of a visit a Session is running.
type Role int

const (
	RoleActive Role = iota
	RolePassive
)

// Session wraps one internal/session.Session with the media pipeline and
// file-transfer manager it was wired with, plus everything a caller needs
// to drive it: sending input on the active side, streaming/receiving
// files on either side, and reading decoded video/audio.
type Session struct {
	Role           Role
	RemoteDeviceID uint64
	inner          *session.Session
	files          *filetransfer.Manager
	videoCh        chan wire.VideoFrame
	audioCh        chan wire.AudioFrame
	// stopAudioCapture tears down the passive side's outbound audio
	// encode pipeline, if one was started; nil on the active side and on
	// a passive session built without an AudioCapturer.
	stopAudioCapture func()
	// stopPresent/stopPlayback tear down the decode-and-present loops the
	// Client attaches when Config.Presenter/Config.AudioPlayback are set;
	// nil otherwise.
	stopPresent  func()
	stopPlayback func()
	closeOnce    sync.Once
}

// Video is the session's video sink: encoded H.264 frames as received from
// the peer, in receipt order. When Config.Presenter is set the Client
// drains this channel itself (decode on the codec pool, paint on the
// presenter); otherwise the embedder feeds it through an
// internal/video.Decoder from its own render loop. The underlying session
// awaits room rather than dropping a frame when this channel isn't drained
// fast enough; sustained backpressure fails the session instead (see Err).
func (s *Session) Video() <-chan wire.VideoFrame {
	return s.videoCh
}

// Err returns the terminal error that ended the session, if any, once Done
// (via the OnSessionClosed callback) has fired. A caller driving a GUI uses
// this to decide whether to surface a terminal error to the user.
func (s *Session) Err() error {
	return s.inner.Err()
}

// Audio is the session's audio sink: encoded Opus frames as received from
// the peer. When Config.AudioPlayback is set the Client drains this
// channel itself and delivers decoded PCM to that sink; otherwise the
// embedder feeds it through an internal/audio.Decoder from its own
// playback loop.
func (s *Session) Audio() <-chan wire.AudioFrame {
	return s.audioCh
}

// SendInput pushes a batch of input events to the remote (active-side
// call only; the passive side injects locally instead of sending).
func (s *Session) SendInput(ctx context.Context, events []wire.InputEvent) error {
	return s.inner.SendInputCommand(ctx, events)
}

// Call issues an RPC against the peer (active side only).
func (s *Session) Call(ctx context.Context, req wire.EndPointCallRequest) (*wire.EndPointCallReply, error) {
	return s.inner.Call(ctx, req)
}

// StreamFile sends id's file at path in FileBlock chunks.
func (s *Session) StreamFile(id, path string) error {
	return filetransfer.StreamFile(id, path, func(b wire.FileBlock) error {
		return s.inner.SendFileBlock(context.Background(), b)
	})
}

// BeginDownload registers a receive session for an in-flight
// DownloadFileRequest before the request is sent.
func (s *Session) BeginDownload(id, destPath string, expectedSize uint64) error {
	return s.files.BeginDownload(id, destPath, expectedSize)
}

// Close tears down the underlying session, its file-transfer manager, any
// decode-and-present loops the Client attached, and (on a passive session
// with an AudioCapturer) the outbound audio capture pipeline.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stopAudioCapture != nil {
			s.stopAudioCapture()
		}
		err = s.inner.Close()
		if s.stopPresent != nil {
			s.stopPresent()
		}
		if s.stopPlayback != nil {
			s.stopPlayback()
		}
		s.files.Close()
	})
	return err
}
