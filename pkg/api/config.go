// Package api is the public facade a GUI or CLI process embeds to run
// MirrorX's active (viewer) or passive (shared device) role: portal
// registration, password-authenticated visits, transport handshakes, and
// the session wiring that fans incoming traffic out to capture, input
// injection, and file transfer.
package api

import (
	"github.com/mirrorx/endpoint/internal/audio"
	"github.com/mirrorx/endpoint/internal/input"
	"github.com/mirrorx/endpoint/internal/video"
)

// Config configures a Client. A device that only ever visits others
// (a pure viewer) can leave Capturer/AudioCapturer/Injector nil; a device
// that only ever answers visits can leave OnVisitRequest nil to reject
// every incoming visit.
type Config struct {
	// PortalAddress is the portal's host:port.
	PortalAddress string
	// LocalDeviceID is this device's portal-assigned id, 0 until the
	// first successful Register.
	LocalDeviceID uint64
	// LocalPassword authenticates incoming visits; see
	// internal/portal.Config.LocalPassword.
	LocalPassword string
	// ListenAddr is where this device accepts the active side's
	// transport connection once it accepts a visit. ":0" picks an
	// ephemeral port. The passive reply's relay address is the portal
	// address; the listener's port reaches the peer only through the
	// reply's LAN addresses.
	ListenAddr string

	// OnVisitRequest decides whether to accept an incoming visit.
	// Nil rejects every visit.
	OnVisitRequest func(activeDeviceID uint64, visitDesktop bool) bool

	// Capturer and Injector back the passive side's screen-share and
	// remote-input pipeline. Both nil means this device never accepts
	// visitDesktop=true visits productively, though it still answers
	// file-transfer-only ones.
	Capturer video.Capturer
	Injector input.Injector

	// Presenter receives decoded video frames on the viewing side. When
	// set, the Client owns each session's incoming video channel: frames
	// are decoded on the codec pool and painted here, with a capacity-1
	// overwrite slot between decode and paint so a slow presenter sees the
	// newest frame rather than a backlog. Nil leaves Session.Video()
	// undrained by the facade for embedders that decode themselves.
	Presenter video.Presenter

	// AudioPlayback receives decoded f32 PCM, already resampled to
	// AudioOutputRate, in arrival order — typically the write side of an
	// output stream's ring buffer. Nil disables the facade's playback
	// decode loop, leaving Session.Audio() to the embedder.
	AudioPlayback func(pcm []float32)
	// AudioOutputRate is the local output device's sample rate; decoded
	// audio is resampled to it when it differs from Opus's 48 kHz.
	// Defaults to 48000.
	AudioOutputRate int
	// OnAudioBufferSize fires once per session with the measured
	// post-decode samples-per-channel count, so the embedder can size its
	// playback stream instead of guessing up front.
	OnAudioBufferSize func(samplesPerChannel int)

	// AudioCapturer supplies the passive side's outbound audio track.
	// Nil disables audio capture; the session still runs without it.
	AudioCapturer audio.Capturer
	// AudioChannels is the capture/encode channel count; defaults to 2.
	AudioChannels int

	// CodecWorkers sizes the blocking-task pool every video/audio
	// encode and decode call runs on, so a slow codec invocation never
	// stalls a session's transport read loop. Defaults to 4, matching
	// internal/config.FileStore's default worker_pool_size.
	CodecWorkers int
	// CodecQueueSize bounds the codec pool's pending-task queue.
	// Defaults to 64.
	CodecQueueSize int

	// OnIncomingSession is called once a passive-side session finishes
	// its transport handshake and is ready to serve, so the embedding
	// process can track it for UI purposes (e.g. an active-sessions list).
	OnIncomingSession func(s *Session)
	// OnSessionClosed is called after a session (active or passive) is
	// torn down.
	OnSessionClosed func(s *Session)
}
