package wire

// VideoCodec is the negotiated video codec. H264 is the only
// value defined.
type VideoCodec uint32

const (
	VideoCodecH264 VideoCodec = 0
)

// DesktopDecodeFrameFormat is the planar pixel format a decoded video
// frame is normalised to.
type DesktopDecodeFrameFormat uint32

const (
	FrameFormatNV12    DesktopDecodeFrameFormat = 0
	FrameFormatYUV420P DesktopDecodeFrameFormat = 1
)

// MouseKey identifies which mouse button an InputEvent refers to.
type MouseKey uint32

const (
	MouseKeyNone        MouseKey = 0
	MouseKeyLeft        MouseKey = 1
	MouseKeyRight       MouseKey = 2
	MouseKeyWheel       MouseKey = 3
	MouseKeySideBack    MouseKey = 4
	MouseKeySideForward MouseKey = 5
)

// SampleFormat mirrors FFmpeg's AV_SAMPLE_FMT_* integer values,
// so the audio pipeline can round-trip the decoder's native format id.
type SampleFormat uint32

const (
	SampleFormatU8  SampleFormat = 0
	SampleFormatS16 SampleFormat = 1
	SampleFormatS32 SampleFormat = 2
	SampleFormatFLT SampleFormat = 3
	SampleFormatDBL SampleFormat = 4
)

// PortalError enumerates the only error values a portal client call may
// surface to its caller.
type PortalError uint32

const (
	PortalErrorInvalidPassword PortalError = 0
	PortalErrorInvalidArgs     PortalError = 1
	PortalErrorRemoteRefuse    PortalError = 2
	PortalErrorRemoteOffline   PortalError = 3
	PortalErrorRemoteInternal  PortalError = 4
	PortalErrorInternal        PortalError = 5
)

// KeyboardKey is the abstract key code enumeration: A-Z, 0-9,
// F1-F20, modifiers (left/right shift, ctrl, alt, super, fn), navigation,
// numpad, media keys, and the remaining named keys. Values are fixed for
// wire compatibility and must never be renumbered.
type KeyboardKey uint32

const (
	KeyA KeyboardKey = iota
	KeyB
	KeyC
	KeyD
	KeyE
	KeyF
	KeyG
	KeyH
	KeyI
	KeyJ
	KeyK
	KeyL
	KeyM
	KeyN
	KeyO
	KeyP
	KeyQ
	KeyR
	KeyS
	KeyT
	KeyU
	KeyV
	KeyW
	KeyX
	KeyY
	KeyZ
	Key0
	Key1
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
	KeyF1
	KeyF2
	KeyF3
	KeyF4
	KeyF5
	KeyF6
	KeyF7
	KeyF8
	KeyF9
	KeyF10
	KeyF11
	KeyF12
	KeyF13
	KeyF14
	KeyF15
	KeyF16
	KeyF17
	KeyF18
	KeyF19
	KeyF20
	KeyArrowUp
	KeyArrowDown
	KeyArrowLeft
	KeyArrowRight
	KeyShiftLeft
	KeyShiftRight
	KeyControlLeft
	KeyControlRight
	KeyAltLeft
	KeyAltRight
	KeySuperLeft
	KeySuperRight
	KeyFn
	KeyHome
	KeyEnd
	KeyPageUp
	KeyPageDown
	KeyInsert
	KeyDelete
	KeyNumpad0
	KeyNumpad1
	KeyNumpad2
	KeyNumpad3
	KeyNumpad4
	KeyNumpad5
	KeyNumpad6
	KeyNumpad7
	KeyNumpad8
	KeyNumpad9
	KeyNumpadAdd
	KeyNumpadSubtract
	KeyNumpadMultiply
	KeyNumpadDivide
	KeyNumpadDecimal
	KeyNumpadEnter
	KeyVolumeUp
	KeyVolumeDown
	KeyVolumeMute
	KeyEscape
	KeyTab
	KeyBackspace
	KeyEnter
	KeySpace
	KeyCapsLock
	KeyPrintScreen
	KeyScrollLock
	KeyPause
)
