package wire

import "fmt"

// MessageKind tags the EndPointMessage sum type variant.
type MessageKind uint32

const (
	MessageVideoFrame        MessageKind = iota
	MessageAudioFrame
	MessageInputCommand
	MessageCallRequest
	MessageCallReply
	MessageFileTransferBlock
	MessageFileTransferError
	MessageError
)

// EndPointMessage is the sum type carried by every endpoint transport
// frame, once its AEAD envelope has been opened.
type EndPointMessage struct {
	Kind MessageKind

	VideoFrame VideoFrame
	AudioFrame AudioFrame
	Input      []InputEvent

	CallID      uint16
	CallRequest EndPointCallRequest

	HasCallReply bool
	CallReply    EndPointCallReply

	FileBlock      FileBlock
	FileErrorID    string
	ErrorMessage   string
}

type VideoFrame struct {
	Width  uint32
	Height uint32
	PTS    int64
	Bytes  []byte
}

type AudioFrame struct {
	Channels     uint32
	SampleFormat SampleFormat
	SampleRate   uint32
	Bytes        []byte
}

func NewVideoFrameMessage(f VideoFrame) EndPointMessage {
	return EndPointMessage{Kind: MessageVideoFrame, VideoFrame: f}
}

func NewAudioFrameMessage(f AudioFrame) EndPointMessage {
	return EndPointMessage{Kind: MessageAudioFrame, AudioFrame: f}
}

func NewInputCommandMessage(events []InputEvent) EndPointMessage {
	return EndPointMessage{Kind: MessageInputCommand, Input: events}
}

func NewCallRequestMessage(callID uint16, req EndPointCallRequest) EndPointMessage {
	return EndPointMessage{Kind: MessageCallRequest, CallID: callID, CallRequest: req}
}

func NewCallReplyMessage(callID uint16, rep *EndPointCallReply) EndPointMessage {
	m := EndPointMessage{Kind: MessageCallReply, CallID: callID}
	if rep != nil {
		m.HasCallReply = true
		m.CallReply = *rep
	}
	return m
}

func NewFileTransferBlockMessage(b FileBlock) EndPointMessage {
	return EndPointMessage{Kind: MessageFileTransferBlock, FileBlock: b}
}

func NewFileTransferErrorMessage(id string) EndPointMessage {
	return EndPointMessage{Kind: MessageFileTransferError, FileErrorID: id}
}

func NewErrorMessage(msg string) EndPointMessage {
	return EndPointMessage{Kind: MessageError, ErrorMessage: msg}
}

// Encode serialises m to the little-endian varint bincode layout used on
// the endpoint transport. The result is the plaintext that gets AEAD-sealed
// by internal/transport, not a framed byte stream itself.
func Encode(m EndPointMessage) []byte {
	w := NewWriter()
	w.PutUvarint(uint64(m.Kind))

	switch m.Kind {
	case MessageVideoFrame:
		w.PutUvarint(uint64(m.VideoFrame.Width))
		w.PutUvarint(uint64(m.VideoFrame.Height))
		w.PutVarint(m.VideoFrame.PTS)
		w.PutBytes(m.VideoFrame.Bytes)
	case MessageAudioFrame:
		w.PutUvarint(uint64(m.AudioFrame.Channels))
		w.PutUvarint(uint64(m.AudioFrame.SampleFormat))
		w.PutUvarint(uint64(m.AudioFrame.SampleRate))
		w.PutBytes(m.AudioFrame.Bytes)
	case MessageInputCommand:
		w.PutUvarint(uint64(len(m.Input)))
		for _, e := range m.Input {
			encodeInputEvent(w, e)
		}
	case MessageCallRequest:
		w.PutUvarint(uint64(m.CallID))
		encodeEndPointCallRequest(w, m.CallRequest)
	case MessageCallReply:
		w.PutUvarint(uint64(m.CallID))
		w.PutBool(m.HasCallReply)
		if m.HasCallReply {
			encodeEndPointCallReply(w, m.CallReply)
		}
	case MessageFileTransferBlock:
		encodeFileBlock(w, m.FileBlock)
	case MessageFileTransferError:
		w.PutString(m.FileErrorID)
	case MessageError:
		w.PutString(m.ErrorMessage)
	}

	return w.Bytes()
}

// Decode is the inverse of Encode.
func Decode(b []byte) (EndPointMessage, error) {
	r := NewReader(b)

	kindRaw, err := r.Uvarint()
	if err != nil {
		return EndPointMessage{}, fmt.Errorf("message kind: %w", err)
	}
	m := EndPointMessage{Kind: MessageKind(kindRaw)}

	switch m.Kind {
	case MessageVideoFrame:
		width, err := r.Uvarint()
		if err != nil {
			return m, err
		}
		height, err := r.Uvarint()
		if err != nil {
			return m, err
		}
		pts, err := r.Varint()
		if err != nil {
			return m, err
		}
		bytes, err := r.Bytes()
		if err != nil {
			return m, err
		}
		m.VideoFrame = VideoFrame{Width: uint32(width), Height: uint32(height), PTS: pts, Bytes: bytes}

	case MessageAudioFrame:
		channels, err := r.Uvarint()
		if err != nil {
			return m, err
		}
		format, err := r.Uvarint()
		if err != nil {
			return m, err
		}
		rate, err := r.Uvarint()
		if err != nil {
			return m, err
		}
		bytes, err := r.Bytes()
		if err != nil {
			return m, err
		}
		m.AudioFrame = AudioFrame{
			Channels:     uint32(channels),
			SampleFormat: SampleFormat(format),
			SampleRate:   uint32(rate),
			Bytes:        bytes,
		}

	case MessageInputCommand:
		n, err := r.Uvarint()
		if err != nil {
			return m, err
		}
		m.Input = make([]InputEvent, n)
		for i := range m.Input {
			m.Input[i], err = decodeInputEvent(r)
			if err != nil {
				return m, err
			}
		}

	case MessageCallRequest:
		callID, err := r.Uvarint()
		if err != nil {
			return m, err
		}
		m.CallID = uint16(callID)
		m.CallRequest, err = decodeEndPointCallRequest(r)
		if err != nil {
			return m, err
		}

	case MessageCallReply:
		callID, err := r.Uvarint()
		if err != nil {
			return m, err
		}
		m.CallID = uint16(callID)
		m.HasCallReply, err = r.Bool()
		if err != nil {
			return m, err
		}
		if m.HasCallReply {
			m.CallReply, err = decodeEndPointCallReply(r)
			if err != nil {
				return m, err
			}
		}

	case MessageFileTransferBlock:
		m.FileBlock, err = decodeFileBlock(r)
		if err != nil {
			return m, err
		}

	case MessageFileTransferError:
		m.FileErrorID, err = r.String()
		if err != nil {
			return m, err
		}

	case MessageError:
		m.ErrorMessage, err = r.String()
		if err != nil {
			return m, err
		}

	default:
		return m, fmt.Errorf("wire: unknown message kind %d", kindRaw)
	}

	return m, nil
}
