package wire

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MaxPortalFrameSize bounds a single portal-endpoint frame. It is well
// below the 65535 bytes the 2-byte length prefix can represent.
const MaxPortalFrameSize = 1000

// PortalClientMessageKind tags the variant a PortalClientMessage carries.
type PortalClientMessageKind uint32

const (
	PortalClientServerConfigRequest PortalClientMessageKind = iota
	PortalClientRegisterRequest
	PortalClientCheckRemoteOnlineRequest
	PortalClientActiveVisitRequest
	PortalClientPassiveVisitReply
	PortalClientError
)

// PortalClientMessage is the sum type a client sends to the portal TCP
// endpoint, tagged with the request/subscription id it correlates to.
type PortalClientMessage struct {
	ID   uuid.UUID
	Kind PortalClientMessageKind

	Register     ClientRegisterRequest
	CheckOnline  CheckRemoteDeviceIsOnlineRequest
	ActiveVisit  ActiveVisitRequest
	PassiveReply PassiveVisitReply
	Error        PortalError
}

type ClientRegisterRequest struct {
	HasDeviceID bool
	DeviceID    uint64
	FingerPrint string
}

type CheckRemoteDeviceIsOnlineRequest struct {
	DeviceID uint64
}

// ActiveVisitRequest carries the sealed ActiveSecret blob built in
// internal/crypto, addressed to RemoteDeviceID.
type ActiveVisitRequest struct {
	LocalDeviceID  uint64
	RemoteDeviceID uint64
	VisitDesktop   bool
	Salt           []byte
	Nonce          []byte
	Sealed         []byte
}

// PassiveVisitReply is the passive side's answer to a VisitPassiveRequest
// push, relayed back through the portal to the active side.
type PassiveVisitReply struct {
	RelayAddr        string
	VisitCredentials []byte
	SealedReply      []byte // RSA-PKCS1v15-encrypted PassiveReply
	// LANAddrs is the passive side's own local interface addresses, for
	// the active side to race a same-subnet DialLAN against before
	// falling back to RelayAddr. Empty when the passive side has no
	// usable interface or the fast path is disabled.
	LANAddrs []string
}

// PortalServerMessageKind tags the variant a PortalServerMessage carries.
type PortalServerMessageKind uint32

const (
	PortalServerConfigReply PortalServerMessageKind = iota
	PortalServerRegisterReply
	PortalServerIsOnlineReply
	PortalServerActiveVisitReply
	PortalServerVisitPassiveRequest
	PortalServerError
)

// PortalServerMessage is the sum type the portal pushes to a connected
// client, tagged with the id of the request it answers (zero UUID for an
// unsolicited push such as VisitPassiveRequest).
type PortalServerMessage struct {
	ID   uuid.UUID
	Kind PortalServerMessageKind

	ServerConfig []byte // opaque config blob, interpreted by the caller
	AssignedID   uint64
	IsOnline     bool
	ActiveVisit  PortalActiveVisitReply
	VisitPassive VisitPassiveRequest
	Error        PortalError
}

// PortalActiveVisitReply is what the portal returns to the active side
// once the passive peer has answered.
type PortalActiveVisitReply struct {
	RelayAddr        string
	VisitCredentials []byte
	SealedReply      []byte
	LANAddrs         []string
}

// VisitPassiveRequest is the portal's unsolicited push to the passive
// side, prompting its on_visit_request callback.
type VisitPassiveRequest struct {
	ActiveDeviceID  uint64
	PassiveDeviceID uint64
	VisitDesktop    bool
	Salt            []byte
	Nonce           []byte
	Sealed          []byte
}

func EncodePortalClientMessage(m PortalClientMessage) []byte {
	w := NewWriter()
	w.buf = append(w.buf, m.ID[:]...)
	w.PutUvarint(uint64(m.Kind))

	switch m.Kind {
	case PortalClientServerConfigRequest:
		// no payload
	case PortalClientRegisterRequest:
		w.PutBool(m.Register.HasDeviceID)
		if m.Register.HasDeviceID {
			w.PutUvarint(m.Register.DeviceID)
		}
		w.PutString(m.Register.FingerPrint)
	case PortalClientCheckRemoteOnlineRequest:
		w.PutUvarint(m.CheckOnline.DeviceID)
	case PortalClientActiveVisitRequest:
		w.PutUvarint(m.ActiveVisit.LocalDeviceID)
		w.PutUvarint(m.ActiveVisit.RemoteDeviceID)
		w.PutBool(m.ActiveVisit.VisitDesktop)
		w.PutBytes(m.ActiveVisit.Salt)
		w.PutBytes(m.ActiveVisit.Nonce)
		w.PutBytes(m.ActiveVisit.Sealed)
	case PortalClientPassiveVisitReply:
		w.PutString(m.PassiveReply.RelayAddr)
		w.PutBytes(m.PassiveReply.VisitCredentials)
		w.PutBytes(m.PassiveReply.SealedReply)
		w.PutString(joinLANAddrs(m.PassiveReply.LANAddrs))
	case PortalClientError:
		w.PutUvarint(uint64(m.Error))
	}
	return w.Bytes()
}

func DecodePortalClientMessage(b []byte) (PortalClientMessage, error) {
	if len(b) < 16 {
		return PortalClientMessage{}, fmt.Errorf("portal client message: too short for id")
	}
	var m PortalClientMessage
	copy(m.ID[:], b[:16])
	r := NewReader(b[16:])

	kindRaw, err := r.Uvarint()
	if err != nil {
		return m, err
	}
	m.Kind = PortalClientMessageKind(kindRaw)

	switch m.Kind {
	case PortalClientServerConfigRequest:
	case PortalClientRegisterRequest:
		if m.Register.HasDeviceID, err = r.Bool(); err != nil {
			return m, err
		}
		if m.Register.HasDeviceID {
			if m.Register.DeviceID, err = r.Uvarint(); err != nil {
				return m, err
			}
		}
		m.Register.FingerPrint, err = r.String()
	case PortalClientCheckRemoteOnlineRequest:
		m.CheckOnline.DeviceID, err = r.Uvarint()
	case PortalClientActiveVisitRequest:
		if m.ActiveVisit.LocalDeviceID, err = r.Uvarint(); err != nil {
			return m, err
		}
		if m.ActiveVisit.RemoteDeviceID, err = r.Uvarint(); err != nil {
			return m, err
		}
		if m.ActiveVisit.VisitDesktop, err = r.Bool(); err != nil {
			return m, err
		}
		if m.ActiveVisit.Salt, err = r.Bytes(); err != nil {
			return m, err
		}
		if m.ActiveVisit.Nonce, err = r.Bytes(); err != nil {
			return m, err
		}
		m.ActiveVisit.Sealed, err = r.Bytes()
	case PortalClientPassiveVisitReply:
		if m.PassiveReply.RelayAddr, err = r.String(); err != nil {
			return m, err
		}
		if m.PassiveReply.VisitCredentials, err = r.Bytes(); err != nil {
			return m, err
		}
		if m.PassiveReply.SealedReply, err = r.Bytes(); err != nil {
			return m, err
		}
		var lanAddrs string
		lanAddrs, err = r.String()
		m.PassiveReply.LANAddrs = splitLANAddrs(lanAddrs)
	case PortalClientError:
		var kind uint64
		kind, err = r.Uvarint()
		m.Error = PortalError(kind)
	default:
		return m, fmt.Errorf("portal client message: unknown kind %d", kindRaw)
	}
	return m, err
}

func EncodePortalServerMessage(m PortalServerMessage) []byte {
	w := NewWriter()
	w.buf = append(w.buf, m.ID[:]...)
	w.PutUvarint(uint64(m.Kind))

	switch m.Kind {
	case PortalServerConfigReply:
		w.PutBytes(m.ServerConfig)
	case PortalServerRegisterReply:
		w.PutUvarint(m.AssignedID)
		w.PutBytes(m.ServerConfig)
	case PortalServerIsOnlineReply:
		w.PutBool(m.IsOnline)
	case PortalServerActiveVisitReply:
		w.PutString(m.ActiveVisit.RelayAddr)
		w.PutBytes(m.ActiveVisit.VisitCredentials)
		w.PutBytes(m.ActiveVisit.SealedReply)
		w.PutString(joinLANAddrs(m.ActiveVisit.LANAddrs))
	case PortalServerVisitPassiveRequest:
		w.PutUvarint(m.VisitPassive.ActiveDeviceID)
		w.PutUvarint(m.VisitPassive.PassiveDeviceID)
		w.PutBool(m.VisitPassive.VisitDesktop)
		w.PutBytes(m.VisitPassive.Salt)
		w.PutBytes(m.VisitPassive.Nonce)
		w.PutBytes(m.VisitPassive.Sealed)
	case PortalServerError:
		w.PutUvarint(uint64(m.Error))
	}
	return w.Bytes()
}

func DecodePortalServerMessage(b []byte) (PortalServerMessage, error) {
	if len(b) < 16 {
		return PortalServerMessage{}, fmt.Errorf("portal server message: too short for id")
	}
	var m PortalServerMessage
	copy(m.ID[:], b[:16])
	r := NewReader(b[16:])

	kindRaw, err := r.Uvarint()
	if err != nil {
		return m, err
	}
	m.Kind = PortalServerMessageKind(kindRaw)

	switch m.Kind {
	case PortalServerConfigReply:
		m.ServerConfig, err = r.Bytes()
	case PortalServerRegisterReply:
		if m.AssignedID, err = r.Uvarint(); err != nil {
			return m, err
		}
		m.ServerConfig, err = r.Bytes()
	case PortalServerIsOnlineReply:
		m.IsOnline, err = r.Bool()
	case PortalServerActiveVisitReply:
		if m.ActiveVisit.RelayAddr, err = r.String(); err != nil {
			return m, err
		}
		if m.ActiveVisit.VisitCredentials, err = r.Bytes(); err != nil {
			return m, err
		}
		if m.ActiveVisit.SealedReply, err = r.Bytes(); err != nil {
			return m, err
		}
		var lanAddrs string
		lanAddrs, err = r.String()
		m.ActiveVisit.LANAddrs = splitLANAddrs(lanAddrs)
	case PortalServerVisitPassiveRequest:
		if m.VisitPassive.ActiveDeviceID, err = r.Uvarint(); err != nil {
			return m, err
		}
		if m.VisitPassive.PassiveDeviceID, err = r.Uvarint(); err != nil {
			return m, err
		}
		if m.VisitPassive.VisitDesktop, err = r.Bool(); err != nil {
			return m, err
		}
		if m.VisitPassive.Salt, err = r.Bytes(); err != nil {
			return m, err
		}
		if m.VisitPassive.Nonce, err = r.Bytes(); err != nil {
			return m, err
		}
		m.VisitPassive.Sealed, err = r.Bytes()
	case PortalServerError:
		var kind uint64
		kind, err = r.Uvarint()
		m.Error = PortalError(kind)
	default:
		return m, fmt.Errorf("portal server message: unknown kind %d", kindRaw)
	}
	return m, err
}

// joinLANAddrs/splitLANAddrs pack a LANAddrs slice into the single string
// field the portal's varint/string wire primitives already support, rather
// than adding a new repeated-field primitive for one optional feature.
func joinLANAddrs(addrs []string) string {
	return strings.Join(addrs, ",")
}

func splitLANAddrs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// PutPortalFrame appends a 2-byte little-endian length prefix followed by
// payload, matching the portal TCP endpoint's framing. It panics if
// payload exceeds MaxPortalFrameSize, which callers must check before
// reaching this layer (an oversized frame is a programming error, not a
// wire condition).
func PutPortalFrame(payload []byte) []byte {
	if len(payload) > MaxPortalFrameSize {
		panic(fmt.Sprintf("wire: portal frame of %d bytes exceeds max %d", len(payload), MaxPortalFrameSize))
	}
	out := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(out, uint16(len(payload)))
	copy(out[2:], payload)
	return out
}
