package wire

import "fmt"

// EndPointCallRequestKind tags the variant carried inside a CallRequest.
type EndPointCallRequestKind uint32

const (
	CallRequestNegotiate EndPointCallRequestKind = iota
	CallRequestSwitchScreen
	CallRequestVisitDirectory
	CallRequestSendFile
	CallRequestDownloadFile
)

// EndPointCallRequest is the sum type a CallRequest carries. Exactly one
// of the per-kind fields is populated, selected by Kind.
type EndPointCallRequest struct {
	Kind EndPointCallRequestKind

	Negotiate       NegotiateRequest
	SwitchScreen    SwitchScreenRequest
	VisitDirectory  VisitDirectoryRequest
	SendFile        SendFileRequest
	DownloadFile    DownloadFileRequest
}

type NegotiateRequest struct {
	VideoCodecs []VideoCodec
}

type SwitchScreenRequest struct {
	DisplayID string
}

type VisitDirectoryRequest struct {
	Path     string
	HasPath  bool
}

type SendFileRequest struct {
	ID       string
	Filename string
	Path     string
	Size     uint64
}

type DownloadFileRequest struct {
	ID   string
	Path string
}

// EndPointCallReplyKind tags the variant carried inside a CallReply's
// Option<EndPointCallReply>.
type EndPointCallReplyKind uint32

const (
	CallReplyNegotiate EndPointCallReplyKind = iota
	CallReplyVideoError
	CallReplyMonitorError
	CallReplySwitchScreen
	CallReplyVisitDirectory
	CallReplyOk
	CallReplyError
)

type EndPointCallReply struct {
	Kind EndPointCallReplyKind

	Negotiate      NegotiateReply
	SwitchScreen   SwitchScreenReply
	VisitDirectory VisitDirectoryReply
	Error          string
}

type NegotiateReply struct {
	PrimaryMonitor Monitor
	Codec          VideoCodec
}

type Monitor struct {
	ID            string
	Name          string
	Width         uint32
	Height        uint32
	RefreshRate   uint32
	IsPrimary     bool
	Thumbnail     []byte // PNG-encoded screenshot taken at negotiation time
}

type SwitchScreenReply struct {
	Width  uint32
	Height uint32
}

type DirEntry struct {
	Name         string
	IsDir        bool
	Size         uint64
	ModifiedUnix int64
}

type VisitDirectoryReply struct {
	Path    string
	Entries []DirEntry
}

// FileBlock is one chunk of an in-flight file transfer.
type FileBlock struct {
	ID     string
	Offset uint64
	Bytes  []byte
	IsLast bool
}

func encodeEndPointCallRequest(w *Writer, req EndPointCallRequest) {
	w.PutUvarint(uint64(req.Kind))
	switch req.Kind {
	case CallRequestNegotiate:
		w.PutUvarint(uint64(len(req.Negotiate.VideoCodecs)))
		for _, c := range req.Negotiate.VideoCodecs {
			w.PutUvarint(uint64(c))
		}
	case CallRequestSwitchScreen:
		w.PutString(req.SwitchScreen.DisplayID)
	case CallRequestVisitDirectory:
		w.PutBool(req.VisitDirectory.HasPath)
		if req.VisitDirectory.HasPath {
			w.PutString(req.VisitDirectory.Path)
		}
	case CallRequestSendFile:
		w.PutString(req.SendFile.ID)
		w.PutString(req.SendFile.Filename)
		w.PutString(req.SendFile.Path)
		w.PutUvarint(req.SendFile.Size)
	case CallRequestDownloadFile:
		w.PutString(req.DownloadFile.ID)
		w.PutString(req.DownloadFile.Path)
	}
}

func decodeEndPointCallRequest(r *Reader) (EndPointCallRequest, error) {
	kindRaw, err := r.Uvarint()
	if err != nil {
		return EndPointCallRequest{}, err
	}
	req := EndPointCallRequest{Kind: EndPointCallRequestKind(kindRaw)}

	switch req.Kind {
	case CallRequestNegotiate:
		n, err := r.Uvarint()
		if err != nil {
			return req, err
		}
		req.Negotiate.VideoCodecs = make([]VideoCodec, n)
		for i := range req.Negotiate.VideoCodecs {
			v, err := r.Uvarint()
			if err != nil {
				return req, err
			}
			req.Negotiate.VideoCodecs[i] = VideoCodec(v)
		}
	case CallRequestSwitchScreen:
		req.SwitchScreen.DisplayID, err = r.String()
	case CallRequestVisitDirectory:
		req.VisitDirectory.HasPath, err = r.Bool()
		if err == nil && req.VisitDirectory.HasPath {
			req.VisitDirectory.Path, err = r.String()
		}
	case CallRequestSendFile:
		if req.SendFile.ID, err = r.String(); err != nil {
			return req, err
		}
		if req.SendFile.Filename, err = r.String(); err != nil {
			return req, err
		}
		if req.SendFile.Path, err = r.String(); err != nil {
			return req, err
		}
		req.SendFile.Size, err = r.Uvarint()
	case CallRequestDownloadFile:
		if req.DownloadFile.ID, err = r.String(); err != nil {
			return req, err
		}
		req.DownloadFile.Path, err = r.String()
	default:
		return req, fmt.Errorf("call request: unknown kind %d", kindRaw)
	}
	return req, err
}

func encodeEndPointCallReply(w *Writer, rep EndPointCallReply) {
	w.PutUvarint(uint64(rep.Kind))
	switch rep.Kind {
	case CallReplyNegotiate:
		encodeMonitor(w, rep.Negotiate.PrimaryMonitor)
		w.PutUvarint(uint64(rep.Negotiate.Codec))
	case CallReplyVideoError, CallReplyMonitorError, CallReplyOk:
		// no payload
	case CallReplySwitchScreen:
		w.PutUvarint(uint64(rep.SwitchScreen.Width))
		w.PutUvarint(uint64(rep.SwitchScreen.Height))
	case CallReplyVisitDirectory:
		w.PutString(rep.VisitDirectory.Path)
		w.PutUvarint(uint64(len(rep.VisitDirectory.Entries)))
		for _, e := range rep.VisitDirectory.Entries {
			w.PutString(e.Name)
			w.PutBool(e.IsDir)
			w.PutUvarint(e.Size)
			w.PutVarint(e.ModifiedUnix)
		}
	case CallReplyError:
		w.PutString(rep.Error)
	}
}

func decodeEndPointCallReply(r *Reader) (EndPointCallReply, error) {
	kindRaw, err := r.Uvarint()
	if err != nil {
		return EndPointCallReply{}, err
	}
	rep := EndPointCallReply{Kind: EndPointCallReplyKind(kindRaw)}

	switch rep.Kind {
	case CallReplyNegotiate:
		mon, err := decodeMonitor(r)
		if err != nil {
			return rep, err
		}
		rep.Negotiate.PrimaryMonitor = mon
		codec, err := r.Uvarint()
		if err != nil {
			return rep, err
		}
		rep.Negotiate.Codec = VideoCodec(codec)
	case CallReplyVideoError, CallReplyMonitorError, CallReplyOk:
		// no payload
	case CallReplySwitchScreen:
		w, err := r.Uvarint()
		if err != nil {
			return rep, err
		}
		h, err := r.Uvarint()
		if err != nil {
			return rep, err
		}
		rep.SwitchScreen.Width = uint32(w)
		rep.SwitchScreen.Height = uint32(h)
	case CallReplyVisitDirectory:
		if rep.VisitDirectory.Path, err = r.String(); err != nil {
			return rep, err
		}
		n, err := r.Uvarint()
		if err != nil {
			return rep, err
		}
		rep.VisitDirectory.Entries = make([]DirEntry, n)
		for i := range rep.VisitDirectory.Entries {
			name, err := r.String()
			if err != nil {
				return rep, err
			}
			isDir, err := r.Bool()
			if err != nil {
				return rep, err
			}
			size, err := r.Uvarint()
			if err != nil {
				return rep, err
			}
			mtime, err := r.Varint()
			if err != nil {
				return rep, err
			}
			rep.VisitDirectory.Entries[i] = DirEntry{Name: name, IsDir: isDir, Size: size, ModifiedUnix: mtime}
		}
	case CallReplyError:
		rep.Error, err = r.String()
	default:
		return rep, fmt.Errorf("call reply: unknown kind %d", kindRaw)
	}
	return rep, err
}

func encodeMonitor(w *Writer, m Monitor) {
	w.PutString(m.ID)
	w.PutString(m.Name)
	w.PutUvarint(uint64(m.Width))
	w.PutUvarint(uint64(m.Height))
	w.PutUvarint(uint64(m.RefreshRate))
	w.PutBool(m.IsPrimary)
	w.PutBytes(m.Thumbnail)
}

func decodeMonitor(r *Reader) (Monitor, error) {
	var m Monitor
	var err error
	if m.ID, err = r.String(); err != nil {
		return m, err
	}
	if m.Name, err = r.String(); err != nil {
		return m, err
	}
	width, err := r.Uvarint()
	if err != nil {
		return m, err
	}
	height, err := r.Uvarint()
	if err != nil {
		return m, err
	}
	refresh, err := r.Uvarint()
	if err != nil {
		return m, err
	}
	m.Width, m.Height, m.RefreshRate = uint32(width), uint32(height), uint32(refresh)
	if m.IsPrimary, err = r.Bool(); err != nil {
		return m, err
	}
	m.Thumbnail, err = r.Bytes()
	return m, err
}

func encodeFileBlock(w *Writer, b FileBlock) {
	w.PutString(b.ID)
	w.PutUvarint(b.Offset)
	w.PutBytes(b.Bytes)
	w.PutBool(b.IsLast)
}

func decodeFileBlock(r *Reader) (FileBlock, error) {
	var b FileBlock
	var err error
	if b.ID, err = r.String(); err != nil {
		return b, err
	}
	if b.Offset, err = r.Uvarint(); err != nil {
		return b, err
	}
	if b.Bytes, err = r.Bytes(); err != nil {
		return b, err
	}
	b.IsLast, err = r.Bool()
	return b, err
}
