package api

import (
	"context"

	"github.com/mirrorx/endpoint/internal/filetransfer"
	"github.com/mirrorx/endpoint/internal/logging"
	"github.com/mirrorx/endpoint/internal/negotiate"
	"github.com/mirrorx/endpoint/internal/wire"
)

var log = logging.L("api")

// passiveHandler answers every CallRequest kind the passive side serves:
// screen negotiation through negotiate.Handler, and directory listing/
// file-transfer setup through internal/filetransfer. negotiate.Handler on
// its own only understands its two kinds, so this wraps it rather than
// handing its Handle method to session.Config directly.
type passiveHandler struct {
	negotiate *negotiate.Handler
	files     *filetransfer.Manager
	// sendBlock streams an outbound FileBlock to the peer once the
	// owning session exists; set via attachSender after session.New
	// returns, since Config.Handler must be built before the Session
	// that would otherwise supply this.
	sendBlock func(wire.FileBlock) error
}

func newPassiveHandler(n *negotiate.Handler, f *filetransfer.Manager) *passiveHandler {
	return &passiveHandler{negotiate: n, files: f}
}

func (h *passiveHandler) attachSender(send func(wire.FileBlock) error) {
	h.sendBlock = send
}

func (h *passiveHandler) Handle(ctx context.Context, req wire.EndPointCallRequest) *wire.EndPointCallReply {
	switch req.Kind {
	case wire.CallRequestNegotiate, wire.CallRequestSwitchScreen:
		return h.negotiate.Handle(ctx, req)

	case wire.CallRequestVisitDirectory:
		var path string
		if req.VisitDirectory.HasPath {
			path = req.VisitDirectory.Path
		}
		reply, err := filetransfer.VisitDirectory(wire.VisitDirectoryRequest{Path: path, HasPath: req.VisitDirectory.HasPath})
		if err != nil {
			log.Warn("visit directory failed", "path", path, "error", err)
			return &wire.EndPointCallReply{Kind: wire.CallReplyError, Error: err.Error()}
		}
		return &wire.EndPointCallReply{Kind: wire.CallReplyVisitDirectory, VisitDirectory: reply}

	case wire.CallRequestSendFile:
		reply, err := h.files.BeginReceive(req.SendFile)
		if err != nil {
			log.Warn("begin file receive failed", "id", req.SendFile.ID, "error", err)
			return &wire.EndPointCallReply{Kind: wire.CallReplyError, Error: err.Error()}
		}
		return reply

	case wire.CallRequestDownloadFile:
		if h.sendBlock == nil {
			return &wire.EndPointCallReply{Kind: wire.CallReplyError, Error: "file streaming not ready"}
		}
		id, path, send := req.DownloadFile.ID, req.DownloadFile.Path, h.sendBlock
		go func() {
			if err := filetransfer.StreamFile(id, path, send); err != nil {
				log.Warn("stream requested download failed", "id", id, "path", path, "error", err)
			}
		}()
		return &wire.EndPointCallReply{Kind: wire.CallReplyOk}

	default:
		return nil
	}
}
