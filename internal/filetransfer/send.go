package filetransfer

import (
	"io"
	"os"

	"github.com/mirrorx/endpoint/internal/corexerr"
	"github.com/mirrorx/endpoint/internal/wire"
)

// blockSize is the chunk size streamed per FileTransferBlock.
const blockSize = 1 << 20 // 1MB

// StreamFile answers a DownloadFileRequest: it reads path from disk and
// calls send once per chunk, in order, with the final call carrying
// IsLast. send is typically Session.SendFileBlock.
//
// Chunks are buffered one-ahead so the last block can be marked IsLast
// regardless of whether the underlying Reader signals EOF together with
// the final data or only on a subsequent empty read.
func StreamFile(id, path string, send func(wire.FileBlock) error) error {
	f, err := os.Open(path)
	if err != nil {
		return corexerr.Wrap(corexerr.KindFileIO, "open file for download", err)
	}
	defer f.Close()

	buf := make([]byte, blockSize)
	var offset uint64
	var pending *wire.FileBlock

	flush := func(isLast bool) error {
		if pending == nil {
			return nil
		}
		pending.IsLast = isLast
		if err := send(*pending); err != nil {
			return corexerr.Wrap(corexerr.KindTransportIO, "send file transfer block", err)
		}
		pending = nil
		return nil
	}

	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if err := flush(false); err != nil {
				return err
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			pending = &wire.FileBlock{ID: id, Offset: offset, Bytes: chunk}
			offset += uint64(n)
		}
		if readErr == io.EOF {
			if pending == nil {
				return send(wire.FileBlock{ID: id, Offset: 0, Bytes: nil, IsLast: true})
			}
			return flush(true)
		}
		if readErr != nil {
			return corexerr.Wrap(corexerr.KindFileIO, "read file for download", readErr)
		}
	}
}
