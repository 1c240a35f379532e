// Package filetransfer implements the directory-listing and
// chunked-transfer RPCs carried in-band over internal/session:
// VisitDirectoryRequest, SendFileRequest, DownloadFileRequest, and the
// FileTransferBlock/FileTransferError stream that follows them.
package filetransfer

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/mirrorx/endpoint/internal/corexerr"
	"github.com/mirrorx/endpoint/internal/logging"
	"github.com/mirrorx/endpoint/internal/wire"
)

var log = logging.L("filetransfer")

// VisitDirectory lists the contents of path, or of the caller's home
// directory when req.HasPath is false. Symlinks are reported via
// os.ReadDir's lstat-based DirEntry.Info and are never followed.
func VisitDirectory(req wire.VisitDirectoryRequest) (wire.VisitDirectoryReply, error) {
	path := req.Path
	if !req.HasPath || path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return wire.VisitDirectoryReply{}, corexerr.Wrap(corexerr.KindFileIO, "resolve home directory", err)
		}
		path = home
	}
	path = filepath.Clean(path)

	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return wire.VisitDirectoryReply{}, corexerr.Wrap(corexerr.KindFileIO, "read directory", err)
	}

	entries := make([]wire.DirEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, wire.DirEntry{
			Name:         de.Name(),
			IsDir:        de.IsDir(),
			Size:         uint64(info.Size()),
			ModifiedUnix: info.ModTime().Unix(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return wire.VisitDirectoryReply{Path: path, Entries: entries}, nil
}
