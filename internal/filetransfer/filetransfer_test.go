package filetransfer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mirrorx/endpoint/internal/wire"
)

func TestVisitDirectoryListsEntriesSortedByName(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	reply, err := VisitDirectory(wire.VisitDirectoryRequest{Path: dir, HasPath: true})
	if err != nil {
		t.Fatalf("VisitDirectory: %v", err)
	}
	if reply.Path != dir {
		t.Fatalf("Path = %q, want %q", reply.Path, dir)
	}
	if len(reply.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(reply.Entries))
	}
	if reply.Entries[0].Name != "a.txt" || reply.Entries[1].Name != "b.txt" || reply.Entries[2].Name != "sub" {
		t.Fatalf("unexpected order: %+v", reply.Entries)
	}
	if !reply.Entries[2].IsDir {
		t.Fatalf("expected sub to be reported as a directory")
	}
}

func TestVisitDirectoryRejectsMissingPath(t *testing.T) {
	if _, err := VisitDirectory(wire.VisitDirectoryRequest{Path: filepath.Join(t.TempDir(), "nope"), HasPath: true}); err == nil {
		t.Fatal("expected an error for a nonexistent path")
	}
}

func TestManagerBeginReceiveThenBlocksWritesFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager()
	defer m.Close()

	req := wire.SendFileRequest{ID: "xfer-1", Filename: "out.bin", Path: dir, Size: 6}
	rep, err := m.BeginReceive(req)
	if err != nil {
		t.Fatalf("BeginReceive: %v", err)
	}
	if rep.Kind != wire.CallReplyOk {
		t.Fatalf("reply kind = %v, want CallReplyOk", rep.Kind)
	}

	m.HandleBlock(wire.NewFileTransferBlockMessage(wire.FileBlock{ID: "xfer-1", Offset: 0, Bytes: []byte("abc")}))
	m.HandleBlock(wire.NewFileTransferBlockMessage(wire.FileBlock{ID: "xfer-1", Offset: 3, Bytes: []byte("def"), IsLast: true}))

	got, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "abcdef" {
		t.Fatalf("content = %q, want %q", got, "abcdef")
	}

	m.mu.Lock()
	_, stillOpen := m.sessions["xfer-1"]
	m.mu.Unlock()
	if stillOpen {
		t.Fatal("expected session to be closed and removed after IsLast")
	}
}

func TestManagerBlockForUnknownIDIsIgnored(t *testing.T) {
	m := NewManager()
	defer m.Close()

	// Should not panic, and should be a no-op.
	m.HandleBlock(wire.NewFileTransferBlockMessage(wire.FileBlock{ID: "missing", Offset: 0, Bytes: []byte("x")}))
}

func TestManagerFileTransferErrorDropsSession(t *testing.T) {
	dir := t.TempDir()
	m := NewManager()
	defer m.Close()

	if _, err := m.BeginReceive(wire.SendFileRequest{ID: "xfer-2", Filename: "out.bin", Path: dir, Size: 10}); err != nil {
		t.Fatalf("BeginReceive: %v", err)
	}
	m.HandleBlock(wire.NewFileTransferErrorMessage("xfer-2"))

	m.mu.Lock()
	_, stillOpen := m.sessions["xfer-2"]
	m.mu.Unlock()
	if stillOpen {
		t.Fatal("expected session to be dropped on FileTransferError")
	}
}

func TestManagerBeginReceiveReplacesExistingSessionForSameID(t *testing.T) {
	dir := t.TempDir()
	m := NewManager()
	defer m.Close()

	if _, err := m.BeginReceive(wire.SendFileRequest{ID: "xfer-3", Filename: "first.bin", Path: dir, Size: 0}); err != nil {
		t.Fatalf("BeginReceive first: %v", err)
	}
	m.mu.Lock()
	firstFile := m.sessions["xfer-3"].file
	m.mu.Unlock()

	if _, err := m.BeginReceive(wire.SendFileRequest{ID: "xfer-3", Filename: "second.bin", Path: dir, Size: 0}); err != nil {
		t.Fatalf("BeginReceive second: %v", err)
	}

	// The first file handle should now be closed; writing to it fails.
	if _, err := firstFile.Write([]byte("x")); err == nil {
		t.Fatal("expected the replaced session's file handle to be closed")
	}
}

func TestStreamFileSendsBlocksWithFinalIsLast(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "src.bin")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var blocks []wire.FileBlock
	err := StreamFile("xfer-4", path, func(b wire.FileBlock) error {
		blocks = append(blocks, b)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamFile: %v", err)
	}
	if len(blocks) == 0 {
		t.Fatal("expected at least one block")
	}
	last := blocks[len(blocks)-1]
	if !last.IsLast {
		t.Fatalf("last block not marked IsLast: %+v", last)
	}
	for _, b := range blocks[:len(blocks)-1] {
		if b.IsLast {
			t.Fatalf("non-final block marked IsLast: %+v", b)
		}
	}

	var joined []byte
	for _, b := range blocks {
		joined = append(joined, b.Bytes...)
	}
	if string(joined) != "hello world" {
		t.Fatalf("reassembled content = %q", joined)
	}
}

func TestStreamFileEmptyFileSendsSingleFinalBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.bin")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var blocks []wire.FileBlock
	err := StreamFile("xfer-5", path, func(b wire.FileBlock) error {
		blocks = append(blocks, b)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamFile: %v", err)
	}
	if len(blocks) != 1 || !blocks[0].IsLast {
		t.Fatalf("expected exactly one final block for an empty file, got %+v", blocks)
	}
}

func TestManagerReapsIdleSession(t *testing.T) {
	dir := t.TempDir()
	m := NewManager()
	defer m.Close()

	if _, err := m.BeginReceive(wire.SendFileRequest{ID: "xfer-6", Filename: "out.bin", Path: dir, Size: 0}); err != nil {
		t.Fatalf("BeginReceive: %v", err)
	}

	m.mu.Lock()
	m.sessions["xfer-6"].lastActive = time.Now().Add(-2 * idleTimeout)
	m.mu.Unlock()

	m.reapExpired()

	m.mu.Lock()
	_, stillOpen := m.sessions["xfer-6"]
	m.mu.Unlock()
	if stillOpen {
		t.Fatal("expected an idle session to be reaped")
	}
}
