package filetransfer

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mirrorx/endpoint/internal/corexerr"
	"github.com/mirrorx/endpoint/internal/wire"
)

// idleTimeout is how long a FileAppendSession may sit without a block
// before the reaper closes it.
const idleTimeout = 60 * time.Second

const reapInterval = 5 * time.Second

// appendSession tracks one in-flight file write, on whichever side is the
// receiver: the passive side answering SendFileRequest, or the active
// side accumulating blocks pushed back for a DownloadFileRequest.
type appendSession struct {
	file         *os.File
	expectedSize uint64
	bytesWritten uint64
	lastActive   time.Time
}

// Manager owns every FileAppendSession for one session, by transfer id. At
// most one session may be open per id; starting a new one for an id that
// already exists closes and replaces the old one.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*appendSession

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager starts a Manager with its idle-session reaper running.
func NewManager() *Manager {
	m := &Manager{
		sessions: make(map[string]*appendSession),
		stopCh:   make(chan struct{}),
	}
	go m.reapLoop()
	return m
}

// Close stops the reaper and closes every open session's file.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.file.Close()
		delete(m.sessions, id)
	}
}

// BeginReceive answers a SendFileRequest: it creates the target file
// truncated to zero length, reserves Size bytes when the platform
// supports preallocation, and registers an appendSession for req.ID,
// replacing any session already open under that id.
func (m *Manager) BeginReceive(req wire.SendFileRequest) (*wire.EndPointCallReply, error) {
	if err := m.begin(req.ID, filepath.Join(req.Path, req.Filename), req.Size); err != nil {
		return nil, err
	}
	return &wire.EndPointCallReply{Kind: wire.CallReplyOk}, nil
}

// BeginDownload registers the append session the caller of a
// DownloadFileRequest uses to accumulate the FileTransferBlock stream the
// remote side pushes back. Call this before sending the request.
func (m *Manager) BeginDownload(id, destPath string, expectedSize uint64) error {
	return m.begin(id, destPath, expectedSize)
}

func (m *Manager) begin(id, destPath string, expectedSize uint64) error {
	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return corexerr.Wrap(corexerr.KindFileIO, "create file transfer target", err)
	}
	if expectedSize > 0 {
		// Best-effort preallocation; a platform that can't reserve space
		// still ends up with a correctly-sized file once writes land.
		_ = f.Truncate(int64(expectedSize))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.sessions[id]; ok {
		old.file.Close()
	}
	m.sessions[id] = &appendSession{file: f, expectedSize: expectedSize, lastActive: time.Now()}
	return nil
}

// HandleBlock processes one FileTransferBlock or FileTransferError message
// for whichever side called it. A block whose id has no open session is
// dropped silently, matching the in-band protocol's "session absence
// silently deletes the session" rule.
func (m *Manager) HandleBlock(msg wire.EndPointMessage) {
	switch msg.Kind {
	case wire.MessageFileTransferBlock:
		m.handleBlock(msg.FileBlock)
	case wire.MessageFileTransferError:
		m.drop(msg.FileErrorID)
	}
}

func (m *Manager) handleBlock(b wire.FileBlock) {
	m.mu.Lock()
	s, ok := m.sessions[b.ID]
	m.mu.Unlock()
	if !ok {
		return
	}

	if _, err := s.file.WriteAt(b.Bytes, int64(b.Offset)); err != nil {
		log.Warn("file transfer write failed", "id", b.ID, "error", err)
		m.drop(b.ID)
		return
	}

	m.mu.Lock()
	s.bytesWritten += uint64(len(b.Bytes))
	s.lastActive = time.Now()
	done := b.IsLast || (s.expectedSize > 0 && s.bytesWritten >= s.expectedSize)
	m.mu.Unlock()

	if done {
		m.drop(b.ID)
	}
}

// drop closes and removes the session for id, if one is open.
func (m *Manager) drop(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if ok {
		s.file.Close()
	}
}

func (m *Manager) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reapExpired()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) reapExpired() {
	cutoff := time.Now().Add(-idleTimeout)

	var expired []string
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.lastActive.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		log.Warn("file transfer session timed out", "id", id)
		m.drop(id)
	}
}
