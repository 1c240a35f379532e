package session

import (
	"fmt"
	"sync"

	"github.com/VictoriaMetrics/metrics"
)

// EndPointID identifies the unordered (local, remote) device pair a
// session serves. Both peers compute the same string with their roles
// swapped, so it keys the session registry on either side and appears in
// logs. Registering a second session under the same pair replaces the
// first.
type EndPointID struct {
	LocalDeviceID  uint64
	RemoteDeviceID uint64
}

func (e EndPointID) String() string {
	lo, hi := e.LocalDeviceID, e.RemoteDeviceID
	if lo > hi {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("%d:%d", lo, hi)
}

// Manager is a concurrency-safe map of active sessions, grounded on the
// same map-of-sessions-with-RWMutex shape used elsewhere in this codebase
// for per-connection state.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	activeGauge *metrics.Gauge
}

func NewManager() *Manager {
	m := &Manager{sessions: make(map[string]*Session)}
	m.activeGauge = metrics.GetOrCreateGauge("mirrorx_sessions_active", func() float64 {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return float64(len(m.sessions))
	})
	return m
}

// Add registers a session under its id, replacing and stopping any
// previous session with the same id.
func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	old, existed := m.sessions[s.id]
	m.sessions[s.id] = s
	m.mu.Unlock()

	if existed && old != s {
		_ = old.Close()
	}
}

// Get returns the session registered under id, if any.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// StopSession closes and removes the session registered under id. Reports
// an error if no such session exists.
func (m *Manager) StopSession(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("no session registered for id %q", id)
	}
	return s.Close()
}

// Release removes s from the registry only if it is still the session
// registered under its id, then closes it. A session that was already
// replaced by a newer one for the same endpoint pair leaves the newer
// registration untouched.
func (m *Manager) Release(s *Session) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.id]; ok && cur == s {
		delete(m.sessions, s.id)
	}
	m.mu.Unlock()

	_ = s.Close()
}

// StopAll closes and removes every registered session.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
}

// Count returns the number of currently registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
