package session

import (
	"net"
	"testing"

	"github.com/mirrorx/endpoint/internal/transport"
)

func newTestSession(t *testing.T, id string) *Session {
	t.Helper()
	a, _ := net.Pipe()
	tr := transport.New(a, nil, nil)
	return New(id, tr, Config{})
}

func TestManagerAddGetStopSession(t *testing.T) {
	m := NewManager()
	s := newTestSession(t, "sess-1")

	m.Add(s)
	if m.Count() != 1 {
		t.Fatalf("Count = %d, want 1", m.Count())
	}

	got, ok := m.Get("sess-1")
	if !ok || got != s {
		t.Fatalf("Get returned (%v, %v), want (%v, true)", got, ok, s)
	}

	if err := m.StopSession("sess-1"); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if m.Count() != 0 {
		t.Fatalf("Count after StopSession = %d, want 0", m.Count())
	}
	if _, ok := m.Get("sess-1"); ok {
		t.Fatal("expected session to be gone after StopSession")
	}
}

func TestManagerStopSessionUnknownIDErrors(t *testing.T) {
	m := NewManager()
	if err := m.StopSession("nope"); err == nil {
		t.Fatal("expected an error stopping an unregistered session")
	}
}

func TestManagerAddReplacesAndClosesPrevious(t *testing.T) {
	m := NewManager()
	first := newTestSession(t, "dup")
	second := newTestSession(t, "dup")

	m.Add(first)
	m.Add(second)

	if m.Count() != 1 {
		t.Fatalf("Count = %d, want 1", m.Count())
	}
	got, _ := m.Get("dup")
	if got != second {
		t.Fatal("expected the second session to win the slot")
	}
	select {
	case <-first.Done():
	default:
		t.Fatal("expected the replaced session to be closed")
	}
}

func TestManagerStopAllClearsEverySession(t *testing.T) {
	m := NewManager()
	m.Add(newTestSession(t, "a"))
	m.Add(newTestSession(t, "b"))
	m.Add(newTestSession(t, "c"))

	if m.Count() != 3 {
		t.Fatalf("Count = %d, want 3", m.Count())
	}

	m.StopAll()

	if m.Count() != 0 {
		t.Fatalf("Count after StopAll = %d, want 0", m.Count())
	}
}
