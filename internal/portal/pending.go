package portal

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorx/endpoint/internal/wire"
)

// requestTTL is how long a pending portal request waits for its reply
// before the cache expires it with a Timeout.
const requestTTL = 60 * time.Second

// outcome is what a pending request resolves to: a server reply or a
// TimedOut signal raised by the TTL timer or drainAll.
type outcome struct {
	reply    *wire.PortalServerMessage
	timedOut bool
}

type pendingEntry struct {
	ch    chan outcome
	timer *time.Timer
}

// pendingRequests is the concurrent map backing the outstanding portal
// request cache, keyed by the request's uuid rather than a 16-bit call id
// since the portal protocol addresses requests by UUID.
type pendingRequests struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*pendingEntry
	ttl     time.Duration
}

func newPendingRequests(ttl time.Duration) *pendingRequests {
	if ttl <= 0 {
		ttl = requestTTL
	}
	return &pendingRequests{entries: make(map[uuid.UUID]*pendingEntry), ttl: ttl}
}

// insert registers an outcome channel for id. If no reply arrives within
// the cache's ttl, the channel receives a timedOut outcome.
func (p *pendingRequests) insert(id uuid.UUID) chan outcome {
	ch := make(chan outcome, 1)

	p.mu.Lock()
	defer p.mu.Unlock()

	entry := &pendingEntry{ch: ch}
	entry.timer = time.AfterFunc(p.ttl, func() {
		if p.remove(id) {
			ch <- outcome{timedOut: true}
		}
	})
	p.entries[id] = entry
	return ch
}

// deliver sends a reply to the matching pending request and invalidates
// it. A reply with an unknown id is dropped.
func (p *pendingRequests) deliver(id uuid.UUID, reply *wire.PortalServerMessage) {
	p.mu.Lock()
	entry, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	entry.timer.Stop()
	entry.ch <- outcome{reply: reply}
}

// remove deletes id's entry and stops its timer, reporting whether an
// entry was actually present.
func (p *pendingRequests) remove(id uuid.UUID) bool {
	p.mu.Lock()
	entry, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()

	if ok {
		entry.timer.Stop()
	}
	return ok
}

// drainAll resolves every pending request with a timedOut outcome, used
// when the connection drops so no outstanding call hangs forever.
func (p *pendingRequests) drainAll() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[uuid.UUID]*pendingEntry)
	p.mu.Unlock()

	for _, entry := range entries {
		entry.timer.Stop()
		entry.ch <- outcome{timedOut: true}
	}
}
