package session

import (
	"sync"
	"time"

	"github.com/mirrorx/endpoint/internal/corexerr"
	"github.com/mirrorx/endpoint/internal/wire"
)

// CallTTL is how long a pending call waits for its reply before the cache
// expires it.
const CallTTL = 60 * time.Second

// maxPendingCalls bounds the cache: at most 32 calls may be outstanding at
// once. A slow or stalling peer therefore cannot grow the map (each entry
// holds a channel and a TTL timer) beyond this; further Calls fail fast
// instead of queueing behind it.
const maxPendingCalls = 32

var (
	errCallIDCollision = corexerr.New(corexerr.KindInternal, "call id collided with an outstanding call, retry")
	errTooManyCalls    = corexerr.New(corexerr.KindInternal, "pending-call cache is full, retry once outstanding calls resolve")
)

// callOutcome is what a pending call resolves to: either a CallReply from
// the peer (Reply may itself be nil, meaning CallReply(id, None)) or a
// TimedOut signal raised by the TTL timer or drainAll.
type callOutcome struct {
	Reply    *wire.EndPointCallReply
	TimedOut bool
}

type pendingCall struct {
	outcomeCh chan callOutcome
	timer     *time.Timer
}

// pendingCalls is the concurrent map backing the outstanding-call cache:
// insert/deliver/invalidate only. It owns a single mutex; callers never
// hold it across a channel send.
type pendingCalls struct {
	mu      sync.Mutex
	entries map[uint16]*pendingCall
	ttl     time.Duration
}

// newPendingCalls builds a cache whose entries expire after ttl. A ttl of
// zero defaults to CallTTL; tests inject a short ttl to exercise expiry
// without a real 60s sleep.
func newPendingCalls(ttl time.Duration) *pendingCalls {
	if ttl <= 0 {
		ttl = CallTTL
	}
	return &pendingCalls{entries: make(map[uint16]*pendingCall), ttl: ttl}
}

// insert registers an outcome channel for callID. If no CallReply arrives
// within the cache's ttl, the channel receives a TimedOut outcome and
// onExpire is invoked. A callID that already has a live entry is a
// collision: the wrapping counter has lapped an outstanding call inside its
// TTL window, and insert reports it rather than silently orphaning either
// caller. A cache already holding maxPendingCalls entries rejects the
// insert outright.
func (p *pendingCalls) insert(callID uint16, onExpire func()) (chan callOutcome, error) {
	ch := make(chan callOutcome, 1)

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) >= maxPendingCalls {
		return nil, errTooManyCalls
	}
	if _, exists := p.entries[callID]; exists {
		return nil, errCallIDCollision
	}

	entry := &pendingCall{outcomeCh: ch}
	entry.timer = time.AfterFunc(p.ttl, func() {
		if p.remove(callID) {
			ch <- callOutcome{TimedOut: true}
			onExpire()
		}
	})
	p.entries[callID] = entry
	return ch, nil
}

// deliver sends a reply to the matching pending call and invalidates it. A
// reply with an unknown id is dropped.
func (p *pendingCalls) deliver(callID uint16, reply *wire.EndPointCallReply) {
	p.mu.Lock()
	entry, ok := p.entries[callID]
	if ok {
		delete(p.entries, callID)
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	entry.timer.Stop()
	entry.outcomeCh <- callOutcome{Reply: reply}
}

// invalidate removes callID's entry without delivering an outcome, used
// when the caller's context is cancelled and it no longer waits on the
// reply.
func (p *pendingCalls) invalidate(callID uint16) {
	p.remove(callID)
}

// remove deletes callID's entry and stops its timer, reporting whether an
// entry was actually present.
func (p *pendingCalls) remove(callID uint16) bool {
	p.mu.Lock()
	entry, ok := p.entries[callID]
	if ok {
		delete(p.entries, callID)
	}
	p.mu.Unlock()

	if ok {
		entry.timer.Stop()
	}
	return ok
}

// drainAll resolves every pending call with a TimedOut outcome, used when
// the session closes so no outstanding Call hangs forever.
func (p *pendingCalls) drainAll() []uint16 {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[uint16]*pendingCall)
	p.mu.Unlock()

	ids := make([]uint16, 0, len(entries))
	for id, entry := range entries {
		entry.timer.Stop()
		entry.outcomeCh <- callOutcome{TimedOut: true}
		ids = append(ids, id)
	}
	return ids
}
