package portal

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorx/endpoint/internal/wire"
)

func TestPendingRequestsDeliverResolvesInsertedChannel(t *testing.T) {
	p := newPendingRequests(time.Second)
	id := uuid.New()

	ch := p.insert(id)
	reply := &wire.PortalServerMessage{ID: id, Kind: wire.PortalServerIsOnlineReply, IsOnline: true}
	p.deliver(id, reply)

	select {
	case out := <-ch:
		if out.timedOut {
			t.Fatal("expected a delivered reply, not a timeout")
		}
		if !out.reply.IsOnline {
			t.Fatal("reply did not round-trip")
		}
	default:
		t.Fatal("expected deliver to resolve the channel synchronously")
	}
}

func TestPendingRequestsDeliverForUnknownIDIsDropped(t *testing.T) {
	p := newPendingRequests(time.Second)
	// Should not panic: no entry exists for this id.
	p.deliver(uuid.New(), &wire.PortalServerMessage{})
}

func TestPendingRequestsExpiresAfterTTL(t *testing.T) {
	p := newPendingRequests(20 * time.Millisecond)
	id := uuid.New()
	ch := p.insert(id)

	select {
	case out := <-ch:
		if !out.timedOut {
			t.Fatal("expected a timeout outcome")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the TTL timer to fire")
	}
}

func TestPendingRequestsDrainAllResolvesEveryEntry(t *testing.T) {
	p := newPendingRequests(time.Minute)
	var chans []chan outcome
	for i := 0; i < 3; i++ {
		chans = append(chans, p.insert(uuid.New()))
	}

	p.drainAll()

	for _, ch := range chans {
		select {
		case out := <-ch:
			if !out.timedOut {
				t.Fatal("expected drainAll to report a timeout")
			}
		default:
			t.Fatal("expected drainAll to resolve every pending entry")
		}
	}
}

func TestPendingRequestsRemoveStopsTimer(t *testing.T) {
	p := newPendingRequests(20 * time.Millisecond)
	id := uuid.New()
	ch := p.insert(id)

	if !p.remove(id) {
		t.Fatal("expected remove to report an entry was present")
	}

	select {
	case <-ch:
		t.Fatal("did not expect the channel to resolve after remove")
	case <-time.After(50 * time.Millisecond):
	}
}
