package input

import (
	"sync"

	"github.com/mirrorx/endpoint/internal/wire"
)

// Queue accumulates InputEvents on the active side before they are flushed
// as one InputCommand, coalescing pointer motion: a new MouseMove replaces
// a still-pending one instead of appending, so a burst of pointer motion
// between two flushes costs one wire event instead of dozens.
type Queue struct {
	mu          sync.Mutex
	events      []wire.InputEvent
	pendingMove bool
}

// NewQueue builds an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends e to the queue, coalescing consecutive MouseMove events.
func (q *Queue) Push(e wire.InputEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.Kind == wire.InputEventMouseMove && q.pendingMove {
		q.events[len(q.events)-1] = e
		return
	}

	q.events = append(q.events, e)
	q.pendingMove = e.Kind == wire.InputEventMouseMove
}

// Flush returns the queued events and empties the queue, for sending as
// one InputCommand.
func (q *Queue) Flush() []wire.InputEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil
	}
	out := q.events
	q.events = nil
	q.pendingMove = false
	return out
}

// ClampToMonitor clamps a point's coordinates to [0, width) x [0, height),
// the rule dispatch applies to every mouse coordinate before injection.
func ClampToMonitor(x, y float32, width, height uint32) (float32, float32) {
	if x < 0 {
		x = 0
	} else if maxX := float32(width) - 1; width > 0 && x > maxX {
		x = maxX
	}
	if y < 0 {
		y = 0
	} else if maxY := float32(height) - 1; height > 0 && y > maxY {
		y = maxY
	}
	return x, y
}
