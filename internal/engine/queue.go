package engine

import (
	"errors"
	"sync"
)

var (
	// ErrQueueFull is returned when a tier or the queue as a whole is at capacity.
	ErrQueueFull = errors.New("event queue is full")

	// ErrEngineStopped is returned when submitting to a stopped engine.
	ErrEngineStopped = errors.New("engine is stopped")

	// ErrNotFound is returned by lookups for unknown event IDs.
	ErrNotFound = errors.New("event not found")

	// ErrNotCancellable is returned when cancelling an event that already
	// left the pending state.
	ErrNotCancellable = errors.New("event is no longer pending")
)

// eventQueue holds pending events in per-tier FIFO order. A slice per tier
// (rather than a channel) lets Cancel remove an event before dequeue.
type eventQueue struct {
	mu       sync.Mutex
	tiers    [numPriorities][]*DataEvent
	maxTier  int
	maxTotal int
}

func newEventQueue(maxPerTier, maxTotal int) *eventQueue {
	return &eventQueue{maxTier: maxPerTier, maxTotal: maxTotal}
}

func (q *eventQueue) depthLocked() int {
	total := 0
	for i := range q.tiers {
		total += len(q.tiers[i])
	}
	return total
}

// depth returns the total number of pending events.
func (q *eventQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depthLocked()
}

// depthByTier returns pending counts per priority tier.
func (q *eventQueue) depthByTier() [numPriorities]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out [numPriorities]int
	for i := range q.tiers {
		out[i] = len(q.tiers[i])
	}
	return out
}

// hasRoom reports whether one more event would fit in the tier.
func (q *eventQueue) hasRoom(p Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.maxTotal > 0 && q.depthLocked() >= q.maxTotal {
		return false
	}
	return q.maxTier <= 0 || len(q.tiers[int(p)]) < q.maxTier
}

// enqueue appends to the event's tier, enforcing capacity.
func (q *eventQueue) enqueue(ev *DataEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxTotal > 0 && q.depthLocked() >= q.maxTotal {
		return ErrQueueFull
	}
	tier := int(ev.Priority)
	if q.maxTier > 0 && len(q.tiers[tier]) >= q.maxTier {
		return ErrQueueFull
	}
	q.tiers[tier] = append(q.tiers[tier], ev)
	return nil
}

// dequeueUpTo pops at most max pending events from one tier, FIFO.
func (q *eventQueue) dequeueUpTo(p Priority, max int) []*DataEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	tier := int(p)
	n := len(q.tiers[tier])
	if n == 0 || max <= 0 {
		return nil
	}
	if n > max {
		n = max
	}
	out := make([]*DataEvent, n)
	copy(out, q.tiers[tier][:n])
	q.tiers[tier] = q.tiers[tier][n:]
	return out
}

// cancel removes a pending event from its tier. Events already dequeued run
// to completion.
func (q *eventQueue) cancel(eventID string) (*DataEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for tier := range q.tiers {
		for i, ev := range q.tiers[tier] {
			if ev.ID != eventID {
				continue
			}
			q.tiers[tier] = append(q.tiers[tier][:i], q.tiers[tier][i+1:]...)
			ev.Status = StatusCancelled
			return ev, nil
		}
	}
	return nil, ErrNotFound
}

// drain empties every tier, returning the removed events.
func (q *eventQueue) drain() []*DataEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*DataEvent
	for tier := range q.tiers {
		out = append(out, q.tiers[tier]...)
		q.tiers[tier] = nil
	}
	return out
}
