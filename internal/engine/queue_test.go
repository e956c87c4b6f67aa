package engine

import (
	"errors"
	"fmt"
	"testing"
)

func mkEvent(id string, p Priority) *DataEvent {
	return &DataEvent{ID: id, Priority: p, Status: StatusPending}
}

func TestQueueFIFOWithinTier(t *testing.T) {
	q := newEventQueue(0, 0)
	for i := 0; i < 5; i++ {
		if err := q.enqueue(mkEvent(fmt.Sprintf("ev-%d", i), PriorityMedium)); err != nil {
			t.Fatal(err)
		}
	}
	batch := q.dequeueUpTo(PriorityMedium, 5)
	for i, ev := range batch {
		if want := fmt.Sprintf("ev-%d", i); ev.ID != want {
			t.Errorf("position %d = %s, want %s", i, ev.ID, want)
		}
	}
}

func TestQueueTierIsolation(t *testing.T) {
	q := newEventQueue(0, 0)
	_ = q.enqueue(mkEvent("low", PriorityLow))
	_ = q.enqueue(mkEvent("crit", PriorityCritical))

	if batch := q.dequeueUpTo(PriorityCritical, 10); len(batch) != 1 || batch[0].ID != "crit" {
		t.Fatalf("critical tier = %v", batch)
	}
	if batch := q.dequeueUpTo(PriorityCritical, 10); batch != nil {
		t.Fatalf("critical tier should be empty, got %v", batch)
	}
	if batch := q.dequeueUpTo(PriorityLow, 10); len(batch) != 1 || batch[0].ID != "low" {
		t.Fatalf("low tier = %v", batch)
	}
}

func TestQueueCapacityLimits(t *testing.T) {
	q := newEventQueue(2, 3)
	if err := q.enqueue(mkEvent("a", PriorityHigh)); err != nil {
		t.Fatal(err)
	}
	if err := q.enqueue(mkEvent("b", PriorityHigh)); err != nil {
		t.Fatal(err)
	}
	if err := q.enqueue(mkEvent("c", PriorityHigh)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("tier overflow: got %v, want ErrQueueFull", err)
	}
	if err := q.enqueue(mkEvent("c", PriorityLow)); err != nil {
		t.Fatal(err)
	}
	if err := q.enqueue(mkEvent("d", PriorityMedium)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("total overflow: got %v, want ErrQueueFull", err)
	}
}

func TestQueueCancelRemovesPending(t *testing.T) {
	q := newEventQueue(0, 0)
	_ = q.enqueue(mkEvent("a", PriorityMedium))
	_ = q.enqueue(mkEvent("b", PriorityMedium))

	ev, err := q.cancel("a")
	if err != nil {
		t.Fatal(err)
	}
	if ev.Status != StatusCancelled {
		t.Errorf("status = %s, want %s", ev.Status, StatusCancelled)
	}
	if q.depth() != 1 {
		t.Errorf("depth = %d, want 1", q.depth())
	}
	if _, err := q.cancel("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second cancel: got %v, want ErrNotFound", err)
	}

	batch := q.dequeueUpTo(PriorityMedium, 10)
	if len(batch) != 1 || batch[0].ID != "b" {
		t.Errorf("remaining = %v", batch)
	}
}

func TestQueueDrain(t *testing.T) {
	q := newEventQueue(0, 0)
	_ = q.enqueue(mkEvent("a", PriorityLow))
	_ = q.enqueue(mkEvent("b", PriorityCritical))

	drained := q.drain()
	if len(drained) != 2 {
		t.Fatalf("drained %d events, want 2", len(drained))
	}
	if q.depth() != 0 {
		t.Errorf("depth after drain = %d", q.depth())
	}
}
