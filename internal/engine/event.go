// Package engine schedules data events across views and processes them on a
// single background worker. Events are queued per priority tier and drained
// in strict priority order each tick; all view mutation happens here, under
// the store lock, so callers never touch view state directly.
package engine

import (
	"fmt"
	"time"

	"viewsync/internal/views"
)

// Priority orders event processing. Higher values drain first.
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityCritical

	numPriorities = int(PriorityCritical) + 1
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityBackground:
		return "background"
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// Valid reports whether p is a defined tier.
func (p Priority) Valid() bool {
	return p >= PriorityBackground && p <= PriorityCritical
}

// Operation is the kind of mutation an event requests.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpSync   Operation = "sync"
)

// Valid reports whether op is a defined operation.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete, OpSync:
		return true
	}
	return false
}

// Status is an event's lifecycle state.
// pending -> in_progress -> {completed, failed}; failed -> pending on retry
// (bounded); pending -> cancelled only before dequeue.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// DataEvent is one queued unit of mutation or propagation.
type DataEvent struct {
	ID            string
	SourceView    views.View
	TargetViews   []views.View
	Operation     Operation
	DataType      views.DataType
	Payload       []views.Record
	Priority      Priority
	Timestamp     time.Time
	Status        Status
	RetryCount    int
	CorrelationID string
}

// SyncResult records the outcome of one processed event.
type SyncResult struct {
	EventID     string
	Success     bool
	SyncTime    time.Duration
	SyncedViews []views.View
	FailedViews []views.View
	Errors      []string
	CacheHits   int
	CacheMisses int
	CompletedAt time.Time
}
