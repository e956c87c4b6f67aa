package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"viewsync/internal/flow"
	"viewsync/internal/logging"
	"viewsync/internal/views"
)

// Config tunes the scheduler and worker. Zero values fall back to defaults.
type Config struct {
	TickInterval     time.Duration
	MaxBatchSize     int
	MaxRetryAttempts int
	QueueCapacity    int
	TierCapacity     int
	ResultHistory    int
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		TickInterval:     100 * time.Millisecond,
		MaxBatchSize:     25,
		MaxRetryAttempts: 3,
		QueueCapacity:    500,
		TierCapacity:     200,
		ResultHistory:    1000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = d.MaxRetryAttempts
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.TierCapacity <= 0 {
		c.TierCapacity = d.TierCapacity
	}
	if c.ResultHistory <= 0 {
		c.ResultHistory = d.ResultHistory
	}
	return c
}

// Engine owns the event queues, the background worker, and the sync-result
// history. All public methods are safe for concurrent use.
type Engine struct {
	cfg   Config
	store *views.Store
	table *flow.Table
	queue *eventQueue

	mu        sync.RWMutex
	running   bool
	results   map[string]*SyncResult
	resultLog []string // insertion order, for bounded pruning
	stopCh    chan struct{}
	workerWg  sync.WaitGroup

	// Counters, atomic for lock-free metric reads.
	totalSubmitted int64
	totalProcessed int64
	totalFailed    int64
	totalRetried   int64
	totalCancelled int64
	totalSyncNs    int64
}

// New wires an engine over a store and flow table.
func New(store *views.Store, table *flow.Table, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:     cfg,
		store:   store,
		table:   table,
		queue:   newEventQueue(cfg.TierCapacity, cfg.QueueCapacity),
		results: make(map[string]*SyncResult),
		stopCh:  make(chan struct{}),
	}
}

// Store exposes the underlying view store for read-side collaborators.
func (e *Engine) Store() *views.Store { return e.store }

// Flows exposes the mapping table.
func (e *Engine) Flows() *flow.Table { return e.table }

// Start launches the background worker. Idempotent.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.workerWg.Add(1)
	go e.worker()
	logging.Engine("engine started (tick=%v batch=%d retries=%d)",
		e.cfg.TickInterval, e.cfg.MaxBatchSize, e.cfg.MaxRetryAttempts)
}

// Stop halts the worker and fails any still-pending events so nothing is
// lost silently. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.workerWg.Wait()

	for _, ev := range e.queue.drain() {
		ev.Status = StatusCancelled
		atomic.AddInt64(&e.totalCancelled, 1)
		e.recordResult(&SyncResult{
			EventID:     ev.ID,
			Success:     false,
			Errors:      []string{"engine stopped before dispatch"},
			CompletedAt: time.Now(),
		})
	}
	logging.Engine("engine stopped")
}

// Running reports whether the worker is active.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// CanAccept reports whether a submission at the given priority would fit
// right now. Advisory: a concurrent submitter can still win the slot.
func (e *Engine) CanAccept(p Priority) bool {
	if !e.Running() || !p.Valid() {
		return false
	}
	return e.queue.hasRoom(p)
}

// Submit validates an event against the flow table and enqueues it.
// Validation failures are hard errors; nothing invalid ever reaches a queue.
func (e *Engine) Submit(ev DataEvent) (string, error) {
	e.mu.RLock()
	running := e.running
	e.mu.RUnlock()
	if !running {
		return "", ErrEngineStopped
	}

	if !views.Known(ev.SourceView) {
		return "", fmt.Errorf("submit: unknown source view %q", ev.SourceView)
	}
	if !ev.Operation.Valid() {
		return "", fmt.Errorf("submit: unknown operation %q", ev.Operation)
	}
	if !ev.Priority.Valid() {
		return "", fmt.Errorf("submit: unknown priority %d", int(ev.Priority))
	}
	if len(ev.TargetViews) == 0 {
		ev.TargetViews = e.table.Routes(ev.SourceView, ev.DataType)
		if len(ev.TargetViews) == 0 {
			return "", fmt.Errorf("submit: %w: %s has no route for %s",
				flow.ErrUnroutable, ev.SourceView, ev.DataType)
		}
	}
	// A view may target itself (self-routing is vacuous); every other target
	// must be reachable through the table.
	var external []views.View
	for _, t := range ev.TargetViews {
		if t != ev.SourceView {
			external = append(external, t)
		}
	}
	if err := e.table.CheckRoute(ev.SourceView, external, ev.DataType); err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.Status = StatusPending

	if err := e.queue.enqueue(&ev); err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	atomic.AddInt64(&e.totalSubmitted, 1)
	logging.EngineDebug("queued event %s (%s %s %s->%v, priority=%s)",
		ev.ID, ev.Operation, ev.DataType, ev.SourceView, ev.TargetViews, ev.Priority)
	return ev.ID, nil
}

// TriggerSync enqueues a sync event carrying payload from source to targets.
// Empty targets fan out to every route for the data type.
func (e *Engine) TriggerSync(source views.View, targets []views.View, dt views.DataType, payload []views.Record, p Priority) (string, error) {
	return e.Submit(DataEvent{
		SourceView:  source,
		TargetViews: targets,
		Operation:   OpSync,
		DataType:    dt,
		Payload:     payload,
		Priority:    p,
	})
}

// UpdateData patches records in a view and propagates to its routes.
func (e *Engine) UpdateData(v views.View, dt views.DataType, payload []views.Record, p Priority) (string, error) {
	targets := append([]views.View{v}, e.table.Routes(v, dt)...)
	return e.Submit(DataEvent{
		SourceView:  v,
		TargetViews: targets,
		Operation:   OpUpdate,
		DataType:    dt,
		Payload:     payload,
		Priority:    p,
	})
}

// LoadViewSnapshot seeds or replaces a view's collection directly, bypassing
// the queue. Upstream pipeline stages call this at startup and whenever a
// stage completes.
func (e *Engine) LoadViewSnapshot(v views.View, dt views.DataType, records []views.Record) error {
	for i := range records {
		if records[i].SourceView == "" {
			records[i].SourceView = v
		}
		if records[i].UpdatedAt.IsZero() {
			records[i].UpdatedAt = time.Now()
		}
	}
	if err := e.store.Replace([]views.View{v}, dt, records); err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	logging.Store("loaded snapshot: %d %s into %s", len(records), dt, v)
	return nil
}

// GetViewState returns the query-API summary for one view.
func (e *Engine) GetViewState(v views.View) (views.Info, error) {
	info, ok := e.store.Info(v)
	if !ok {
		return views.Info{}, fmt.Errorf("view %q: %w", v, ErrNotFound)
	}
	return info, nil
}

// GetSyncStatus returns the result of a processed (or cancelled) event.
func (e *Engine) GetSyncStatus(eventID string) (SyncResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	res, ok := e.results[eventID]
	if !ok {
		return SyncResult{}, fmt.Errorf("event %q: %w", eventID, ErrNotFound)
	}
	return *res, nil
}

// Cancel removes a still-pending event from its queue. Once a worker has
// dequeued the event it runs to completion or failure.
func (e *Engine) Cancel(eventID string) error {
	ev, err := e.queue.cancel(eventID)
	if err != nil {
		// Distinguish "already ran" from "never existed".
		e.mu.RLock()
		_, known := e.results[eventID]
		e.mu.RUnlock()
		if known {
			return fmt.Errorf("cancel %s: %w", eventID, ErrNotCancellable)
		}
		return fmt.Errorf("cancel %s: %w", eventID, err)
	}
	atomic.AddInt64(&e.totalCancelled, 1)
	e.recordResult(&SyncResult{
		EventID:     ev.ID,
		Success:     false,
		Errors:      []string{"cancelled before dispatch"},
		CompletedAt: time.Now(),
	})
	logging.EngineDebug("cancelled event %s", eventID)
	return nil
}

// worker is the single background loop: every tick it drains tiers in strict
// priority order, critical first. A burst of critical events can starve
// lower tiers within a tick; that trade-off is deliberate.
func (e *Engine) worker() {
	defer e.workerWg.Done()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.processTick()
		}
	}
}

// ProcessTick drains one tick's worth of events synchronously. Exported so
// callers that need deterministic draining (tests, the CLI demo) can step
// the engine without waiting on the ticker.
func (e *Engine) ProcessTick() {
	e.processTick()
}

func (e *Engine) processTick() {
	for p := PriorityCritical; p >= PriorityBackground; p-- {
		batch := e.queue.dequeueUpTo(p, e.cfg.MaxBatchSize)
		for _, ev := range batch {
			e.processEvent(ev)
		}
	}
}

func (e *Engine) processEvent(ev *DataEvent) {
	ev.Status = StatusInProgress
	start := time.Now()

	result := &SyncResult{EventID: ev.ID}
	for _, target := range ev.TargetViews {
		if e.store.HasCollection(target, ev.DataType) {
			result.CacheHits++
		} else {
			result.CacheMisses++
		}
		if err := e.applyToTarget(ev, target); err != nil {
			result.FailedViews = append(result.FailedViews, target)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", target, err))
			continue
		}
		result.SyncedViews = append(result.SyncedViews, target)
	}
	result.SyncTime = time.Since(start)
	result.CompletedAt = time.Now()

	if len(result.FailedViews) == 0 {
		ev.Status = StatusCompleted
		result.Success = true
		atomic.AddInt64(&e.totalProcessed, 1)
		atomic.AddInt64(&e.totalSyncNs, result.SyncTime.Nanoseconds())
		e.recordResult(result)
		logging.EngineDebug("event %s completed in %v (%d views)",
			ev.ID, result.SyncTime, len(result.SyncedViews))
		return
	}

	// Transient failure: bounded retry at the same priority. The event stays
	// visible through GetSyncStatus the whole time.
	ev.Status = StatusFailed
	if ev.RetryCount < e.cfg.MaxRetryAttempts {
		ev.RetryCount++
		ev.Status = StatusPending
		atomic.AddInt64(&e.totalRetried, 1)
		if err := e.queue.enqueue(ev); err != nil {
			// Queue full during retry; terminal failure rather than a silent drop.
			ev.Status = StatusFailed
			result.Errors = append(result.Errors, fmt.Sprintf("retry enqueue: %v", err))
			atomic.AddInt64(&e.totalFailed, 1)
			e.recordResult(result)
			return
		}
		result.Errors = append(result.Errors,
			fmt.Sprintf("retrying (%d/%d)", ev.RetryCount, e.cfg.MaxRetryAttempts))
		e.recordResult(result)
		logging.EngineDebug("event %s failed, retry %d/%d", ev.ID, ev.RetryCount, e.cfg.MaxRetryAttempts)
		return
	}

	atomic.AddInt64(&e.totalFailed, 1)
	e.recordResult(result)
	logging.Get(logging.CategoryEngine).Warn("event %s terminally failed after %d attempts: %v",
		ev.ID, ev.RetryCount+1, result.Errors)
}

func (e *Engine) applyToTarget(ev *DataEvent, target views.View) error {
	payload := ev.Payload
	if target != ev.SourceView {
		payload = e.table.Transform(payload, ev.SourceView, target, ev.DataType)
	}

	switch ev.Operation {
	case OpCreate:
		return e.store.Insert([]views.View{target}, ev.DataType, payload)
	case OpUpdate:
		return e.store.Patch([]views.View{target}, ev.DataType, payload)
	case OpDelete:
		ids := make([]views.EntityID, 0, len(ev.Payload))
		for _, rec := range ev.Payload {
			ids = append(ids, rec.ID)
		}
		return e.store.Delete([]views.View{target}, ev.DataType, ids)
	case OpSync:
		return e.store.Replace([]views.View{target}, ev.DataType, payload)
	default:
		return fmt.Errorf("unknown operation %q", ev.Operation)
	}
}

// recordResult stores a result in the bounded history.
func (e *Engine) recordResult(res *SyncResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.results[res.EventID]; !exists {
		e.resultLog = append(e.resultLog, res.EventID)
	}
	e.results[res.EventID] = res
	for len(e.resultLog) > e.cfg.ResultHistory {
		oldest := e.resultLog[0]
		e.resultLog = e.resultLog[1:]
		delete(e.results, oldest)
	}
}
