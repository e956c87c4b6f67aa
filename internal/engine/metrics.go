package engine

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Metrics is a point-in-time snapshot of engine throughput and queue state.
type Metrics struct {
	Running              bool
	QueueDepth           int
	QueueDepthByPriority [numPriorities]int
	TotalSubmitted       int64
	TotalProcessed       int64
	TotalFailed          int64
	TotalRetried         int64
	TotalCancelled       int64
	AvgSyncTime          time.Duration
}

// Metrics returns current counters. Counter reads are lock-free.
func (e *Engine) Metrics() Metrics {
	m := Metrics{
		Running:              e.Running(),
		QueueDepth:           e.queue.depth(),
		QueueDepthByPriority: e.queue.depthByTier(),
		TotalSubmitted:       atomic.LoadInt64(&e.totalSubmitted),
		TotalProcessed:       atomic.LoadInt64(&e.totalProcessed),
		TotalFailed:          atomic.LoadInt64(&e.totalFailed),
		TotalRetried:         atomic.LoadInt64(&e.totalRetried),
		TotalCancelled:       atomic.LoadInt64(&e.totalCancelled),
	}
	if m.TotalProcessed > 0 {
		m.AvgSyncTime = time.Duration(atomic.LoadInt64(&e.totalSyncNs) / m.TotalProcessed)
	}
	return m
}

// String returns a one-line operator summary.
func (m Metrics) String() string {
	return fmt.Sprintf("queue=%d submitted=%d processed=%d failed=%d retried=%d cancelled=%d avg_sync=%v",
		m.QueueDepth, m.TotalSubmitted, m.TotalProcessed, m.TotalFailed,
		m.TotalRetried, m.TotalCancelled, m.AvgSyncTime)
}
