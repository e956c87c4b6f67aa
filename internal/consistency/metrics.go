package consistency

import (
	"fmt"

	"viewsync/internal/views"
)

// Trend labels the health direction over the retained run history.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// Metrics is the aggregate consistency picture derived from the most recent
// validation run and the store snapshot it ran against.
type Metrics struct {
	OverallScore      float64
	PerViewScore      map[views.View]float64
	CrossViewSyncRate map[string]float64
	DataCompleteness  float64
	DataAccuracy      float64
	DataFreshness     float64
	Trend             Trend
	ActiveIssues      int
	ResolvedIssues    int
}

// Metrics computes the aggregate view. Before the first validation run all
// scores default to 1.0 with a stable trend.
func (v *Validator) Metrics() Metrics {
	m := Metrics{
		OverallScore:      1.0,
		PerViewScore:      make(map[views.View]float64, len(views.AllViews)),
		CrossViewSyncRate: make(map[string]float64),
		DataCompleteness:  1.0,
		DataAccuracy:      1.0,
		DataFreshness:     1.0,
		Trend:             TrendStable,
	}
	for _, view := range views.AllViews {
		m.PerViewScore[view] = 1.0
	}
	m.ActiveIssues, m.ResolvedIssues = v.tracker.Counts()

	last := v.LastResult()
	if last == nil {
		return m
	}
	m.OverallScore = last.HealthScore

	// Per-view score: 1 minus the weighted issues touching that view.
	for _, iss := range last.Issues {
		for _, view := range iss.AffectedViews {
			if view == views.ViewGlobal {
				continue
			}
			score := m.PerViewScore[view] - iss.Severity.weight()
			if score < 0 {
				score = 0
			}
			m.PerViewScore[view] = score
		}
	}

	snap := v.store.Snapshot()

	// Cross-view sync rate: the surviving agreement per flow edge.
	for _, mp := range v.flows.Linked() {
		for _, dt := range mp.DataTypes {
			src := snap.ActiveIn(mp.Source, dt)
			dst := snap.ActiveIn(mp.Target, dt)
			key := fmt.Sprintf("%s->%s:%s", mp.Source, mp.Target, dt)
			if len(src) == 0 && len(dst) == 0 {
				m.CrossViewSyncRate[key] = 1.0
				continue
			}
			union, shared := 0, 0
			for id := range src {
				union++
				if dst.Contains(id) {
					shared++
				}
			}
			for id := range dst {
				if !src.Contains(id) {
					union++
				}
			}
			m.CrossViewSyncRate[key] = float64(shared) / float64(union)
		}
	}

	// Completeness: declared (view, data type) slots that actually hold data.
	declaredSlots, filledSlots := 0, 0
	for view, types := range v.flows.DeclaredTypes() {
		vs, ok := snap.Views[view]
		for _, dt := range types {
			declaredSlots++
			if ok && len(vs.Cached[dt]) > 0 {
				filledSlots++
			}
		}
	}
	if declaredSlots > 0 {
		m.DataCompleteness = float64(filledSlots) / float64(declaredSlots)
	}

	// Accuracy: pass ratio of the data-integrity portion of the last run.
	integrityIssues := 0
	for _, iss := range last.Issues {
		if iss.Category == CategoryDataIntegrity || iss.Category == CategoryBusinessLogic {
			integrityIssues += len(iss.AffectedEntities)
			if len(iss.AffectedEntities) == 0 {
				integrityIssues++
			}
		}
	}
	if last.TotalChecks > 0 {
		acc := 1.0 - float64(integrityIssues)/float64(last.TotalChecks)
		if acc < 0 {
			acc = 0
		}
		m.DataAccuracy = acc
	}

	// Freshness: fraction of populated views synced within the threshold.
	populated, fresh := 0, 0
	for _, view := range views.AllViews {
		vs, ok := snap.Views[view]
		if !ok || (vs.LastSyncTime.IsZero() && len(vs.Cached) == 0) {
			continue
		}
		populated++
		if snap.TakenAt.Sub(vs.LastSyncTime) <= v.cfg.FreshnessThreshold {
			fresh++
		}
	}
	if populated > 0 {
		m.DataFreshness = float64(fresh) / float64(populated)
	}

	m.Trend = v.trend()
	return m
}

// trend compares the average health of the older and newer halves of the
// retained history. Deltas under the configured threshold read as stable.
func (v *Validator) trend() Trend {
	v.mu.Lock()
	history := make([]*Result, len(v.history))
	copy(history, v.history)
	v.mu.Unlock()

	if len(history) < 2 {
		return TrendStable
	}
	mid := len(history) / 2
	older, newer := 0.0, 0.0
	for _, r := range history[:mid] {
		older += r.HealthScore
	}
	for _, r := range history[mid:] {
		newer += r.HealthScore
	}
	older /= float64(mid)
	newer /= float64(len(history) - mid)

	switch {
	case newer-older > v.cfg.TrendDelta:
		return TrendImproving
	case older-newer > v.cfg.TrendDelta:
		return TrendDegrading
	default:
		return TrendStable
	}
}
