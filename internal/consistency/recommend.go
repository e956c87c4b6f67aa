package consistency

import (
	"fmt"
	"sort"
	"time"

	"viewsync/internal/engine"
	"viewsync/internal/logging"
	"viewsync/internal/views"
)

// Recommendations groups advisory output by the horizon it acts on.
type Recommendations struct {
	ImmediateActions             []string
	OptimizationOpportunities    []string
	MonitoringImprovements       []string
	ArchitecturalRecommendations []string
}

// summaryRecommendations produces the short per-run advisory list attached to
// a validation result.
func summaryRecommendations(r *Result) []string {
	var out []string
	byCategory := make(map[Category]int)
	worst := SeverityInfo
	autoFixable := 0
	for _, iss := range r.Issues {
		byCategory[iss.Category]++
		if iss.Severity.rank() > worst.rank() {
			worst = iss.Severity
		}
		if iss.AutoFixable {
			autoFixable++
		}
	}
	if len(r.Issues) == 0 {
		return nil
	}
	if worst.rank() >= SeverityCritical.rank() {
		out = append(out, "address critical issues before accepting new data")
	}
	if n := byCategory[CategoryCrossTabSync] + byCategory[CategoryReferential]; n > 0 {
		out = append(out, fmt.Sprintf("resync diverged views (%d cross-view issues)", n))
	}
	if n := byCategory[CategoryTemporal]; n > 0 {
		out = append(out, fmt.Sprintf("refresh stale views (%d temporal issues)", n))
	}
	if autoFixable > 0 {
		out = append(out, fmt.Sprintf("%d issues are auto-fixable; run the automated fixes", autoFixable))
	}
	return out
}

// Generate builds the full recommendation report from the active issue set
// and the run history trend.
func (v *Validator) Generate() Recommendations {
	var rec Recommendations
	active := v.tracker.ActiveIssues()

	byCategory := make(map[Category]int)
	recurring := 0
	now := time.Now()
	for _, iss := range active {
		byCategory[iss.Category]++
		if now.Sub(iss.Timestamp) > v.cfg.FreshnessThreshold {
			recurring++
		}
		if iss.Severity.rank() >= SeverityCritical.rank() {
			rec.ImmediateActions = append(rec.ImmediateActions,
				fmt.Sprintf("[%s] %s: %s", iss.Severity, iss.Title, firstAction(iss)))
		}
	}

	if n := byCategory[CategoryCrossTabSync]; n > 0 {
		rec.ImmediateActions = append(rec.ImmediateActions,
			fmt.Sprintf("resync the %d diverged view pairs", n))
	}
	if n := byCategory[CategoryTemporal]; n > 0 {
		rec.OptimizationOpportunities = append(rec.OptimizationOpportunities,
			"shorten sync frequency on flows feeding the stale views")
	}
	if n := byCategory[CategoryPerformance]; n > 0 {
		rec.OptimizationOpportunities = append(rec.OptimizationOpportunities,
			"reduce validation load: stagger rule frequencies or batch submissions")
	}
	if recurring > 0 {
		rec.MonitoringImprovements = append(rec.MonitoringImprovements,
			fmt.Sprintf("%d issues have persisted beyond the freshness threshold; alert on issue age", recurring))
	}
	if len(active) > 0 {
		rec.MonitoringImprovements = append(rec.MonitoringImprovements,
			"export per-view health scores to the metrics pipeline")
	}
	if byCategory[CategoryReferential] > 0 && byCategory[CategoryCrossTabSync] > 0 {
		rec.ArchitecturalRecommendations = append(rec.ArchitecturalRecommendations,
			"repeated propagation gaps suggest the flow mappings miss an edge; review the mapping table")
	}
	if m := v.Metrics(); m.Trend == TrendDegrading {
		rec.ArchitecturalRecommendations = append(rec.ArchitecturalRecommendations,
			"health is trending down across runs; schedule a data-quality review")
	}
	return rec
}

func firstAction(iss Issue) string {
	if len(iss.RecommendedActions) > 0 {
		return iss.RecommendedActions[0]
	}
	return "investigate"
}

// FixType names an automated-fix archetype.
type FixType string

const (
	FixCrossViewResync     FixType = "cross_view_resync"
	FixTimestampCorrection FixType = "timestamp_correction"
	FixDataRevalidation    FixType = "data_revalidation"
	FixManualReview        FixType = "manual_review"
)

// FixEstimate predicts what an automated fix would take.
type FixEstimate struct {
	IssueID            string
	Type               FixType
	EstimatedDuration  time.Duration
	SuccessProbability float64
	Automated          bool
}

// EstimateFix maps an issue onto a fix archetype.
func EstimateFix(iss Issue) FixEstimate {
	est := FixEstimate{IssueID: iss.ID}
	if !iss.AutoFixable {
		est.Type = FixManualReview
		est.EstimatedDuration = 30 * time.Minute
		est.SuccessProbability = 0.5
		return est
	}
	est.Automated = true
	switch iss.Category {
	case CategoryCrossTabSync, CategoryReferential:
		est.Type = FixCrossViewResync
		est.EstimatedDuration = 2 * time.Minute
		est.SuccessProbability = 0.9
	case CategoryTemporal:
		est.Type = FixTimestampCorrection
		est.EstimatedDuration = time.Minute
		est.SuccessProbability = 0.95
	case CategoryDataIntegrity, CategoryBusinessLogic:
		est.Type = FixDataRevalidation
		est.EstimatedDuration = 5 * time.Minute
		est.SuccessProbability = 0.7
	default:
		est.Type = FixManualReview
		est.EstimatedDuration = 30 * time.Minute
		est.SuccessProbability = 0.5
		est.Automated = false
	}
	return est
}

// FixOutcome records what ApplyAutomatedFixes did for one issue.
type FixOutcome struct {
	IssueID  string
	Type     FixType
	Applied  bool
	EventIDs []string
	Err      error
}

// ApplyAutomatedFixes walks the active auto-fixable issues and applies the
// matching archetype: resyncs are submitted to the engine as critical sync
// events, timestamp corrections touch the view sync markers directly.
// Resolution itself happens on the next validation run, when the fixed
// issues stop appearing.
func (v *Validator) ApplyAutomatedFixes(eng *engine.Engine) []FixOutcome {
	var outcomes []FixOutcome
	for _, iss := range v.tracker.ActiveIssues() {
		est := EstimateFix(iss)
		if !est.Automated {
			continue
		}
		outcome := FixOutcome{IssueID: iss.ID, Type: est.Type}
		switch est.Type {
		case FixCrossViewResync, FixDataRevalidation:
			outcome.EventIDs, outcome.Err = v.resyncAffected(eng, iss)
			outcome.Applied = outcome.Err == nil && len(outcome.EventIDs) > 0
		case FixTimestampCorrection:
			for _, view := range iss.AffectedViews {
				v.store.SetLastSync(view, time.Now())
			}
			outcome.Applied = len(iss.AffectedViews) > 0
		}
		if outcome.Err != nil {
			logging.Validator("auto-fix %s for issue %s failed: %v", est.Type, iss.ID, outcome.Err)
		} else if outcome.Applied {
			logging.Validator("auto-fix %s applied for issue %s (%d events)", est.Type, iss.ID, len(outcome.EventIDs))
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// resyncAffected re-pushes source data along every flow edge between the
// issue's affected views.
func (v *Validator) resyncAffected(eng *engine.Engine, iss Issue) ([]string, error) {
	var eventIDs []string
	var firstErr error
	for _, m := range v.flows.Linked() {
		if !containsView(iss.AffectedViews, m.Source) || !containsView(iss.AffectedViews, m.Target) {
			continue
		}
		for _, dt := range m.DataTypes {
			coll, ok := v.store.Records(m.Source, dt)
			if !ok {
				continue
			}
			payload := make([]views.Record, 0, len(coll))
			for _, rec := range coll {
				payload = append(payload, rec)
			}
			sort.Slice(payload, func(i, j int) bool { return payload[i].ID < payload[j].ID })
			id, err := eng.TriggerSync(m.Source, []views.View{m.Target}, dt, payload, engine.PriorityCritical)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			eventIDs = append(eventIDs, id)
		}
	}
	return eventIDs, firstErr
}

func containsView(list []views.View, v views.View) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
