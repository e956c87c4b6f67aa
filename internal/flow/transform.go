// Package flow declares the data-flow edges between views and the
// transformations applied when records cross an edge that requires one.
// Every transform is bound to its implementation at registry construction
// time, so a mapping edge naming an unregistered transform is a startup
// error rather than a runtime surprise.
package flow

import (
	"fmt"
	"time"

	"viewsync/internal/views"
)

// TransformID names a registered transformation.
type TransformID string

const (
	// TransformOrgEnrich reshapes discovered organizations for the research view.
	TransformOrgEnrich TransformID = "org_enrich"
	// TransformLeadQualify reshapes researched leads for qualification.
	TransformLeadQualify TransformID = "lead_qualify"
	// TransformScoreRollup folds per-signal scores into a single outreach score.
	TransformScoreRollup TransformID = "score_rollup"
	// TransformReportFlatten strips working fields before records reach reporting.
	TransformReportFlatten TransformID = "report_flatten"
)

// Func converts records from a source view's shape to a target view's shape.
// Implementations must be total: a missing source field substitutes a default
// instead of failing, keeping the processor's hot path error-free.
type Func func(records []views.Record, source, target views.View) []views.Record

// Registry binds transform IDs to implementations.
type Registry struct {
	funcs map[TransformID]Func
}

// NewRegistry returns a registry with the built-in transforms bound.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[TransformID]Func)}
	r.register(TransformOrgEnrich, orgEnrich)
	r.register(TransformLeadQualify, leadQualify)
	r.register(TransformScoreRollup, scoreRollup)
	r.register(TransformReportFlatten, reportFlatten)
	return r
}

func (r *Registry) register(id TransformID, fn Func) {
	r.funcs[id] = fn
}

// Has reports whether id is bound.
func (r *Registry) Has(id TransformID) bool {
	_, ok := r.funcs[id]
	return ok
}

// Apply runs the named transform. Unknown IDs pass records through unchanged
// so that views added incrementally degrade gracefully instead of erroring.
func (r *Registry) Apply(id TransformID, records []views.Record, source, target views.View) []views.Record {
	fn, ok := r.funcs[id]
	if !ok {
		return records
	}
	return fn(records, source, target)
}

// fieldString reads a string field with a default for absent values.
func fieldString(rec views.Record, key, def string) string {
	if rec.Fields == nil {
		return def
	}
	if v, ok := rec.Fields[key].(string); ok {
		return v
	}
	return def
}

func fieldFloat(rec views.Record, key string, def float64) float64 {
	if rec.Fields == nil {
		return def
	}
	switch v := rec.Fields[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func baseCopy(rec views.Record, target views.View) views.Record {
	out := rec.Clone()
	if out.Fields == nil {
		out.Fields = make(map[string]interface{})
	}
	out.SourceView = target
	out.UpdatedAt = time.Now()
	return out
}

// orgEnrich maps a discovered organization into the research shape: the
// display name is normalized and a research_status field is seeded.
func orgEnrich(records []views.Record, source, target views.View) []views.Record {
	out := make([]views.Record, 0, len(records))
	for _, rec := range records {
		enriched := baseCopy(rec, target)
		enriched.Fields["name"] = fieldString(rec, "name", string(rec.ID))
		enriched.Fields["domain"] = fieldString(rec, "domain", "unknown")
		enriched.Fields["research_status"] = "pending"
		out = append(out, enriched)
	}
	return out
}

// leadQualify carries the research score forward and stamps the
// qualification bucket derived from it.
func leadQualify(records []views.Record, source, target views.View) []views.Record {
	out := make([]views.Record, 0, len(records))
	for _, rec := range records {
		lead := baseCopy(rec, target)
		score := rec.Score
		if score == 0 {
			score = fieldFloat(rec, "fit_score", 0)
			lead.Score = score
		}
		switch {
		case score >= 0.75:
			lead.Fields["qualification"] = "hot"
		case score >= 0.4:
			lead.Fields["qualification"] = "warm"
		default:
			lead.Fields["qualification"] = "cold"
		}
		out = append(out, lead)
	}
	return out
}

// scoreRollup folds the per-signal score fields into one outreach priority.
func scoreRollup(records []views.Record, source, target views.View) []views.Record {
	out := make([]views.Record, 0, len(records))
	for _, rec := range records {
		rolled := baseCopy(rec, target)
		fit := fieldFloat(rec, "fit_score", rec.Score)
		intent := fieldFloat(rec, "intent_score", 0)
		rolled.Score = (fit + intent) / 2
		rolled.Fields["priority_score"] = rolled.Score
		out = append(out, rolled)
	}
	return out
}

// reportFlatten keeps only the reporting fields; working fields used by the
// middle stages are dropped.
func reportFlatten(records []views.Record, source, target views.View) []views.Record {
	kept := []string{"name", "domain", "qualification", "priority_score", "owner"}
	out := make([]views.Record, 0, len(records))
	for _, rec := range records {
		flat := views.Record{
			ID:         rec.ID,
			Fields:     make(map[string]interface{}, len(kept)),
			Score:      rec.Score,
			SourceView: target,
			UpdatedAt:  time.Now(),
		}
		for _, k := range kept {
			if rec.Fields != nil {
				if v, ok := rec.Fields[k]; ok {
					flat.Fields[k] = v
				}
			}
		}
		out = append(out, flat)
	}
	return out
}

// String implements fmt.Stringer for diagnostics.
func (id TransformID) String() string { return string(id) }

var _ fmt.Stringer = TransformID("")
