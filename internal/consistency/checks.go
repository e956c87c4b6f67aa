package consistency

import (
	"fmt"
	"sort"
	"time"

	"viewsync/internal/views"
)

// builtinRules binds the standard rule set. IDs are stable; issue fingerprints
// and operator config reference them.
func builtinRules(cfg Config) []*Rule {
	return []*Rule{
		{
			ID:               "required_fields",
			Name:             "Records carry an ID and a field map",
			Category:         CategoryDataIntegrity,
			Severity:         SeverityError,
			AppliesTo:        []views.View{views.ViewGlobal},
			Enabled:          true,
			MaxExecutionTime: cfg.RuleTimeout,
			check:            checkRequiredFields,
		},
		{
			ID:               "score_range",
			Name:             "Scores stay within [0,1]",
			Category:         CategoryDataIntegrity,
			Severity:         SeverityWarning,
			AppliesTo:        []views.View{views.ViewGlobal},
			Enabled:          true,
			MaxExecutionTime: cfg.RuleTimeout,
			check:            checkScoreRange,
		},
		{
			ID:               "referential_propagation",
			Name:             "Entities propagate along every flow edge",
			Category:         CategoryReferential,
			Severity:         SeverityError,
			AppliesTo:        []views.View{views.ViewGlobal},
			Enabled:          true,
			DependsOn:        []string{"required_fields"},
			MaxExecutionTime: cfg.RuleTimeout,
			check:            checkReferentialPropagation,
		},
		{
			ID:               "view_freshness",
			Name:             "Views sync within the freshness threshold",
			Category:         CategoryTemporal,
			Severity:         SeverityWarning,
			AppliesTo:        views.AllViews,
			Enabled:          true,
			MaxExecutionTime: cfg.RuleTimeout,
			check:            checkViewFreshness,
		},
		{
			ID:               "sync_drift",
			Name:             "Linked views sync within the drift tolerance",
			Category:         CategoryTemporal,
			Severity:         SeverityInfo,
			AppliesTo:        []views.View{views.ViewGlobal},
			Enabled:          true,
			MaxExecutionTime: cfg.RuleTimeout,
			check:            checkSyncDrift,
		},
		{
			ID:               "score_agreement",
			Name:             "Shared entities score alike across linked views",
			Category:         CategoryBusinessLogic,
			Severity:         SeverityWarning,
			AppliesTo:        []views.View{views.ViewGlobal},
			Enabled:          true,
			MaxExecutionTime: cfg.RuleTimeout,
			check:            checkScoreAgreement,
		},
		{
			ID:               "active_set_divergence",
			Name:             "Active sets agree across linked views",
			Category:         CategoryCrossTabSync,
			Severity:         SeverityError,
			AppliesTo:        []views.View{views.ViewGlobal},
			Enabled:          true,
			MaxExecutionTime: cfg.RuleTimeout,
			check:            checkActiveSetDivergence,
		},
		{
			// Runs last by registration order so PriorIssues covers the run.
			ID:               "validation_load",
			Name:             "Issue volume stays under the alerting thresholds",
			Category:         CategoryPerformance,
			Severity:         SeverityInfo,
			AppliesTo:        []views.View{views.ViewGlobal},
			Enabled:          true,
			MaxExecutionTime: cfg.RuleTimeout,
			check:            checkValidationLoad,
		},
	}
}

func sortedEntities(set map[views.EntityID]struct{}) []views.EntityID {
	out := make([]views.EntityID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func checkRequiredFields(snap views.Snapshot, env CheckEnv) Outcome {
	var out Outcome
	for _, v := range views.AllViews {
		vs, ok := snap.Views[v]
		if !ok {
			continue
		}
		for dt, coll := range vs.Cached {
			bad := make(map[views.EntityID]struct{})
			for key, rec := range coll {
				out.Total++
				if rec.ID == "" || rec.ID != key || rec.Fields == nil {
					bad[key] = struct{}{}
					continue
				}
				out.Passed++
			}
			if len(bad) > 0 {
				out.Issues = append(out.Issues, Issue{
					Title:            fmt.Sprintf("malformed %s records in %s", dt, v),
					Description:      fmt.Sprintf("%d records are missing an ID or a field map", len(bad)),
					AffectedViews:    []views.View{v},
					AffectedEntities: sortedEntities(bad),
					Expected:         "every record keyed by its own non-empty ID with a field map",
					Actual:           fmt.Sprintf("%d of %d records malformed", len(bad), len(coll)),
					RecommendedActions: []string{
						"re-validate the source data for the view",
						"replay the originating sync with corrected records",
					},
				})
			}
		}
	}
	if out.Total == 0 {
		out.Total, out.Passed = 1, 1
	}
	return out
}

func checkScoreRange(snap views.Snapshot, env CheckEnv) Outcome {
	var out Outcome
	for _, v := range views.AllViews {
		vs, ok := snap.Views[v]
		if !ok {
			continue
		}
		for dt, coll := range vs.Cached {
			bad := make(map[views.EntityID]struct{})
			for key, rec := range coll {
				out.Total++
				if rec.Score < 0 || rec.Score > 1 {
					bad[key] = struct{}{}
					continue
				}
				out.Passed++
			}
			if len(bad) > 0 {
				out.Issues = append(out.Issues, Issue{
					Title:            fmt.Sprintf("out-of-range %s scores in %s", dt, v),
					Description:      fmt.Sprintf("%d records carry scores outside [0,1]", len(bad)),
					AffectedViews:    []views.View{v},
					AffectedEntities: sortedEntities(bad),
					Expected:         "score in [0,1]",
					Actual:           fmt.Sprintf("%d records out of range", len(bad)),
					AutoFixable:      true,
					RecommendedActions: []string{
						"re-run scoring for the affected entities",
					},
				})
			}
		}
	}
	if out.Total == 0 {
		out.Total, out.Passed = 1, 1
	}
	return out
}

func checkReferentialPropagation(snap views.Snapshot, env CheckEnv) Outcome {
	var out Outcome
	now := snap.TakenAt
	for _, m := range env.Flows.Linked() {
		for _, dt := range m.DataTypes {
			src, ok := snap.Views[m.Source]
			if !ok {
				continue
			}
			coll := src.Cached[dt]
			target := snap.ActiveIn(m.Target, dt)
			missing := make(map[views.EntityID]struct{})
			for id := range snap.ActiveIn(m.Source, dt) {
				out.Total++
				rec, have := coll[id]
				// Fresh entities may simply not have propagated yet.
				if have && now.Sub(rec.UpdatedAt) <= m.ExpectedLatency+env.Cfg.PropagationGrace {
					out.Passed++
					continue
				}
				if target.Contains(id) {
					out.Passed++
					continue
				}
				missing[id] = struct{}{}
			}
			if len(missing) > 0 {
				out.Issues = append(out.Issues, Issue{
					Title:            fmt.Sprintf("%s entities missing from %s", dt, m.Target),
					Description:      fmt.Sprintf("%d %s entities active in %s never arrived in %s", len(missing), dt, m.Source, m.Target),
					AffectedViews:    []views.View{m.Source, m.Target},
					AffectedEntities: sortedEntities(missing),
					Expected:         fmt.Sprintf("entities active in %s present in %s within %v", m.Source, m.Target, m.ExpectedLatency+env.Cfg.PropagationGrace),
					Actual:           fmt.Sprintf("%d entities absent", len(missing)),
					AutoFixable:      true,
					RecommendedActions: []string{
						fmt.Sprintf("resync %s from %s to %s", dt, m.Source, m.Target),
					},
				})
			}
		}
	}
	if out.Total == 0 {
		out.Total, out.Passed = 1, 1
	}
	return out
}

func checkViewFreshness(snap views.Snapshot, env CheckEnv) Outcome {
	var out Outcome
	now := snap.TakenAt
	for _, v := range views.AllViews {
		vs, ok := snap.Views[v]
		if !ok {
			continue
		}
		// A view that never synced and holds nothing is idle, not stale.
		if vs.LastSyncTime.IsZero() && len(vs.Cached) == 0 {
			continue
		}
		out.Total++
		if age := now.Sub(vs.LastSyncTime); age > env.Cfg.FreshnessThreshold {
			out.Issues = append(out.Issues, Issue{
				Title:         fmt.Sprintf("view %s is stale", v),
				Description:   fmt.Sprintf("last synced %v ago, threshold is %v", age.Round(time.Millisecond), env.Cfg.FreshnessThreshold),
				AffectedViews: []views.View{v},
				Expected:      fmt.Sprintf("synced within %v", env.Cfg.FreshnessThreshold),
				Actual:        fmt.Sprintf("last sync %v ago", age.Round(time.Millisecond)),
				AutoFixable:   true,
				RecommendedActions: []string{
					fmt.Sprintf("trigger a sync into %s", v),
				},
			})
			continue
		}
		out.Passed++
	}
	if out.Total == 0 {
		out.Total, out.Passed = 1, 1
	}
	return out
}

func checkSyncDrift(snap views.Snapshot, env CheckEnv) Outcome {
	out := Outcome{Total: 1}
	var earliest, latest time.Time
	var drifting []views.View
	for _, m := range env.Flows.Linked() {
		for _, v := range []views.View{m.Source, m.Target} {
			vs, ok := snap.Views[v]
			if !ok || vs.LastSyncTime.IsZero() {
				continue
			}
			if earliest.IsZero() || vs.LastSyncTime.Before(earliest) {
				earliest = vs.LastSyncTime
			}
			if vs.LastSyncTime.After(latest) {
				latest = vs.LastSyncTime
			}
			drifting = append(drifting, v)
		}
	}
	if earliest.IsZero() || latest.Sub(earliest) <= env.Cfg.DriftTolerance {
		out.Passed = 1
		return out
	}
	sort.Slice(drifting, func(i, j int) bool { return drifting[i] < drifting[j] })
	out.Issues = append(out.Issues, Issue{
		Title:         "linked views have drifted apart",
		Description:   fmt.Sprintf("sync timestamps span %v across linked views, tolerance is %v", latest.Sub(earliest).Round(time.Millisecond), env.Cfg.DriftTolerance),
		AffectedViews: dedupeViews(drifting),
		Expected:      fmt.Sprintf("sync timestamps within %v of each other", env.Cfg.DriftTolerance),
		Actual:        fmt.Sprintf("spread of %v", latest.Sub(earliest).Round(time.Millisecond)),
		RecommendedActions: []string{
			"trigger a full pipeline sync to realign the views",
		},
	})
	return out
}

func dedupeViews(in []views.View) []views.View {
	seen := make(map[views.View]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func checkScoreAgreement(snap views.Snapshot, env CheckEnv) Outcome {
	var out Outcome
	for _, m := range env.Flows.Linked() {
		for _, dt := range m.DataTypes {
			if dt != views.DataLeads && dt != views.DataScores {
				continue
			}
			src, okS := snap.Views[m.Source]
			dst, okT := snap.Views[m.Target]
			if !okS || !okT {
				continue
			}
			srcColl, dstColl := src.Cached[dt], dst.Cached[dt]
			diverged := make(map[views.EntityID]struct{})
			for id, srcRec := range srcColl {
				dstRec, ok := dstColl[id]
				if !ok {
					continue
				}
				out.Total++
				diff := srcRec.Score - dstRec.Score
				if diff < 0 {
					diff = -diff
				}
				if diff > env.Cfg.ScoreTolerance {
					diverged[id] = struct{}{}
					continue
				}
				out.Passed++
			}
			if len(diverged) > 0 {
				out.Issues = append(out.Issues, Issue{
					Title:            fmt.Sprintf("%s scores disagree between %s and %s", dt, m.Source, m.Target),
					Description:      fmt.Sprintf("%d entities score differently by more than %.2f", len(diverged), env.Cfg.ScoreTolerance),
					AffectedViews:    []views.View{m.Source, m.Target},
					AffectedEntities: sortedEntities(diverged),
					Expected:         fmt.Sprintf("score difference at most %.2f", env.Cfg.ScoreTolerance),
					Actual:           fmt.Sprintf("%d entities diverged", len(diverged)),
					AutoFixable:      true,
					RecommendedActions: []string{
						fmt.Sprintf("resync %s from %s to %s", dt, m.Source, m.Target),
						"re-run scoring for the affected entities",
					},
				})
			}
		}
	}
	if out.Total == 0 {
		out.Total, out.Passed = 1, 1
	}
	return out
}

func checkActiveSetDivergence(snap views.Snapshot, env CheckEnv) Outcome {
	var out Outcome
	now := snap.TakenAt
	for _, m := range env.Flows.Linked() {
		for _, dt := range m.DataTypes {
			srcIDs := snap.ActiveIn(m.Source, dt)
			dstIDs := snap.ActiveIn(m.Target, dt)
			if len(srcIDs) == 0 && len(dstIDs) == 0 {
				continue
			}
			out.Total++
			var srcColl views.Collection
			if vs, ok := snap.Views[m.Source]; ok {
				srcColl = vs.Cached[dt]
			}
			union := make(map[views.EntityID]struct{}, len(srcIDs)+len(dstIDs))
			diff := make(map[views.EntityID]struct{})
			for id := range srcIDs {
				union[id] = struct{}{}
				if dstIDs.Contains(id) {
					continue
				}
				// Fresh source entities are still inside the propagation window.
				if rec, ok := srcColl[id]; ok && now.Sub(rec.UpdatedAt) <= m.ExpectedLatency+env.Cfg.PropagationGrace {
					continue
				}
				diff[id] = struct{}{}
			}
			for id := range dstIDs {
				union[id] = struct{}{}
				if !srcIDs.Contains(id) {
					diff[id] = struct{}{}
				}
			}
			ratio := float64(len(diff)) / float64(len(union))
			if ratio <= env.Cfg.SyncDivergenceRatio {
				out.Passed++
				continue
			}
			out.Issues = append(out.Issues, Issue{
				Title:            fmt.Sprintf("%s active sets diverged between %s and %s", dt, m.Source, m.Target),
				Description:      fmt.Sprintf("%.0f%% of entities are active in only one of the two views", ratio*100),
				AffectedViews:    []views.View{m.Source, m.Target},
				AffectedEntities: sortedEntities(diff),
				Expected:         fmt.Sprintf("divergence ratio at most %.2f", env.Cfg.SyncDivergenceRatio),
				Actual:           fmt.Sprintf("ratio %.2f (%d of %d entities)", ratio, len(diff), len(union)),
				AutoFixable:      true,
				RecommendedActions: []string{
					fmt.Sprintf("resync %s from %s to %s", dt, m.Source, m.Target),
				},
			})
		}
	}
	if out.Total == 0 {
		out.Total, out.Passed = 1, 1
	}
	return out
}

func checkValidationLoad(snap views.Snapshot, env CheckEnv) Outcome {
	out := Outcome{Total: 1}
	n := env.PriorIssues
	switch {
	case n >= env.Cfg.IssueVolumeError:
		out.Issues = append(out.Issues, Issue{
			Severity:      SeverityError,
			Title:         "validation issue volume is critical",
			Description:   fmt.Sprintf("%d issues this run, error threshold is %d", n, env.Cfg.IssueVolumeError),
			AffectedViews: []views.View{views.ViewGlobal},
			Expected:      fmt.Sprintf("fewer than %d issues per run", env.Cfg.IssueVolumeWarn),
			Actual:        fmt.Sprintf("%d issues", n),
			RecommendedActions: []string{
				"review the highest-priority issues before adding load",
				"consider pausing non-critical data flows",
			},
		})
	case n >= env.Cfg.IssueVolumeWarn:
		out.Issues = append(out.Issues, Issue{
			Severity:      SeverityWarning,
			Title:         "validation issue volume is elevated",
			Description:   fmt.Sprintf("%d issues this run, warning threshold is %d", n, env.Cfg.IssueVolumeWarn),
			AffectedViews: []views.View{views.ViewGlobal},
			Expected:      fmt.Sprintf("fewer than %d issues per run", env.Cfg.IssueVolumeWarn),
			Actual:        fmt.Sprintf("%d issues", n),
			RecommendedActions: []string{
				"review recurring issues for a common root cause",
			},
		})
	default:
		out.Passed = 1
	}
	return out
}
