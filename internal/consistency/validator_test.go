package consistency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewsync/internal/flow"
	"viewsync/internal/views"
)

func testConfig() Config {
	return Config{
		FreshnessThreshold:  5 * time.Minute,
		PropagationGrace:    2 * time.Second,
		DriftTolerance:      time.Minute,
		ScoreTolerance:      0.05,
		SyncDivergenceRatio: 0.1,
		IssueVolumeWarn:     10,
		IssueVolumeError:    25,
		RuleTimeout:         time.Second,
		RetentionWindow:     time.Hour,
		TrendWindow:         6,
		TrendDelta:          0.02,
	}
}

func newTestValidator(t *testing.T) (*Validator, *views.Store) {
	t.Helper()
	table, err := flow.NewTable(flow.DefaultMappings(), nil)
	require.NoError(t, err)
	store := views.NewStore(table.DeclaredTypes())
	v, err := New(store, table, testConfig())
	require.NoError(t, err)
	return v, store
}

func org(id string, updatedAt time.Time) views.Record {
	return views.Record{
		ID:        views.EntityID(id),
		Fields:    map[string]interface{}{"name": id},
		Score:     0.5,
		UpdatedAt: updatedAt,
	}
}

func TestCleanStorePasses(t *testing.T) {
	v, _ := newTestValidator(t)
	res, err := v.RunValidation()
	require.NoError(t, err)

	assert.Equal(t, StatusPassed, res.OverallStatus)
	assert.Empty(t, res.Issues)
	assert.Equal(t, 1.0, res.HealthScore)
	assert.Equal(t, res.TotalChecks, res.PassedChecks)
	assert.NotEmpty(t, res.RulesExecuted)
}

func TestStaleViewRaisesExactlyOneTemporalIssue(t *testing.T) {
	v, store := newTestValidator(t)
	require.NoError(t, store.Replace([]views.View{views.ViewDiscover}, views.DataOrganizations,
		[]views.Record{org("org-1", time.Now())}))
	store.SetLastSync(views.ViewDiscover, time.Now().Add(-10*time.Minute))

	res, err := v.RunValidation()
	require.NoError(t, err)

	var temporal []Issue
	for _, iss := range res.Issues {
		if iss.Category == CategoryTemporal {
			temporal = append(temporal, iss)
		}
	}
	require.Len(t, temporal, 1)
	assert.Equal(t, SeverityWarning, temporal[0].Severity)
	assert.Equal(t, []views.View{views.ViewDiscover}, temporal[0].AffectedViews)
	assert.Equal(t, StatusWarning, res.OverallStatus)
	assert.True(t, temporal[0].AutoFixable)
}

func TestReferentialGapDetectedAndResolvedAfterResync(t *testing.T) {
	v, store := newTestValidator(t)
	// org-123 landed in discover a minute ago and never reached research.
	stale := org("org-123", time.Now().Add(-time.Minute))
	require.NoError(t, store.Replace([]views.View{views.ViewDiscover}, views.DataOrganizations,
		[]views.Record{stale}))

	res, err := v.RunValidation()
	require.NoError(t, err)

	var refIssue *Issue
	for i := range res.Issues {
		if res.Issues[i].Category == CategoryReferential {
			refIssue = &res.Issues[i]
		}
	}
	require.NotNil(t, refIssue, "expected a referential issue, got %v", res.Issues)
	assert.Contains(t, refIssue.AffectedEntities, views.EntityID("org-123"))
	assert.Contains(t, refIssue.AffectedViews, views.ViewResearch)
	assert.True(t, refIssue.AutoFixable)
	issueID := refIssue.ID

	// Same problem, same fingerprint on the next run.
	res2, err := v.RunValidation()
	require.NoError(t, err)
	found := false
	for _, iss := range res2.Issues {
		if iss.ID == issueID {
			found = true
		}
	}
	assert.True(t, found, "fingerprint changed between runs")

	// Resync fixes it; the tracker flips the issue to resolved.
	require.NoError(t, store.Replace([]views.View{views.ViewResearch}, views.DataOrganizations,
		[]views.Record{stale}))
	_, err = v.RunValidation()
	require.NoError(t, err)

	tracked, ok := v.Tracker().Issue(issueID)
	require.True(t, ok)
	assert.True(t, tracked.Resolved)
	assert.False(t, tracked.ResolutionTimestamp.IsZero())
	for _, iss := range v.Tracker().ActiveIssues() {
		assert.NotEqual(t, issueID, iss.ID)
	}
}

func TestBlockingRuleEscalatesToCritical(t *testing.T) {
	v, _ := newTestValidator(t)
	err := v.Registry().Register(&Rule{
		ID:       "always_blocking",
		Name:     "always fails",
		Category: CategoryBusinessLogic,
		Severity: SeverityBlocking,
		Enabled:  true,
		Blocking: true,
		check: func(snap views.Snapshot, env CheckEnv) Outcome {
			return Outcome{
				Total: 1,
				Issues: []Issue{{
					Title:         "invariant broken",
					Description:   "always fails",
					AffectedViews: []views.View{views.ViewGlobal},
				}},
			}
		},
	})
	require.NoError(t, err)

	res, err := v.RunValidation()
	require.NoError(t, err)
	assert.Equal(t, StatusCritical, res.OverallStatus)
	assert.LessOrEqual(t, res.HealthScore, 0.5)
}

func TestDisabledRuleIsSkipped(t *testing.T) {
	v, _ := newTestValidator(t)
	require.NoError(t, v.Registry().SetEnabled("view_freshness", false))

	res, err := v.RunValidation()
	require.NoError(t, err)
	assert.Contains(t, res.RulesSkipped, "view_freshness")
	assert.NotContains(t, res.RulesExecuted, "view_freshness")
}

func TestDependentRuleSkippedWhenDependencyFails(t *testing.T) {
	v, store := newTestValidator(t)
	require.NoError(t, store.Replace([]views.View{views.ViewDiscover}, views.DataOrganizations,
		[]views.Record{org("org-1", time.Now())}))

	require.NoError(t, v.Registry().Register(&Rule{
		ID:        "needs_integrity",
		Name:      "depends on required_fields",
		Category:  CategoryBusinessLogic,
		Severity:  SeverityInfo,
		Enabled:   true,
		DependsOn: []string{"required_fields"},
		check: func(snap views.Snapshot, env CheckEnv) Outcome {
			return Outcome{Total: 1, Passed: 1}
		},
	}))

	// Clean data: dependency succeeds, dependent runs.
	res, err := v.RunValidation()
	require.NoError(t, err)
	assert.Contains(t, res.RulesExecuted, "needs_integrity")

	// Force the dependency to fail by disabling it: a disabled rule has not
	// run successfully, so the dependent is skipped.
	require.NoError(t, v.Registry().SetEnabled("required_fields", false))
	res, err = v.RunValidation()
	require.NoError(t, err)
	assert.Contains(t, res.RulesSkipped, "needs_integrity")
}

func TestPanickingRuleBecomesIssue(t *testing.T) {
	v, _ := newTestValidator(t)
	require.NoError(t, v.Registry().Register(&Rule{
		ID:       "explodes",
		Name:     "panics on every run",
		Category: CategoryDataIntegrity,
		Severity: SeverityInfo,
		Enabled:  true,
		check: func(snap views.Snapshot, env CheckEnv) Outcome {
			panic("boom")
		},
	}))

	res, err := v.RunValidation()
	require.NoError(t, err, "a panicking rule must not abort the run")

	found := false
	for _, iss := range res.Issues {
		if iss.RuleID == "explodes" {
			found = true
			assert.Equal(t, SeverityError, iss.Severity)
			assert.Contains(t, iss.Description, "boom")
		}
	}
	assert.True(t, found, "panic was not surfaced as an issue")
}

func TestSeverityOverride(t *testing.T) {
	v, store := newTestValidator(t)
	require.NoError(t, v.Registry().OverrideSeverity("view_freshness", SeverityCritical))
	assert.Error(t, v.Registry().OverrideSeverity("view_freshness", "catastrophic"))
	assert.Error(t, v.Registry().OverrideSeverity("no_such_rule", SeverityInfo))

	require.NoError(t, store.Replace([]views.View{views.ViewDiscover}, views.DataOrganizations,
		[]views.Record{org("org-1", time.Now())}))
	store.SetLastSync(views.ViewDiscover, time.Now().Add(-time.Hour))

	res, err := v.RunValidation()
	require.NoError(t, err)
	assert.Equal(t, StatusCritical, res.OverallStatus)
}

func TestHistoryBoundedByTrendWindow(t *testing.T) {
	v, _ := newTestValidator(t)
	for i := 0; i < 10; i++ {
		_, err := v.RunValidation()
		require.NoError(t, err)
	}
	assert.Len(t, v.History(), testConfig().TrendWindow)
}

func TestHealthScorePenaltyCapped(t *testing.T) {
	res := &Result{TotalChecks: 10, PassedChecks: 10}
	for i := 0; i < 50; i++ {
		res.Issues = append(res.Issues, Issue{Severity: SeverityInfo})
	}
	// 50 info issues would be a 2.5 penalty; the cap keeps 20% of the base.
	score := healthScore(res)
	assert.InDelta(t, 0.2, score, 1e-9)
}
