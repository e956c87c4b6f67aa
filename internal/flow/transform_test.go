package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewsync/internal/views"
)

func TestOrgEnrichSeedsResearchFields(t *testing.T) {
	in := []views.Record{
		{ID: "org-1", Fields: map[string]interface{}{"name": "Acme", "domain": "acme.example"}},
		{ID: "org-2"}, // no fields at all
	}
	out := orgEnrich(in, views.ViewDiscover, views.ViewResearch)
	require.Len(t, out, 2)

	assert.Equal(t, "Acme", out[0].Fields["name"])
	assert.Equal(t, "pending", out[0].Fields["research_status"])
	assert.Equal(t, views.ViewResearch, out[0].SourceView)

	assert.Equal(t, "org-2", out[1].Fields["name"], "missing name defaults to the ID")
	assert.Equal(t, "unknown", out[1].Fields["domain"])
}

func TestLeadQualifyBuckets(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{0.9, "hot"},
		{0.75, "hot"},
		{0.5, "warm"},
		{0.4, "warm"},
		{0.1, "cold"},
	}
	for _, tc := range cases {
		out := leadQualify([]views.Record{{ID: "l", Score: tc.score, Fields: map[string]interface{}{}}},
			views.ViewResearch, views.ViewQualify)
		require.Len(t, out, 1)
		assert.Equal(t, tc.want, out[0].Fields["qualification"], "score %v", tc.score)
	}
}

func TestLeadQualifyFallsBackToFitScore(t *testing.T) {
	out := leadQualify([]views.Record{{
		ID:     "l",
		Fields: map[string]interface{}{"fit_score": 0.8},
	}}, views.ViewResearch, views.ViewQualify)
	require.Len(t, out, 1)
	assert.Equal(t, 0.8, out[0].Score)
	assert.Equal(t, "hot", out[0].Fields["qualification"])
}

func TestScoreRollupAveragesSignals(t *testing.T) {
	out := scoreRollup([]views.Record{{
		ID:     "l",
		Fields: map[string]interface{}{"fit_score": 0.9, "intent_score": 0.5},
	}}, views.ViewQualify, views.ViewOutreach)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.7, out[0].Score, 1e-9)
	assert.InDelta(t, 0.7, out[0].Fields["priority_score"].(float64), 1e-9)
}

func TestReportFlattenDropsWorkingFields(t *testing.T) {
	out := reportFlatten([]views.Record{{
		ID: "l",
		Fields: map[string]interface{}{
			"name":            "Dana",
			"qualification":   "hot",
			"research_status": "done",
			"internal_notes":  "scratch",
		},
		Score: 0.7,
	}}, views.ViewOutreach, views.ViewReport)
	require.Len(t, out, 1)

	assert.Equal(t, "Dana", out[0].Fields["name"])
	assert.Equal(t, "hot", out[0].Fields["qualification"])
	assert.NotContains(t, out[0].Fields, "research_status")
	assert.NotContains(t, out[0].Fields, "internal_notes")
	assert.Equal(t, 0.7, out[0].Score)
}

func TestTransformsDoNotMutateInput(t *testing.T) {
	in := []views.Record{{ID: "org-1", Fields: map[string]interface{}{"name": "Acme"}}}
	_ = orgEnrich(in, views.ViewDiscover, views.ViewResearch)
	assert.NotContains(t, in[0].Fields, "research_status")
	assert.Equal(t, views.View(""), in[0].SourceView)
}

func TestRegistryApplyUnknownIDPassesThrough(t *testing.T) {
	r := NewRegistry()
	in := []views.Record{{ID: "x"}}
	out := r.Apply("unknown", in, views.ViewDiscover, views.ViewResearch)
	assert.Equal(t, in, out)
	assert.False(t, r.Has("unknown"))
	assert.True(t, r.Has(TransformLeadQualify))
}
