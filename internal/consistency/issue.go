package consistency

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"viewsync/internal/views"
)

// Issue is one detected inconsistency. The ID is a fingerprint of the rule
// and the affected scope, so the same underlying problem keeps the same ID
// across validation runs and the tracker can follow its lifecycle.
type Issue struct {
	ID                  string
	Timestamp           time.Time
	Severity            Severity
	Category            Category
	Title               string
	Description         string
	AffectedViews       []views.View
	AffectedEntities    []views.EntityID
	RuleID              string
	Expected            string
	Actual              string
	AutoFixable         bool
	RecommendedActions  []string
	Priority            int
	Resolved            bool
	ResolutionTimestamp time.Time
}

// fingerprint derives the stable issue ID. Affected views and entities are
// sorted first so discovery order does not change the identity.
func (i *Issue) fingerprint() string {
	vs := make([]string, len(i.AffectedViews))
	for n, v := range i.AffectedViews {
		vs[n] = string(v)
	}
	sort.Strings(vs)
	es := make([]string, len(i.AffectedEntities))
	for n, e := range i.AffectedEntities {
		es[n] = string(e)
	}
	sort.Strings(es)

	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s",
		i.RuleID, i.Category, i.Title, strings.Join(vs, ","), strings.Join(es, ","))
	return fmt.Sprintf("%s-%016x", i.RuleID, h.Sum64())
}

// normalize stamps derived fields after a check routine reports the issue.
func (i *Issue) normalize(rule *Rule, now time.Time) {
	if i.RuleID == "" {
		i.RuleID = rule.ID
	}
	if i.Category == "" {
		i.Category = rule.Category
	}
	if i.Severity == "" {
		i.Severity = rule.Severity
	}
	if i.Priority == 0 {
		i.Priority = i.Severity.priority()
	}
	i.Timestamp = now
	i.ID = i.fingerprint()
}
