// Package consistency audits the view store for divergence, staleness, and
// referential breakage. Rules are a fixed, extensible set of named checks
// bound to their implementations when the registry is constructed; a rule
// without an implementation is a startup error. Violations are data
// (ValidationIssue), never program errors.
package consistency

import (
	"fmt"
	"time"

	"viewsync/internal/flow"
	"viewsync/internal/views"
)

// Severity grades an issue. Ordered from least to most severe.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
	SeverityBlocking Severity = "blocking"
)

// rank orders severities for status escalation.
func (s Severity) rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityError:
		return 3
	case SeverityCritical:
		return 4
	case SeverityBlocking:
		return 5
	}
	return 0
}

// weight is the health-score penalty per issue of this severity.
func (s Severity) weight() float64 {
	switch s {
	case SeverityInfo:
		return 0.05
	case SeverityWarning:
		return 0.1
	case SeverityError:
		return 0.2
	case SeverityCritical:
		return 0.3
	case SeverityBlocking:
		return 0.5
	}
	return 0
}

// priority maps severity onto the 1-10 issue priority scale.
func (s Severity) priority() int {
	switch s {
	case SeverityBlocking:
		return 10
	case SeverityCritical:
		return 9
	case SeverityError:
		return 7
	case SeverityWarning:
		return 5
	default:
		return 2
	}
}

// Category groups rules and issues.
type Category string

const (
	CategoryDataIntegrity Category = "data_integrity"
	CategoryReferential   Category = "referential_integrity"
	CategoryTemporal      Category = "temporal_consistency"
	CategoryBusinessLogic Category = "business_logic"
	CategoryCrossTabSync  Category = "cross_tab_sync"
	CategoryPerformance   Category = "performance"
)

// CheckEnv is the read-only context handed to every check routine.
type CheckEnv struct {
	Flows *flow.Table
	Cfg   Config
	// PriorIssues counts issues produced earlier in the same run; the
	// performance-impact rule escalates on it.
	PriorIssues int
}

// Outcome is what one check routine reports back.
type Outcome struct {
	Issues []Issue
	Total  int
	Passed int
}

// CheckFunc runs one rule's logic against an immutable snapshot.
type CheckFunc func(snap views.Snapshot, env CheckEnv) Outcome

// Rule is one named, category-scoped check.
type Rule struct {
	ID               string
	Name             string
	Category         Category
	Severity         Severity
	AppliesTo        []views.View
	Enabled          bool
	Frequency        time.Duration // 0 means every run
	MaxExecutionTime time.Duration // advisory, never pre-emptive
	DependsOn        []string
	Blocking         bool

	check CheckFunc
}

// Registry is the ordered, toggleable rule set.
type Registry struct {
	order []string
	rules map[string]*Rule
}

// NewRegistry builds a registry with the built-in rules bound, verifying at
// construction that every rule carries an implementation.
func NewRegistry(cfg Config) (*Registry, error) {
	r := &Registry{rules: make(map[string]*Rule)}
	for _, rule := range builtinRules(cfg) {
		if err := r.Register(rule); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends a rule, rejecting duplicates and missing check bindings.
func (r *Registry) Register(rule *Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule with empty id")
	}
	if rule.check == nil {
		return fmt.Errorf("rule %s: no check implementation bound", rule.ID)
	}
	if _, dup := r.rules[rule.ID]; dup {
		return fmt.Errorf("rule %s: already registered", rule.ID)
	}
	for _, dep := range rule.DependsOn {
		if _, ok := r.rules[dep]; !ok {
			return fmt.Errorf("rule %s: depends on unregistered rule %s", rule.ID, dep)
		}
	}
	r.order = append(r.order, rule.ID)
	r.rules[rule.ID] = rule
	return nil
}

// Rules returns the rules in registration order.
func (r *Registry) Rules() []*Rule {
	out := make([]*Rule, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rules[id])
	}
	return out
}

// SetEnabled toggles a rule.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	rule, ok := r.rules[id]
	if !ok {
		return fmt.Errorf("rule %s: not registered", id)
	}
	rule.Enabled = enabled
	return nil
}

// OverrideSeverity replaces a rule's severity, the configuration surface for
// operators who grade a check differently than the defaults.
func (r *Registry) OverrideSeverity(id string, sev Severity) error {
	rule, ok := r.rules[id]
	if !ok {
		return fmt.Errorf("rule %s: not registered", id)
	}
	if sev.rank() == 0 {
		return fmt.Errorf("rule %s: unknown severity %q", id, sev)
	}
	rule.Severity = sev
	return nil
}

// DisableAllExcept keeps only the named rules enabled.
func (r *Registry) DisableAllExcept(ids ...string) {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	for id, rule := range r.rules {
		_, ok := keep[id]
		rule.Enabled = ok
	}
}
