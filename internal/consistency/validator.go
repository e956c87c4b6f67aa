package consistency

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"viewsync/internal/flow"
	"viewsync/internal/logging"
	"viewsync/internal/views"
)

// Config tunes the validator's thresholds.
type Config struct {
	FreshnessThreshold  time.Duration
	PropagationGrace    time.Duration
	DriftTolerance      time.Duration
	ScoreTolerance      float64
	SyncDivergenceRatio float64
	IssueVolumeWarn     int
	IssueVolumeError    int
	RuleTimeout         time.Duration
	RetentionWindow     time.Duration
	TrendWindow         int
	TrendDelta          float64
}

// DefaultConfig returns production thresholds.
func DefaultConfig() Config {
	return Config{
		FreshnessThreshold:  5 * time.Minute,
		PropagationGrace:    2 * time.Second,
		DriftTolerance:      time.Minute,
		ScoreTolerance:      0.05,
		SyncDivergenceRatio: 0.1,
		IssueVolumeWarn:     10,
		IssueVolumeError:    25,
		RuleTimeout:         time.Second,
		RetentionWindow:     24 * time.Hour,
		TrendWindow:         10,
		TrendDelta:          0.02,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FreshnessThreshold <= 0 {
		c.FreshnessThreshold = d.FreshnessThreshold
	}
	if c.PropagationGrace <= 0 {
		c.PropagationGrace = d.PropagationGrace
	}
	if c.DriftTolerance <= 0 {
		c.DriftTolerance = d.DriftTolerance
	}
	if c.ScoreTolerance <= 0 {
		c.ScoreTolerance = d.ScoreTolerance
	}
	if c.SyncDivergenceRatio <= 0 {
		c.SyncDivergenceRatio = d.SyncDivergenceRatio
	}
	if c.IssueVolumeWarn <= 0 {
		c.IssueVolumeWarn = d.IssueVolumeWarn
	}
	if c.IssueVolumeError <= 0 {
		c.IssueVolumeError = d.IssueVolumeError
	}
	if c.RuleTimeout <= 0 {
		c.RuleTimeout = d.RuleTimeout
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = d.RetentionWindow
	}
	if c.TrendWindow <= 0 {
		c.TrendWindow = d.TrendWindow
	}
	if c.TrendDelta <= 0 {
		c.TrendDelta = d.TrendDelta
	}
	return c
}

// Status is the overall verdict of one validation run.
type Status string

const (
	StatusPassed   Status = "passed"
	StatusWarning  Status = "warning"
	StatusError    Status = "error"
	StatusCritical Status = "critical"
)

// Result is the report for one validation run.
type Result struct {
	ID              string
	Timestamp       time.Time
	ExecutionTime   time.Duration
	TotalChecks     int
	PassedChecks    int
	FailedChecks    int
	Issues          []Issue
	RulesExecuted   []string
	RulesSkipped    []string
	OverallStatus   Status
	HealthScore     float64
	Recommendations []string
}

// Validator runs the rule set against store snapshots and keeps a bounded
// run history for trend analysis.
type Validator struct {
	store    *views.Store
	flows    *flow.Table
	registry *Registry
	tracker  *Tracker
	cfg      Config

	sf singleflight.Group

	mu          sync.Mutex
	history     []*Result
	ruleLastRun map[string]time.Time
}

// New builds a validator with the built-in rule set.
func New(store *views.Store, flows *flow.Table, cfg Config) (*Validator, error) {
	cfg = cfg.withDefaults()
	registry, err := NewRegistry(cfg)
	if err != nil {
		return nil, err
	}
	return &Validator{
		store:       store,
		flows:       flows,
		registry:    registry,
		tracker:     NewTracker(cfg.RetentionWindow),
		cfg:         cfg,
		ruleLastRun: make(map[string]time.Time),
	}, nil
}

// Registry exposes the rule set for enable/disable and severity overrides.
func (v *Validator) Registry() *Registry { return v.registry }

// Tracker exposes the issue lifecycle tracker.
func (v *Validator) Tracker() *Tracker { return v.tracker }

// RunValidation executes every enabled rule against a single snapshot of the
// store. Concurrent callers share one run; everyone gets the same result.
func (v *Validator) RunValidation() (*Result, error) {
	res, err, _ := v.sf.Do("validation", func() (interface{}, error) {
		return v.runLocked(), nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*Result), nil
}

// runLocked is the single-run body behind the singleflight gate. The snapshot
// is taken under the store lock and released before any rule executes.
func (v *Validator) runLocked() *Result {
	start := time.Now()
	snap := v.store.Snapshot()

	result := &Result{
		ID:        uuid.NewString(),
		Timestamp: start,
	}
	env := CheckEnv{Flows: v.flows, Cfg: v.cfg}

	v.mu.Lock()
	lastRun := make(map[string]time.Time, len(v.ruleLastRun))
	for id, t := range v.ruleLastRun {
		lastRun[id] = t
	}
	v.mu.Unlock()

	succeeded := make(map[string]bool)
	for _, rule := range v.registry.Rules() {
		if !rule.Enabled {
			result.RulesSkipped = append(result.RulesSkipped, rule.ID)
			continue
		}
		if rule.Frequency > 0 {
			if last, ok := lastRun[rule.ID]; ok && start.Sub(last) < rule.Frequency {
				result.RulesSkipped = append(result.RulesSkipped, rule.ID)
				continue
			}
		}
		depFailed := false
		for _, dep := range rule.DependsOn {
			if !succeeded[dep] {
				depFailed = true
				break
			}
		}
		if depFailed {
			result.RulesSkipped = append(result.RulesSkipped, rule.ID)
			continue
		}

		env.PriorIssues = len(result.Issues)
		outcome, ruleErr := v.execute(rule, snap, env)
		lastRun[rule.ID] = start
		result.RulesExecuted = append(result.RulesExecuted, rule.ID)

		if ruleErr != nil {
			// A broken rule is itself an inconsistency signal, not a run failure.
			iss := Issue{
				Severity:      SeverityError,
				Category:      rule.Category,
				Title:         fmt.Sprintf("rule %s failed to execute", rule.ID),
				Description:   ruleErr.Error(),
				AffectedViews: []views.View{views.ViewGlobal},
				RecommendedActions: []string{
					"inspect the rule implementation and recent data changes",
				},
			}
			iss.normalize(rule, start)
			result.Issues = append(result.Issues, iss)
			result.TotalChecks++
			continue
		}

		succeeded[rule.ID] = len(outcome.Issues) == 0
		result.TotalChecks += outcome.Total
		result.PassedChecks += outcome.Passed
		for idx := range outcome.Issues {
			outcome.Issues[idx].normalize(rule, start)
		}
		result.Issues = append(result.Issues, outcome.Issues...)
	}

	result.FailedChecks = result.TotalChecks - result.PassedChecks
	result.ExecutionTime = time.Since(start)
	result.HealthScore = healthScore(result)
	result.OverallStatus = overallStatus(result.Issues)
	result.Recommendations = summaryRecommendations(result)

	v.tracker.Reconcile(result.Issues, start)

	v.mu.Lock()
	v.ruleLastRun = lastRun
	v.history = append(v.history, result)
	if len(v.history) > v.cfg.TrendWindow {
		v.history = v.history[len(v.history)-v.cfg.TrendWindow:]
	}
	v.mu.Unlock()

	logging.Validator("run %s: status=%s score=%.2f issues=%d checks=%d/%d in %v",
		result.ID, result.OverallStatus, result.HealthScore,
		len(result.Issues), result.PassedChecks, result.TotalChecks, result.ExecutionTime)
	return result
}

// execute runs one rule with panic isolation and advisory timing. Timeouts
// never pre-empt the rule; an overrun is reported as a warning issue.
func (v *Validator) execute(rule *Rule, snap views.Snapshot, env CheckEnv) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in rule %s: %v", rule.ID, r)
		}
	}()

	ruleStart := time.Now()
	out = rule.check(snap, env)
	if elapsed := time.Since(ruleStart); rule.MaxExecutionTime > 0 && elapsed > rule.MaxExecutionTime {
		out.Issues = append(out.Issues, Issue{
			Severity:      SeverityWarning,
			Category:      CategoryPerformance,
			Title:         fmt.Sprintf("rule %s exceeded its execution time limit", rule.ID),
			Description:   fmt.Sprintf("ran %v, limit is %v", elapsed.Round(time.Millisecond), rule.MaxExecutionTime),
			AffectedViews: []views.View{views.ViewGlobal},
			RecommendedActions: []string{
				"lower the rule's execution frequency or narrow its scope",
			},
		})
	}
	return out, nil
}

// healthScore blends the pass ratio with severity-weighted penalties. The
// penalty is capped so a flood of minor issues cannot zero out a mostly
// passing run; the floor is zero.
func healthScore(r *Result) float64 {
	base := 1.0
	if r.TotalChecks > 0 {
		base = float64(r.PassedChecks) / float64(r.TotalChecks)
	}
	penalty := 0.0
	for _, iss := range r.Issues {
		penalty += iss.Severity.weight()
	}
	if limit := 0.8 * base; penalty > limit {
		penalty = limit
	}
	score := base - penalty
	if score < 0 {
		score = 0
	}
	return score
}

// overallStatus escalates by the worst severity present.
func overallStatus(issues []Issue) Status {
	worst := 0
	for _, iss := range issues {
		if r := iss.Severity.rank(); r > worst {
			worst = r
		}
	}
	switch {
	case worst >= SeverityCritical.rank():
		return StatusCritical
	case worst >= SeverityError.rank():
		return StatusError
	case worst >= SeverityWarning.rank():
		return StatusWarning
	default:
		return StatusPassed
	}
}

// History returns the retained validation results, oldest first.
func (v *Validator) History() []*Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*Result, len(v.history))
	copy(out, v.history)
	return out
}

// LastResult returns the most recent run, or nil before the first run.
func (v *Validator) LastResult() *Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.history) == 0 {
		return nil
	}
	return v.history[len(v.history)-1]
}
