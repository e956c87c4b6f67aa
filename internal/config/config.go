// Package config loads and validates the application configuration. A single
// YAML file covers the engine, the validator, logging, and the flow mapping
// table; every section has working defaults so an empty file (or no file) is
// a valid deployment. Durations are written as Go duration strings ("250ms",
// "5m"); unparsable values fall back to the default rather than failing the
// load.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"viewsync/internal/consistency"
	"viewsync/internal/engine"
	"viewsync/internal/flow"
	"viewsync/internal/logging"
	"viewsync/internal/views"
)

// EngineSection is the file-facing engine tuning.
type EngineSection struct {
	TickInterval     string `yaml:"tick_interval"`
	MaxBatchSize     int    `yaml:"max_batch_size"`
	MaxRetryAttempts int    `yaml:"max_retry_attempts"`
	QueueCapacity    int    `yaml:"queue_capacity"`
	TierCapacity     int    `yaml:"tier_capacity"`
	ResultHistory    int    `yaml:"result_history"`
}

// ValidatorSection is the file-facing validator tuning.
type ValidatorSection struct {
	FreshnessThreshold  string  `yaml:"freshness_threshold"`
	PropagationGrace    string  `yaml:"propagation_grace"`
	DriftTolerance      string  `yaml:"drift_tolerance"`
	ScoreTolerance      float64 `yaml:"score_tolerance"`
	SyncDivergenceRatio float64 `yaml:"sync_divergence_ratio"`
	IssueVolumeWarn     int     `yaml:"issue_volume_warn"`
	IssueVolumeError    int     `yaml:"issue_volume_error"`
	RuleTimeout         string  `yaml:"rule_timeout"`
	RetentionWindow     string  `yaml:"retention_window"`
	TrendWindow         int     `yaml:"trend_window"`
	TrendDelta          float64 `yaml:"trend_delta"`
}

// MappingSection is the file-facing form of one flow edge.
type MappingSection struct {
	Source            string   `yaml:"source"`
	Target            string   `yaml:"target"`
	DataTypes         []string `yaml:"data_types"`
	Bidirectional     bool     `yaml:"bidirectional"`
	RequiresTransform bool     `yaml:"requires_transform"`
	Transform         string   `yaml:"transform"`
	ExpectedLatency   string   `yaml:"expected_latency"`
	BatchSize         int      `yaml:"batch_size"`
	SyncFrequency     string   `yaml:"sync_frequency"`
}

// Config is the root configuration document.
type Config struct {
	Engine    EngineSection    `yaml:"engine"`
	Validator ValidatorSection `yaml:"validator"`
	Logging   logging.Config   `yaml:"logging"`
	// Mappings replaces the default flow table when non-empty.
	Mappings []MappingSection `yaml:"mappings"`
	// ValidationInterval drives the periodic validation loop in the runner.
	ValidationInterval string `yaml:"validation_interval"`
	// AutoFix applies automated fixes after each validation run.
	AutoFix bool `yaml:"auto_fix"`
}

// Default returns the default configuration document.
func Default() Config {
	return Config{
		Logging:            logging.DefaultConfig(),
		ValidationInterval: "30s",
	}
}

// Load reads a YAML file over the defaults. A missing path is not an error;
// the defaults apply. Environment overrides are applied last.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				applyEnvOverrides(&cfg)
				return cfg, nil
			}
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// duration parses a duration string, substituting def for empty or
// unparsable values.
func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// EngineConfig converts the engine section into runtime tuning.
func (c Config) EngineConfig() engine.Config {
	d := engine.DefaultConfig()
	return engine.Config{
		TickInterval:     duration(c.Engine.TickInterval, d.TickInterval),
		MaxBatchSize:     c.Engine.MaxBatchSize,
		MaxRetryAttempts: c.Engine.MaxRetryAttempts,
		QueueCapacity:    c.Engine.QueueCapacity,
		TierCapacity:     c.Engine.TierCapacity,
		ResultHistory:    c.Engine.ResultHistory,
	}
}

// ValidatorConfig converts the validator section into runtime thresholds.
func (c Config) ValidatorConfig() consistency.Config {
	d := consistency.DefaultConfig()
	return consistency.Config{
		FreshnessThreshold:  duration(c.Validator.FreshnessThreshold, d.FreshnessThreshold),
		PropagationGrace:    duration(c.Validator.PropagationGrace, d.PropagationGrace),
		DriftTolerance:      duration(c.Validator.DriftTolerance, d.DriftTolerance),
		ScoreTolerance:      c.Validator.ScoreTolerance,
		SyncDivergenceRatio: c.Validator.SyncDivergenceRatio,
		IssueVolumeWarn:     c.Validator.IssueVolumeWarn,
		IssueVolumeError:    c.Validator.IssueVolumeError,
		RuleTimeout:         duration(c.Validator.RuleTimeout, d.RuleTimeout),
		RetentionWindow:     duration(c.Validator.RetentionWindow, d.RetentionWindow),
		TrendWindow:         c.Validator.TrendWindow,
		TrendDelta:          c.Validator.TrendDelta,
	}
}

// FlowMappings converts the mapping section, falling back to the default
// pipeline when the file declares none.
func (c Config) FlowMappings() []flow.Mapping {
	if len(c.Mappings) == 0 {
		return flow.DefaultMappings()
	}
	out := make([]flow.Mapping, 0, len(c.Mappings))
	for _, m := range c.Mappings {
		types := make([]views.DataType, 0, len(m.DataTypes))
		for _, dt := range m.DataTypes {
			types = append(types, views.DataType(dt))
		}
		out = append(out, flow.Mapping{
			Source:            views.View(m.Source),
			Target:            views.View(m.Target),
			DataTypes:         types,
			Bidirectional:     m.Bidirectional,
			RequiresTransform: m.RequiresTransform,
			Transform:         flow.TransformID(m.Transform),
			ExpectedLatency:   duration(m.ExpectedLatency, 500*time.Millisecond),
			BatchSize:         m.BatchSize,
			SyncFrequency:     duration(m.SyncFrequency, 10*time.Second),
		})
	}
	return out
}

// GetValidationInterval parses the validation loop interval.
func (c Config) GetValidationInterval() time.Duration {
	return duration(c.ValidationInterval, 30*time.Second)
}

// Validate rejects configurations the runtime could not honor. Building the
// flow table surfaces unknown views, data types, and transforms.
func (c Config) Validate() error {
	if c.Engine.MaxBatchSize < 0 {
		return fmt.Errorf("engine.max_batch_size must not be negative")
	}
	if c.Engine.MaxRetryAttempts < 0 {
		return fmt.Errorf("engine.max_retry_attempts must not be negative")
	}
	if c.Validator.ScoreTolerance < 0 {
		return fmt.Errorf("validator.score_tolerance must not be negative")
	}
	if _, err := flow.NewTable(c.FlowMappings(), nil); err != nil {
		return fmt.Errorf("mappings: %w", err)
	}
	return nil
}

// applyEnvOverrides lets deployments tweak hot settings without editing the
// file. Unparsable values are ignored in favor of the file or default.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VIEWSYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VIEWSYNC_LOG_JSON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.JSONFormat = b
		}
	}
	if v := os.Getenv("VIEWSYNC_TICK_INTERVAL"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			cfg.Engine.TickInterval = v
		}
	}
	if v := os.Getenv("VIEWSYNC_VALIDATION_INTERVAL"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			cfg.ValidationInterval = v
		}
	}
	if v := os.Getenv("VIEWSYNC_AUTO_FIX"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoFix = b
		}
	}
}
