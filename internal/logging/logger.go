// Package logging provides categorized structured logging for viewsync.
// Each subsystem logs under its own named category so that sync traffic,
// validator runs, and store mutations can be filtered independently.
// Before Initialize is called every logger is a no-op, which keeps library
// consumers quiet by default.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup and configuration
	CategoryEngine    Category = "engine"    // Event scheduling and processing
	CategoryStore     Category = "store"     // View state mutations
	CategoryFlow      Category = "flow"      // Mapping table and transforms
	CategoryValidator Category = "validator" // Consistency validation runs
	CategoryTracker   Category = "tracker"   // Issue lifecycle
	CategoryMetrics   Category = "metrics"   // Derived metrics and trends
)

// Config controls logger construction. The zero value disables all output.
type Config struct {
	Enabled    bool            `yaml:"enabled"`
	Level      string          `yaml:"level"`       // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"` // console encoding when false
	Categories map[string]bool `yaml:"categories"`  // explicit false disables a category
}

// DefaultConfig enables info-level console logging for every category.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Level:   "info",
	}
}

// Logger is a thin category-scoped wrapper over a zap.SugaredLogger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	enabled  bool
}

var (
	mu      sync.RWMutex
	root    *zap.Logger
	cfg     Config
	loggers = make(map[Category]*Logger)
)

// Initialize builds the root zap logger. Safe to call more than once; the
// most recent call wins.
func Initialize(c Config) error {
	mu.Lock()
	defer mu.Unlock()

	cfg = c
	loggers = make(map[Category]*Logger)

	if !c.Enabled {
		root = nil
		return nil
	}

	level, err := parseLevel(c.Level)
	if err != nil {
		return err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if c.JSONFormat {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	root = zap.New(core)
	return nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Get returns the logger for a category, creating it on first use.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	l := &Logger{category: category}
	if root != nil && categoryEnabled(category) {
		l.sugar = root.Named(string(category)).Sugar()
		l.enabled = true
	}
	loggers[category] = l
	return l
}

// categoryEnabled must be called with mu held. Categories are enabled unless
// the config lists them as false.
func categoryEnabled(category Category) bool {
	if cfg.Categories == nil {
		return true
	}
	enabled, ok := cfg.Categories[string(category)]
	if !ok {
		return true
	}
	return enabled
}

// Enabled reports whether this logger emits anything.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l == nil || !l.enabled {
		return
	}
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l == nil || !l.enabled {
		return
	}
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l == nil || !l.enabled {
		return
	}
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l == nil || !l.enabled {
		return
	}
	l.sugar.Errorf(format, args...)
}

// Convenience helpers, one pair per busy category.

func Engine(format string, args ...interface{})      { Get(CategoryEngine).Info(format, args...) }
func EngineDebug(format string, args ...interface{}) { Get(CategoryEngine).Debug(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

func Validator(format string, args ...interface{}) { Get(CategoryValidator).Info(format, args...) }
func ValidatorDebug(format string, args ...interface{}) {
	Get(CategoryValidator).Debug(format, args...)
}

func Tracker(format string, args ...interface{}) { Get(CategoryTracker).Info(format, args...) }

func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }
