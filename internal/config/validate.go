package config

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/djlord-it/sitepulse/internal/activity"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	errs := append(ValidationErrors(nil), cfg.loadErrs...)
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			add("DATABASE_URL", "required when STORE_DRIVER is postgres")
		}
	case "sqlite":
		if cfg.SQLitePath == "" {
			add("SQLITE_PATH", "required when STORE_DRIVER is sqlite")
		}
	case "memory":
	default:
		add("STORE_DRIVER", "must be 'postgres', 'sqlite' or 'memory', got %q", cfg.StoreDriver)
	}

	switch cfg.Directory {
	case "file":
		if cfg.SitesFile == "" {
			add("SITES_FILE", "required when DIRECTORY is file")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			add("DATABASE_URL", "required when DIRECTORY is postgres")
		}
	default:
		add("DIRECTORY", "must be 'file' or 'postgres', got %q", cfg.Directory)
	}

	switch cfg.DispatchMode {
	case "webhook":
		if cfg.DispatchURL == "" {
			add("DISPATCH_URL", "required when DISPATCH_MODE is webhook")
		}
	case "log":
	default:
		add("DISPATCH_MODE", "must be 'webhook' or 'log', got %q", cfg.DispatchMode)
	}

	positive := map[string]time.Duration{
		"TICK_INTERVAL":    cfg.TickInterval,
		"DB_OP_TIMEOUT":    cfg.DBOpTimeout,
		"SWEEP_INTERVAL":   cfg.SweepInterval,
		"DISPATCH_TIMEOUT": cfg.DispatchTimeout,
	}
	if cfg.LeaderElection {
		positive["LEADER_RETRY_INTERVAL"] = cfg.LeaderRetryInterval
		positive["LEADER_HEARTBEAT_INTERVAL"] = cfg.LeaderHeartbeatInterval
	}
	for _, field := range sortedKeys(positive) {
		if positive[field] <= 0 && !cfg.loadErrs.has(field) {
			add(field, "must be positive")
		}
	}

	if cfg.SchedulerWorkers < 1 {
		add("SCHEDULER_WORKERS", "must be at least 1")
	}
	if cfg.ReportBufferSize < 1 {
		add("REPORT_BUFFER_SIZE", "must be at least 1")
	}
	if cfg.DispatchRate < 0 {
		add("DISPATCH_RATE", "must not be negative")
	}
	if cfg.CircuitBreakerThreshold < 0 {
		add("CIRCUIT_BREAKER_THRESHOLD", "must not be negative")
	}
	if cfg.LeaderElection && cfg.StoreDriver != "postgres" {
		add("LEADER_ELECTION", "requires STORE_DRIVER postgres")
	}

	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		add("LOG_LEVEL", "%v", err)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		add("LOG_FORMAT", "must be 'json' or 'console', got %q", cfg.LogFormat)
	}

	if _, err := cfg.Fallback(); err != nil {
		add("fallback", "%v", err)
	}
	if _, err := activity.NewTable(cfg.Policies()); err != nil {
		add("activities", "%v", err)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (e ValidationErrors) has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]time.Duration) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
