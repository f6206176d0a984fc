package main

import (
	"go.uber.org/zap"

	"github.com/djlord-it/sitepulse/internal/config"
)

// configWarnings lists settings that are valid but likely unintended in
// production.
func configWarnings(cfg config.Config) []string {
	var warnings []string

	if cfg.DispatchMode == "log" {
		warnings = append(warnings, "DISPATCH_MODE=log: runnable sites are only logged, nothing reaches the runtime")
	}
	if cfg.DispatchMode == "webhook" && cfg.DispatchSecret == "" {
		warnings = append(warnings, "DISPATCH_SECRET is empty: dispatches are sent unsigned")
	}
	if cfg.DispatchMode == "webhook" && cfg.CircuitBreakerThreshold == 0 {
		warnings = append(warnings, "CIRCUIT_BREAKER_THRESHOLD=0: a failing runtime is retried every tick")
	}
	if cfg.StoreDriver == "memory" {
		warnings = append(warnings, "STORE_DRIVER=memory: execution records are lost on restart and single-flight holds only within this process")
	}
	if cfg.StoreDriver == "postgres" && !cfg.LeaderElection {
		warnings = append(warnings, "LEADER_ELECTION=false: every instance ticks; the store still keeps dispatch single-flight")
	}
	if !cfg.SweepEnabled {
		warnings = append(warnings, "SWEEP_ENABLED=false: stuck records of sites that left the directory are never reclaimed")
	}
	if !cfg.MetricsEnabled {
		warnings = append(warnings, "METRICS_ENABLED=false: no Prometheus metrics are exported")
	}
	return warnings
}

func logConfigWarnings(cfg config.Config, logger *zap.SugaredLogger) {
	for _, w := range configWarnings(cfg) {
		logger.Warn(w)
	}
}
