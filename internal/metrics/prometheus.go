package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger *zap.SugaredLogger

	// Scheduler metrics
	ticksTotal        *prometheus.CounterVec
	tickErrorsTotal   *prometheus.CounterVec
	dispatchedTotal   *prometheus.CounterVec
	tickDuration      *prometheus.HistogramVec
	tickDrift         prometheus.Histogram
	decisionsTotal    *prometheus.CounterVec
	siteFailuresTotal *prometheus.CounterVec

	// Dispatcher metrics
	dispatchOutcomesTotal *prometheus.CounterVec
	dispatchDuration      prometheus.Histogram

	// Reaper metrics
	failOpenTotal  *prometheus.CounterVec
	reclaimedTotal *prometheus.CounterVec

	// Report bus metrics
	bufferSize      prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	leader prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer, logger *zap.SugaredLogger) *PrometheusSink {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &PrometheusSink{logger: logger.Named("metrics")}
	s.initSchedulerMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initReaperMetrics(reg)
	s.initBusMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepulse_scheduler_ticks_total",
		Help: "Total number of fleet ticks started.",
	}, []string{"activity"})
	s.tickErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepulse_scheduler_tick_errors_total",
		Help: "Total number of fleet ticks that failed as a whole.",
	}, []string{"activity"})
	s.dispatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepulse_scheduler_dispatched_total",
		Help: "Total number of execution requests handed to the runtime.",
	}, []string{"activity"})
	s.tickDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitepulse_scheduler_tick_duration_seconds",
		Help:    "Duration of each fleet tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"activity"})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sitepulse_scheduler_tick_drift_seconds",
		Help:    "Difference between actual loop pass time and expected interval in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
	s.decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepulse_scheduler_decisions_total",
		Help: "Timing decisions by activity and kind.",
	}, []string{"activity", "kind"})
	s.siteFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepulse_scheduler_site_failures_total",
		Help: "Per-site evaluation failures isolated from the rest of the fleet.",
	}, []string{"activity"})

	s.register(reg, s.ticksTotal, "sitepulse_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "sitepulse_scheduler_tick_errors_total")
	s.register(reg, s.dispatchedTotal, "sitepulse_scheduler_dispatched_total")
	s.register(reg, s.tickDuration, "sitepulse_scheduler_tick_duration_seconds")
	s.register(reg, s.tickDrift, "sitepulse_scheduler_tick_drift_seconds")
	s.register(reg, s.decisionsTotal, "sitepulse_scheduler_decisions_total")
	s.register(reg, s.siteFailuresTotal, "sitepulse_scheduler_site_failures_total")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.dispatchOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepulse_dispatcher_outcomes_total",
		Help: "Dispatch outcomes (accepted, rejected, error, circuit_open).",
	}, []string{"activity", "outcome"})
	s.dispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sitepulse_dispatcher_request_duration_seconds",
		Help:    "Runtime intake request latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.register(reg, s.dispatchOutcomesTotal, "sitepulse_dispatcher_outcomes_total")
	s.register(reg, s.dispatchDuration, "sitepulse_dispatcher_request_duration_seconds")
}

func (s *PrometheusSink) initReaperMetrics(reg prometheus.Registerer) {
	s.failOpenTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepulse_reaper_store_fail_open_total",
		Help: "Single-flight checks that proceeded because the ledger was unavailable.",
	}, []string{"activity"})
	s.reclaimedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepulse_reaper_reclaimed_total",
		Help: "Stuck RUNNING records reset to FAILED.",
	}, []string{"activity"})

	s.register(reg, s.failOpenTotal, "sitepulse_reaper_store_fail_open_total")
	s.register(reg, s.reclaimedTotal, "sitepulse_reaper_reclaimed_total")
}

func (s *PrometheusSink) initBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sitepulse_reportbus_buffer_size",
		Help: "Current number of reports in the report bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sitepulse_reportbus_emit_errors_total",
		Help: "Reports dropped because the bus buffer was full.",
	})
	s.leader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sitepulse_leader",
		Help: "1 when this instance holds the scheduling leader lock.",
	})

	s.register(reg, s.bufferSize, "sitepulse_reportbus_buffer_size")
	s.register(reg, s.emitErrorsTotal, "sitepulse_reportbus_emit_errors_total")
	s.register(reg, s.leader, "sitepulse_leader")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warnw("failed to register collector", "name", name, "error", err)
	}
}

func (s *PrometheusSink) TickStarted(activity string) {
	s.ticksTotal.WithLabelValues(activity).Inc()
}

func (s *PrometheusSink) TickCompleted(activity string, duration time.Duration, dispatched int, err error) {
	s.tickDuration.WithLabelValues(activity).Observe(duration.Seconds())
	s.dispatchedTotal.WithLabelValues(activity).Add(float64(dispatched))
	if err != nil {
		s.tickErrorsTotal.WithLabelValues(activity).Inc()
	}
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.tickDrift.Observe(d)
}

func (s *PrometheusSink) DecisionRecorded(activity, kind string) {
	s.decisionsTotal.WithLabelValues(activity, kind).Inc()
}

func (s *PrometheusSink) SiteEvaluationFailed(activity string) {
	s.siteFailuresTotal.WithLabelValues(activity).Inc()
}

func (s *PrometheusSink) DispatchCompleted(activity, outcome string, duration time.Duration) {
	s.dispatchOutcomesTotal.WithLabelValues(activity, outcome).Inc()
	s.dispatchDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) StoreFailOpen(activity string) {
	s.failOpenTotal.WithLabelValues(activity).Inc()
}

func (s *PrometheusSink) RecordReclaimed(activity string) {
	s.reclaimedTotal.WithLabelValues(activity).Inc()
}

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

func (s *PrometheusSink) LeaderStatus(isLeader bool) {
	if isLeader {
		s.leader.Set(1)
		return
	}
	s.leader.Set(0)
}

var _ Sink = (*PrometheusSink)(nil)
