// Package scheduler runs fleet ticks: for one activity it evaluates every
// site independently, records single-flight state and hands runnable sites
// to the execution runtime. A failure on one site never aborts the others.
package scheduler

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/djlord-it/sitepulse/internal/activity"
	"github.com/djlord-it/sitepulse/internal/domain"
	"github.com/djlord-it/sitepulse/internal/hours"
	"github.com/djlord-it/sitepulse/internal/reaper"
)

const (
	ReasonActivityDisabled = "activity disabled for site"
	ReasonMinInterval      = "completed within min interval"
)

type Directory interface {
	ListSites(ctx context.Context) ([]domain.Site, error)
}

// Store is the subset of store.Records the scheduler writes through.
type Store interface {
	Begin(ctx context.Context, key domain.RecordKey, now time.Time) (bool, error)
	MarkPending(ctx context.Context, key domain.RecordKey, nextRunAt, now time.Time) error
	Finish(ctx context.Context, key domain.RecordKey, status domain.ExecutionStatus, errMsg string, now time.Time) error
}

type Reaper interface {
	ValidateAndReclaimAt(ctx context.Context, key domain.RecordKey, threshold time.Duration, now time.Time) reaper.Verdict
}

type DecisionEngine interface {
	Decide(site domain.Site, ev hours.Evaluation, catchUpHours int) domain.TimingDecision
}

type TierAssigner interface {
	Assign(activityType string, override *domain.PriorityTier) domain.PriorityTier
	Budget(tier domain.PriorityTier) domain.TierBudget
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req domain.DispatchRequest) (domain.DispatchAck, error)
}

// ReportPublisher receives every report produced by Run.
type ReportPublisher interface {
	Publish(ctx context.Context, report Report) error
}

// MetricsSink defines the interface for recording scheduler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TickStarted(activity string)
	TickCompleted(activity string, duration time.Duration, dispatched int, err error)
	TickDrift(drift time.Duration)
	DecisionRecorded(activity, kind string)
	SiteEvaluationFailed(activity string)
}

type Config struct {
	// TickInterval is how often Run checks activity cadences. Default: 1 minute.
	TickInterval time.Duration

	// Workers bounds concurrent site evaluations per tick. Default: 8.
	Workers int

	// DispatchRate is the sustained dispatch rate per second; zero means unlimited.
	DispatchRate  float64
	DispatchBurst int
}

// Deps are the collaborators of a Scheduler. All are required.
type Deps struct {
	Directory  Directory
	Store      Store
	Reaper     Reaper
	Engine     DecisionEngine
	Assigner   TierAssigner
	Dispatcher Dispatcher
}

type Scheduler struct {
	config    Config
	deps      Deps
	limiter   *rate.Limiter
	policies  []activity.Policy
	publisher ReportPublisher
	metrics   MetricsSink
	logger    *zap.SugaredLogger
	clock     func() time.Time
	lastPass  time.Time
}

func New(config Config, deps Deps, logger *zap.SugaredLogger) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Minute
	}
	if config.Workers <= 0 {
		config.Workers = 8
	}
	limit := rate.Inf
	if config.DispatchRate > 0 {
		limit = rate.Limit(config.DispatchRate)
	}
	burst := config.DispatchBurst
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scheduler{
		config:  config,
		deps:    deps,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("scheduler"),
		clock:   time.Now,
	}
}

// WithPolicies sets the activities Run ticks on their cadence.
func (s *Scheduler) WithPolicies(policies []activity.Policy) *Scheduler {
	s.policies = policies
	return s
}

// WithPublisher attaches the consumer of Run's reports.
func (s *Scheduler) WithPublisher(p ReportPublisher) *Scheduler {
	s.publisher = p
	return s
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// WithClock replaces the time source. Intended for tests.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Run ticks every policy whose cadence fired since the previous pass. It
// blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.Infow("started", "tick", s.config.TickInterval.String(), "activities", len(s.policies), "workers", s.config.Workers)
	s.lastPass = s.clock().UTC()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunPass(ctx)
		}
	}
}

// RunPass performs one loop iteration and returns the reports it produced.
func (s *Scheduler) RunPass(ctx context.Context) []Report {
	now := s.clock().UTC()
	if s.metrics != nil && !s.lastPass.IsZero() {
		s.metrics.TickDrift(now.Sub(s.lastPass) - s.config.TickInterval)
	}
	from := s.lastPass
	if from.IsZero() {
		from = now.Add(-s.config.TickInterval)
	}
	s.lastPass = now

	var reports []Report
	for _, p := range s.policies {
		if ctx.Err() != nil {
			break
		}
		if !p.Schedule().FiredBetween(from, now) {
			continue
		}

		report, err := s.Tick(ctx, p, now)
		if err != nil {
			s.logger.Errorw("tick failed", "activity", p.Key, "error", err)
		}
		if s.publisher != nil {
			if perr := s.publisher.Publish(ctx, report); perr != nil {
				s.logger.Warnw("report not published", "activity", p.Key, "tick_id", report.TickID.String(), "error", perr)
			}
		}
		reports = append(reports, report)
	}
	return reports
}

// Tick evaluates the fleet for one activity at now. The error is non-nil
// only when the tick could not run at all (for example the directory is
// unreachable); per-site failures are reported in Report.Errors.
func (s *Scheduler) Tick(ctx context.Context, policy activity.Policy, now time.Time) (Report, error) {
	started := time.Now()
	report := newReport(policy.Key, now)
	if s.metrics != nil {
		s.metrics.TickStarted(policy.Key)
	}

	var results []siteResult
	if policy.IsGlobal() {
		results = []siteResult{s.processGlobal(ctx, policy, now)}
	} else {
		sites, err := s.deps.Directory.ListSites(ctx)
		if err != nil {
			err = errors.Wrap(err, "list sites")
			report.FinishedAt = now.Add(time.Since(started))
			if s.metrics != nil {
				s.metrics.TickCompleted(policy.Key, time.Since(started), 0, err)
			}
			return report, err
		}
		report.SitesTotal = len(sites)
		results = s.evaluateFleet(ctx, policy, sites, now)
	}

	for _, r := range results {
		s.aggregate(&report, r)
	}
	report.FinishedAt = now.Add(time.Since(started))

	if s.metrics != nil {
		s.metrics.TickCompleted(policy.Key, time.Since(started), len(report.Dispatched), nil)
	}
	s.logger.Infow("tick complete",
		"activity", policy.Key,
		"tick_id", report.TickID.String(),
		"sites", report.SitesTotal,
		"dispatched", len(report.Dispatched),
		"deferred", len(report.Deferred),
		"blocked", len(report.Blocked),
		"failed_dispatches", len(report.FailedDispatches),
		"site_errors", len(report.Errors),
		"reclaimed", report.Reclaimed,
	)
	return report, nil
}

func (s *Scheduler) aggregate(report *Report, r siteResult) {
	if r.err != nil {
		report.SitesFailed++
		report.Errors = append(report.Errors, SiteError{SiteID: r.siteID, Error: r.err.Error()})
		if s.metrics != nil {
			s.metrics.SiteEvaluationFailed(report.Activity)
		}
		return
	}

	if r.hasHours {
		report.SitesWithHours++
	}
	if r.openToday {
		report.SitesOpenToday++
	}
	if r.reclaimed {
		report.Reclaimed++
	}
	report.Decisions[r.decision.Kind]++
	if s.metrics != nil {
		s.metrics.DecisionRecorded(report.Activity, string(r.decision.Kind))
	}

	switch r.outcome {
	case outcomeDispatched:
		report.Dispatched = append(report.Dispatched, r.request)
	case outcomeDeferred:
		report.Deferred = append(report.Deferred, SiteOutcome{SiteID: r.siteID, Decision: r.decision, Reason: r.decision.Reason})
	case outcomeBlocked:
		report.Blocked = append(report.Blocked, SiteOutcome{SiteID: r.siteID, Decision: r.decision, Reason: r.reason})
	case outcomeDispatchFailed:
		report.FailedDispatches = append(report.FailedDispatches, DispatchFailure{
			SiteID:     r.siteID,
			DispatchID: r.request.ID,
			Reason:     r.reason,
		})
	}
}

func (s *Scheduler) newRequest(policy activity.Policy, siteID string, decision domain.TimingDecision, now time.Time) domain.DispatchRequest {
	tier := s.deps.Assigner.Assign(policy.Type, policy.TierOverride())
	return domain.DispatchRequest{
		ID:          uuid.New(),
		ActivityKey: policy.Key,
		SiteID:      siteID,
		Tier:        tier,
		Budget:      s.deps.Assigner.Budget(tier),
		Mode:        decision.Mode(),
		IssuedAt:    now,
	}
}
