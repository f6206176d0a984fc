// Package reaper guards the single-flight invariant for (activity, site)
// keys and reclaims executions that stayed RUNNING past their staleness
// threshold without reporting back.
//
// The reaper fails open: when the ledger cannot be read, the caller is told
// to proceed. A missing ledger must not stop business execution, and a
// duplicate run is the accepted lesser failure.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/sitepulse/internal/domain"
	"github.com/djlord-it/sitepulse/internal/store"
)

const (
	ReasonFirstRun         = "first run"
	ReasonNotRunning       = "not running"
	ReasonAlreadyRunning   = "already running"
	ReasonReclaimed        = "reclaimed stuck execution"
	ReasonStoreUnavailable = "store unavailable"
)

// Store is the subset of store.Records the reaper needs.
type Store interface {
	Get(ctx context.Context, key domain.RecordKey) (domain.ExecutionRecord, error)
	ReclaimStale(ctx context.Context, key domain.RecordKey, staleBefore, now time.Time, note string) (bool, error)
	ListStale(ctx context.Context, activityKey string, staleBefore time.Time, limit int) ([]domain.ExecutionRecord, error)
}

// MetricsSink receives reaper outcomes.
type MetricsSink interface {
	StoreFailOpen(activity string)
	RecordReclaimed(activity string)
}

// Verdict is the result of ValidateAndReclaim.
type Verdict struct {
	CanProceed bool
	Reason     string

	// WasStuck and Cleaned are set only for the caller whose reclaim applied.
	WasStuck bool
	Cleaned  bool
	StuckFor time.Duration

	StoreUnavailable bool

	// Record is the ledger entry as last read, nil on first run or store failure.
	Record *domain.ExecutionRecord
}

type Reaper struct {
	store   Store
	logger  *zap.SugaredLogger
	metrics MetricsSink
	clock   func() time.Time
}

func New(store Store, logger *zap.SugaredLogger) *Reaper {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Reaper{
		store:  store,
		logger: logger.Named("reaper"),
		clock:  time.Now,
	}
}

// WithMetrics returns the reaper with a metrics sink attached.
func (r *Reaper) WithMetrics(sink MetricsSink) *Reaper {
	r.metrics = sink
	return r
}

// WithClock replaces the time source. Intended for tests.
func (r *Reaper) WithClock(clock func() time.Time) *Reaper {
	r.clock = clock
	return r
}

// ResetNote is the audit text written to a reclaimed record.
func ResetNote(stuckFor time.Duration) string {
	return fmt.Sprintf("auto-reset from stuck RUNNING (previous duration %s)", stuckFor.Round(time.Second))
}

// ValidateAndReclaim decides whether a new run of key may start now.
func (r *Reaper) ValidateAndReclaim(ctx context.Context, key domain.RecordKey, threshold time.Duration) Verdict {
	return r.ValidateAndReclaimAt(ctx, key, threshold, r.clock())
}

// ValidateAndReclaimAt is ValidateAndReclaim evaluated at an explicit instant.
func (r *Reaper) ValidateAndReclaimAt(ctx context.Context, key domain.RecordKey, threshold time.Duration, now time.Time) Verdict {
	rec, err := r.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return Verdict{CanProceed: true, Reason: ReasonFirstRun}
	}
	if err != nil {
		return r.failOpen(key, err)
	}
	return r.judge(ctx, rec, threshold, now, true)
}

// judge applies the single-flight rules to rec. retry allows one re-read
// when a concurrent writer changed the record under us.
func (r *Reaper) judge(ctx context.Context, rec domain.ExecutionRecord, threshold time.Duration, now time.Time, retry bool) Verdict {
	if rec.Status != domain.ExecutionStatusRunning {
		return Verdict{CanProceed: true, Reason: ReasonNotRunning, Record: &rec}
	}

	age := now.Sub(rec.UpdatedAt)
	if age <= threshold {
		return Verdict{CanProceed: false, Reason: ReasonAlreadyRunning, Record: &rec}
	}

	note := ResetNote(age)
	applied, err := r.store.ReclaimStale(ctx, rec.Key, now.Add(-threshold), now, note)
	if err != nil {
		v := r.failOpen(rec.Key, err)
		v.WasStuck = true
		v.StuckFor = age
		return v
	}

	if applied {
		r.logger.Warnw("reclaimed stuck execution",
			"activity", rec.Key.ActivityKey,
			"site_id", rec.Key.SiteID,
			"stuck_for", age.Round(time.Second).String(),
			"threshold", threshold.String(),
		)
		if r.metrics != nil {
			r.metrics.RecordReclaimed(rec.Key.ActivityKey)
		}
		rec.Status = domain.ExecutionStatusFailed
		rec.ErrorMessage = note
		rec.UpdatedAt = now
		return Verdict{
			CanProceed: true,
			Reason:     ReasonReclaimed,
			WasStuck:   true,
			Cleaned:    true,
			StuckFor:   age,
			Record:     &rec,
		}
	}

	// Someone else reclaimed or restarted the run between our read and write.
	fresh, err := r.store.Get(ctx, rec.Key)
	if errors.Is(err, store.ErrNotFound) {
		return Verdict{CanProceed: true, Reason: ReasonFirstRun}
	}
	if err != nil {
		return r.failOpen(rec.Key, err)
	}
	if retry {
		return r.judge(ctx, fresh, threshold, now, false)
	}
	if fresh.Status != domain.ExecutionStatusRunning {
		return Verdict{CanProceed: true, Reason: ReasonNotRunning, Record: &fresh}
	}
	return Verdict{CanProceed: false, Reason: ReasonAlreadyRunning, Record: &fresh}
}

func (r *Reaper) failOpen(key domain.RecordKey, err error) Verdict {
	r.logger.Warnw("execution ledger unavailable, proceeding",
		"activity", key.ActivityKey,
		"site_id", key.SiteID,
		"error", err,
	)
	if r.metrics != nil {
		r.metrics.StoreFailOpen(key.ActivityKey)
	}
	return Verdict{CanProceed: true, Reason: ReasonStoreUnavailable, StoreUnavailable: true}
}
