package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/djlord-it/sitepulse/internal/activity"
	"github.com/djlord-it/sitepulse/internal/domain"
	"github.com/djlord-it/sitepulse/internal/hours"
)

type outcome int

const (
	outcomeDeferred outcome = iota
	outcomeBlocked
	outcomeDispatched
	outcomeDispatchFailed
)

type siteResult struct {
	siteID    string
	err       error
	hasHours  bool
	openToday bool
	reclaimed bool

	decision domain.TimingDecision
	outcome  outcome
	request  domain.DispatchRequest
	reason   string
}

// evaluateFleet processes sites in a bounded pool. Results keep directory
// order regardless of completion order.
func (s *Scheduler) evaluateFleet(ctx context.Context, policy activity.Policy, sites []domain.Site, now time.Time) []siteResult {
	results := make([]siteResult, len(sites))

	var g errgroup.Group
	g.SetLimit(s.config.Workers)
	for i := range sites {
		i := i
		g.Go(func() error {
			results[i] = s.processSiteSafe(ctx, policy, sites[i], now)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Scheduler) processSiteSafe(ctx context.Context, policy activity.Policy, site domain.Site, now time.Time) (res siteResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("site evaluation panicked", "activity", policy.Key, "site_id", site.ID, "panic", r)
			res = siteResult{siteID: site.ID, err: errors.Newf("panic: %v", r)}
		}
	}()
	return s.processSite(ctx, policy, site, now)
}

func (s *Scheduler) processSite(ctx context.Context, policy activity.Policy, site domain.Site, now time.Time) siteResult {
	res := siteResult{siteID: site.ID, hasHours: site.HasBusinessHours()}

	if !site.ActivityEnabled(policy.Key) {
		res.decision = domain.Skip(ReasonActivityDisabled)
		res.outcome = outcomeDeferred
		return res
	}

	ev := hours.Evaluate(site, now)
	if ev.Problem != "" {
		s.logger.Warnw("business hours problem", "activity", policy.Key, "site_id", site.ID, "problem", ev.Problem)
	}
	res.openToday = ev.TodayWindow != nil

	decision := s.deps.Engine.Decide(site, ev, policy.CatchUp())
	res.decision = decision

	switch {
	case decision.Kind == domain.DecisionScheduleLater:
		key := domain.RecordKey{ActivityKey: policy.Key, SiteID: site.ID}
		if err := s.deps.Store.MarkPending(ctx, key, decision.At, now); err != nil {
			s.logger.Warnw("mark pending failed", "activity", policy.Key, "site_id", site.ID, "error", err)
		}
		res.outcome = outcomeDeferred
		return res
	case !decision.Runnable():
		res.outcome = outcomeDeferred
		return res
	}

	return s.run(ctx, policy, site.ID, decision, now, res)
}

// processGlobal handles fleet-wide activities; business hours do not apply.
func (s *Scheduler) processGlobal(ctx context.Context, policy activity.Policy, now time.Time) (res siteResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("global activity panicked", "activity", policy.Key, "panic", r)
			res = siteResult{siteID: domain.GlobalSiteID, err: errors.Newf("panic: %v", r)}
		}
	}()
	res = siteResult{siteID: domain.GlobalSiteID, decision: domain.ExecuteNow()}
	return s.run(ctx, policy, domain.GlobalSiteID, res.decision, now, res)
}

// run takes a runnable decision through single-flight and dispatch.
func (s *Scheduler) run(ctx context.Context, policy activity.Policy, siteID string, decision domain.TimingDecision, now time.Time, res siteResult) siteResult {
	key := domain.RecordKey{ActivityKey: policy.Key, SiteID: siteID}

	verdict := s.deps.Reaper.ValidateAndReclaimAt(ctx, key, policy.StalenessThreshold, now)
	res.reclaimed = verdict.Cleaned
	if !verdict.CanProceed {
		res.outcome = outcomeBlocked
		res.reason = verdict.Reason
		return res
	}

	if rec := verdict.Record; policy.MinInterval > 0 && rec != nil &&
		rec.Status == domain.ExecutionStatusCompleted && rec.LastRunAt != nil &&
		now.Sub(*rec.LastRunAt) < policy.MinInterval {
		res.decision = domain.Skip(ReasonMinInterval)
		res.outcome = outcomeDeferred
		return res
	}

	started, err := s.deps.Store.Begin(ctx, key, now)
	switch {
	case err != nil:
		s.logger.Warnw("begin failed, dispatching without ledger", "activity", policy.Key, "site_id", siteID, "error", err)
	case !started:
		res.outcome = outcomeBlocked
		res.reason = "already running"
		return res
	}

	req := s.newRequest(policy, siteID, decision, now)
	res.request = req

	if err := s.limiter.Wait(ctx); err != nil {
		return s.dispatchFailed(ctx, key, res, fmt.Sprintf("dispatch not attempted: %v", err), now)
	}

	ack, err := s.deps.Dispatcher.Dispatch(ctx, req)
	if err != nil {
		return s.dispatchFailed(ctx, key, res, "dispatch rejected: "+err.Error(), now)
	}
	if !ack.Accepted {
		reason := ack.Reason
		if reason == "" {
			reason = "not accepted"
		}
		return s.dispatchFailed(ctx, key, res, "dispatch rejected: "+reason, now)
	}

	s.logger.Infow("dispatched",
		"activity", policy.Key,
		"site_id", siteID,
		"decision", string(decision.Kind),
		"tier", req.Tier.String(),
		"dispatch_id", req.ID.String(),
		"external_ref", ack.ExternalRef,
	)
	res.outcome = outcomeDispatched
	return res
}

func (s *Scheduler) dispatchFailed(ctx context.Context, key domain.RecordKey, res siteResult, reason string, now time.Time) siteResult {
	s.logger.Warnw("dispatch failed", "activity", key.ActivityKey, "site_id", key.SiteID, "reason", reason)
	// Use a detached context so a cancelled tick still releases the key.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.deps.Store.Finish(finishCtx, key, domain.ExecutionStatusFailed, reason, now); err != nil {
		s.logger.Errorw("mark failed after dispatch error", "activity", key.ActivityKey, "site_id", key.SiteID, "error", err)
	}
	res.outcome = outcomeDispatchFailed
	res.reason = reason
	return res
}
