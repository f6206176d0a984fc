package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/djlord-it/sitepulse/internal/activity"
)

// SweepConfig holds sweeper configuration.
type SweepConfig struct {
	// Interval is how often every activity is scanned. Default: 10 minutes.
	Interval time.Duration

	// BatchSize caps the records reclaimed per activity per cycle. Default: 100.
	BatchSize int
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:  10 * time.Minute,
		BatchSize: 100,
	}
}

// Sweeper reclaims stuck records of every site-scoped and global activity,
// including keys that no tick touches any more (for example a site that
// left the directory while its run was RUNNING).
type Sweeper struct {
	config   SweepConfig
	reaper   *Reaper
	store    Store
	policies []activity.Policy
	logger   *zap.SugaredLogger
}

func NewSweeper(config SweepConfig, reaper *Reaper, store Store, policies []activity.Policy) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultSweepConfig().Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSweepConfig().BatchSize
	}
	return &Sweeper{
		config:   config,
		reaper:   reaper,
		store:    store,
		policies: policies,
		logger:   reaper.logger.Named("sweeper"),
	}
}

// Run scans immediately and then every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Infow("started", "interval", s.config.Interval.String(), "batch", s.config.BatchSize, "activities", len(s.policies))

	s.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopped")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle performs one scan and returns the number of records reclaimed.
func (s *Sweeper) RunCycle(ctx context.Context) int {
	now := s.reaper.clock().UTC()
	total := 0

	for _, p := range s.policies {
		if ctx.Err() != nil {
			return total
		}

		stale, err := s.store.ListStale(ctx, p.Key, now.Add(-p.StalenessThreshold), s.config.BatchSize)
		if err != nil {
			// Retried next interval.
			s.logger.Warnw("list stale records failed", "activity", p.Key, "error", err)
			continue
		}

		for _, rec := range stale {
			if ctx.Err() != nil {
				return total
			}
			v := s.reaper.judge(ctx, rec, p.StalenessThreshold, now, true)
			if v.Cleaned {
				total++
			}
		}
	}

	if total > 0 {
		s.logger.Infow("cycle complete", "reclaimed", total)
	}
	return total
}
