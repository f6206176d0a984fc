package api

import (
	"context"
	"sort"
	"sync"

	"github.com/djlord-it/sitepulse/internal/scheduler"
)

// DefaultReportHistory is how many reports ReportCache keeps per activity.
const DefaultReportHistory = 48

// ReportCache keeps the most recent reports per activity in memory. It
// consumes the report bus and serves /v1/reports.
type ReportCache struct {
	mu      sync.RWMutex
	keep    int
	history map[string][]scheduler.Report // newest first
}

func NewReportCache(keep int) *ReportCache {
	if keep <= 0 {
		keep = DefaultReportHistory
	}
	return &ReportCache{keep: keep, history: make(map[string][]scheduler.Report)}
}

func (c *ReportCache) Consume(_ context.Context, report scheduler.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := append([]scheduler.Report{report}, c.history[report.Activity]...)
	if len(h) > c.keep {
		h = h[:c.keep]
	}
	c.history[report.Activity] = h
	return nil
}

// Latest returns the newest report of every activity, ordered by activity.
func (c *ReportCache) Latest() []scheduler.Report {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]scheduler.Report, 0, len(c.history))
	for _, h := range c.history {
		out = append(out, h[0])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Activity < out[j].Activity })
	return out
}

// History returns reports for one activity, newest first.
func (c *ReportCache) History(activity string, limit, offset int) []scheduler.Report {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h := c.history[activity]
	if offset >= len(h) {
		return nil
	}
	h = h[offset:]
	if limit > 0 && len(h) > limit {
		h = h[:limit]
	}
	return append([]scheduler.Report(nil), h...)
}
