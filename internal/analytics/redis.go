// Package analytics folds tick reports into hourly Redis counters that
// dashboards read.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/sitepulse/internal/scheduler"
)

// DefaultRetention is how long an hourly bucket is kept.
const DefaultRetention = 14 * 24 * time.Hour

// Increment is one counter bump derived from a report.
type Increment struct {
	Key   string
	Delta int64
}

type RedisSink struct {
	client    redis.Cmdable
	retention time.Duration
}

func NewRedisSink(client redis.Cmdable, retention time.Duration) *RedisSink {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisSink{client: client, retention: retention}
}

// Consume writes the report's counters in one pipeline.
func (s *RedisSink) Consume(ctx context.Context, report scheduler.Report) error {
	incs := Increments(report)
	if len(incs) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, inc := range incs {
		pipe.IncrBy(ctx, inc.Key, inc.Delta)
		pipe.Expire(ctx, inc.Key, s.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis pipeline")
	}
	return nil
}

// Increments lists the counters a report contributes, sorted by key.
// Zero counts are omitted.
func Increments(report scheduler.Report) []Increment {
	bucket := hourBucket(report.StartedAt)
	var out []Increment
	add := func(metric string, n int) {
		if n > 0 {
			out = append(out, Increment{Key: buildKey(report.Activity, metric, bucket), Delta: int64(n)})
		}
	}

	for kind, n := range report.Decisions {
		add("d:"+string(kind), n)
	}
	add("dispatched", len(report.Dispatched))
	add("dispatch_failed", len(report.FailedDispatches))
	add("blocked", len(report.Blocked))
	add("reclaimed", report.Reclaimed)
	add("site_errors", report.SitesFailed)

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func buildKey(activity, metric, bucket string) string {
	return fmt.Sprintf("sp:a:%s:%s:%s", activity, metric, bucket)
}

func hourBucket(t time.Time) string {
	return t.UTC().Format("2006010215")
}
