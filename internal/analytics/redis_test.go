package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/sitepulse/internal/domain"
	"github.com/djlord-it/sitepulse/internal/scheduler"
)

func TestIncrements(t *testing.T) {
	loc, err := time.LoadLocation("America/Mexico_City")
	require.NoError(t, err)

	report := scheduler.Report{
		Activity:  "daily_report",
		StartedAt: time.Date(2024, 6, 22, 10, 15, 0, 0, loc),
		Decisions: map[domain.DecisionKind]int{
			domain.DecisionExecuteNow: 3,
			domain.DecisionSkip:       2,
			domain.DecisionCatchUp:    0,
		},
		Dispatched:       make([]domain.DispatchRequest, 2),
		FailedDispatches: make([]scheduler.DispatchFailure, 1),
		Reclaimed:        1,
	}

	got := Increments(report)
	want := []Increment{
		{Key: "sp:a:daily_report:d:execute_now:2024062216", Delta: 3},
		{Key: "sp:a:daily_report:d:skip:2024062216", Delta: 2},
		{Key: "sp:a:daily_report:dispatch_failed:2024062216", Delta: 1},
		{Key: "sp:a:daily_report:dispatched:2024062216", Delta: 2},
		{Key: "sp:a:daily_report:reclaimed:2024062216", Delta: 1},
	}
	assert.Equal(t, want, got)
}

func TestIncrements_EmptyReport(t *testing.T) {
	assert.Empty(t, Increments(scheduler.Report{Activity: "x", StartedAt: time.Now()}))
}

func TestRedisSink_EmptyReportSkipsRedis(t *testing.T) {
	// Nothing listens on this address; an empty report must not dial.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer client.Close()

	sink := NewRedisSink(client, 0)
	assert.NoError(t, sink.Consume(context.Background(), scheduler.Report{Activity: "x"}))
	assert.Equal(t, DefaultRetention, sink.retention)
}

func TestRedisSink_UnreachableRedisReturnsError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	sink := NewRedisSink(client, time.Hour)
	report := scheduler.Report{
		Activity:  "x",
		StartedAt: time.Now(),
		Decisions: map[domain.DecisionKind]int{domain.DecisionSkip: 1},
	}
	assert.Error(t, sink.Consume(context.Background(), report))
}
