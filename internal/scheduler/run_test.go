package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/djlord-it/sitepulse/internal/activity"
	"github.com/djlord-it/sitepulse/internal/priority"
	"github.com/djlord-it/sitepulse/internal/testutil"
)

func cadenceTable(t *testing.T) []activity.Policy {
	t.Helper()
	table, err := activity.NewTable([]activity.Policy{
		{Key: "hourly_report", Type: priority.TypeDailyReport, Cadence: "@hourly", StalenessThreshold: time.Hour},
		{Key: "nightly", Type: priority.TypeFleetMaintenance, Scope: activity.ScopeGlobal, Cadence: "0 3 * * *", StalenessThreshold: time.Hour},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return table.All()
}

func TestRunPass_TicksOnlyFiredCadences(t *testing.T) {
	site := testutil.SiteWithHours("site-a", "UTC", "00:00", "23:59", testutil.AllWeek...)
	h := newHarness(t, site)
	clock := testutil.NewFakeClock(time.Date(2024, 6, 18, 10, 0, 30, 0, time.UTC))
	pub := &recordingPublisher{}
	metrics := &mockMetricsSink{}
	h.sched.WithPolicies(cadenceTable(t)).WithPublisher(pub).WithMetrics(metrics).WithClock(clock.Now)

	reports := h.sched.RunPass(context.Background())
	if len(reports) != 1 || reports[0].Activity != "hourly_report" {
		t.Fatalf("reports = %+v, want only hourly_report", reports)
	}
	if pub.count() != 1 {
		t.Errorf("published = %d, want 1", pub.count())
	}

	clock.Advance(time.Minute)
	if reports := h.sched.RunPass(context.Background()); len(reports) != 0 {
		t.Errorf("no cadence fired in (10:00:30, 10:01:30], got %d reports", len(reports))
	}
	if len(metrics.drifts) != 1 || metrics.drifts[0] != 0 {
		t.Errorf("drifts = %v, want [0]", metrics.drifts)
	}

	clock.Set(time.Date(2024, 6, 19, 3, 0, 10, 0, time.UTC))
	reports = h.sched.RunPass(context.Background())
	if len(reports) != 2 {
		t.Errorf("a long gap covers both cadences, got %d reports", len(reports))
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	sched := New(Config{TickInterval: 10 * time.Millisecond}, h.sched.deps, nil).WithPolicies(cadenceTable(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestReport_Runnable(t *testing.T) {
	r := newReport("x", time.Now())
	r.Decisions["execute_now"] = 2
	r.Decisions["catch_up"] = 1
	r.Decisions["skip"] = 5
	if r.Runnable() != 3 {
		t.Errorf("Runnable = %d, want 3", r.Runnable())
	}
}
