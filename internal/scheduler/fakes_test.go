package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/sitepulse/internal/activity"
	"github.com/djlord-it/sitepulse/internal/domain"
	"github.com/djlord-it/sitepulse/internal/priority"
	"github.com/djlord-it/sitepulse/internal/reaper"
	"github.com/djlord-it/sitepulse/internal/store/memory"
	"github.com/djlord-it/sitepulse/internal/testutil"
	"github.com/djlord-it/sitepulse/internal/timing"
)

type fakeDirectory struct {
	mu    sync.Mutex
	sites []domain.Site
	err   error
	calls int
}

func (d *fakeDirectory) ListSites(ctx context.Context) ([]domain.Site, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.sites, nil
}

// fakeDispatcher accepts everything unless told otherwise per site.
type fakeDispatcher struct {
	mu       sync.Mutex
	requests []domain.DispatchRequest
	reject   map[string]string
	errs     map[string]error
	panicOn  string
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, req domain.DispatchRequest) (domain.DispatchAck, error) {
	if req.SiteID == d.panicOn {
		panic("runtime client exploded")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.errs[req.SiteID]; ok {
		return domain.DispatchAck{}, err
	}
	if reason, ok := d.reject[req.SiteID]; ok {
		return domain.DispatchAck{Accepted: false, Reason: reason}, nil
	}
	d.requests = append(d.requests, req)
	return domain.DispatchAck{Accepted: true, ExternalRef: "run-" + req.SiteID}, nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

// beginFailingStore wraps the memory store and fails every Begin.
type beginFailingStore struct {
	*memory.Store
}

func (s beginFailingStore) Begin(context.Context, domain.RecordKey, time.Time) (bool, error) {
	return false, errors.New("connection refused")
}

type recordingPublisher struct {
	mu      sync.Mutex
	reports []Report
}

func (p *recordingPublisher) Publish(ctx context.Context, r Report) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, r)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reports)
}

type mockMetricsSink struct {
	mu          sync.Mutex
	ticks       int
	completed   int
	drifts      []time.Duration
	decisions   map[string]int
	siteFailure int
}

func (m *mockMetricsSink) TickStarted(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks++
}

func (m *mockMetricsSink) TickCompleted(string, time.Duration, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
}

func (m *mockMetricsSink) TickDrift(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drifts = append(m.drifts, d)
}

func (m *mockMetricsSink) DecisionRecorded(_ string, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decisions == nil {
		m.decisions = make(map[string]int)
	}
	m.decisions[kind]++
}

func (m *mockMetricsSink) SiteEvaluationFailed(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.siteFailure++
}

type harness struct {
	sched      *Scheduler
	store      *memory.Store
	directory  *fakeDirectory
	dispatcher *fakeDispatcher
}

func newHarness(t *testing.T, sites ...domain.Site) *harness {
	t.Helper()
	st := memory.New()
	h := &harness{
		store:      st,
		directory:  &fakeDirectory{sites: sites},
		dispatcher: &fakeDispatcher{},
	}
	h.sched = New(Config{Workers: 4}, Deps{
		Directory:  h.directory,
		Store:      st,
		Reaper:     reaper.New(st, nil),
		Engine:     timing.New(timing.DefaultFallback()),
		Assigner:   priority.NewAssigner(),
		Dispatcher: h.dispatcher,
	}, testutil.Logger(t))
	return h
}

func dailyReport() activity.Policy {
	return activity.Policy{
		Key:                "daily_report",
		Type:               priority.TypeDailyReport,
		Scope:              activity.ScopeSite,
		Cadence:            "@hourly",
		StalenessThreshold: 24 * time.Hour,
	}
}

var mexicoCity = testutil.MustLoadLocation("America/Mexico_City")

// saturday is 2024-06-22, a Saturday; Mexico City has no DST since 2022.
func saturday(hour, minute int) time.Time {
	return time.Date(2024, 6, 22, hour, minute, 0, 0, mexicoCity)
}

func key(activity, site string) domain.RecordKey {
	return domain.RecordKey{ActivityKey: activity, SiteID: site}
}
