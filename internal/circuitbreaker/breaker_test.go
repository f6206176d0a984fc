package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/djlord-it/sitepulse/internal/testutil"
)

const endpoint = "http://runtime.internal/v1/dispatch"

func newBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *testutil.FakeClock) {
	clock := testutil.NewFakeClock(time.Date(2024, 6, 18, 10, 0, 0, 0, time.UTC))
	return New(threshold, cooldown).WithClock(clock.Now), clock
}

func trip(cb *CircuitBreaker, key string, n int) {
	for i := 0; i < n; i++ {
		cb.RecordFailure(key)
	}
}

func TestAllow_UnknownEndpoint(t *testing.T) {
	cb, _ := newBreaker(3, 5*time.Second)
	if err := cb.Allow(endpoint); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if cb.State(endpoint) != StateClosed {
		t.Errorf("state = %s", cb.State(endpoint))
	}
}

func TestAllow_BelowThreshold(t *testing.T) {
	cb, _ := newBreaker(3, 5*time.Second)
	trip(cb, endpoint, 2)
	if err := cb.Allow(endpoint); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_AtThresholdOpens(t *testing.T) {
	cb, _ := newBreaker(3, 5*time.Second)
	trip(cb, endpoint, 3)
	err := cb.Allow(endpoint)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if cb.State(endpoint) != StateOpen {
		t.Errorf("state = %s, want open", cb.State(endpoint))
	}
}

func TestAllow_CooldownAllowsSingleProbe(t *testing.T) {
	cb, clock := newBreaker(3, time.Minute)
	trip(cb, endpoint, 3)

	clock.Advance(59 * time.Second)
	if err := cb.Allow(endpoint); err == nil {
		t.Fatal("still inside cooldown")
	}

	clock.Advance(time.Second)
	if err := cb.Allow(endpoint); err != nil {
		t.Fatalf("expected probe allowed, got %v", err)
	}
	if err := cb.Allow(endpoint); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen while probe in flight, got %v", err)
	}
}

func TestRecordSuccess_ClosesAfterProbe(t *testing.T) {
	cb, clock := newBreaker(3, time.Minute)
	trip(cb, endpoint, 3)
	clock.Advance(time.Minute)
	_ = cb.Allow(endpoint)

	cb.RecordSuccess(endpoint)
	if err := cb.Allow(endpoint); err != nil {
		t.Fatalf("expected nil after reset, got %v", err)
	}

	trip(cb, endpoint, 2)
	if err := cb.Allow(endpoint); err != nil {
		t.Fatal("failure count must restart from zero after a success")
	}
}

func TestRecordFailure_FailedProbeReopens(t *testing.T) {
	cb, clock := newBreaker(5, time.Minute)
	trip(cb, endpoint, 5)
	clock.Advance(time.Minute)
	_ = cb.Allow(endpoint)

	cb.RecordFailure(endpoint)
	if err := cb.Allow(endpoint); err == nil {
		t.Fatal("expected open after failed probe")
	}
	clock.Advance(30 * time.Second)
	if err := cb.Allow(endpoint); err == nil {
		t.Fatal("cooldown restarts at the failed probe")
	}
}

func TestIndependentEndpoints(t *testing.T) {
	cb, _ := newBreaker(2, 5*time.Second)
	trip(cb, "http://a/hook", 2)
	if err := cb.Allow("http://a/hook"); err == nil {
		t.Fatal("expected a open")
	}
	if err := cb.Allow("http://b/hook"); err != nil {
		t.Fatalf("expected b allowed, got %v", err)
	}
}

func TestZeroThresholdTreatedAsOne(t *testing.T) {
	cb, _ := newBreaker(0, time.Minute)
	cb.RecordFailure(endpoint)
	if err := cb.Allow(endpoint); err == nil {
		t.Fatal("expected open after a single failure")
	}
}

func TestConcurrentUse(t *testing.T) {
	cb, _ := newBreaker(1000, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Allow(endpoint)
			if i%2 == 0 {
				cb.RecordFailure(endpoint)
			} else {
				cb.RecordSuccess(endpoint)
			}
		}(i)
	}
	wg.Wait()
}
