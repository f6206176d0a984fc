// Package storetest is the behavioural suite every store.Records
// implementation runs from its own tests.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/sitepulse/internal/domain"
	"github.com/djlord-it/sitepulse/internal/store"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.Records

var base = time.Date(2024, 6, 18, 10, 0, 0, 0, time.UTC)

func key(site string) domain.RecordKey {
	return domain.RecordKey{ActivityKey: "daily_report", SiteID: site}
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Records)
	}{
		{"GetMissing", testGetMissing},
		{"BeginCreatesRunning", testBeginCreatesRunning},
		{"BeginRefusesWhileRunning", testBeginRefusesWhileRunning},
		{"BeginRetryAccounting", testBeginRetryAccounting},
		{"FinishTransitions", testFinishTransitions},
		{"MarkPending", testMarkPending},
		{"ReclaimStaleOnce", testReclaimStaleOnce},
		{"ListStale", testListStale},
		{"ListStaleNoLimit", testListStaleNoLimit},
		{"ConcurrentBeginSingleWinner", testConcurrentBegin},
		{"Ping", testPing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func testGetMissing(t *testing.T, s store.Records) {
	_, err := s.Get(context.Background(), key("nope"))
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
}

func testBeginCreatesRunning(t *testing.T, s store.Records) {
	ctx := context.Background()

	ok, err := s.Begin(ctx, key("a"), base)
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := s.Get(ctx, key("a"))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusRunning, rec.Status)
	assert.Equal(t, 0, rec.RetryCount)
	require.NotNil(t, rec.LastRunAt)
	assert.True(t, rec.LastRunAt.Equal(base))
	assert.True(t, rec.UpdatedAt.Equal(base))
	assert.Nil(t, rec.NextRunAt)
}

func testBeginRefusesWhileRunning(t *testing.T, s store.Records) {
	ctx := context.Background()

	ok, err := s.Begin(ctx, key("a"), base)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Begin(ctx, key("a"), base.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := s.Get(ctx, key("a"))
	require.NoError(t, err)
	assert.True(t, rec.UpdatedAt.Equal(base), "refused begin must not touch the record")
}

func testBeginRetryAccounting(t *testing.T, s store.Records) {
	ctx := context.Background()
	k := key("a")

	_, err := s.Begin(ctx, k, base)
	require.NoError(t, err)
	require.NoError(t, s.Finish(ctx, k, domain.ExecutionStatusFailed, "boom", base.Add(time.Minute)))

	ok, err := s.Begin(ctx, k, base.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	rec, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Empty(t, rec.ErrorMessage, "a new run clears the previous error")

	require.NoError(t, s.Finish(ctx, k, domain.ExecutionStatusCompleted, "", base.Add(2*time.Hour)))
	_, err = s.Begin(ctx, k, base.Add(3*time.Hour))
	require.NoError(t, err)
	rec, err = s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.RetryCount)
}

func testFinishTransitions(t *testing.T, s store.Records) {
	ctx := context.Background()
	k := key("a")

	err := s.Finish(ctx, k, domain.ExecutionStatusCompleted, "", base)
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)

	_, err = s.Begin(ctx, k, base)
	require.NoError(t, err)

	err = s.Finish(ctx, k, domain.ExecutionStatusPending, "", base)
	assert.True(t, errors.Is(err, domain.ErrTransitionDenied), "non-terminal target: got %v", err)

	require.NoError(t, s.Finish(ctx, k, domain.ExecutionStatusCompleted, "", base.Add(time.Minute)))
	rec, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, rec.Status)
	assert.True(t, rec.UpdatedAt.Equal(base.Add(time.Minute)))

	err = s.Finish(ctx, k, domain.ExecutionStatusFailed, "late", base.Add(2*time.Minute))
	assert.True(t, errors.Is(err, domain.ErrTransitionDenied), "completed -> failed: got %v", err)
}

func testMarkPending(t *testing.T, s store.Records) {
	ctx := context.Background()
	next := base.Add(3 * time.Hour)

	require.NoError(t, s.MarkPending(ctx, key("new"), next, base))
	rec, err := s.Get(ctx, key("new"))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusPending, rec.Status)
	require.NotNil(t, rec.NextRunAt)
	assert.True(t, rec.NextRunAt.Equal(next))

	_, err = s.Begin(ctx, key("busy"), base)
	require.NoError(t, err)
	require.NoError(t, s.MarkPending(ctx, key("busy"), next, base.Add(time.Minute)))
	rec, err = s.Get(ctx, key("busy"))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusRunning, rec.Status)
	assert.Nil(t, rec.NextRunAt)
	assert.True(t, rec.UpdatedAt.Equal(base), "running record must not be refreshed")

	require.NoError(t, s.Finish(ctx, key("busy"), domain.ExecutionStatusCompleted, "", base.Add(time.Minute)))
	require.NoError(t, s.MarkPending(ctx, key("busy"), next, base.Add(2*time.Minute)))
	rec, err = s.Get(ctx, key("busy"))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, rec.Status, "last outcome is kept")
	require.NotNil(t, rec.NextRunAt)
	assert.True(t, rec.NextRunAt.Equal(next))
}

func testReclaimStaleOnce(t *testing.T, s store.Records) {
	ctx := context.Background()
	k := key("x")
	_, err := s.Begin(ctx, k, base)
	require.NoError(t, err)

	now := base.Add(26 * time.Hour)

	ok, err := s.ReclaimStale(ctx, k, base, now, "too early")
	require.NoError(t, err)
	assert.False(t, ok, "updated_at equal to the bound is not stale")

	ok, err = s.ReclaimStale(ctx, k, now.Add(-24*time.Hour), now, "auto-reset")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ReclaimStale(ctx, k, now.Add(-24*time.Hour), now, "auto-reset")
	require.NoError(t, err)
	assert.False(t, ok, "second reclaim must not apply")

	rec, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusFailed, rec.Status)
	assert.Equal(t, "auto-reset", rec.ErrorMessage)
	assert.True(t, rec.UpdatedAt.Equal(now))

	ok, err = s.ReclaimStale(ctx, key("missing"), now, now, "x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testListStale(t *testing.T, s store.Records) {
	ctx := context.Background()

	for i, site := range []string{"c", "a", "b"} {
		_, err := s.Begin(ctx, key(site), base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}
	_, err := s.Begin(ctx, key("fresh"), base.Add(10*time.Hour))
	require.NoError(t, err)
	_, err = s.Begin(ctx, domain.RecordKey{ActivityKey: "other", SiteID: "a"}, base)
	require.NoError(t, err)
	_, err = s.Begin(ctx, key("done"), base)
	require.NoError(t, err)
	require.NoError(t, s.Finish(ctx, key("done"), domain.ExecutionStatusCompleted, "", base))

	got, err := s.ListStale(ctx, "daily_report", base.Add(5*time.Hour), 10)
	require.NoError(t, err)
	var sites []string
	for _, r := range got {
		sites = append(sites, r.Key.SiteID)
		assert.Equal(t, "daily_report", r.Key.ActivityKey)
	}
	assert.Equal(t, []string{"c", "a", "b"}, sites, "oldest first")

	got, err = s.ListStale(ctx, "daily_report", base.Add(5*time.Hour), 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

// A non-positive limit returns every stale record.
func testListStaleNoLimit(t *testing.T, s store.Records) {
	ctx := context.Background()

	for i, site := range []string{"a", "b", "c", "d"} {
		_, err := s.Begin(ctx, key(site), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	for _, limit := range []int{0, -1} {
		got, err := s.ListStale(ctx, "daily_report", base.Add(time.Hour), limit)
		require.NoError(t, err)
		assert.Len(t, got, 4, "limit %d", limit)
	}
}

func testConcurrentBegin(t *testing.T, s store.Records) {
	ctx := context.Background()
	const workers = 16

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Begin(ctx, key("race"), base)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func testPing(t *testing.T, s store.Records) {
	assert.NoError(t, s.Ping(context.Background()))
}
