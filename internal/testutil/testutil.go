// Package testutil provides shared test helpers for sitepulse.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/djlord-it/sitepulse/internal/domain"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Set jumps the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Logger returns a sugared logger that writes through t.Log.
func Logger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	return zaptest.NewLogger(t).Sugar()
}

// MustLoadLocation loads an IANA zone and panics on error.
// Only for use in tests.
func MustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic("testutil.MustLoadLocation: " + err.Error())
	}
	return loc
}

// SiteWithHours builds a site that is open open-close on each of days.
func SiteWithHours(id, tz, open, close string, days ...time.Weekday) domain.Site {
	site := domain.Site{ID: id, Timezone: tz}
	if len(days) == 0 {
		return site
	}
	site.BusinessHours = make(map[time.Weekday]domain.BusinessHoursWindow, len(days))
	for _, d := range days {
		site.BusinessHours[d] = domain.BusinessHoursWindow{Open: open, Close: close, Enabled: true}
	}
	return site
}

// AllWeek lists every weekday, Sunday first.
var AllWeek = []time.Weekday{
	time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday,
}
