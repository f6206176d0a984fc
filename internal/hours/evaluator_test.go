package hours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/sitepulse/internal/domain"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("tzdata unavailable for %s: %v", name, err)
	}
	return loc
}

func siteWith(tz string, days map[time.Weekday]domain.BusinessHoursWindow) domain.Site {
	return domain.Site{ID: "site-a", Timezone: tz, BusinessHours: days}
}

func TestEvaluate_OpenInsideWindow(t *testing.T) {
	loc := mustLoad(t, "America/Mexico_City")
	site := siteWith("America/Mexico_City", map[time.Weekday]domain.BusinessHoursWindow{
		time.Saturday: {Open: "09:00", Close: "18:00", Enabled: true},
	})

	now := time.Date(2024, 6, 15, 10, 0, 0, 0, loc) // Saturday
	ev := Evaluate(site, now.UTC())

	assert.True(t, ev.IsOpenNow)
	require.NotNil(t, ev.TodayWindow)
	assert.Equal(t, time.Saturday, ev.Weekday)
	assert.Equal(t, "America/Mexico_City", ev.Location.String())
	assert.Empty(t, ev.Problem)
}

func TestEvaluate_HalfOpenInterval(t *testing.T) {
	loc := mustLoad(t, "Europe/Madrid")
	site := siteWith("Europe/Madrid", map[time.Weekday]domain.BusinessHoursWindow{
		time.Monday: {Open: "09:00", Close: "18:00", Enabled: true},
	})

	atOpen := time.Date(2024, 6, 17, 9, 0, 0, 0, loc)
	atClose := time.Date(2024, 6, 17, 18, 0, 0, 0, loc)
	justBeforeClose := atClose.Add(-time.Second)

	assert.True(t, Evaluate(site, atOpen).IsOpenNow, "open bound is inclusive")
	assert.True(t, Evaluate(site, justBeforeClose).IsOpenNow)
	assert.False(t, Evaluate(site, atClose).IsOpenNow, "close bound is exclusive")
	assert.NotNil(t, Evaluate(site, atClose).TodayWindow)
}

func TestEvaluate_DayOfWeekUsesSiteTimezone(t *testing.T) {
	mustLoad(t, "America/Mexico_City")
	site := siteWith("America/Mexico_City", map[time.Weekday]domain.BusinessHoursWindow{
		time.Saturday: {Open: "09:00", Close: "23:00", Enabled: true},
	})

	// Sunday 02:00 UTC is Saturday 20:00 in Mexico City.
	now := time.Date(2024, 6, 16, 2, 0, 0, 0, time.UTC)
	ev := Evaluate(site, now)

	assert.Equal(t, time.Saturday, ev.Weekday)
	assert.True(t, ev.IsOpenNow)
}

func TestEvaluate_AbsentOrDisabledDayIsClosed(t *testing.T) {
	loc := mustLoad(t, "UTC")
	site := siteWith("UTC", map[time.Weekday]domain.BusinessHoursWindow{
		time.Monday:  {Open: "09:00", Close: "18:00", Enabled: false},
		time.Tuesday: {Open: "09:00", Close: "18:00", Enabled: true},
	})

	monday := time.Date(2024, 6, 17, 10, 0, 0, 0, loc)
	wednesday := time.Date(2024, 6, 19, 10, 0, 0, 0, loc)

	for _, now := range []time.Time{monday, wednesday} {
		ev := Evaluate(site, now)
		assert.False(t, ev.IsOpenNow)
		assert.Nil(t, ev.TodayWindow)
	}
}

func TestEvaluate_NoHoursAtAll(t *testing.T) {
	ev := Evaluate(domain.Site{ID: "bare"}, time.Date(2024, 6, 18, 10, 0, 0, 0, time.UTC))
	assert.False(t, ev.IsOpenNow)
	assert.Nil(t, ev.TodayWindow)
	assert.Equal(t, time.UTC, ev.Location)
}

func TestEvaluate_MalformedResolvesClosed(t *testing.T) {
	tests := []struct {
		name   string
		window domain.BusinessHoursWindow
	}{
		{"bad open", domain.BusinessHoursWindow{Open: "nine", Close: "18:00", Enabled: true}},
		{"bad close", domain.BusinessHoursWindow{Open: "09:00", Close: "25:00", Enabled: true}},
		{"inverted", domain.BusinessHoursWindow{Open: "18:00", Close: "09:00", Enabled: true}},
		{"empty", domain.BusinessHoursWindow{Open: "09:00", Close: "09:00", Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := siteWith("UTC", map[time.Weekday]domain.BusinessHoursWindow{time.Tuesday: tt.window})
			ev := Evaluate(site, time.Date(2024, 6, 18, 12, 0, 0, 0, time.UTC))
			assert.False(t, ev.IsOpenNow)
			assert.Nil(t, ev.TodayWindow)
			assert.NotEmpty(t, ev.Problem)
		})
	}
}

func TestEvaluate_UnknownSiteTimezoneFallsBackToUTC(t *testing.T) {
	site := siteWith("Mars/Olympus_Mons", map[time.Weekday]domain.BusinessHoursWindow{
		time.Tuesday: {Open: "09:00", Close: "18:00", Enabled: true},
	})
	ev := Evaluate(site, time.Date(2024, 6, 18, 12, 0, 0, 0, time.UTC))

	assert.True(t, ev.IsOpenNow)
	assert.Equal(t, time.UTC, ev.Location)
	assert.Contains(t, ev.Problem, "Mars/Olympus_Mons")
}

func TestEvaluate_WindowTimezoneOverride(t *testing.T) {
	tokyo := mustLoad(t, "Asia/Tokyo")
	site := siteWith("UTC", map[time.Weekday]domain.BusinessHoursWindow{
		time.Tuesday: {Open: "09:00", Close: "18:00", Timezone: "Asia/Tokyo", Enabled: true},
	})

	// Tuesday 10:00 in Tokyo is Tuesday 01:00 UTC: closed in UTC terms, open in Tokyo.
	now := time.Date(2024, 6, 18, 10, 0, 0, 0, tokyo)
	ev := Evaluate(site, now)

	assert.True(t, ev.IsOpenNow)
	assert.Equal(t, "Asia/Tokyo", ev.Location.String())
	require.NotNil(t, ev.TodayWindow)
	assert.True(t, time.Date(2024, 6, 18, 9, 0, 0, 0, tokyo).Equal(ev.TodayWindow.OpenAt(ev.LocalNow)))
}

func TestEvaluate_WindowOverrideOnDifferentCalendarDay(t *testing.T) {
	mustLoad(t, "Asia/Tokyo")
	site := siteWith("UTC", map[time.Weekday]domain.BusinessHoursWindow{
		time.Monday:  {Open: "09:00", Close: "18:00", Timezone: "Asia/Tokyo", Enabled: true},
		time.Tuesday: {Open: "09:00", Close: "18:00", Timezone: "Asia/Tokyo", Enabled: true},
	})

	// Monday 23:00 UTC is Tuesday 08:00 in Tokyo: Tuesday's entry applies, not yet open.
	now := time.Date(2024, 6, 17, 23, 0, 0, 0, time.UTC)
	ev := Evaluate(site, now)

	assert.Equal(t, time.Tuesday, ev.Weekday)
	assert.False(t, ev.IsOpenNow)
	require.NotNil(t, ev.TodayWindow)
}

func TestEvaluate_Idempotent(t *testing.T) {
	site := siteWith("Europe/Madrid", map[time.Weekday]domain.BusinessHoursWindow{
		time.Tuesday: {Open: "09:00", Close: "18:00", Enabled: true},
	})
	now := time.Date(2024, 6, 18, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, Evaluate(site, now), Evaluate(site, now))
}
