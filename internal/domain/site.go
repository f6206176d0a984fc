package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Site is one independently configured location in the fleet.
// It is owned by the site directory and treated as read-only for a tick.
type Site struct {
	ID       string
	Timezone string // IANA timezone, defaults to UTC

	// BusinessHours may be nil (no configuration at all) or miss individual days.
	BusinessHours map[time.Weekday]BusinessHoursWindow

	// ActivityOverrides maps activity key to enabled; absent keys are enabled.
	ActivityOverrides map[string]bool
}

// HasBusinessHours reports whether the site has at least one enabled
// business-hours entry. A site whose entries are all disabled counts as
// unconfigured, both for SitesWithHours and for SkipClosedDays.
func (s Site) HasBusinessHours() bool {
	for _, w := range s.BusinessHours {
		if w.Enabled {
			return true
		}
	}
	return false
}

// ActivityEnabled reports whether the activity may run for this site.
func (s Site) ActivityEnabled(activityKey string) bool {
	enabled, ok := s.ActivityOverrides[activityKey]
	if !ok {
		return true
	}
	return enabled
}

// BusinessHoursWindow is the open/close range for one day of the week.
// Open and Close are local times of day ("09:00" or "09:00:00"); Timezone,
// when set, overrides the site default for that day.
type BusinessHoursWindow struct {
	Open     string `json:"open" yaml:"open"`
	Close    string `json:"close" yaml:"close"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
}

// TimeOfDay is a wall-clock offset from local midnight.
type TimeOfDay time.Duration

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" in 24h notation.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, errors.Newf("time of day %q: want HH:MM or HH:MM:SS", s)
	}

	limits := []int{23, 59, 59}
	units := []time.Duration{time.Hour, time.Minute, time.Second}

	var d time.Duration
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, errors.Newf("time of day %q: invalid component %q", s, p)
		}
		d += time.Duration(n) * units[i]
	}
	return TimeOfDay(d), nil
}

// MustParseTimeOfDay is ParseTimeOfDay for constants; it panics on bad input.
func MustParseTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Of returns the time of day of t in t's location.
func Of(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second + time.Duration(t.Nanosecond()))
}

// On returns the instant at this time of day on t's calendar date in loc.
func (d TimeOfDay) On(t time.Time, loc *time.Location) time.Time {
	y, m, day := t.In(loc).Date()
	dur := time.Duration(d)
	h := int(dur / time.Hour)
	mi := int(dur % time.Hour / time.Minute)
	sec := int(dur % time.Minute / time.Second)
	return time.Date(y, m, day, h, mi, sec, 0, loc)
}

func (d TimeOfDay) String() string {
	dur := time.Duration(d)
	h := int(dur / time.Hour)
	m := int(dur % time.Hour / time.Minute)
	s := int(dur % time.Minute / time.Second)
	if s == 0 {
		return pad2(h) + ":" + pad2(m)
	}
	return pad2(h) + ":" + pad2(m) + ":" + pad2(s)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekday accepts short ("mon") or full ("monday") names, case-insensitive.
func ParseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, errors.Newf("unknown weekday %q", s)
	}
	return d, nil
}
