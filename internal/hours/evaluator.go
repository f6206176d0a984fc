// Package hours decides whether a site is open at a given instant.
//
// Evaluation is pure: "now" is always passed in, and malformed configuration
// resolves to "closed" with a Problem string instead of an error.
package hours

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/djlord-it/sitepulse/internal/domain"
)

// Window is a parsed, enabled business-hours entry.
type Window struct {
	Open     domain.TimeOfDay
	Close    domain.TimeOfDay
	Location *time.Location
}

// OpenAt returns today's opening instant relative to localNow.
func (w Window) OpenAt(localNow time.Time) time.Time {
	return w.Open.On(localNow, w.Location)
}

// CloseAt returns today's closing instant relative to localNow.
func (w Window) CloseAt(localNow time.Time) time.Time {
	return w.Close.On(localNow, w.Location)
}

// Evaluation is the evaluator output for one site at one instant.
type Evaluation struct {
	IsOpenNow   bool
	TodayWindow *Window // nil when absent, disabled or malformed

	Weekday  time.Weekday
	Location *time.Location
	LocalNow time.Time

	// Problem describes a configuration issue that was resolved locally.
	Problem string
}

// Evaluate computes the window state for site at now.
func Evaluate(site domain.Site, now time.Time) Evaluation {
	siteLoc, problem := loadLocation(site.Timezone, time.UTC)
	if problem != "" {
		problem = "site timezone: " + problem
	}

	localNow := now.In(siteLoc)
	day := localNow.Weekday()
	ev := Evaluation{Weekday: day, Location: siteLoc, LocalNow: localNow, Problem: problem}

	entry, ok := site.BusinessHours[day]
	if !ok || !entry.Enabled {
		return ev
	}

	loc, locProblem := loadLocation(entry.Timezone, siteLoc)
	if locProblem != "" {
		ev.Problem = joinProblem(ev.Problem, fmt.Sprintf("%s window timezone: %s", day, locProblem))
	}

	if loc.String() != siteLoc.String() {
		// The override zone may already be on another calendar day; use that
		// day's entry as long as it is bound to the same zone.
		overrideNow := now.In(loc)
		if overrideNow.Weekday() != day {
			day = overrideNow.Weekday()
			entry, ok = site.BusinessHours[day]
			if !ok || !entry.Enabled {
				return Evaluation{Weekday: day, Location: loc, LocalNow: overrideNow, Problem: ev.Problem}
			}
			if l, _ := loadLocation(entry.Timezone, siteLoc); l.String() != loc.String() {
				return Evaluation{Weekday: day, Location: loc, LocalNow: overrideNow, Problem: ev.Problem}
			}
		}
		ev.Weekday = day
		ev.Location = loc
		ev.LocalNow = overrideNow
	}

	w, err := parseWindow(entry, loc)
	if err != nil {
		ev.Problem = joinProblem(ev.Problem, fmt.Sprintf("%s window: %v", day, err))
		return ev
	}

	tod := domain.Of(ev.LocalNow)
	ev.TodayWindow = &w
	ev.IsOpenNow = tod >= w.Open && tod < w.Close
	return ev
}

func parseWindow(entry domain.BusinessHoursWindow, loc *time.Location) (Window, error) {
	open, err := domain.ParseTimeOfDay(entry.Open)
	if err != nil {
		return Window{}, err
	}
	closeAt, err := domain.ParseTimeOfDay(entry.Close)
	if err != nil {
		return Window{}, err
	}
	if open >= closeAt {
		return Window{}, errors.Newf("open %s is not before close %s", open, closeAt)
	}
	return Window{Open: open, Close: closeAt, Location: loc}, nil
}

// loadLocation resolves an IANA id, using fallback for empty or unknown ids.
func loadLocation(name string, fallback *time.Location) (*time.Location, string) {
	if name == "" {
		return fallback, ""
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback, fmt.Sprintf("unknown zone %q, using %s", name, fallback)
	}
	return loc, ""
}

func joinProblem(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
