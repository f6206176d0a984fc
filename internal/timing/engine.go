// Package timing turns a business-hours evaluation into a timing decision.
//
// Sites with a window today get a catch-up grace period after close.
// Sites without a window today, whether unconfigured or closed that day, get
// a fixed weekday band and never run on the designated weekend days.
package timing

import (
	"time"

	"github.com/djlord-it/sitepulse/internal/domain"
	"github.com/djlord-it/sitepulse/internal/hours"
)

// Skip reasons.
const (
	ReasonPastCatchUp        = "past catch-up window"
	ReasonPastFallback       = "past fallback window"
	ReasonWeekendNoFallback  = "no business hours and weekend, no fallback"
	ReasonClosedToday        = "closed today"
	ReasonFallbackIneligible = "no business hours and not a fallback day"
)

// DefaultCatchUpHours is the grace period after close used when a policy sets none.
const DefaultCatchUpHours = 4

// FallbackPolicy applies to sites with no usable window today.
type FallbackPolicy struct {
	Start domain.TimeOfDay
	End   domain.TimeOfDay

	// Weekend days never get a fallback run, regardless of time of day.
	// Evaluated in the site's local day of week.
	Weekend []time.Weekday

	// SkipClosedDays skips sites that have hours configured but no usable
	// window today instead of applying the fallback band. Off by default.
	SkipClosedDays bool
}

// DefaultFallback is weekdays 08:00-16:00 local, Saturday and Sunday excluded.
func DefaultFallback() FallbackPolicy {
	return FallbackPolicy{
		Start:   domain.MustParseTimeOfDay("08:00"),
		End:     domain.MustParseTimeOfDay("16:00"),
		Weekend: []time.Weekday{time.Saturday, time.Sunday},
	}
}

func (p FallbackPolicy) isWeekend(d time.Weekday) bool {
	for _, w := range p.Weekend {
		if w == d {
			return true
		}
	}
	return false
}

// Engine holds the fallback policy; it has no other state.
type Engine struct {
	fallback FallbackPolicy
}

func New(fallback FallbackPolicy) *Engine {
	return &Engine{fallback: fallback}
}

// Fallback returns the policy the engine was built with.
func (e *Engine) Fallback() FallbackPolicy {
	return e.fallback
}

// Decide applies the decision rules in order. catchUpHours < 0 is treated as 0.
func (e *Engine) Decide(site domain.Site, ev hours.Evaluation, catchUpHours int) domain.TimingDecision {
	if ev.TodayWindow == nil {
		if e.fallback.SkipClosedDays && site.HasBusinessHours() {
			return domain.Skip(ReasonClosedToday)
		}
		return e.decideFallback(ev)
	}

	w := ev.TodayWindow
	if ev.IsOpenNow {
		return domain.ExecuteNow()
	}

	openAt := w.OpenAt(ev.LocalNow)
	if ev.LocalNow.Before(openAt) {
		return domain.ScheduleLater(openAt)
	}

	if catchUpHours < 0 {
		catchUpHours = 0
	}
	catchUpEnd := w.CloseAt(ev.LocalNow).Add(time.Duration(catchUpHours) * time.Hour)
	if !ev.LocalNow.After(catchUpEnd) {
		return domain.CatchUp()
	}

	// The next occurrence is left to a later tick.
	return domain.Skip(ReasonPastCatchUp)
}

func (e *Engine) decideFallback(ev hours.Evaluation) domain.TimingDecision {
	if e.fallback.isWeekend(ev.LocalNow.Weekday()) {
		return domain.Skip(ReasonWeekendNoFallback)
	}
	if e.fallback.Start >= e.fallback.End {
		return domain.Skip(ReasonFallbackIneligible)
	}

	tod := domain.Of(ev.LocalNow)
	switch {
	case tod < e.fallback.Start:
		return domain.ScheduleLater(e.fallback.Start.On(ev.LocalNow, ev.Location))
	case tod < e.fallback.End:
		return domain.ExecuteNow()
	default:
		return domain.Skip(ReasonPastFallback)
	}
}
