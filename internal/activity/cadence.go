package activity

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

var cadenceParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Cadence is how often the fleet is ticked for one activity.
// Expressions are standard five-field cron or descriptors like "@hourly",
// always evaluated in UTC; business hours are handled per site, not here.
type Cadence struct {
	expr  string
	sched cron.Schedule
}

func ParseCadence(expr string) (Cadence, error) {
	sched, err := cadenceParser.Parse(expr)
	if err != nil {
		return Cadence{}, errors.Wrapf(err, "parse cadence %q", expr)
	}
	return Cadence{expr: expr, sched: sched}, nil
}

// Next returns the first fire time strictly after after.
func (c Cadence) Next(after time.Time) time.Time {
	if c.sched == nil {
		return time.Time{}
	}
	return c.sched.Next(after.UTC())
}

// FiredBetween reports whether the cadence fired in (from, to].
func (c Cadence) FiredBetween(from, to time.Time) bool {
	next := c.Next(from)
	return !next.IsZero() && !next.After(to)
}

func (c Cadence) String() string {
	return c.expr
}
