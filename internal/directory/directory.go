// Package directory loads the fleet's site configuration. The directory is
// read-only from the scheduler's point of view and is re-read every tick,
// so operator edits apply without a restart.
package directory

import (
	"sort"
	"time"

	"github.com/djlord-it/sitepulse/internal/domain"
)

// WindowSpec is one weekday entry as written by operators. Enabled defaults
// to true when omitted.
type WindowSpec struct {
	Open     string `json:"open" yaml:"open"`
	Close    string `json:"close" yaml:"close"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// SiteSpec is one site as stored in a source, before normalization.
type SiteSpec struct {
	ID            string                `json:"id" yaml:"id"`
	Timezone      string                `json:"timezone" yaml:"timezone"`
	BusinessHours map[string]WindowSpec `json:"business_hours" yaml:"business_hours"`
	Activities    map[string]bool       `json:"activities" yaml:"activities"`
}

// Problem is a per-site configuration issue that was resolved by dropping
// the offending entry. The site itself is still scheduled.
type Problem struct {
	SiteID string
	Detail string
}

// Build normalizes specs into sites. Entries with an unknown weekday are
// dropped; sites without an ID or with a duplicate ID are skipped. Window
// contents (times, timezones) are validated later by the evaluator.
func Build(specs []SiteSpec) ([]domain.Site, []Problem) {
	var (
		sites    []domain.Site
		problems []Problem
		seen     = make(map[string]bool, len(specs))
	)

	for _, spec := range specs {
		if spec.ID == "" {
			problems = append(problems, Problem{Detail: "site without id skipped"})
			continue
		}
		if seen[spec.ID] {
			problems = append(problems, Problem{SiteID: spec.ID, Detail: "duplicate site id skipped"})
			continue
		}
		seen[spec.ID] = true

		site := domain.Site{
			ID:                spec.ID,
			Timezone:          spec.Timezone,
			ActivityOverrides: spec.Activities,
		}

		days := make([]string, 0, len(spec.BusinessHours))
		for day := range spec.BusinessHours {
			days = append(days, day)
		}
		sort.Strings(days)

		for _, day := range days {
			wd, err := domain.ParseWeekday(day)
			if err != nil {
				problems = append(problems, Problem{SiteID: spec.ID, Detail: err.Error()})
				continue
			}
			w := spec.BusinessHours[day]
			if site.BusinessHours == nil {
				site.BusinessHours = make(map[time.Weekday]domain.BusinessHoursWindow)
			}
			if _, dup := site.BusinessHours[wd]; dup {
				problems = append(problems, Problem{SiteID: spec.ID, Detail: "duplicate entry for " + wd.String()})
				continue
			}
			site.BusinessHours[wd] = domain.BusinessHoursWindow{
				Open:     w.Open,
				Close:    w.Close,
				Timezone: w.Timezone,
				Enabled:  w.Enabled == nil || *w.Enabled,
			}
		}

		sites = append(sites, site)
	}

	return sites, problems
}
