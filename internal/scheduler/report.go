package scheduler

import (
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/sitepulse/internal/domain"
)

// Report is the per-tick summary. It is the only observable output of a
// tick; dashboards and the API read it, nothing else depends on its shape.
type Report struct {
	TickID     uuid.UUID `json:"tick_id"`
	Activity   string    `json:"activity"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	SitesTotal     int `json:"sites_total"`
	SitesWithHours int `json:"sites_with_hours"`
	SitesOpenToday int `json:"sites_open_today"`
	SitesFailed    int `json:"sites_failed"`

	Decisions map[domain.DecisionKind]int `json:"decisions"`

	// Dispatched holds only requests the runtime accepted.
	Dispatched []domain.DispatchRequest `json:"dispatched"`

	// Deferred holds schedule_later and skip outcomes.
	Deferred []SiteOutcome `json:"deferred,omitempty"`

	// Blocked holds runnable sites held back by single-flight.
	Blocked []SiteOutcome `json:"blocked,omitempty"`

	FailedDispatches []DispatchFailure `json:"failed_dispatches,omitempty"`
	Reclaimed        int               `json:"reclaimed"`
	Errors           []SiteError       `json:"errors,omitempty"`
}

type SiteOutcome struct {
	SiteID   string                `json:"site_id"`
	Decision domain.TimingDecision `json:"decision"`
	Reason   string                `json:"reason,omitempty"`
}

type DispatchFailure struct {
	SiteID     string    `json:"site_id"`
	DispatchID uuid.UUID `json:"dispatch_id"`
	Reason     string    `json:"reason"`
}

type SiteError struct {
	SiteID string `json:"site_id"`
	Error  string `json:"error"`
}

func newReport(activity string, startedAt time.Time) Report {
	return Report{
		TickID:    uuid.New(),
		Activity:  activity,
		StartedAt: startedAt,
		Decisions: make(map[domain.DecisionKind]int, 4),
	}
}

// Runnable returns how many sites got execute_now or catch_up.
func (r Report) Runnable() int {
	return r.Decisions[domain.DecisionExecuteNow] + r.Decisions[domain.DecisionCatchUp]
}
