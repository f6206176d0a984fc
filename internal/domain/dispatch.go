package domain

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// PriorityTier is ordered: a lower value is more urgent.
type PriorityTier int

const (
	TierCritical PriorityTier = iota
	TierHigh
	TierNormal
	TierLow
	TierBackground
)

var tierNames = [...]string{"critical", "high", "normal", "low", "background"}

func (t PriorityTier) String() string {
	if t < TierCritical || t > TierBackground {
		return "unknown"
	}
	return tierNames[t]
}

// ParsePriorityTier accepts the lower-case tier name.
func ParsePriorityTier(s string) (PriorityTier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range tierNames {
		if name == s {
			return PriorityTier(i), nil
		}
	}
	return 0, errors.Newf("unknown priority tier %q", s)
}

func (t PriorityTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *PriorityTier) UnmarshalText(b []byte) error {
	parsed, err := ParsePriorityTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TierBudget is the concurrency quota and duration budget the runtime applies to a tier.
type TierBudget struct {
	MaxConcurrency int           `json:"max_concurrency"`
	MaxDuration    time.Duration `json:"max_duration"`
}

type DispatchMode string

const (
	DispatchModeNormal  DispatchMode = "normal"
	DispatchModeCatchUp DispatchMode = "catch_up"
)

// DispatchRequest is handed to the durable-execution runtime for one runnable decision.
type DispatchRequest struct {
	ID          uuid.UUID    `json:"id"`
	ActivityKey string       `json:"activity"`
	SiteID      string       `json:"site_id"`
	Tier        PriorityTier `json:"tier"`
	Budget      TierBudget   `json:"budget"`
	Mode        DispatchMode `json:"mode"`
	IssuedAt    time.Time    `json:"issued_at"`
}

// Key returns the ledger key the request runs under.
func (r DispatchRequest) Key() RecordKey {
	return RecordKey{ActivityKey: r.ActivityKey, SiteID: r.SiteID}
}

// DispatchAck is the runtime's answer to a DispatchRequest.
type DispatchAck struct {
	Accepted    bool   `json:"accepted"`
	ExternalRef string `json:"external_ref,omitempty"`
	Reason      string `json:"reason,omitempty"`
}
