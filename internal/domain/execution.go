package domain

import (
	"time"

	"github.com/cockroachdb/errors"
)

type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ErrTransitionDenied is returned when a status change is not an edge of the
// execution state machine (for example completed -> failed, or running -> running).
var ErrTransitionDenied = errors.New("status transition denied")

// ParseExecutionStatus rejects anything outside the closed set.
func ParseExecutionStatus(s string) (ExecutionStatus, error) {
	switch st := ExecutionStatus(s); st {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusCompleted, ExecutionStatusFailed:
		return st, nil
	}
	return "", errors.Newf("unknown execution status %q", s)
}

// IsTerminal reports whether the status ends a run.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// CanTransition reports whether from -> to is allowed. An empty from means the
// record does not exist yet. A new run reuses the key, so terminal states may
// move back to pending or running.
func CanTransition(from, to ExecutionStatus) bool {
	switch from {
	case "":
		return to == ExecutionStatusPending || to == ExecutionStatusRunning
	case ExecutionStatusPending:
		return to == ExecutionStatusRunning || to == ExecutionStatusPending
	case ExecutionStatusRunning:
		return to.IsTerminal()
	case ExecutionStatusCompleted, ExecutionStatusFailed:
		return to == ExecutionStatusPending || to == ExecutionStatusRunning
	}
	return false
}

// GlobalSiteID keys fleet-wide activities that are not bound to one site.
const GlobalSiteID = "global"

// RecordKey identifies one execution ledger entry.
type RecordKey struct {
	ActivityKey string
	SiteID      string
}

func (k RecordKey) String() string {
	return k.ActivityKey + "/" + k.SiteID
}

// ExecutionRecord is the single-flight and watchdog entry for one (activity, site).
// Records are overwritten in place and never deleted.
type ExecutionRecord struct {
	Key RecordKey

	Status       ExecutionStatus
	LastRunAt    *time.Time
	NextRunAt    *time.Time
	RetryCount   int
	ErrorMessage string

	UpdatedAt time.Time
}
