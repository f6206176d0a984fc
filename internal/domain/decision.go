package domain

import "time"

type DecisionKind string

const (
	DecisionExecuteNow    DecisionKind = "execute_now"
	DecisionCatchUp       DecisionKind = "catch_up"
	DecisionScheduleLater DecisionKind = "schedule_later"
	DecisionSkip          DecisionKind = "skip"
)

// TimingDecision is produced fresh per tick and never persisted directly.
type TimingDecision struct {
	Kind   DecisionKind `json:"kind"`
	At     time.Time    `json:"at,omitempty"`     // schedule_later only
	Reason string       `json:"reason,omitempty"` // skip only
}

func ExecuteNow() TimingDecision { return TimingDecision{Kind: DecisionExecuteNow} }

func CatchUp() TimingDecision { return TimingDecision{Kind: DecisionCatchUp} }

func ScheduleLater(at time.Time) TimingDecision {
	return TimingDecision{Kind: DecisionScheduleLater, At: at}
}

func Skip(reason string) TimingDecision {
	return TimingDecision{Kind: DecisionSkip, Reason: reason}
}

// Runnable reports whether the decision leads to a dispatch this tick.
func (d TimingDecision) Runnable() bool {
	return d.Kind == DecisionExecuteNow || d.Kind == DecisionCatchUp
}

// Mode maps a runnable decision to the dispatch mode.
func (d TimingDecision) Mode() DispatchMode {
	if d.Kind == DecisionCatchUp {
		return DispatchModeCatchUp
	}
	return DispatchModeNormal
}
