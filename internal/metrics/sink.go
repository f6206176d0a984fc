package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Scheduler metrics
	TickStarted(activity string)
	TickCompleted(activity string, duration time.Duration, dispatched int, err error)
	TickDrift(drift time.Duration)
	DecisionRecorded(activity, kind string)
	SiteEvaluationFailed(activity string)

	// Dispatcher metrics
	DispatchCompleted(activity, outcome string, duration time.Duration)

	// Reaper metrics
	StoreFailOpen(activity string)
	RecordReclaimed(activity string)

	// Report bus metrics
	BufferSizeUpdate(size int)
	EmitError()

	// Leader election
	LeaderStatus(isLeader bool)
}
