package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted(string)                              {}
func (n *NoopSink) TickCompleted(string, time.Duration, int, error) {}
func (n *NoopSink) TickDrift(time.Duration)                         {}
func (n *NoopSink) DecisionRecorded(string, string)                 {}
func (n *NoopSink) SiteEvaluationFailed(string)                     {}
func (n *NoopSink) DispatchCompleted(string, string, time.Duration) {}
func (n *NoopSink) StoreFailOpen(string)                            {}
func (n *NoopSink) RecordReclaimed(string)                          {}
func (n *NoopSink) BufferSizeUpdate(int)                            {}
func (n *NoopSink) EmitError()                                      {}
func (n *NoopSink) LeaderStatus(bool)                               {}
