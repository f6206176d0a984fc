// Package dispatcher hands execution requests to the durable runtime that
// actually runs activities. Dispatch is a typed request/acknowledgment
// exchange; this package never retries and never cancels. A refused
// request surfaces in the tick report and the next tick re-evaluates.
package dispatcher

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/sitepulse/internal/circuitbreaker"
	"github.com/djlord-it/sitepulse/internal/domain"
)

// ErrRejected wraps refusals reported by the runtime itself (4xx).
var ErrRejected = errors.New("dispatch rejected")

// Outcome labels used for metrics.
const (
	OutcomeAccepted    = "accepted"
	OutcomeRejected    = "rejected"
	OutcomeError       = "error"
	OutcomeCircuitOpen = "circuit_open"
)

// MetricsSink defines the interface for recording dispatch metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	DispatchCompleted(activity, outcome string, duration time.Duration)
}

// Classify maps a Dispatch error to an outcome label.
func Classify(err error) string {
	switch {
	case err == nil:
		return OutcomeAccepted
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return OutcomeCircuitOpen
	case errors.Is(err, ErrRejected):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}

// LogDispatcher accepts every request and only logs it. Used for dry runs
// and the evaluate command.
type LogDispatcher struct {
	logger *zap.SugaredLogger
}

func NewLogDispatcher(logger *zap.SugaredLogger) *LogDispatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LogDispatcher{logger: logger.Named("dispatcher")}
}

func (d *LogDispatcher) Dispatch(_ context.Context, req domain.DispatchRequest) (domain.DispatchAck, error) {
	d.logger.Infow("dispatch (dry run)",
		"dispatch_id", req.ID.String(),
		"activity", req.ActivityKey,
		"site_id", req.SiteID,
		"tier", req.Tier.String(),
		"mode", string(req.Mode),
	)
	return domain.DispatchAck{Accepted: true, ExternalRef: "dry-run:" + req.ID.String()}, nil
}
