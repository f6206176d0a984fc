// Package channel carries tick reports from the scheduler to their
// consumers over a buffered in-process channel.
package channel

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/sitepulse/internal/scheduler"
)

// ErrBufferFull is returned by Publish when the report was dropped.
var ErrBufferFull = errors.New("report bus buffer full")

// MetricsSink receives bus occupancy and drop counts.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	EmitError()
}

// Consumer handles one report. Errors are logged and do not stop the bus.
type Consumer interface {
	Consume(ctx context.Context, report scheduler.Report) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(ctx context.Context, report scheduler.Report) error

func (f ConsumerFunc) Consume(ctx context.Context, report scheduler.Report) error {
	return f(ctx, report)
}

type ReportBus struct {
	ch          chan scheduler.Report
	emitTimeout time.Duration
	metrics     MetricsSink
	logger      *zap.SugaredLogger
}

type Option func(*ReportBus)

// WithEmitTimeout lets Publish wait up to d for buffer space. The default
// of zero drops immediately when the buffer is full.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *ReportBus) { b.emitTimeout = d }
}

func WithMetrics(sink MetricsSink) Option {
	return func(b *ReportBus) { b.metrics = sink }
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(b *ReportBus) { b.logger = logger.Named("reportbus") }
}

func NewReportBus(buffer int, opts ...Option) *ReportBus {
	if buffer < 1 {
		buffer = 1
	}
	b := &ReportBus{
		ch:     make(chan scheduler.Report, buffer),
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish enqueues report without blocking the caller beyond the emit timeout.
func (b *ReportBus) Publish(ctx context.Context, report scheduler.Report) error {
	select {
	case b.ch <- report:
		b.updateSize()
		return nil
	default:
	}

	if b.emitTimeout <= 0 {
		return b.dropped(report)
	}

	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()
	select {
	case b.ch <- report:
		b.updateSize()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return b.dropped(report)
	}
}

func (b *ReportBus) dropped(report scheduler.Report) error {
	if b.metrics != nil {
		b.metrics.EmitError()
	}
	b.logger.Warnw("report dropped", "activity", report.Activity, "tick_id", report.TickID.String())
	return ErrBufferFull
}

func (b *ReportBus) updateSize() {
	if b.metrics != nil {
		b.metrics.BufferSizeUpdate(len(b.ch))
	}
}

func (b *ReportBus) Channel() <-chan scheduler.Report {
	return b.ch
}

// Run hands every report to each consumer in order until ctx is cancelled.
func (b *ReportBus) Run(ctx context.Context, consumers ...Consumer) {
	for {
		select {
		case <-ctx.Done():
			return
		case report := <-b.ch:
			b.updateSize()
			for _, c := range consumers {
				if err := c.Consume(ctx, report); err != nil {
					b.logger.Warnw("report consumer failed",
						"activity", report.Activity,
						"tick_id", report.TickID.String(),
						"error", err,
					)
				}
			}
		}
	}
}

var _ scheduler.ReportPublisher = (*ReportBus)(nil)
