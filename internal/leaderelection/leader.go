// Package leaderelection runs the scheduler loop and the stuck-execution
// sweeper on exactly one instance, using a Postgres session advisory lock.
//
// The lock lives as long as the dedicated connection. If the connection dies,
// Postgres releases the lock server-side. The heartbeat ping only detects
// local connection death so the leader can stop promptly; it does not renew
// anything. Two leaders overlapping briefly is tolerated because Begin in the
// execution store is itself a compare-and-set.
package leaderelection

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

const queryTryLock = "SELECT pg_try_advisory_lock($1)"

// MetricsSink records leadership changes.
type MetricsSink interface {
	LeaderStatus(isLeader bool)
}

type Elector struct {
	db                *sql.DB
	lockKey           int64
	retryInterval     time.Duration
	heartbeatInterval time.Duration
	onElected         func(ctx context.Context)
	onDemoted         func()
	metrics           MetricsSink
	logger            *zap.SugaredLogger
}

// New creates an Elector.
//
// onElected runs in a new goroutine once the lock is acquired; its context is
// cancelled when leadership is lost. onDemoted is called once onElected has
// returned and must block until leader duties have stopped.
func New(
	db *sql.DB,
	lockKey int64,
	retryInterval, heartbeatInterval time.Duration,
	onElected func(ctx context.Context),
	onDemoted func(),
	logger *zap.SugaredLogger,
) *Elector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Elector{
		db:                db,
		lockKey:           lockKey,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
		onElected:         onElected,
		onDemoted:         onDemoted,
		logger:            logger.Named("leader"),
	}
}

func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run blocks until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	e.logger.Infow("election loop started",
		"lock_key", e.lockKey,
		"retry", e.retryInterval.String(),
		"heartbeat", e.heartbeatInterval.String(),
	)

	for ctx.Err() == nil {
		if reason := e.runOnce(ctx); reason != "" && ctx.Err() == nil {
			e.logger.Warnw("lost leadership", "reason", reason, "retry_in", e.retryInterval.String())
		}

		select {
		case <-ctx.Done():
		case <-time.After(e.retryInterval):
		}
	}
	e.logger.Info("election loop stopped")
}

// runOnce tries the lock and holds it. It returns why leadership ended, or
// "" when the lock was not acquired.
func (e *Elector) runOnce(ctx context.Context) string {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		e.logger.Warnw("dedicated connection unavailable", "error", err)
		return ""
	}
	defer conn.Close()

	var acquired bool
	if err := conn.QueryRowContext(ctx, queryTryLock, e.lockKey).Scan(&acquired); err != nil {
		e.logger.Warnw("advisory lock query failed", "error", err)
		return ""
	}
	if !acquired {
		e.logger.Debugw("lock held by another instance", "lock_key", e.lockKey)
		return ""
	}

	e.logger.Infow("acquired advisory lock", "lock_key", e.lockKey)
	if e.metrics != nil {
		e.metrics.LeaderStatus(true)
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	elected := make(chan struct{})
	go func() {
		defer close(elected)
		e.onElected(leaderCtx)
	}()

	reason := e.holdLock(ctx, conn)

	cancelLeader()
	<-elected
	e.onDemoted()
	if e.metrics != nil {
		e.metrics.LeaderStatus(false)
	}

	e.logger.Infow("released advisory lock", "lock_key", e.lockKey, "reason", reason)
	return reason
}

func (e *Elector) holdLock(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				e.logger.Warnw("dedicated connection ping failed", "error", err)
				return "conn_lost"
			}
		}
	}
}
