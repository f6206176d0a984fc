// Package store defines the execution record ledger: one row per
// (activity, site) key, with atomic upserts that back the single-flight
// guarantee. Implementations live in the postgres, sqlite and memory
// subpackages and must behave identically; storetest holds the shared suite.
package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/djlord-it/sitepulse/internal/domain"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("execution record not found")

// Records is the ledger contract used by the reaper, the scheduler and the
// completion callback. Records are never deleted.
type Records interface {
	// Get returns the current record or ErrNotFound.
	Get(ctx context.Context, key domain.RecordKey) (domain.ExecutionRecord, error)

	// Begin moves the key to RUNNING in a single conditional upsert. It
	// returns false, without error, when the key is already RUNNING.
	// RetryCount increments when the previous run FAILED and resets otherwise.
	Begin(ctx context.Context, key domain.RecordKey, now time.Time) (bool, error)

	// MarkPending records the next planned run. A new key is created as
	// PENDING; an existing non-RUNNING record keeps its status and only has
	// NextRunAt updated. RUNNING records are left untouched.
	MarkPending(ctx context.Context, key domain.RecordKey, nextRunAt, now time.Time) error

	// ReclaimStale moves a RUNNING record whose UpdatedAt is before
	// staleBefore to FAILED with note as its error message. It returns true
	// only for the caller whose update applied.
	ReclaimStale(ctx context.Context, key domain.RecordKey, staleBefore, now time.Time, note string) (bool, error)

	// Finish moves a RUNNING record to a terminal status. It returns
	// domain.ErrTransitionDenied when the record is not RUNNING or status is
	// not terminal, and ErrNotFound when the key is unknown.
	Finish(ctx context.Context, key domain.RecordKey, status domain.ExecutionStatus, errMsg string, now time.Time) error

	// ListStale returns RUNNING records of one activity last updated before
	// staleBefore, oldest first.
	ListStale(ctx context.Context, activityKey string, staleBefore time.Time, limit int) ([]domain.ExecutionRecord, error)

	Ping(ctx context.Context) error
}

// CheckFinishStatus rejects non-terminal targets before any write.
func CheckFinishStatus(status domain.ExecutionStatus) error {
	if !status.IsTerminal() {
		return errors.Wrapf(domain.ErrTransitionDenied, "finish requires a terminal status, got %q", status)
	}
	return nil
}
