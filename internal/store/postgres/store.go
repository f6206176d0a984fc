package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/djlord-it/sitepulse/internal/domain"
	"github.com/djlord-it/sitepulse/internal/store"
)

// Store implements store.Records using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a store on db. A positive opTimeout bounds every statement.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

// EnsureSchema creates the execution_records table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return errors.Wrap(err, "create execution_records schema")
	}
	return nil
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) Get(ctx context.Context, key domain.RecordKey) (domain.ExecutionRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rec, err := scanRecord(s.db.QueryRowContext(ctx, queryGetRecord, key.ActivityKey, key.SiteID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ExecutionRecord{}, store.ErrNotFound
	}
	if err != nil {
		return domain.ExecutionRecord{}, errors.Wrapf(err, "get record %s", key)
	}
	return rec, nil
}

func (s *Store) Begin(ctx context.Context, key domain.RecordKey, now time.Time) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryBegin, key.ActivityKey, key.SiteID, now.UTC())
	if err != nil {
		return false, errors.Wrapf(err, "begin %s", key)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrapf(err, "begin %s", key)
	}
	return n > 0, nil
}

func (s *Store) MarkPending(ctx context.Context, key domain.RecordKey, nextRunAt, now time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, queryMarkPending, key.ActivityKey, key.SiteID, nextRunAt.UTC(), now.UTC()); err != nil {
		return errors.Wrapf(err, "mark pending %s", key)
	}
	return nil
}

func (s *Store) ReclaimStale(ctx context.Context, key domain.RecordKey, staleBefore, now time.Time, note string) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryReclaimStale, key.ActivityKey, key.SiteID, staleBefore.UTC(), now.UTC(), note)
	if err != nil {
		return false, errors.Wrapf(err, "reclaim %s", key)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrapf(err, "reclaim %s", key)
	}
	return n > 0, nil
}

// Finish applies the terminal status with a guarded UPDATE. When no row
// changes, a follow-up read tells a missing key from a denied transition.
func (s *Store) Finish(ctx context.Context, key domain.RecordKey, status domain.ExecutionStatus, errMsg string, now time.Time) error {
	if err := store.CheckFinishStatus(status); err != nil {
		return err
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryFinish, key.ActivityKey, key.SiteID, string(status), errMsg, now.UTC())
	if err != nil {
		return errors.Wrapf(err, "finish %s", key)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "finish %s", key)
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, queryGetStatus, key.ActivityKey, key.SiteID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return errors.Wrapf(err, "finish %s", key)
	}
	return errors.Wrapf(domain.ErrTransitionDenied, "%s is %s", key, current)
}

func (s *Store) ListStale(ctx context.Context, activityKey string, staleBefore time.Time, limit int) ([]domain.ExecutionRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	// LIMIT NULL is no limit.
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.QueryContext(ctx, queryListStale, activityKey, staleBefore.UTC(), lim)
	if err != nil {
		return nil, errors.Wrapf(err, "list stale %s", activityKey)
	}
	defer rows.Close()

	var result []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrapf(err, "list stale %s", activityKey)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "list stale %s", activityKey)
	}
	return result, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (domain.ExecutionRecord, error) {
	var (
		rec       domain.ExecutionRecord
		status    string
		lastRunAt sql.NullTime
		nextRunAt sql.NullTime
	)
	err := row.Scan(
		&rec.Key.ActivityKey,
		&rec.Key.SiteID,
		&status,
		&lastRunAt,
		&nextRunAt,
		&rec.RetryCount,
		&rec.ErrorMessage,
		&rec.UpdatedAt,
	)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	rec.Status = domain.ExecutionStatus(status)
	if lastRunAt.Valid {
		t := lastRunAt.Time
		rec.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t := nextRunAt.Time
		rec.NextRunAt = &t
	}
	return rec, nil
}

var _ store.Records = (*Store)(nil)
