// Package sqlite is the embedded execution record ledger for single-node
// deployments. SQLite serializes writers, so the conditional upserts give
// the same single-flight guarantee as the PostgreSQL store.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"

	"github.com/djlord-it/sitepulse/internal/domain"
	"github.com/djlord-it/sitepulse/internal/store"
)

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway ledger.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}
	// One connection: ":memory:" is per-connection, and a single writer
	// avoids SQLITE_BUSY under concurrent ticks.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create execution_records schema")
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key domain.RecordKey) (domain.ExecutionRecord, error) {
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
	result, err := s.db.ExecContext(ctx, queryBegin, key.ActivityKey, key.SiteID, now.UnixNano())
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
	_, err := s.db.ExecContext(ctx, queryMarkPending, key.ActivityKey, key.SiteID, nextRunAt.UnixNano(), now.UnixNano())
	if err != nil {
		return errors.Wrapf(err, "mark pending %s", key)
	}
	return nil
}

func (s *Store) ReclaimStale(ctx context.Context, key domain.RecordKey, staleBefore, now time.Time, note string) (bool, error) {
	result, err := s.db.ExecContext(ctx, queryReclaimStale, note, now.UnixNano(), key.ActivityKey, key.SiteID, staleBefore.UnixNano())
	if err != nil {
		return false, errors.Wrapf(err, "reclaim %s", key)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrapf(err, "reclaim %s", key)
	}
	return n > 0, nil
}

func (s *Store) Finish(ctx context.Context, key domain.RecordKey, status domain.ExecutionStatus, errMsg string, now time.Time) error {
	if err := store.CheckFinishStatus(status); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, queryFinish, string(status), errMsg, now.UnixNano(), key.ActivityKey, key.SiteID)
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
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, queryListStale, activityKey, staleBefore.UnixNano(), limit)
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
	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (domain.ExecutionRecord, error) {
	var (
		rec       domain.ExecutionRecord
		status    string
		lastRunAt sql.NullInt64
		nextRunAt sql.NullInt64
		updatedAt int64
	)
	err := row.Scan(
		&rec.Key.ActivityKey,
		&rec.Key.SiteID,
		&status,
		&lastRunAt,
		&nextRunAt,
		&rec.RetryCount,
		&rec.ErrorMessage,
		&updatedAt,
	)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	rec.Status = domain.ExecutionStatus(status)
	rec.UpdatedAt = fromNanos(updatedAt)
	if lastRunAt.Valid {
		t := fromNanos(lastRunAt.Int64)
		rec.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t := fromNanos(nextRunAt.Int64)
		rec.NextRunAt = &t
	}
	return rec, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

var _ store.Records = (*Store)(nil)
