// Package memory is an in-process execution record ledger for development,
// dry runs and tests. It has the same semantics as the SQL stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/djlord-it/sitepulse/internal/domain"
	"github.com/djlord-it/sitepulse/internal/store"
)

type Store struct {
	mu      sync.Mutex
	records map[domain.RecordKey]domain.ExecutionRecord
}

func New() *Store {
	return &Store{records: make(map[domain.RecordKey]domain.ExecutionRecord)}
}

// Put seeds or replaces a record as-is. Intended for tests and fixtures.
func (s *Store) Put(rec domain.ExecutionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key] = clone(rec)
}

func (s *Store) Get(_ context.Context, key domain.RecordKey) (domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return domain.ExecutionRecord{}, store.ErrNotFound
	}
	return clone(rec), nil
}

func (s *Store) Begin(_ context.Context, key domain.RecordKey, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[key]
	if exists && rec.Status == domain.ExecutionStatusRunning {
		return false, nil
	}

	retries := 0
	if exists && rec.Status == domain.ExecutionStatusFailed {
		retries = rec.RetryCount + 1
	}
	started := now
	s.records[key] = domain.ExecutionRecord{
		Key:        key,
		Status:     domain.ExecutionStatusRunning,
		LastRunAt:  &started,
		RetryCount: retries,
		UpdatedAt:  now,
	}
	return true, nil
}

func (s *Store) MarkPending(_ context.Context, key domain.RecordKey, nextRunAt, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := nextRunAt
	rec, exists := s.records[key]
	if !exists {
		s.records[key] = domain.ExecutionRecord{
			Key:       key,
			Status:    domain.ExecutionStatusPending,
			NextRunAt: &next,
			UpdatedAt: now,
		}
		return nil
	}
	if rec.Status == domain.ExecutionStatusRunning {
		return nil
	}
	rec.NextRunAt = &next
	rec.UpdatedAt = now
	s.records[key] = rec
	return nil
}

func (s *Store) ReclaimStale(_ context.Context, key domain.RecordKey, staleBefore, now time.Time, note string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || rec.Status != domain.ExecutionStatusRunning || !rec.UpdatedAt.Before(staleBefore) {
		return false, nil
	}
	rec.Status = domain.ExecutionStatusFailed
	rec.ErrorMessage = note
	rec.UpdatedAt = now
	s.records[key] = rec
	return true, nil
}

func (s *Store) Finish(_ context.Context, key domain.RecordKey, status domain.ExecutionStatus, errMsg string, now time.Time) error {
	if err := store.CheckFinishStatus(status); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return store.ErrNotFound
	}
	if !domain.CanTransition(rec.Status, status) {
		return domain.ErrTransitionDenied
	}
	rec.Status = status
	rec.ErrorMessage = errMsg
	rec.NextRunAt = nil
	rec.UpdatedAt = now
	s.records[key] = rec
	return nil
}

func (s *Store) ListStale(_ context.Context, activityKey string, staleBefore time.Time, limit int) ([]domain.ExecutionRecord, error) {
	s.mu.Lock()
	var out []domain.ExecutionRecord
	for k, rec := range s.records {
		if k.ActivityKey != activityKey || rec.Status != domain.ExecutionStatusRunning {
			continue
		}
		if rec.UpdatedAt.Before(staleBefore) {
			out = append(out, clone(rec))
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Key.SiteID < out[j].Key.SiteID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func clone(rec domain.ExecutionRecord) domain.ExecutionRecord {
	if rec.LastRunAt != nil {
		t := *rec.LastRunAt
		rec.LastRunAt = &t
	}
	if rec.NextRunAt != nil {
		t := *rec.NextRunAt
		rec.NextRunAt = &t
	}
	return rec
}

var _ store.Records = (*Store)(nil)
