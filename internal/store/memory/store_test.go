package memory

import (
	"context"
	"testing"
	"time"

	"github.com/djlord-it/sitepulse/internal/domain"
	"github.com/djlord-it/sitepulse/internal/store"
	"github.com/djlord-it/sitepulse/internal/store/storetest"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Records { return New() })
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := New()
	now := time.Date(2024, 6, 18, 10, 0, 0, 0, time.UTC)
	k := domain.RecordKey{ActivityKey: "a", SiteID: "s"}
	if _, err := s.Begin(context.Background(), k, now); err != nil {
		t.Fatal(err)
	}

	rec, _ := s.Get(context.Background(), k)
	*rec.LastRunAt = now.Add(time.Hour)

	again, _ := s.Get(context.Background(), k)
	if !again.LastRunAt.Equal(now) {
		t.Errorf("mutating a returned record leaked into the store: %v", again.LastRunAt)
	}
}
