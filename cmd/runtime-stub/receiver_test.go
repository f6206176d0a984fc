package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/djlord-it/sitepulse/internal/api"
	"github.com/djlord-it/sitepulse/internal/dispatcher"
	"github.com/djlord-it/sitepulse/internal/domain"
	"github.com/djlord-it/sitepulse/internal/store/memory"
)

func dispatchRequest(site string) domain.DispatchRequest {
	return domain.DispatchRequest{
		ID:          uuid.New(),
		ActivityKey: "daily_report",
		SiteID:      site,
		Tier:        domain.TierNormal,
		Budget:      domain.TierBudget{MaxConcurrency: 10, MaxDuration: 15 * time.Minute},
		Mode:        domain.DispatchModeNormal,
		IssuedAt:    time.Date(2024, 6, 22, 16, 15, 0, 0, time.UTC),
	}
}

func TestReceiver_DispatchAndComplete(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	st := memory.New()
	key := domain.RecordKey{ActivityKey: "daily_report", SiteID: "store 042"}
	started, err := st.Begin(context.Background(), key, time.Now())
	require.NoError(t, err)
	require.True(t, started)

	sitepulse := httptest.NewServer(api.NewHandler(st, api.NewReportCache(0), logger))
	defer sitepulse.Close()

	recv := newReceiver(receiverConfig{
		Secret:        "shh",
		CallbackURL:   sitepulse.URL,
		CompleteAfter: time.Millisecond,
	}, logger)
	runtime := httptest.NewServer(recv)
	defer runtime.Close()

	wh := dispatcher.NewWebhook(dispatcher.WebhookConfig{URL: runtime.URL + "/dispatch", Secret: "shh"}, logger)
	req := dispatchRequest("store 042")

	ack, err := wh.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, "stub-"+req.ID.String(), ack.ExternalRef)

	recv.wg.Wait()

	rec, err := st.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, rec.Status)
}

func TestReceiver_RejectsBadSignature(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	runtime := httptest.NewServer(newReceiver(receiverConfig{Secret: "right"}, logger))
	defer runtime.Close()

	wh := dispatcher.NewWebhook(dispatcher.WebhookConfig{URL: runtime.URL + "/dispatch", Secret: "wrong"}, logger)

	ack, err := wh.Dispatch(context.Background(), dispatchRequest("site-a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, dispatcher.ErrRejected))
	assert.False(t, ack.Accepted)
	assert.Equal(t, "bad signature", ack.Reason)
}

func TestReceiver_MalformedDispatch(t *testing.T) {
	recv := newReceiver(receiverConfig{}, zaptest.NewLogger(t).Sugar())

	rec := httptest.NewRecorder()
	recv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dispatch", strings.NewReader(`{"activity":"x"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceiver_StatsAndReset(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	recv := newReceiver(receiverConfig{}, logger)
	runtime := httptest.NewServer(recv)
	defer runtime.Close()

	wh := dispatcher.NewWebhook(dispatcher.WebhookConfig{URL: runtime.URL + "/dispatch"}, logger)
	for _, site := range []string{"site-a", "site-b"} {
		_, err := wh.Dispatch(context.Background(), dispatchRequest(site))
		require.NoError(t, err)
	}

	var s stats
	rec := httptest.NewRecorder()
	recv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&s))
	assert.EqualValues(t, 2, s.Count)
	require.Len(t, s.Last, 2)
	assert.Equal(t, "site-b", s.Last[1].SiteID)
	assert.Equal(t, "normal", s.Last[1].Tier)
	assert.EqualValues(t, 900, s.Last[1].MaxDurationSeconds)

	rec = httptest.NewRecorder()
	recv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reset", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	recv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	s = stats{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&s))
	assert.Zero(t, s.Count)
	assert.Empty(t, s.Last)
}
