package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/djlord-it/sitepulse/internal/domain"
	"github.com/djlord-it/sitepulse/internal/scheduler"
	"github.com/djlord-it/sitepulse/internal/store/memory"
	"github.com/djlord-it/sitepulse/internal/testutil"
)

var testNow = time.Date(2024, 6, 18, 15, 0, 0, 0, time.UTC)

// brokenStore fails every call.
type brokenStore struct{}

func (brokenStore) Get(context.Context, domain.RecordKey) (domain.ExecutionRecord, error) {
	return domain.ExecutionRecord{}, errors.New("connection refused")
}

func (brokenStore) Finish(context.Context, domain.RecordKey, domain.ExecutionStatus, string, time.Time) error {
	return errors.New("connection refused")
}

func newTestHandler(t *testing.T) (*Handler, *memory.Store, *ReportCache) {
	t.Helper()
	st := memory.New()
	cache := NewReportCache(0)
	h := NewHandler(st, cache, testutil.Logger(t)).WithClock(func() time.Time { return testNow })
	return h, st, cache
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func seedRunning(st *memory.Store, activity, site string) {
	started := testNow.Add(-time.Hour)
	st.Put(domain.ExecutionRecord{
		Key:       domain.RecordKey{ActivityKey: activity, SiteID: site},
		Status:    domain.ExecutionStatusRunning,
		LastRunAt: &started,
		UpdatedAt: started,
	})
}

func TestCompleteExecution_Completed(t *testing.T) {
	h, st, _ := newTestHandler(t)
	seedRunning(st, "daily_report", "site-a")

	rec := do(t, h, http.MethodPost, "/v1/executions/daily_report/site-a/status", `{"status":"completed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp RecordResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "completed" || resp.UpdatedAt != "2024-06-18T15:00:00Z" {
		t.Errorf("unexpected response %+v", resp)
	}

	stored, _ := st.Get(context.Background(), domain.RecordKey{ActivityKey: "daily_report", SiteID: "site-a"})
	if stored.Status != domain.ExecutionStatusCompleted {
		t.Errorf("stored status = %s", stored.Status)
	}
}

func TestCompleteExecution_FailedKeepsError(t *testing.T) {
	h, st, _ := newTestHandler(t)
	seedRunning(st, "lead_sync", "site-b")

	rec := do(t, h, http.MethodPost, "/v1/executions/lead_sync/site-b/status", `{"status":"failed","error":"crm timeout"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	stored, _ := st.Get(context.Background(), domain.RecordKey{ActivityKey: "lead_sync", SiteID: "site-b"})
	if stored.Status != domain.ExecutionStatusFailed || stored.ErrorMessage != "crm timeout" {
		t.Errorf("stored = %s %q", stored.Status, stored.ErrorMessage)
	}
}

func TestCompleteExecution_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		seed     bool
		wantCode int
	}{
		{"unknown key", "/v1/executions/daily_report/nope/status", `{"status":"completed"}`, false, http.StatusNotFound},
		{"bad json", "/v1/executions/daily_report/site-a/status", `{`, true, http.StatusBadRequest},
		{"non-terminal status", "/v1/executions/daily_report/site-a/status", `{"status":"running"}`, true, http.StatusBadRequest},
		{"bad site segment", "/v1/executions/daily_report/a%2Fb/status", `{"status":"completed"}`, true, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, st, _ := newTestHandler(t)
			if tt.seed {
				seedRunning(st, "daily_report", "site-a")
			}
			rec := do(t, h, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}
}

func TestCompleteExecution_TwiceConflicts(t *testing.T) {
	h, st, _ := newTestHandler(t)
	seedRunning(st, "daily_report", "site-a")

	path := "/v1/executions/daily_report/site-a/status"
	if rec := do(t, h, http.MethodPost, path, `{"status":"completed"}`); rec.Code != http.StatusOK {
		t.Fatalf("first completion = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, path, `{"status":"failed"}`); rec.Code != http.StatusConflict {
		t.Errorf("second completion = %d, want 409", rec.Code)
	}
}

func TestCompleteExecution_BodyTooLarge(t *testing.T) {
	h, st, _ := newTestHandler(t)
	seedRunning(st, "daily_report", "site-a")

	body := `{"status":"failed","error":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	rec := do(t, h, http.MethodPost, "/v1/executions/daily_report/site-a/status", body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestCompleteExecution_StoreError(t *testing.T) {
	h := NewHandler(brokenStore{}, NewReportCache(0), nil)
	rec := do(t, h, http.MethodPost, "/v1/executions/daily_report/site-a/status", `{"status":"completed"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestGetRecord(t *testing.T) {
	h, st, _ := newTestHandler(t)
	seedRunning(st, "daily_report", "site-a")

	rec := do(t, h, http.MethodGet, "/v1/records/daily_report/site-a", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp RecordResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "running" || resp.LastRunAt != "2024-06-18T14:00:00Z" || resp.NextRunAt != "" {
		t.Errorf("unexpected response %+v", resp)
	}

	if rec := do(t, h, http.MethodGet, "/v1/records/daily_report/other", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing record = %d, want 404", rec.Code)
	}

	broken := NewHandler(brokenStore{}, NewReportCache(0), nil)
	if rec := do(t, broken, http.MethodGet, "/v1/records/daily_report/site-a", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("store error = %d, want 500", rec.Code)
	}
}

func TestReports(t *testing.T) {
	h, _, cache := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/v1/reports", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"reports":[]`) {
		t.Fatalf("empty reports = %d %s", rec.Code, rec.Body.String())
	}

	for i := 0; i < 3; i++ {
		_ = cache.Consume(context.Background(), scheduler.Report{Activity: "daily_report", SitesTotal: i})
	}
	_ = cache.Consume(context.Background(), scheduler.Report{Activity: "lead_sync", SitesTotal: 9})

	rec = do(t, h, http.MethodGet, "/v1/reports", "")
	var resp ReportsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Reports) != 2 || resp.Reports[0].Activity != "daily_report" || resp.Reports[0].SitesTotal != 2 {
		t.Errorf("latest = %+v", resp.Reports)
	}

	rec = do(t, h, http.MethodGet, "/v1/reports/daily_report?limit=2&offset=1", "")
	resp = ReportsResponse{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Reports) != 2 || resp.Reports[0].SitesTotal != 1 || resp.Reports[1].SitesTotal != 0 {
		t.Errorf("history = %+v", resp.Reports)
	}

	if rec := do(t, h, http.MethodGet, "/v1/reports/daily_report?limit=500", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("oversized limit = %d, want 400", rec.Code)
	}
}

func TestReportCache_KeepsBoundedHistory(t *testing.T) {
	cache := NewReportCache(2)
	for i := 0; i < 5; i++ {
		_ = cache.Consume(context.Background(), scheduler.Report{Activity: "x", SitesTotal: i})
	}
	got := cache.History("x", 0, 0)
	if len(got) != 2 || got[0].SitesTotal != 4 || got[1].SitesTotal != 3 {
		t.Errorf("history = %+v", got)
	}
	if cache.History("x", 10, 5) != nil {
		t.Error("offset past end should return nil")
	}
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("plain health = %d %s", rec.Code, rec.Body.String())
	}

	h.WithHealthCheck("store", HealthCheckFunc(func(context.Context) error { return nil }))
	h.WithHealthCheck("redis", HealthCheckFunc(func(context.Context) error { return errors.New("dial tcp: refused") }))

	rec = do(t, h, http.MethodGet, "/health?verbose=true", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("verbose health = %d, want 503", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" || resp.Components["store"] != "healthy" ||
		!strings.HasPrefix(resp.Components["redis"], "unhealthy") {
		t.Errorf("unexpected health %+v", resp)
	}
}

func TestNotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/jobs"},
		{http.MethodDelete, "/v1/records/a/b"},
		{http.MethodGet, "/v1/executions/a/b/status"},
	} {
		if rec := do(t, h, tc.method, tc.path, ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tc.method, tc.path, rec.Code)
		}
	}
}
