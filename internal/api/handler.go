package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/sitepulse/internal/domain"
	"github.com/djlord-it/sitepulse/internal/scheduler"
	"github.com/djlord-it/sitepulse/internal/store"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Store is the part of the execution ledger the API touches.
type Store interface {
	Get(ctx context.Context, key domain.RecordKey) (domain.ExecutionRecord, error)
	Finish(ctx context.Context, key domain.RecordKey, status domain.ExecutionStatus, errMsg string, now time.Time) error
}

// ReportSource serves the reports the scheduler published.
type ReportSource interface {
	Latest() []scheduler.Report
	History(activity string, limit, offset int) []scheduler.Report
}

// HealthChecker reports whether one dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) Ping(ctx context.Context) error { return f(ctx) }

type Handler struct {
	store   Store
	reports ReportSource
	checks  map[string]HealthChecker
	logger  *zap.SugaredLogger
	clock   func() time.Time
}

func NewHandler(store Store, reports ReportSource, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{
		store:   store,
		reports: reports,
		checks:  make(map[string]HealthChecker),
		logger:  logger.Named("api"),
		clock:   time.Now,
	}
}

// WithHealthCheck adds a component to verbose /health responses.
func (h *Handler) WithHealthCheck(name string, c HealthChecker) *Handler {
	h.checks[name] = c
	return h
}

// WithClock replaces the time source. Intended for tests.
func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.EscapedPath()
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/v1/reports" && r.Method == http.MethodGet:
		h.latestReports(w, r)

	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "reports" && r.Method == http.MethodGet:
		h.reportHistory(w, r, parts[2])

	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "records" && r.Method == http.MethodGet:
		h.getRecord(w, r, parts[2], parts[3])

	case len(parts) == 5 && parts[0] == "v1" && parts[1] == "executions" && parts[4] == "status" && r.Method == http.MethodPost:
		h.completeExecution(w, r, parts[2], parts[3])

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"
	if !verbose || len(h.checks) == 0 {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{Status: "ok", Components: make(map[string]string, len(h.checks))}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.checks[name].Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unhealthy: " + err.Error()
			continue
		}
		resp.Components[name] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (64KB).
const maxRequestBodySize = 64 << 10

func (h *Handler) completeExecution(w http.ResponseWriter, r *http.Request, rawActivity, rawSite string) {
	key, err := parseKey(rawActivity, rawSite)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	status, err := validateCompletion(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.store.Finish(r.Context(), key, status, req.Error, h.clock().UTC())
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "execution record not found")
		return
	case errors.Is(err, domain.ErrTransitionDenied):
		writeError(w, http.StatusConflict, "execution is not running")
		return
	case err != nil:
		h.logger.Errorw("finish execution failed", "activity", key.ActivityKey, "site_id", key.SiteID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record completion")
		return
	}

	h.logger.Infow("execution finished", "activity", key.ActivityKey, "site_id", key.SiteID, "status", string(status))

	rec, err := h.store.Get(r.Context(), key)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request, rawActivity, rawSite string) {
	key, err := parseKey(rawActivity, rawSite)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.store.Get(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "execution record not found")
		return
	}
	if err != nil {
		h.logger.Errorw("get record failed", "activity", key.ActivityKey, "site_id", key.SiteID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read record")
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) latestReports(w http.ResponseWriter, r *http.Request) {
	reports := h.reports.Latest()
	if reports == nil {
		reports = []scheduler.Report{}
	}
	writeJSON(w, http.StatusOK, ReportsResponse{Reports: reports})
}

func (h *Handler) reportHistory(w http.ResponseWriter, r *http.Request, rawActivity string) {
	activity, err := url.PathUnescape(rawActivity)
	if err != nil || activity == "" {
		writeError(w, http.StatusBadRequest, "invalid activity")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reports := h.reports.History(activity, limit, offset)
	if reports == nil {
		reports = []scheduler.Report{}
	}
	writeJSON(w, http.StatusOK, ReportsResponse{Reports: reports})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, errors.Newf("invalid limit %q", limitStr)
		}
		if limit < 0 {
			return 0, 0, errors.New("limit must not be negative")
		}
		if limit > MaxLimit {
			return 0, 0, errors.Newf("limit exceeds maximum of %d", MaxLimit)
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, errors.Newf("invalid offset %q", offsetStr)
		}
		if offset < 0 {
			return 0, 0, errors.New("offset must not be negative")
		}
	}

	return limit, offset, nil
}
