package api

import (
	"time"

	"github.com/djlord-it/sitepulse/internal/domain"
	"github.com/djlord-it/sitepulse/internal/scheduler"
)

// CompletionRequest is the runtime's terminal report for one execution.
type CompletionRequest struct {
	Status string `json:"status"` // completed | failed
	Error  string `json:"error,omitempty"`
}

type RecordResponse struct {
	Activity     string `json:"activity"`
	SiteID       string `json:"site_id"`
	Status       string `json:"status"`
	LastRunAt    string `json:"last_run_at,omitempty"`
	NextRunAt    string `json:"next_run_at,omitempty"`
	RetryCount   int    `json:"retry_count"`
	ErrorMessage string `json:"error_message,omitempty"`
	UpdatedAt    string `json:"updated_at"`
}

type ReportsResponse struct {
	Reports []scheduler.Report `json:"reports"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toRecordResponse(rec domain.ExecutionRecord) RecordResponse {
	resp := RecordResponse{
		Activity:     rec.Key.ActivityKey,
		SiteID:       rec.Key.SiteID,
		Status:       string(rec.Status),
		RetryCount:   rec.RetryCount,
		ErrorMessage: rec.ErrorMessage,
		UpdatedAt:    formatTime(rec.UpdatedAt),
	}
	if rec.LastRunAt != nil {
		resp.LastRunAt = formatTime(*rec.LastRunAt)
	}
	if rec.NextRunAt != nil {
		resp.NextRunAt = formatTime(*rec.NextRunAt)
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
