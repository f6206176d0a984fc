package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParsePagination_Defaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/reports/daily_report", nil)

	limit, offset, err := parsePagination(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, limit)
	}
	if offset != 0 {
		t.Errorf("expected default offset 0, got %d", offset)
	}
}

func TestParsePagination_CustomValues(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/reports/daily_report?limit=50&offset=10", nil)

	limit, offset, err := parsePagination(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if limit != 50 || offset != 10 {
		t.Errorf("got limit %d offset %d, want 50 10", limit, offset)
	}
}

func TestParsePagination_Errors(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"limit=2000", "limit exceeds maximum of 100"},
		{"limit=-1", "limit must not be negative"},
		{"offset=-1", "offset must not be negative"},
		{"limit=abc", `invalid limit "abc"`},
		{"offset=xyz", `invalid offset "xyz"`},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/reports/x?"+tt.query, nil)
			_, _, err := parsePagination(req)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if err.Error() != tt.want {
				t.Errorf("error = %q, want %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParsePagination_ZeroLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/reports/x?limit=0", nil)

	limit, _, err := parsePagination(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if limit != DefaultLimit {
		t.Errorf("expected default limit %d for limit=0, got %d", DefaultLimit, limit)
	}
}
