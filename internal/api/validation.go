package api

import (
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/djlord-it/sitepulse/internal/domain"
)

const maxSegmentLength = 128

// validateCompletion accepts only terminal statuses.
func validateCompletion(req CompletionRequest) (domain.ExecutionStatus, error) {
	if req.Status == "" {
		return "", errors.New("status is required")
	}
	status, err := domain.ParseExecutionStatus(strings.ToLower(req.Status))
	if err != nil {
		return "", err
	}
	if !status.IsTerminal() {
		return "", errors.Newf("status must be completed or failed, got %q", req.Status)
	}
	return status, nil
}

func parseKey(rawActivity, rawSite string) (domain.RecordKey, error) {
	activity, err := validateSegment("activity", rawActivity)
	if err != nil {
		return domain.RecordKey{}, err
	}
	site, err := validateSegment("site", rawSite)
	if err != nil {
		return domain.RecordKey{}, err
	}
	return domain.RecordKey{ActivityKey: activity, SiteID: site}, nil
}

func validateSegment(name, raw string) (string, error) {
	s, err := url.PathUnescape(raw)
	if err != nil {
		return "", errors.Newf("invalid %s", name)
	}
	if s == "" {
		return "", errors.Newf("%s is required", name)
	}
	if len(s) > maxSegmentLength {
		return "", errors.Newf("%s exceeds %d characters", name, maxSegmentLength)
	}
	if strings.ContainsAny(s, "/\x00") {
		return "", errors.Newf("invalid %s", name)
	}
	return s, nil
}
