// Package postgres reads the site directory from a PostgreSQL table owned by
// the site management system.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/sitepulse/internal/directory"
	"github.com/djlord-it/sitepulse/internal/domain"
)

// business_hours and activity_overrides are JSONB documents, for example
// {"sat": {"open": "09:00", "close": "18:00"}} and {"lead_research": false}.
const queryListSites = `
SELECT id, timezone, business_hours, activity_overrides
FROM sites
WHERE active = true
ORDER BY id
`

type Source struct {
	db        *sql.DB
	opTimeout time.Duration
	logger    *zap.SugaredLogger
}

func New(db *sql.DB, opTimeout time.Duration, logger *zap.SugaredLogger) *Source {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Source{db: db, opTimeout: opTimeout, logger: logger.Named("directory")}
}

func (s *Source) ListSites(ctx context.Context) ([]domain.Site, error) {
	if s.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opTimeout)
		defer cancel()
	}

	rows, err := s.db.QueryContext(ctx, queryListSites)
	if err != nil {
		return nil, errors.Wrap(err, "list sites")
	}
	defer rows.Close()

	var specs []directory.SiteSpec
	var problems []directory.Problem
	for rows.Next() {
		var (
			spec      directory.SiteSpec
			timezone  sql.NullString
			hours     []byte
			overrides []byte
		)
		if err := rows.Scan(&spec.ID, &timezone, &hours, &overrides); err != nil {
			return nil, errors.Wrap(err, "scan site")
		}
		spec.Timezone = timezone.String

		// A broken document only costs that site its configuration.
		if len(hours) > 0 {
			if err := json.Unmarshal(hours, &spec.BusinessHours); err != nil {
				problems = append(problems, directory.Problem{SiteID: spec.ID, Detail: "business_hours: " + err.Error()})
				spec.BusinessHours = nil
			}
		}
		if len(overrides) > 0 {
			if err := json.Unmarshal(overrides, &spec.Activities); err != nil {
				problems = append(problems, directory.Problem{SiteID: spec.ID, Detail: "activity_overrides: " + err.Error()})
				spec.Activities = nil
			}
		}
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list sites")
	}

	sites, more := directory.Build(specs)
	for _, p := range append(problems, more...) {
		s.logger.Warnw("site configuration problem", "site_id", p.SiteID, "problem", p.Detail)
	}
	return sites, nil
}
