package postgres

const schemaDDL = `
CREATE TABLE IF NOT EXISTS execution_records (
    activity_key  TEXT        NOT NULL,
    site_id       TEXT        NOT NULL,
    status        TEXT        NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
    last_run_at   TIMESTAMPTZ,
    next_run_at   TIMESTAMPTZ,
    retry_count   INTEGER     NOT NULL DEFAULT 0,
    error_message TEXT        NOT NULL DEFAULT '',
    updated_at    TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (activity_key, site_id)
);
CREATE INDEX IF NOT EXISTS execution_records_running_idx
    ON execution_records (activity_key, updated_at)
    WHERE status = 'running';
`

const queryGetRecord = `
SELECT activity_key, site_id, status, last_run_at, next_run_at, retry_count, error_message, updated_at
FROM execution_records
WHERE activity_key = $1 AND site_id = $2
`

const queryGetStatus = `
SELECT status FROM execution_records WHERE activity_key = $1 AND site_id = $2
`

// The WHERE on the conflict branch is the single-flight guard: PostgreSQL
// locks the conflicting row before evaluating it, so only one concurrent
// Begin can see a non-running status.
const queryBegin = `
INSERT INTO execution_records (activity_key, site_id, status, last_run_at, next_run_at, retry_count, error_message, updated_at)
VALUES ($1, $2, 'running', $3, NULL, 0, '', $3)
ON CONFLICT (activity_key, site_id) DO UPDATE
SET status        = 'running',
    last_run_at   = EXCLUDED.last_run_at,
    next_run_at   = NULL,
    retry_count   = CASE WHEN execution_records.status = 'failed'
                         THEN execution_records.retry_count + 1
                         ELSE 0 END,
    error_message = '',
    updated_at    = EXCLUDED.updated_at
WHERE execution_records.status <> 'running'
`

const queryMarkPending = `
INSERT INTO execution_records (activity_key, site_id, status, last_run_at, next_run_at, retry_count, error_message, updated_at)
VALUES ($1, $2, 'pending', NULL, $3, 0, '', $4)
ON CONFLICT (activity_key, site_id) DO UPDATE
SET next_run_at = EXCLUDED.next_run_at,
    updated_at  = EXCLUDED.updated_at
WHERE execution_records.status <> 'running'
`

const queryReclaimStale = `
UPDATE execution_records
SET status = 'failed', error_message = $5, updated_at = $4
WHERE activity_key = $1
  AND site_id = $2
  AND status = 'running'
  AND updated_at < $3
`

const queryFinish = `
UPDATE execution_records
SET status = $3, error_message = $4, next_run_at = NULL, updated_at = $5
WHERE activity_key = $1
  AND site_id = $2
  AND status = 'running'
`

const queryListStale = `
SELECT activity_key, site_id, status, last_run_at, next_run_at, retry_count, error_message, updated_at
FROM execution_records
WHERE activity_key = $1
  AND status = 'running'
  AND updated_at < $2
ORDER BY updated_at ASC, site_id ASC
LIMIT $3
`
