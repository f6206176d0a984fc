package sqlite

// Timestamps are stored as Unix nanoseconds so range predicates compare
// integers rather than driver-formatted strings.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS execution_records (
    activity_key  TEXT    NOT NULL,
    site_id       TEXT    NOT NULL,
    status        TEXT    NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
    last_run_at   INTEGER,
    next_run_at   INTEGER,
    retry_count   INTEGER NOT NULL DEFAULT 0,
    error_message TEXT    NOT NULL DEFAULT '',
    updated_at    INTEGER NOT NULL,
    PRIMARY KEY (activity_key, site_id)
);
CREATE INDEX IF NOT EXISTS execution_records_running_idx
    ON execution_records (activity_key, status, updated_at);
`

const queryGetRecord = `
SELECT activity_key, site_id, status, last_run_at, next_run_at, retry_count, error_message, updated_at
FROM execution_records
WHERE activity_key = ? AND site_id = ?
`

const queryGetStatus = `
SELECT status FROM execution_records WHERE activity_key = ? AND site_id = ?
`

const queryBegin = `
INSERT INTO execution_records (activity_key, site_id, status, last_run_at, next_run_at, retry_count, error_message, updated_at)
VALUES (?1, ?2, 'running', ?3, NULL, 0, '', ?3)
ON CONFLICT (activity_key, site_id) DO UPDATE
SET status        = 'running',
    last_run_at   = excluded.last_run_at,
    next_run_at   = NULL,
    retry_count   = CASE WHEN execution_records.status = 'failed'
                         THEN execution_records.retry_count + 1
                         ELSE 0 END,
    error_message = '',
    updated_at    = excluded.updated_at
WHERE execution_records.status <> 'running'
`

const queryMarkPending = `
INSERT INTO execution_records (activity_key, site_id, status, last_run_at, next_run_at, retry_count, error_message, updated_at)
VALUES (?, ?, 'pending', NULL, ?, 0, '', ?)
ON CONFLICT (activity_key, site_id) DO UPDATE
SET next_run_at = excluded.next_run_at,
    updated_at  = excluded.updated_at
WHERE execution_records.status <> 'running'
`

const queryReclaimStale = `
UPDATE execution_records
SET status = 'failed', error_message = ?, updated_at = ?
WHERE activity_key = ?
  AND site_id = ?
  AND status = 'running'
  AND updated_at < ?
`

const queryFinish = `
UPDATE execution_records
SET status = ?, error_message = ?, next_run_at = NULL, updated_at = ?
WHERE activity_key = ?
  AND site_id = ?
  AND status = 'running'
`

const queryListStale = `
SELECT activity_key, site_id, status, last_run_at, next_run_at, retry_count, error_message, updated_at
FROM execution_records
WHERE activity_key = ?
  AND status = 'running'
  AND updated_at < ?
ORDER BY updated_at ASC, site_id ASC
LIMIT ?
`
