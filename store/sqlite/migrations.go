package sqlite

// migrations are idempotent schema statements, applied in order on Migrate.
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS courier_installations (
    id              TEXT PRIMARY KEY,
    team_id         TEXT NOT NULL DEFAULT '',
    provider        TEXT NOT NULL DEFAULT '',
    webhook_url     TEXT NOT NULL DEFAULT '',
    access_token    TEXT NOT NULL DEFAULT '',
    workspace_name  TEXT NOT NULL DEFAULT '',
    enabled         INTEGER NOT NULL DEFAULT 1,
    settings        TEXT NOT NULL DEFAULT '{}',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);
`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_courier_installations_team_provider ON courier_installations (team_id, provider);`,
	`CREATE INDEX IF NOT EXISTS idx_courier_installations_team ON courier_installations (team_id);`,
	`
CREATE TABLE IF NOT EXISTS courier_jobs (
    id               TEXT PRIMARY KEY,
    dedup_key        TEXT NOT NULL DEFAULT '',
    destination_id   TEXT NOT NULL DEFAULT '',
    installation_id  TEXT NOT NULL DEFAULT '',
    destination_url  TEXT NOT NULL DEFAULT '',
    headers          TEXT NOT NULL DEFAULT '{}',
    payload          BLOB,
    signature        TEXT NOT NULL DEFAULT '',
    event_id         TEXT NOT NULL DEFAULT '',
    event_type       TEXT NOT NULL DEFAULT '',
    team_id          TEXT NOT NULL DEFAULT '',
    state            TEXT NOT NULL DEFAULT 'pending',
    attempt_count    INTEGER NOT NULL DEFAULT 0,
    max_attempts     INTEGER NOT NULL DEFAULT 0,
    next_attempt_at  TEXT NOT NULL DEFAULT (datetime('now')),
    last_error       TEXT NOT NULL DEFAULT '',
    last_status_code INTEGER NOT NULL DEFAULT 0,
    completed_at     TEXT,
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);
`,
	// The partial unique index is the dedup mechanism: one active job per
	// (destination, event) pair, terminal jobs do not block re-enqueueing.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_courier_jobs_dedup_active ON courier_jobs (dedup_key) WHERE state IN ('pending', 'inflight');`,
	`CREATE INDEX IF NOT EXISTS idx_courier_jobs_due ON courier_jobs (next_attempt_at) WHERE state = 'pending';`,
	`CREATE INDEX IF NOT EXISTS idx_courier_jobs_destination ON courier_jobs (destination_id);`,
	`CREATE INDEX IF NOT EXISTS idx_courier_jobs_installation ON courier_jobs (installation_id);`,
	`CREATE INDEX IF NOT EXISTS idx_courier_jobs_completed ON courier_jobs (completed_at) WHERE state = 'completed';`,
	`
CREATE TABLE IF NOT EXISTS courier_audit (
    id              TEXT PRIMARY KEY,
    event_id        TEXT NOT NULL DEFAULT '',
    destination_id  TEXT NOT NULL DEFAULT '',
    job_id          TEXT NOT NULL DEFAULT '',
    event_type      TEXT NOT NULL DEFAULT '',
    url             TEXT NOT NULL DEFAULT '',
    http_status     INTEGER NOT NULL DEFAULT 0,
    request_body    TEXT NOT NULL DEFAULT '',
    response_body   TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL DEFAULT (datetime('now'))
);
`,
	`CREATE INDEX IF NOT EXISTS idx_courier_audit_destination ON courier_audit (destination_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_courier_audit_created ON courier_audit (created_at);`,
	`
CREATE TABLE IF NOT EXISTS courier_dlq (
    id               TEXT PRIMARY KEY,
    job_id           TEXT NOT NULL DEFAULT '',
    event_id         TEXT NOT NULL DEFAULT '',
    destination_id   TEXT NOT NULL DEFAULT '',
    event_type       TEXT NOT NULL DEFAULT '',
    team_id          TEXT NOT NULL DEFAULT '',
    url              TEXT NOT NULL DEFAULT '',
    payload          BLOB,
    error            TEXT NOT NULL DEFAULT '',
    last_status_code INTEGER NOT NULL DEFAULT 0,
    attempt_count    INTEGER NOT NULL DEFAULT 0,
    failed_at        TEXT NOT NULL DEFAULT (datetime('now')),
    replayed_at      TEXT,
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);
`,
	`CREATE INDEX IF NOT EXISTS idx_courier_dlq_failed ON courier_dlq (failed_at);`,
	`CREATE INDEX IF NOT EXISTS idx_courier_dlq_team ON courier_dlq (team_id);`,
}
