package repository

import (
	"context"
	"fmt"
)

// jobsDDL creates the jobs table. Times are stored as RFC 3339 text so the
// same DDL serves both sqlite and postgres.
var jobsDDL = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id                TEXT PRIMARY KEY,
		workspace_id      TEXT NOT NULL,
		config_version_id TEXT NOT NULL,
		document_ids      TEXT NOT NULL,
		status            TEXT NOT NULL,
		attempt           INTEGER NOT NULL DEFAULT 1,
		queued_at         TEXT NOT NULL,
		started_at        TEXT,
		completed_at      TEXT,
		heartbeat_at      TEXT,
		artifact_uri      TEXT NOT NULL DEFAULT '',
		output_uri        TEXT NOT NULL DEFAULT '',
		logs_uri          TEXT NOT NULL DEFAULT '',
		run_request_uri   TEXT NOT NULL DEFAULT '',
		input_hash        TEXT NOT NULL,
		trace_id          TEXT NOT NULL DEFAULT '',
		error_message     TEXT NOT NULL DEFAULT '',
		requested_by      TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status, queued_at)`,
	`CREATE INDEX IF NOT EXISTS jobs_input_hash_idx ON jobs (workspace_id, input_hash)`,
}

// InitSchema creates the job tables if they do not exist.
func (d *DB) InitSchema(ctx context.Context) error {
	for _, stmt := range jobsDDL {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
