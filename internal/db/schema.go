package db

import "time"

// SyncRun is one recorded sync run row.
type SyncRun struct {
	RunID             string
	Server            string
	TriggeredBy       string
	Status            string
	StartedAt         time.Time
	DurationMS        int64
	AccountsProcessed int
	AccountsSucceeded int
	AccountsFailed    int
	FailedPhase       *string
	ErrorCode         *string
	Error             *string
}

// AccountFailure is one failed account within a recorded run.
type AccountFailure struct {
	RunID       string
	AccountID   string
	AccountName string
	Error       string
}

// Notification is one recorded dispatch result.
type Notification struct {
	ID        string
	Server    string
	RunID     string
	Sent      bool
	Reason    *string
	Channels  *string // JSON array of per-channel results
	CreatedAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS sync_runs (
	run_id             TEXT PRIMARY KEY,
	server             TEXT NOT NULL,
	triggered_by       TEXT NOT NULL,
	status             TEXT NOT NULL,
	started_at         TIMESTAMP NOT NULL,
	duration_ms        INTEGER NOT NULL,
	accounts_processed INTEGER NOT NULL,
	accounts_succeeded INTEGER NOT NULL,
	accounts_failed    INTEGER NOT NULL,
	failed_phase       TEXT,
	error_code         TEXT,
	error              TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_server_started
	ON sync_runs (server, started_at DESC);

CREATE TABLE IF NOT EXISTS account_failures (
	run_id       TEXT NOT NULL REFERENCES sync_runs (run_id) ON DELETE CASCADE,
	account_id   TEXT NOT NULL,
	account_name TEXT NOT NULL,
	error        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	server     TEXT NOT NULL,
	run_id     TEXT NOT NULL,
	sent       INTEGER NOT NULL,
	reason     TEXT,
	channels   TEXT,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_server_created
	ON notifications (server, created_at DESC);
`

// Bootstrap creates the history tables if they do not exist. The store is
// small enough that idempotent bootstrap replaces migration files.
func (db *DB) Bootstrap() error {
	_, err := db.Exec(schema)
	return err
}
