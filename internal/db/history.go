package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/livinlefevreloca/budgetd/internal/notify"
	"github.com/livinlefevreloca/budgetd/internal/orchestrator"
)

// RecordRun persists one sync outcome with its per-account failures.
func (db *DB) RecordRun(outcome *orchestrator.Outcome) error {
	return db.WithTransaction(func(tx *Tx) error {
		query := `
			INSERT INTO sync_runs (run_id, server, triggered_by, status, started_at, duration_ms,
				accounts_processed, accounts_succeeded, accounts_failed, failed_phase, error_code, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`

		_, err := tx.Exec(query,
			outcome.RunID,
			outcome.Server,
			string(outcome.Trigger),
			string(outcome.Status),
			outcome.StartedAt,
			outcome.Duration.Milliseconds(),
			outcome.AccountsProcessed,
			outcome.AccountsSucceeded,
			outcome.AccountsFailed,
			nullable(outcome.FailedPhase),
			nullable(outcome.ErrorCode),
			nullable(outcome.ErrorMessage),
		)
		if err != nil {
			return err
		}

		for _, f := range outcome.Failed {
			_, err := tx.Exec(
				`INSERT INTO account_failures (run_id, account_id, account_name, error) VALUES (?, ?, ?, ?)`,
				outcome.RunID, f.AccountID, f.AccountName, f.Error,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordNotification persists one dispatch result for a run.
func (db *DB) RecordNotification(server, runID string, result notify.Result) error {
	var channels *string
	if len(result.Channels) > 0 {
		raw, err := json.Marshal(result.Channels)
		if err != nil {
			return err
		}
		s := string(raw)
		channels = &s
	}

	query := `
		INSERT INTO notifications (id, server, run_id, sent, reason, channels, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		uuid.NewString(),
		server,
		runID,
		result.Sent,
		nullable(result.Reason),
		channels,
		time.Now(),
	)
	return err
}

// GetRun retrieves one run by its run ID.
func (db *DB) GetRun(runID string) (*SyncRun, error) {
	query := `
		SELECT run_id, server, triggered_by, status, started_at, duration_ms,
			accounts_processed, accounts_succeeded, accounts_failed, failed_phase, error_code, error
		FROM sync_runs
		WHERE run_id = ?
	`

	run := &SyncRun{}
	err := db.QueryRow(query, runID).Scan(
		&run.RunID,
		&run.Server,
		&run.TriggeredBy,
		&run.Status,
		&run.StartedAt,
		&run.DurationMS,
		&run.AccountsProcessed,
		&run.AccountsSucceeded,
		&run.AccountsFailed,
		&run.FailedPhase,
		&run.ErrorCode,
		&run.Error,
	)
	if IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// RecentRuns retrieves the most recent runs, newest first. An empty server
// filter returns runs for all servers.
func (db *DB) RecentRuns(server string, limit int) ([]SyncRun, error) {
	query := `
		SELECT run_id, server, triggered_by, status, started_at, duration_ms,
			accounts_processed, accounts_succeeded, accounts_failed, failed_phase, error_code, error
		FROM sync_runs
	`
	args := []any{}
	if server != "" {
		query += " WHERE server = ?"
		args = append(args, server)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []SyncRun{}
	for rows.Next() {
		var run SyncRun
		err := rows.Scan(
			&run.RunID,
			&run.Server,
			&run.TriggeredBy,
			&run.Status,
			&run.StartedAt,
			&run.DurationMS,
			&run.AccountsProcessed,
			&run.AccountsSucceeded,
			&run.AccountsFailed,
			&run.FailedPhase,
			&run.ErrorCode,
			&run.Error,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunAccountFailures retrieves the failed accounts recorded for a run.
func (db *DB) RunAccountFailures(runID string) ([]AccountFailure, error) {
	rows, err := db.Query(
		`SELECT run_id, account_id, account_name, error FROM account_failures WHERE run_id = ?`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	failures := []AccountFailure{}
	for rows.Next() {
		var f AccountFailure
		if err := rows.Scan(&f.RunID, &f.AccountID, &f.AccountName, &f.Error); err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// RecentNotifications retrieves the most recent dispatch records for a
// server, newest first.
func (db *DB) RecentNotifications(server string, limit int) ([]Notification, error) {
	query := `
		SELECT id, server, run_id, sent, reason, channels, created_at
		FROM notifications
		WHERE server = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := db.Query(query, server, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Server, &n.RunID, &n.Sent, &n.Reason, &n.Channels, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// nullable converts an empty string to a NULL-able pointer for insert args.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
