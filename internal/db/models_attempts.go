package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrAttemptNotFound = errors.New("attempt not found")

// Attempt is one finished deployment or manual rollback.
type Attempt struct {
	ID                string          `json:"id"`
	Kind              string          `json:"kind"`
	Service           string          `json:"service"`
	Version           string          `json:"version"`
	PreviousVersion   string          `json:"previous_version,omitempty"`
	State             string          `json:"state"`
	ExitCode          int             `json:"exit_code"`
	StartedAt         time.Time       `json:"started_at"`
	FinishedAt        time.Time       `json:"finished_at"`
	Failure           string          `json:"failure,omitempty"`
	FailureKind       string          `json:"failure_kind,omitempty"`
	RollbackPerformed bool            `json:"rollback_performed"`
	Backup            string          `json:"backup,omitempty"`
	HealthProbes      int             `json:"health_probes"`
	Report            json.RawMessage `json:"report,omitempty"`
}

func (a Attempt) Duration() time.Duration {
	if a.FinishedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}

func createAttemptsTable(ctx context.Context, db *DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS attempts (
    id TEXT PRIMARY KEY,                    -- ULID, sorts by start time
    kind TEXT NOT NULL,                     -- deploy | rollback
    service TEXT NOT NULL,
    version TEXT NOT NULL,
    previous_version TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL,                    -- terminal state
    exit_code INTEGER NOT NULL,
    started_at TEXT NOT NULL,               -- RFC 3339, UTC
    finished_at TEXT NOT NULL,
    failure TEXT NOT NULL DEFAULT '',
    failure_kind TEXT NOT NULL DEFAULT '',
    rollback_performed INTEGER NOT NULL DEFAULT 0,
    backup TEXT NOT NULL DEFAULT '',
    health_probes INTEGER NOT NULL DEFAULT 0,
    report JSON                             -- full report document
);

CREATE INDEX IF NOT EXISTS idx_attempts_service ON attempts(service);
CREATE INDEX IF NOT EXISTS idx_attempts_state ON attempts(state);
`

	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create attempts table: %w", err)
	}
	return nil
}

const attemptColumns = `id, kind, service, version, previous_version, state, exit_code, started_at, finished_at,
       failure, failure_kind, rollback_performed, backup, health_probes, report`

// SaveAttempt inserts the attempt, replacing an earlier row with the same id.
func (db *DB) SaveAttempt(ctx context.Context, a Attempt) error {
	query := `INSERT OR REPLACE INTO attempts (` + attemptColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var report any
	if len(a.Report) > 0 {
		report = string(a.Report)
	}
	_, err := db.ExecContext(ctx, query,
		a.ID, a.Kind, a.Service, a.Version, a.PreviousVersion, a.State, a.ExitCode,
		formatTime(a.StartedAt), formatTime(a.FinishedAt),
		a.Failure, a.FailureKind, boolToInt(a.RollbackPerformed), a.Backup, a.HealthProbes, report)
	if err != nil {
		return fmt.Errorf("failed to save attempt %s: %w", a.ID, err)
	}
	return nil
}

func (db *DB) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM attempts WHERE id = ?`
	a, err := scanAttempt(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, fmt.Errorf("%s: %w", id, ErrAttemptNotFound)
	}
	return a, err
}

// ListAttempts returns the newest attempts first. An empty service lists every service.
func (db *DB) ListAttempts(ctx context.Context, service string, limit int) ([]Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM attempts
              WHERE (? = '' OR service = ?)
              ORDER BY id DESC
              LIMIT ?`
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, query, service, service, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// LastAttempt returns the newest attempt of a service.
func (db *DB) LastAttempt(ctx context.Context, service string) (Attempt, error) {
	attempts, err := db.ListAttempts(ctx, service, 1)
	if err != nil {
		return Attempt{}, err
	}
	if len(attempts) == 0 {
		return Attempt{}, fmt.Errorf("%s: %w", service, ErrAttemptNotFound)
	}
	return attempts[0], nil
}

// PruneOldAttempts keeps the newest attemptsToKeep rows of a service and returns how many were removed.
func (db *DB) PruneOldAttempts(ctx context.Context, service string, attemptsToKeep int) (int64, error) {
	// ULIDs sort by creation time, so ordering by id is ordering by age.
	query := `
        DELETE FROM attempts
        WHERE service = ?
        AND id NOT IN (
            SELECT id FROM attempts
            WHERE service = ?
            ORDER BY id DESC
            LIMIT ?
        )
    `

	result, err := db.ExecContext(ctx, query, service, service, attemptsToKeep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune old attempts: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	return rowsAffected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (Attempt, error) {
	var (
		a                   Attempt
		started, finished   string
		report              sql.NullString
		rollbackPerformedDB int
	)
	err := row.Scan(&a.ID, &a.Kind, &a.Service, &a.Version, &a.PreviousVersion, &a.State, &a.ExitCode,
		&started, &finished, &a.Failure, &a.FailureKind, &rollbackPerformedDB, &a.Backup, &a.HealthProbes, &report)
	if err != nil {
		return Attempt{}, err
	}
	a.RollbackPerformed = rollbackPerformedDB != 0
	if a.StartedAt, err = parseTime(started); err != nil {
		return Attempt{}, fmt.Errorf("attempt %s: %w", a.ID, err)
	}
	if a.FinishedAt, err = parseTime(finished); err != nil {
		return Attempt{}, fmt.Errorf("attempt %s: %w", a.ID, err)
	}
	if report.Valid && report.String != "" {
		a.Report = json.RawMessage(report.String)
	}
	return a, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
