// Package history persists execution reports to SQLite so past failures can
// enrich future prompts and the CLI can show what the engine has done. The
// store is strictly optional: the engine runs fine without one.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/foreman/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the SQLite execution-history database.
type Store struct {
	db *sql.DB
}

// RequestRecord is one row of the requests table.
type RequestRecord struct {
	ID         string
	Text       string
	Tier       string
	Route      string
	Health     string
	PlanScore  float64
	Replans    int
	StepsTotal int
	StepsOK    int
	Duration   time.Duration
	CreatedAt  time.Time
}

// Failure is a past failed attempt, used to enrich executor prompts.
type Failure struct {
	RequestText string
	StepID      string
	ErrorKind   string
	Reason      string
}

// Open opens (creating if needed) the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	// busy_timeout first so the remaining pragmas wait on locks.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordReport persists a finished execution report and all its attempts in
// one transaction.
func (s *Store) RecordReport(ctx context.Context, requestText string, report *models.ExecutionReport) error {
	if s == nil {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO requests (id, text, tier, route, health, plan_score, replans, steps_total, steps_ok, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RequestID, requestText, string(report.Tier), string(report.RouteTaken),
		string(report.Health), report.PlanScore, report.ReplansUsed,
		len(report.Steps), report.Succeeded(), report.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert request row: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attempts (attempt_id, request_id, step_id, attempt, success, escalated, error_kind, reason, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare attempt insert: %w", err)
	}
	defer stmt.Close()

	for _, step := range report.Steps {
		for _, a := range step.Attempts {
			_, err := stmt.ExecContext(ctx, a.AttemptID, report.RequestID, a.StepID,
				a.Attempt, a.Success, a.Escalated, a.ErrorKind, a.Reason, a.Duration.Milliseconds())
			if err != nil {
				return fmt.Errorf("insert attempt row: %w", err)
			}
		}
	}
	return tx.Commit()
}

// RecentFailures returns the most recent failed attempts, newest first.
func (s *Store) RecentFailures(ctx context.Context, limit int) ([]Failure, error) {
	if s == nil {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.text, a.step_id, a.error_kind, a.reason
		FROM attempts a JOIN requests r ON r.id = a.request_id
		WHERE a.success = 0
		ORDER BY a.created_at DESC, a.attempt_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.RequestText, &f.StepID, &f.ErrorKind, &f.Reason); err != nil {
			return nil, fmt.Errorf("scan failure row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RecentRequests returns the most recent request rows, newest first.
func (s *Store) RecentRequests(ctx context.Context, limit int) ([]RequestRecord, error) {
	if s == nil {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, tier, route, health, plan_score, replans, steps_total, steps_ok, duration_ms, created_at
		FROM requests ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent requests: %w", err)
	}
	defer rows.Close()

	var out []RequestRecord
	for rows.Next() {
		var r RequestRecord
		var durMS int64
		if err := rows.Scan(&r.ID, &r.Text, &r.Tier, &r.Route, &r.Health,
			&r.PlanScore, &r.Replans, &r.StepsTotal, &r.StepsOK, &durMS, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan request row: %w", err)
		}
		r.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}
