package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/executor"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/resilience"
)

// ErrRunNotFound is returned by Load for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Timestamps are stored as Unix milliseconds so the schema reads the same on
// both drivers.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		run_id        TEXT PRIMARY KEY,
		started_at    BIGINT NOT NULL,
		finished_at   BIGINT NOT NULL,
		source_bucket TEXT NOT NULL,
		dest_bucket   TEXT NOT NULL,
		status        TEXT NOT NULL,
		warnings      INTEGER NOT NULL,
		terms_written INTEGER NOT NULL,
		error         TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_stages (
		run_id    TEXT NOT NULL,
		position  INTEGER NOT NULL,
		stage     TEXT NOT NULL,
		total     INTEGER NOT NULL,
		succeeded INTEGER NOT NULL,
		failed    INTEGER NOT NULL,
		PRIMARY KEY (run_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_failures (
		run_id TEXT NOT NULL,
		stage  TEXT NOT NULL,
		item   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS pipeline_failures_run_idx ON pipeline_failures (run_id, stage)`,
}

// Store persists RunReports to PostgreSQL or SQLite.
type Store struct {
	db     *postgres.Client
	retry  resilience.RetryConfig
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db: db,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
		},
		logger: slog.Default().With("component", "report-store"),
	}
}

// Migrate creates the report tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating report schema: %w", err)
		}
	}
	return nil
}

// Save writes the run, its stages and failed items in one transaction,
// replacing any earlier report with the same run ID.
func (s *Store) Save(ctx context.Context, r RunReport) error {
	err := resilience.Retry(ctx, "save-run-report", s.retry, func(ctx context.Context) error {
		return s.db.InTx(ctx, func(tx *sql.Tx) error {
			return s.save(ctx, tx, r)
		})
	})
	if err != nil {
		return fmt.Errorf("saving run report %s: %w", r.RunID, err)
	}
	s.logger.Info("run report saved",
		"run_id", r.RunID,
		"status", r.Status(),
		"stages", len(r.Stages),
		"failed", r.Failed(),
	)
	return nil
}

func (s *Store) save(ctx context.Context, tx *sql.Tx, r RunReport) error {
	for _, table := range []string{"pipeline_failures", "pipeline_stages", "pipeline_runs"} {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM `+table+` WHERE run_id = ?`), r.RunID); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	_, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO pipeline_runs
			(run_id, started_at, finished_at, source_bucket, dest_bucket, status, warnings, terms_written, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.RunID, r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(),
		r.SourceBucket, r.DestBucket, r.Status(), r.Warnings, r.TermsWritten, r.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	stageStmt := s.rebind(`INSERT INTO pipeline_stages (run_id, position, stage, total, succeeded, failed) VALUES (?, ?, ?, ?, ?, ?)`)
	failStmt := s.rebind(`INSERT INTO pipeline_failures (run_id, stage, item) VALUES (?, ?, ?)`)
	for i, st := range r.Stages {
		if _, err := tx.ExecContext(ctx, stageStmt, r.RunID, i, st.Stage, st.Total, st.Succeeded, st.Failed); err != nil {
			return fmt.Errorf("inserting stage %s: %w", st.Stage, err)
		}
		for _, item := range st.FailedItems {
			if _, err := tx.ExecContext(ctx, failStmt, r.RunID, st.Stage, item); err != nil {
				return fmt.Errorf("inserting failure %s/%s: %w", st.Stage, item, err)
			}
		}
	}
	return nil
}

// Load reads back a saved report.
func (s *Store) Load(ctx context.Context, runID string) (*RunReport, error) {
	r := &RunReport{RunID: runID}
	var started, finished int64
	err := s.db.DB.QueryRowContext(ctx, s.rebind(
		`SELECT started_at, finished_at, source_bucket, dest_bucket, warnings, terms_written, error
		FROM pipeline_runs WHERE run_id = ?`), runID,
	).Scan(&started, &finished, &r.SourceBucket, &r.DestBucket, &r.Warnings, &r.TermsWritten, &r.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	r.FinishedAt = time.UnixMilli(finished).UTC()

	rows, err := s.db.DB.QueryContext(ctx, s.rebind(
		`SELECT stage, total, succeeded, failed FROM pipeline_stages WHERE run_id = ? ORDER BY position`), runID)
	if err != nil {
		return nil, fmt.Errorf("querying stages for run %s: %w", runID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var st executor.Summary
		if err := rows.Scan(&st.Stage, &st.Total, &st.Succeeded, &st.Failed); err != nil {
			return nil, fmt.Errorf("scanning stage row: %w", err)
		}
		r.Stages = append(r.Stages, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range r.Stages {
		items, err := s.failedItems(ctx, runID, r.Stages[i].Stage)
		if err != nil {
			return nil, err
		}
		r.Stages[i].FailedItems = items
	}
	return r, nil
}

func (s *Store) failedItems(ctx context.Context, runID, stage string) ([]string, error) {
	rows, err := s.db.DB.QueryContext(ctx, s.rebind(
		`SELECT item FROM pipeline_failures WHERE run_id = ? AND stage = ? ORDER BY item`), runID, stage)
	if err != nil {
		return nil, fmt.Errorf("querying failures for %s/%s: %w", runID, stage, err)
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var item string
		if err := rows.Scan(&item); err != nil {
			return nil, fmt.Errorf("scanning failure row: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// rebind rewrites ? placeholders as $1, $2, ... for the postgres driver.
func (s *Store) rebind(query string) string {
	if s.db.Driver != postgres.DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
