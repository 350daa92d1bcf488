// Package history persists run summaries and per-request metrics to a
// SQLite database so past runs can be compared. The engine itself stays
// stateless; the host feeds this store after a run completes.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/studiowebux/flux/internal/report"
	"github.com/studiowebux/flux/internal/types"
)

const metricBatchSize = 500

// Run is one recorded load test run
type Run struct {
	ID            int64
	ConfigPath    string
	Target        string
	Mode          string
	Concurrency   int
	StartedAt     time.Time
	CompletedAt   *time.Time
	TotalRequests int64
	Succeeded     int64
	Failed        int64
	ThroughputRPS float64
	P50Ms         float64
	P95Ms         float64
	P99Ms         float64
	ErrorRate     float64
}

// Store wraps the SQLite connection
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the history database and ensures the schema
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		config_path TEXT NOT NULL,
		target TEXT,
		mode TEXT NOT NULL,
		concurrency INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		total_requests INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		throughput_rps REAL NOT NULL DEFAULT 0,
		p50_ms REAL NOT NULL DEFAULT 0,
		p95_ms REAL NOT NULL DEFAULT 0,
		p99_ms REAL NOT NULL DEFAULT 0,
		error_rate REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS run_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		timestamp_ms INTEGER NOT NULL,
		step_name TEXT,
		status INTEGER,
		latency_ns INTEGER NOT NULL,
		bytes_received INTEGER NOT NULL,
		error_kind TEXT,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_run_metrics_run_id ON run_metrics(run_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a run record and fills in its ID
func (s *Store) CreateRun(run *Run) error {
	result, err := s.db.Exec(`
		INSERT INTO runs (config_path, target, mode, concurrency, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ConfigPath, run.Target, run.Mode, run.Concurrency, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// SaveOutcomes stores the run's per-request records in batched
// transactions so large runs don't hold one giant transaction open.
func (s *Store) SaveOutcomes(runID int64, outcomes []types.Outcome) error {
	for start := 0; start < len(outcomes); start += metricBatchSize {
		end := start + metricBatchSize
		if end > len(outcomes) {
			end = len(outcomes)
		}
		if err := s.saveBatch(runID, outcomes[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) saveBatch(runID int64, outcomes []types.Outcome) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO run_metrics
		(run_id, timestamp_ms, step_name, status, latency_ns, bytes_received, error_kind, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range outcomes {
		var status interface{}
		if o.Status != 0 {
			status = o.Status
		}
		var kind, message interface{}
		if o.ErrorKind != "" {
			kind = string(o.ErrorKind)
		}
		if o.ErrorMessage != "" {
			message = o.ErrorMessage
		}
		if _, err := stmt.Exec(runID, o.TimestampMs, o.Step, status, o.LatencyNs, o.BytesReceived, kind, message); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert metric: %w", err)
		}
	}

	return tx.Commit()
}

// CompleteRun stamps a run with its final summary
func (s *Store) CompleteRun(runID int64, summary report.Summary) error {
	now := time.Now()
	_, err := s.db.Exec(`
		UPDATE runs
		SET completed_at = ?, total_requests = ?, succeeded = ?, failed = ?,
		    throughput_rps = ?, p50_ms = ?, p95_ms = ?, p99_ms = ?, error_rate = ?
		WHERE id = ?
	`, now, summary.TotalRequests, summary.SuccessfulRequests, summary.FailedRequests,
		summary.ThroughputRPS, summary.P50Ms, summary.P95Ms, summary.P99Ms, summary.ErrorRate, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, config_path, COALESCE(target, ''), mode, concurrency, started_at, completed_at,
		       total_requests, succeeded, failed, throughput_rps, p50_ms, p95_ms, p99_ms, error_rate
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(&run.ID, &run.ConfigPath, &run.Target, &run.Mode, &run.Concurrency,
			&run.StartedAt, &run.CompletedAt, &run.TotalRequests, &run.Succeeded, &run.Failed,
			&run.ThroughputRPS, &run.P50Ms, &run.P95Ms, &run.P99Ms, &run.ErrorRate)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
