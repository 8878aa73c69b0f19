package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"dev/bravebird/debug-ui-verifier/pkg/models"
)

// DB represents the database connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dsn string) (*DB, error) {
	dsn, err := normalizeDSN(dsn)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn}, nil
}

// normalizeDSN forces the options the scanners below rely on.
func normalizeDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	return cfg.FormatDSN(), nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS verification_runs (
		id                   VARCHAR(64)  NOT NULL PRIMARY KEY,
		temporal_workflow_id VARCHAR(255) NOT NULL DEFAULT '',
		temporal_run_id      VARCHAR(255) NOT NULL DEFAULT '',
		status               VARCHAR(32)  NOT NULL,
		state                VARCHAR(32)  NOT NULL DEFAULT 'not-navigated',
		target_url           TEXT         NOT NULL,
		screenshot_path      TEXT         NULL,
		toggled              BOOLEAN      NOT NULL DEFAULT FALSE,
		failed_step          VARCHAR(64)  NOT NULL DEFAULT '',
		failed_selector      VARCHAR(255) NOT NULL DEFAULT '',
		error_message        TEXT         NULL,
		duration_ms          BIGINT       NOT NULL DEFAULT 0,
		created_at           DATETIME(3)  NOT NULL,
		started_at           DATETIME(3)  NULL,
		completed_at         DATETIME(3)  NULL,
		INDEX idx_runs_created (created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS assertion_results (
		id            VARCHAR(64)  NOT NULL PRIMARY KEY,
		run_id        VARCHAR(64)  NOT NULL,
		seq           INT          NOT NULL,
		name          VARCHAR(255) NOT NULL,
		selector      VARCHAR(255) NOT NULL,
		expectation   VARCHAR(64)  NOT NULL,
		passed        BOOLEAN      NOT NULL,
		error_message TEXT         NULL,
		duration_ms   BIGINT       NOT NULL DEFAULT 0,
		INDEX idx_assertions_run (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES verification_runs(id) ON DELETE CASCADE
	)`,
}

// EnsureSchema creates the tables if they do not exist yet.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// ==================== Verification Runs ====================

// CreateRun inserts a run. If the run already exists (the API created it
// before the worker picked it up) only status, state, target and start time
// are refreshed, and a canceled status is kept.
func (db *DB) CreateRun(ctx context.Context, run *models.VerificationRun) error {
	query := `
		INSERT INTO verification_runs (id, temporal_workflow_id, temporal_run_id, status, state, target_url, created_at, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = IF(status = 'canceled', status, VALUES(status)),
			state = VALUES(state),
			target_url = VALUES(target_url),
			started_at = COALESCE(VALUES(started_at), started_at)
	`

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	if run.State == "" {
		run.State = models.StateNotNavigated
	}

	_, err := db.conn.ExecContext(ctx, query,
		run.ID,
		run.TemporalWorkflowID,
		run.TemporalRunID,
		run.Status,
		run.State,
		run.TargetURL,
		run.CreatedAt,
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// SetTemporalIDs records the Temporal execution a run is bound to.
func (db *DB) SetTemporalIDs(ctx context.Context, id, workflowID, runID string) error {
	query := `
		UPDATE verification_runs
		SET temporal_workflow_id = ?, temporal_run_id = ?
		WHERE id = ?
	`
	_, err := db.conn.ExecContext(ctx, query, workflowID, runID, id)
	if err != nil {
		return fmt.Errorf("failed to set temporal ids: %w", err)
	}
	return nil
}

// UpdateRunStatus updates a run's status
func (db *DB) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errorMsg string) error {
	query := `
		UPDATE verification_runs
		SET status = ?, error_message = ?, completed_at = IF(? IN ('success', 'failed', 'canceled'), ?, completed_at)
		WHERE id = ?
	`
	_, err := db.conn.ExecContext(ctx, query, status, errorMsg, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return nil
}

// UpdateRunState records the last state a running verification reached.
func (db *DB) UpdateRunState(ctx context.Context, id string, state models.RunState) error {
	query := `UPDATE verification_runs SET state = ? WHERE id = ?`
	if _, err := db.conn.ExecContext(ctx, query, state, id); err != nil {
		return fmt.Errorf("failed to update run state: %w", err)
	}
	return nil
}

// CompleteRun stores the final outcome of a verification. A run the user
// already canceled keeps its canceled status.
func (db *DB) CompleteRun(ctx context.Context, id string, result models.VerificationResult) error {
	query := `
		UPDATE verification_runs
		SET status = ?, state = ?, screenshot_path = ?, toggled = ?, failed_step = ?, failed_selector = ?,
		    error_message = ?, duration_ms = ?, completed_at = ?
		WHERE id = ? AND status <> 'canceled'
	`
	_, err := db.conn.ExecContext(ctx, query,
		result.Status,
		result.State,
		result.ScreenshotPath,
		result.Toggled,
		result.FailedStep,
		result.FailedSelector,
		result.ErrorMessage,
		result.TotalDuration,
		time.Now(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

const runColumns = `id, temporal_workflow_id, temporal_run_id, status, state, target_url,
	screenshot_path, toggled, failed_step, failed_selector, error_message, duration_ms,
	created_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*models.VerificationRun, error) {
	var run models.VerificationRun
	var screenshotPath, errorMessage sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&run.ID,
		&run.TemporalWorkflowID,
		&run.TemporalRunID,
		&run.Status,
		&run.State,
		&run.TargetURL,
		&screenshotPath,
		&run.Toggled,
		&run.FailedStep,
		&run.FailedSelector,
		&errorMessage,
		&run.Duration,
		&run.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.ScreenshotPath = screenshotPath.String
	run.ErrorMessage = errorMessage.String
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

// GetRun retrieves a run by ID. It returns nil, nil when the run does not exist.
func (db *DB) GetRun(ctx context.Context, id string) (*models.VerificationRun, error) {
	query := `SELECT ` + runColumns + ` FROM verification_runs WHERE id = ?`

	run, err := scanRun(db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.VerificationRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM verification_runs ORDER BY created_at DESC LIMIT ?`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.VerificationRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ==================== Assertion Results ====================

// SaveAssertions replaces the stored assertions of a run.
func (db *DB) SaveAssertions(ctx context.Context, runID string, results []models.AssertionResult) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM assertion_results WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to clear assertions: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO assertion_results (id, run_id, seq, name, selector, expectation, passed, error_message, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, r := range results {
		_, err := stmt.ExecContext(ctx,
			uuid.New().String(),
			runID,
			i,
			r.Name,
			r.Selector,
			r.Condition,
			r.Passed,
			r.ErrorMessage,
			r.Duration,
		)
		if err != nil {
			return fmt.Errorf("failed to insert assertion: %w", err)
		}
	}

	return tx.Commit()
}

// GetAssertions returns a run's assertions in the order they were made.
func (db *DB) GetAssertions(ctx context.Context, runID string) ([]models.AssertionResult, error) {
	query := `
		SELECT name, selector, expectation, passed, error_message, duration_ms
		FROM assertion_results
		WHERE run_id = ?
		ORDER BY seq
	`

	rows, err := db.conn.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get assertions: %w", err)
	}
	defer rows.Close()

	results := []models.AssertionResult{}
	for rows.Next() {
		var r models.AssertionResult
		var errorMessage sql.NullString
		if err := rows.Scan(&r.Name, &r.Selector, &r.Condition, &r.Passed, &errorMessage, &r.Duration); err != nil {
			return nil, fmt.Errorf("failed to scan assertion: %w", err)
		}
		r.ErrorMessage = errorMessage.String
		results = append(results, r)
	}
	return results, rows.Err()
}
