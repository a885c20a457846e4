// Package store provides SQLite-backed persistence for agent run traces.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/droidpilot/droidpilot/internal/agent"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	task         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	final_message TEXT NOT NULL DEFAULT '',
	started_at   INTEGER NOT NULL,
	ended_at     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS steps (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	step_no     INTEGER NOT NULL,
	success     INTEGER NOT NULL DEFAULT 0,
	finished    INTEGER NOT NULL DEFAULT 0,
	thinking    TEXT NOT NULL DEFAULT '',
	action_text TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_steps_run ON steps(run_id, step_no);

CREATE TABLE IF NOT EXISTS takeovers (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_takeovers_run ON takeovers(run_id);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL allows concurrent reads but a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schemaV1); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

// TraceStore records agent runs, their steps and takeover events. It
// implements agent.StepSink, so it can be attached to a loop directly.
// Persistence failures are logged and swallowed; a broken trace never
// interrupts a run.
type TraceStore struct {
	logger *zap.Logger
	db     *sql.DB

	mu    sync.Mutex
	runID string
}

// NewTraceStore opens or creates the trace database at path.
func NewTraceStore(path string, logger *zap.Logger) (*TraceStore, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	return &TraceStore{
		logger: logger.Named("trace"),
		db:     db,
	}, nil
}

// BeginRun opens a new run record and returns its id. Subsequent OnStep and
// OnTakeover calls attach to this run until EndRun.
func (s *TraceStore) BeginRun(ctx context.Context, task string) (string, error) {
	runID := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, task, started_at) VALUES (?, ?, ?)`,
		runID, task, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("recording run start: %w", err)
	}

	s.mu.Lock()
	s.runID = runID
	s.mu.Unlock()
	return runID, nil
}

// EndRun closes the current run record.
func (s *TraceStore) EndRun(ctx context.Context, status, finalMessage string) error {
	s.mu.Lock()
	runID := s.runID
	s.runID = ""
	s.mu.Unlock()
	if runID == "" {
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, final_message = ?, ended_at = ? WHERE run_id = ?`,
		status, finalMessage, time.Now().Unix(), runID)
	if err != nil {
		return fmt.Errorf("recording run end: %w", err)
	}
	return nil
}

// OnStep persists one step result for the current run.
func (s *TraceStore) OnStep(result agent.StepResult) {
	s.mu.Lock()
	runID := s.runID
	s.mu.Unlock()
	if runID == "" {
		return
	}

	_, err := s.db.Exec(
		`INSERT INTO steps (run_id, step_no, success, finished, thinking, action_text, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, result.Step, boolInt(result.Success), boolInt(result.Finished),
		result.Thinking, result.ActionText, result.Message, time.Now().Unix())
	if err != nil {
		s.logger.Warn("Failed to persist step", zap.Int("step", result.Step), zap.Error(err))
	}
}

// OnTakeover persists a human-intervention event for the current run.
func (s *TraceStore) OnTakeover(message string) {
	s.mu.Lock()
	runID := s.runID
	s.mu.Unlock()
	if runID == "" {
		return
	}

	_, err := s.db.Exec(
		`INSERT INTO takeovers (run_id, message, created_at) VALUES (?, ?, ?)`,
		runID, message, time.Now().Unix())
	if err != nil {
		s.logger.Warn("Failed to persist takeover event", zap.Error(err))
	}
}

// RunSteps returns the recorded steps of a run in order.
func (s *TraceStore) RunSteps(ctx context.Context, runID string) ([]agent.StepResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_no, success, finished, thinking, action_text, message
		 FROM steps WHERE run_id = ? ORDER BY step_no, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying run steps: %w", err)
	}
	defer rows.Close()

	var steps []agent.StepResult
	for rows.Next() {
		var r agent.StepResult
		var success, finished int
		if err := rows.Scan(&r.Step, &success, &finished, &r.Thinking, &r.ActionText, &r.Message); err != nil {
			return nil, fmt.Errorf("scanning step row: %w", err)
		}
		r.Success = success != 0
		r.Finished = finished != 0
		steps = append(steps, r)
	}
	return steps, rows.Err()
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	RunID        string
	Task         string
	Status       string
	FinalMessage string
	StartedAt    time.Time
}

// RecentRuns returns the most recently started runs, newest first.
func (s *TraceStore) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, task, status, final_message, started_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var started int64
		if err := rows.Scan(&r.RunID, &r.Task, &r.Status, &r.FinalMessage, &started); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		r.StartedAt = time.Unix(started, 0)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close releases the underlying database.
func (s *TraceStore) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
