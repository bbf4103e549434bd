// Package store persists pipeline run history in a local SQLite database so
// the status command and the stats tool can report on past runs without the
// backend being reachable.
package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"props2mcp/internal/model"
)

type SQLiteLedger struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

func NewSQLiteLedger(path string) *SQLiteLedger {
	return &SQLiteLedger{path: path}
}

func (s *SQLiteLedger) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return err
	}

	schema := `
CREATE TABLE IF NOT EXISTS runs (
  run_id TEXT PRIMARY KEY,
  variant TEXT NOT NULL,
  started_at INTEGER NOT NULL,
  finished_at INTEGER NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  success_count INTEGER NOT NULL DEFAULT 0,
  error_count INTEGER NOT NULL DEFAULT 0,
  final_count INTEGER NOT NULL DEFAULT 0,
  reindexed INTEGER NOT NULL DEFAULT 0,
  succeeded INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS failures (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  line_number INTEGER NOT NULL DEFAULT 0,
  doc_id TEXT NOT NULL DEFAULT '',
  error_type TEXT NOT NULL,
  reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_failures_run_id ON failures(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteLedger) ensureDB(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db != nil {
		return db, nil
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db, nil
}

func (s *SQLiteLedger) RecordRun(ctx context.Context, run model.RunRecord, failures []model.FailureRecord) error {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO runs(run_id, variant, started_at, finished_at, attempts, success_count, error_count, final_count, reindexed, succeeded)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   finished_at=excluded.finished_at,
		   attempts=excluded.attempts,
		   success_count=excluded.success_count,
		   error_count=excluded.error_count,
		   final_count=excluded.final_count,
		   reindexed=excluded.reindexed,
		   succeeded=excluded.succeeded`,
		run.RunID,
		run.Variant,
		run.StartedAt.Unix(),
		run.FinishedAt.Unix(),
		run.Attempts,
		run.SuccessCount,
		run.ErrorCount,
		run.FinalCount,
		run.Reindexed,
		boolToInt(run.Succeeded),
	)
	if err != nil {
		return err
	}

	for _, f := range failures {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO failures(run_id, line_number, doc_id, error_type, reason) VALUES(?, ?, ?, ?, ?)`,
			run.RunID, f.Line, f.DocID, f.Type, f.Reason,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteLedger) LastRun(ctx context.Context) (model.RunRecord, bool, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return model.RunRecord{}, false, err
	}

	row := db.QueryRowContext(ctx, `
SELECT run_id, variant, started_at, finished_at, attempts, success_count, error_count, final_count, reindexed, succeeded
FROM runs ORDER BY started_at DESC, run_id DESC LIMIT 1`)

	var run model.RunRecord
	var started, finished int64
	var succeeded int
	err = row.Scan(
		&run.RunID, &run.Variant, &started, &finished, &run.Attempts,
		&run.SuccessCount, &run.ErrorCount, &run.FinalCount, &run.Reindexed, &succeeded,
	)
	if err == sql.ErrNoRows {
		return model.RunRecord{}, false, nil
	}
	if err != nil {
		return model.RunRecord{}, false, err
	}
	run.StartedAt = time.Unix(started, 0).UTC()
	run.FinishedAt = time.Unix(finished, 0).UTC()
	run.Succeeded = succeeded != 0
	return run, true, nil
}

// Failures returns the failure records persisted for one run.
func (s *SQLiteLedger) Failures(ctx context.Context, runID string) ([]model.FailureRecord, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT line_number, doc_id, error_type, reason FROM failures WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var failures []model.FailureRecord
	for rows.Next() {
		var f model.FailureRecord
		if err := rows.Scan(&f.Line, &f.DocID, &f.Type, &f.Reason); err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

func (s *SQLiteLedger) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
