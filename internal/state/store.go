package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrRunNotFound is returned when no recorded run matches a lookup.
	ErrRunNotFound = errors.New("run not found")

	// ErrNoHistory is returned by OpenExisting when no database exists yet.
	ErrNoHistory = errors.New("no run history")
)

// DefaultPath returns the run database location for a training directory.
func DefaultPath(trainDir string) string {
	return filepath.Join(trainDir, ".trainpipe", "runs.db")
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Store records pipeline runs in a SQLite database.
//
// Safe for concurrent use: checkpoint records arrive from the watcher
// goroutine while step records arrive from the executor.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the run database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("state db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init state schema: %w", err)
	}
	return s, nil
}

// OpenExisting opens the run database at path without creating the
// database, its directory or its schema. A missing database yields
// ErrNoHistory.
func OpenExisting(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("state db path is required")
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrNoHistory, path)
		}
		return nil, fmt.Errorf("stat state db: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open state db: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		plan_hash TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER NOT NULL DEFAULT 0,
		failed_step TEXT NOT NULL DEFAULT '',
		previous_run_id TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		failure_class TEXT NOT NULL DEFAULT '',
		failure_step TEXT NOT NULL DEFAULT '',
		failure_code TEXT NOT NULL DEFAULT '',
		failure_message TEXT NOT NULL DEFAULT '',
		resumable INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_plan ON runs(plan_hash, started_at);

	CREATE TABLE IF NOT EXISTS steps (
		run_id TEXT NOT NULL REFERENCES runs(id),
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER,
		finished_at INTEGER,
		PRIMARY KEY (run_id, name)
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		run_id TEXT NOT NULL REFERENCES runs(id),
		step TEXT NOT NULL,
		path TEXT NOT NULL,
		global_step INTEGER NOT NULL,
		seen_at INTEGER NOT NULL,
		UNIQUE (run_id, step, global_step)
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_run ON checkpoints(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// StartRun inserts a new run.
func (s *Store) StartRun(ctx context.Context, run Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, plan_hash, mode, status, exit_code, failed_step, previous_run_id, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.PlanHash, string(run.Mode), string(run.Status), run.ExitCode,
		run.FailedStep, run.PreviousRunID, toNanos(run.StartedAt), nullNanos(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stores the final status, exit code and failure of a run.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	var f Failure
	if run.Failure != nil {
		if err := run.Failure.Validate(); err != nil {
			return fmt.Errorf("invalid failure: %w", err)
		}
		f = *run.Failure
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, exit_code = ?, failed_step = ?, finished_at = ?,
			failure_class = ?, failure_step = ?, failure_code = ?, failure_message = ?, resumable = ?
		WHERE id = ?`,
		string(run.Status), run.ExitCode, run.FailedStep, nullNanos(run.FinishedAt),
		string(f.Class), f.Step, f.Code, f.Message, boolInt(f.Resumable),
		run.ID)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", run.ID, ErrRunNotFound)
	}
	return nil
}

// RecordStep inserts or updates the state of one step.
func (s *Store) RecordStep(ctx context.Context, rec StepRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid step record: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO steps (run_id, name, status, exit_code, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, name) DO UPDATE SET
			status = excluded.status,
			exit_code = excluded.exit_code,
			started_at = COALESCE(excluded.started_at, steps.started_at),
			finished_at = excluded.finished_at`,
		rec.RunID, rec.Name, rec.Status, rec.ExitCode, nullNanos(rec.StartedAt), nullNanos(rec.FinishedAt))
	if err != nil {
		return fmt.Errorf("record step %s/%s: %w", rec.RunID, rec.Name, err)
	}
	return nil
}

// RecordCheckpoint stores a checkpoint. Recording the same global step twice
// is a no-op.
func (s *Store) RecordCheckpoint(ctx context.Context, cp CheckpointRecord) error {
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO checkpoints (run_id, step, path, global_step, seen_at)
		VALUES (?, ?, ?, ?, ?)`,
		cp.RunID, cp.Step, cp.Path, cp.GlobalStep, toNanos(cp.SeenAt))
	if err != nil {
		return fmt.Errorf("record checkpoint %s/%s: %w", cp.RunID, cp.Step, err)
	}
	return nil
}

const runColumns = `id, plan_hash, mode, status, exit_code, failed_step, previous_run_id,
	started_at, finished_at, failure_class, failure_step, failure_code, failure_message, resumable`

// LoadRun returns the run with the given ID.
func (s *Store) LoadRun(ctx context.Context, id string) (Run, error) {
	if strings.TrimSpace(id) == "" {
		return Run{}, errors.New("run id is required")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("load run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns recorded runs, newest first. A limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LatestResumable returns the most recent run of planHash that failed with a
// resumable failure.
func (s *Store) LatestResumable(ctx context.Context, planHash string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs
		WHERE plan_hash = ? AND status IN (?, ?) AND resumable = 1
		ORDER BY started_at DESC, rowid DESC LIMIT 1`,
		planHash, string(RunStatusFailed), string(RunStatusInterrupted))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("resumable run for plan %s: %w", planHash, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("find resumable run: %w", err)
	}
	return run, nil
}

// LoadSteps returns the steps of a run in the order they were first recorded.
func (s *Store) LoadSteps(ctx context.Context, runID string) ([]StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, name, status, exit_code, started_at, finished_at
		FROM steps WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	defer rows.Close()

	var out []StepRecord
	for rows.Next() {
		var (
			rec               StepRecord
			started, finished sql.NullInt64
		)
		if err := rows.Scan(&rec.RunID, &rec.Name, &rec.Status, &rec.ExitCode, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		rec.StartedAt = fromNullNanos(started)
		rec.FinishedAt = fromNullNanos(finished)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LoadCheckpoints returns the checkpoints of a run ordered by step and
// global step.
func (s *Store) LoadCheckpoints(ctx context.Context, runID string) ([]CheckpointRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, step, path, global_step, seen_at
		FROM checkpoints WHERE run_id = ? ORDER BY step, global_step`, runID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoints: %w", err)
	}
	defer rows.Close()

	var out []CheckpointRecord
	for rows.Next() {
		var (
			cp   CheckpointRecord
			seen int64
		)
		if err := rows.Scan(&cp.RunID, &cp.Step, &cp.Path, &cp.GlobalStep, &seen); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.SeenAt = time.Unix(0, seen).UTC()
		out = append(out, cp)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run                            Run
		mode, status                   string
		started                        int64
		finished                       sql.NullInt64
		fClass, fStep, fCode, fMessage string
		resumable                      int
	)
	err := row.Scan(&run.ID, &run.PlanHash, &mode, &status, &run.ExitCode, &run.FailedStep, &run.PreviousRunID,
		&started, &finished, &fClass, &fStep, &fCode, &fMessage, &resumable)
	if err != nil {
		return Run{}, err
	}
	run.Mode = ExecutionMode(mode)
	run.Status = RunStatus(status)
	run.StartedAt = time.Unix(0, started).UTC()
	run.FinishedAt = fromNullNanos(finished)
	if fClass != "" {
		run.Failure = &Failure{
			Class:     FailureClass(fClass),
			Step:      fStep,
			Code:      fCode,
			Message:   fMessage,
			Resumable: resumable != 0,
		}
	}
	return run, nil
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func nullNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(t), Valid: true}
}

func fromNullNanos(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(0, v.Int64).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
