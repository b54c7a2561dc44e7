package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/midl-xyz/load-test/pkg/types"
)

// SQLiteStorage implements Storage on SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (or creates) the database at dbPath.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL keeps readers from blocking the writer during a run.
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		mode TEXT NOT NULL,
		wallets INTEGER NOT NULL,
		stats TEXT,
		status TEXT DEFAULT 'running',
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS pipeline_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		wallet TEXT NOT NULL,
		handle TEXT,
		success INTEGER NOT NULL,
		elapsed_ns INTEGER NOT NULL,
		error TEXT,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_pipeline_results_run ON pipeline_results(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run in "running" state.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *types.RunRecord) error {
	status := run.Status
	if status == "" {
		status = "running"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, mode, wallets, status)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt, string(run.Mode), run.Wallets, status)
	return err
}

// CompleteRun finalizes a run with its statistics and terminal status.
func (s *SQLiteStorage) CompleteRun(ctx context.Context, id string, stats *types.Stats, status, errMsg string) error {
	var statsJSON sql.NullString
	if stats != nil {
		data, err := json.Marshal(stats)
		if err != nil {
			return fmt.Errorf("marshal stats: %w", err)
		}
		statsJSON = sql.NullString{String: string(data), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET completed_at = ?, stats = ?, status = ?, error_message = ?
		WHERE id = ?
	`, time.Now().UTC(), statsJSON, status, nullable(errMsg), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// GetRun returns one run, or nil when it does not exist.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, completed_at, mode, wallets, stats, status, error_message
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// ListRuns returns runs newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit, offset int) ([]*types.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, completed_at, mode, wallets, stats, status, error_message
		FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*types.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and its results.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	return err
}

// InsertResults bulk-inserts per-pipeline outcomes in one transaction.
func (s *SQLiteStorage) InsertResults(ctx context.Context, runID string, results []types.PipelineResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pipeline_results (run_id, wallet, handle, success, elapsed_ns, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx, runID, r.Wallet, nullable(r.Handle),
			r.Success, r.Elapsed.Nanoseconds(), nullable(r.Err)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetResults returns a run's per-pipeline outcomes in insertion order.
func (s *SQLiteStorage) GetResults(ctx context.Context, runID string, limit, offset int) ([]types.PipelineResult, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT wallet, handle, success, elapsed_ns, error
		FROM pipeline_results WHERE run_id = ?
		ORDER BY id LIMIT ? OFFSET ?
	`, runID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []types.PipelineResult
	for rows.Next() {
		var (
			r       types.PipelineResult
			handle  sql.NullString
			errText sql.NullString
			ns      int64
		)
		if err := rows.Scan(&r.Wallet, &handle, &r.Success, &ns, &errText); err != nil {
			return nil, err
		}
		r.Handle = handle.String
		r.Err = errText.String
		r.Elapsed = time.Duration(ns)
		results = append(results, r)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*types.RunRecord, error) {
	var (
		run         types.RunRecord
		mode        string
		completedAt sql.NullTime
		statsJSON   sql.NullString
		errMsg      sql.NullString
	)
	err := row.Scan(&run.ID, &run.StartedAt, &completedAt, &mode,
		&run.Wallets, &statsJSON, &run.Status, &errMsg)
	if err != nil {
		return nil, err
	}
	run.Mode = types.Mode(mode)
	if completedAt.Valid {
		run.CompletedAt = completedAt.Time
	}
	run.ErrorMsg = errMsg.String
	if statsJSON.Valid {
		var stats types.Stats
		if err := json.Unmarshal([]byte(statsJSON.String), &stats); err != nil {
			// Corrupt stats are not worth failing a history query over.
			slog.Warn("discarding unreadable stats column",
				slog.String("runID", run.ID),
				slog.String("error", err.Error()),
			)
		} else {
			run.Stats = &stats
		}
	}
	return &run, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
