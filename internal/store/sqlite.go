package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements RunLog using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS scrape_runs (
	id           TEXT PRIMARY KEY,
	query        TEXT NOT NULL,
	kind         TEXT NOT NULL,
	success      INTEGER NOT NULL,
	provider     TEXT NOT NULL,
	result_count INTEGER NOT NULL DEFAULT 0,
	elapsed_ms   INTEGER NOT NULL DEFAULT 0,
	failures     TEXT,
	source       TEXT NOT NULL,
	job_id       TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_scrape_runs_created_at ON scrape_runs(created_at);
CREATE INDEX IF NOT EXISTS idx_scrape_runs_provider ON scrape_runs(provider);
CREATE INDEX IF NOT EXISTS idx_scrape_runs_job_id ON scrape_runs(job_id);
`

const sqliteInsertRun = `INSERT INTO scrape_runs
	(id, query, kind, success, provider, result_count, elapsed_ms, failures, source, job_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const runColumns = `id, query, kind, success, provider, result_count, elapsed_ms, failures, source, job_id, created_at`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AppendRun(ctx context.Context, r *Run) error {
	prepare(r)
	args, err := sqliteArgs(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, sqliteInsertRun, args...)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) AppendRuns(ctx context.Context, runs []Run) error {
	if len(runs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteInsertRun)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert run")
	}
	defer stmt.Close() //nolint:errcheck

	for i := range runs {
		prepare(&runs[i])
		args, err := sqliteArgs(&runs[i])
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "sqlite: insert run %s", runs[i].ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit runs")
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM scrape_runs WHERE id = ?`, id)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM scrape_runs WHERE 1=1`
	var args []any

	if filter.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, filter.Provider)
	}
	if filter.Success != nil {
		query += ` AND success = ?`
		args = append(args, boolInt(*filter.Success))
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.JobID != "" {
		query += ` AND job_id = ?`
		args = append(args, filter.JobID)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, filter.limit())

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func sqliteArgs(r *Run) ([]any, error) {
	var failures sql.NullString
	if len(r.Failures) > 0 {
		b, err := json.Marshal(r.Failures)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal failures")
		}
		failures = sql.NullString{String: string(b), Valid: true}
	}
	return []any{
		r.ID, r.Query, string(r.Kind), boolInt(r.Success), r.Provider,
		r.ResultCount, r.ElapsedMs, failures, r.Source, r.JobID, r.CreatedAt,
	}, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	var success int
	var failures sql.NullString

	err := row.Scan(&r.ID, &r.Query, &r.Kind, &success, &r.Provider, &r.ResultCount,
		&r.ElapsedMs, &failures, &r.Source, &r.JobID, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.Success = success != 0
	if failures.Valid {
		if err := json.Unmarshal([]byte(failures.String), &r.Failures); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal failures")
		}
	}
	return &r, nil
}
