// Package sqlite stores scrape results in a single-file SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
	"github.com/jjjenkim/fis-results-scraper/internal/storage"
)

// ResultStore mirrors the Postgres schema for single-node installs.
type ResultStore struct {
	db      *sql.DB
	results string
	runs    string
}

// New opens (creating if needed) the database at path and ensures the schema.
func New(ctx context.Context, path, prefix string) (*ResultStore, error) {
	if path == "" {
		return nil, errors.New("db.dsn is required")
	}
	if !storage.ValidPrefix(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time avoids SQLITE_BUSY under the pipeline's sinks.
	db.SetMaxOpenConns(1)

	s := &ResultStore{db: db, results: prefix + "results", runs: prefix + "runs"}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *ResultStore) Close() error {
	return s.db.Close()
}

func (s *ResultStore) ensureSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    fis_code       TEXT NOT NULL,
    result_date    TEXT NOT NULL,
    location       TEXT NOT NULL,
    nation         TEXT NOT NULL DEFAULT '',
    category       TEXT NOT NULL,
    category_label TEXT NOT NULL DEFAULT '',
    discipline     TEXT NOT NULL DEFAULT '',
    rank_position  INTEGER,
    rank_status    TEXT,
    fis_points     REAL,
    cup_points     REAL,
    run_id         TEXT NOT NULL,
    scraped_at     DATETIME NOT NULL,
    PRIMARY KEY (fis_code, result_date, category, discipline, location)
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_date ON %[1]s(fis_code, result_date);
CREATE TABLE IF NOT EXISTS %[2]s (
    run_id       TEXT PRIMARY KEY,
    started_at   DATETIME NOT NULL,
    finished_at  DATETIME NOT NULL,
    athletes     INTEGER NOT NULL,
    succeeded    INTEGER NOT NULL,
    failed       INTEGER NOT NULL,
    forbidden    INTEGER NOT NULL,
    results      INTEGER NOT NULL,
    cache_hits   INTEGER NOT NULL,
    cache_misses INTEGER NOT NULL
);`, s.results, s.runs)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// WriteSnapshot implements scrape.SnapshotSink. Results already stored for
// the same race are left untouched.
func (s *ResultStore) WriteSnapshot(ctx context.Context, snapshot scrape.Snapshot, summary scrape.RunSummary) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	insertResult := fmt.Sprintf(`INSERT OR IGNORE INTO %s (
    fis_code, result_date, location, nation, category, category_label, discipline,
    rank_position, rank_status, fis_points, cup_points, run_id, scraped_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.results)
	for _, row := range storage.Flatten(snapshot) {
		if _, err = tx.ExecContext(ctx, insertResult,
			row.FISCode, row.ResultDate, row.Location, row.Nation, row.Category, row.CategoryLabel, row.Discipline,
			row.RankPosition, row.RankStatus, row.FISPoints, row.CupPoints, snapshot.RunID, snapshot.LastUpdated,
		); err != nil {
			return fmt.Errorf("insert result for %s: %w", row.FISCode, err)
		}
	}

	insertRun := fmt.Sprintf(`INSERT OR IGNORE INTO %s (
    run_id, started_at, finished_at, athletes, succeeded, failed, forbidden, results, cache_hits, cache_misses
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.runs)
	if _, err = tx.ExecContext(ctx, insertRun,
		summary.RunID, summary.StartedAt, summary.FinishedAt, summary.Athletes, summary.Succeeded,
		summary.Failed, summary.Forbidden, summary.Results, summary.CacheHits, summary.CacheMiss,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// History returns every stored result for an athlete, newest date first.
func (s *ResultStore) History(ctx context.Context, fisCode string) ([]storage.ResultRow, error) {
	query := fmt.Sprintf(`SELECT fis_code, result_date, location, nation, category, category_label, discipline,
    rank_position, rank_status, fis_points, cup_points
FROM %s WHERE fis_code = ? ORDER BY result_date DESC, location`, s.results)
	rows, err := s.db.QueryContext(ctx, query, fisCode)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []storage.ResultRow
	for rows.Next() {
		var r storage.ResultRow
		if err := rows.Scan(&r.FISCode, &r.ResultDate, &r.Location, &r.Nation, &r.Category, &r.CategoryLabel,
			&r.Discipline, &r.RankPosition, &r.RankStatus, &r.FISPoints, &r.CupPoints); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// RunCount returns the number of stored runs.
func (s *ResultStore) RunCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.runs)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}
