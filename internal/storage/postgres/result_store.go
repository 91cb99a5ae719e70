// Package postgres stores scrape results and run summaries in Postgres.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
	"github.com/jjjenkim/fis-results-scraper/internal/storage"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// ResultStore writes flattened results and run summaries. Results are
// deduplicated on (fis_code, result_date, category, discipline, location).
type ResultStore struct {
	pool    pool
	results string
	runs    string
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	if !storage.ValidPrefix(cfg.TablePrefix) {
		return nil, fmt.Errorf("invalid table prefix %q", cfg.TablePrefix)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(p, cfg.TablePrefix)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, prefix string) (*ResultStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if !storage.ValidPrefix(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return &ResultStore{
		pool:    p,
		results: prefix + "results",
		runs:    prefix + "runs",
	}, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables when missing.
func (s *ResultStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
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
	fis_points     DOUBLE PRECISION,
	cup_points     DOUBLE PRECISION,
	run_id         TEXT NOT NULL,
	scraped_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (fis_code, result_date, category, discipline, location)
);
CREATE TABLE IF NOT EXISTS %[2]s (
	run_id       TEXT PRIMARY KEY,
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL,
	athletes     INTEGER NOT NULL,
	succeeded    INTEGER NOT NULL,
	failed       INTEGER NOT NULL,
	forbidden    INTEGER NOT NULL,
	results      INTEGER NOT NULL,
	cache_hits   BIGINT NOT NULL,
	cache_misses BIGINT NOT NULL
)`, s.results, s.runs)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// WriteSnapshot implements scrape.SnapshotSink in a single transaction.
func (s *ResultStore) WriteSnapshot(ctx context.Context, snapshot scrape.Snapshot, summary scrape.RunSummary) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := s.write(ctx, tx, snapshot, summary); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func (s *ResultStore) write(ctx context.Context, tx pgx.Tx, snapshot scrape.Snapshot, summary scrape.RunSummary) error {
	insertResult := fmt.Sprintf(`
INSERT INTO %s (
	fis_code, result_date, location, nation, category, category_label, discipline,
	rank_position, rank_status, fis_points, cup_points, run_id, scraped_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (fis_code, result_date, category, discipline, location) DO NOTHING`, s.results)

	for _, row := range storage.Flatten(snapshot) {
		if _, err := tx.Exec(ctx, insertResult,
			row.FISCode, row.ResultDate, row.Location, row.Nation, row.Category, row.CategoryLabel, row.Discipline,
			row.RankPosition, row.RankStatus, row.FISPoints, row.CupPoints, snapshot.RunID, snapshot.LastUpdated,
		); err != nil {
			return fmt.Errorf("insert result for %s: %w", row.FISCode, err)
		}
	}

	insertRun := fmt.Sprintf(`
INSERT INTO %s (
	run_id, started_at, finished_at, athletes, succeeded, failed, forbidden, results, cache_hits, cache_misses
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (run_id) DO NOTHING`, s.runs)
	if _, err := tx.Exec(ctx, insertRun,
		summary.RunID, summary.StartedAt, summary.FinishedAt, summary.Athletes, summary.Succeeded,
		summary.Failed, summary.Forbidden, summary.Results, summary.CacheHits, summary.CacheMiss,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}
