// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/progressive-loader/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "load_runs"

// Config controls the Postgres connection pool used for load runs.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool used by ProgressStore.
type Pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// ProgressStore implements the store.ProgressRepository interface using Postgres.
type ProgressStore struct {
	pool  Pool
	table string
}

// NewProgressStore connects a pool using cfg.
func NewProgressStore(ctx context.Context, cfg Config) (*ProgressStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewProgressStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewProgressStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProgressStoreWithPool(pool Pool, table string) (*ProgressStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ProgressStore{pool: pool, table: table}, nil
}

// Close closes the underlying connection pool.
func (s *ProgressStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies connectivity; used by readiness checks.
func (s *ProgressStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the load run table when it does not exist yet.
func (s *ProgressStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id             UUID PRIMARY KEY,
	url            TEXT NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	finished_at    TIMESTAMPTZ,
	status         TEXT NOT NULL,
	total_bytes    BIGINT NOT NULL DEFAULT -1,
	bytes_received BIGINT NOT NULL DEFAULT 0,
	percent        INT NOT NULL DEFAULT 0,
	error_message  TEXT
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// UpsertLoadStart inserts a running row, leaving an existing row untouched.
func (s *ProgressStore) UpsertLoadStart(ctx context.Context, loadID uuid.UUID, url string, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, url, started_at, updated_at, status)
VALUES ($1, $2, $3, $3, $4)
ON CONFLICT (id) DO NOTHING`, s.table)
	if _, err := s.pool.Exec(ctx, query, loadID, url, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to upsert load start: %w", err)
	}
	return nil
}

// RecordProgress updates byte counters. GREATEST keeps counters monotonic when
// batches from concurrent flushes arrive out of order.
func (s *ProgressStore) RecordProgress(ctx context.Context, loadID uuid.UUID, snap store.ProgressSnapshot) error {
	query := fmt.Sprintf(`
UPDATE %s
SET total_bytes = $1,
	bytes_received = GREATEST(bytes_received, $2),
	percent = GREATEST(percent, $3),
	updated_at = $4
WHERE id = $5`, s.table)
	res, err := s.pool.Exec(ctx, query, snap.TotalBytes, snap.BytesReceived, snap.Percent, snap.At, loadID)
	if err != nil {
		return fmt.Errorf("failed to record progress: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("record progress %s: %w", loadID, store.ErrNotFound)
	}
	return nil
}

// CompleteLoad marks a load as finished with a status and optional error message.
func (s *ProgressStore) CompleteLoad(
	ctx context.Context,
	loadID uuid.UUID,
	finishedAt time.Time,
	status store.LoadRunStatus,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, updated_at = $1, status = $2, error_message = $3
WHERE id = $4`, s.table)
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, loadID); err != nil {
		return fmt.Errorf("failed to complete load: %w", err)
	}
	return nil
}

const selectColumns = "id, url, started_at, updated_at, finished_at, status, " +
	"total_bytes, bytes_received, percent, error_message"

// GetLoad retrieves a single load run by its ID.
func (s *ProgressStore) GetLoad(ctx context.Context, loadID uuid.UUID) (store.LoadRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectColumns, s.table)
	run, err := scanRun(s.pool.QueryRow(ctx, query, loadID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.LoadRun{}, store.ErrNotFound
		}
		return store.LoadRun{}, fmt.Errorf("failed to get load: %w", err)
	}
	return run, nil
}

// ListLoads retrieves load runs newest first, with optional status filtering.
func (s *ProgressStore) ListLoads(
	ctx context.Context,
	status *store.LoadRunStatus,
	limit,
	offset int,
) ([]store.LoadRun, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE ($1::text IS NULL OR status = $1)
ORDER BY started_at DESC
LIMIT $2 OFFSET $3`, selectColumns, s.table)
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list loads: %w", err)
	}
	defer rows.Close()

	runs := make([]store.LoadRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan load row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate load rows: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.LoadRun, error) {
	var (
		run    store.LoadRun
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.URL,
		&run.StartedAt,
		&run.UpdatedAt,
		&run.FinishedAt,
		&status,
		&run.TotalBytes,
		&run.BytesReceived,
		&run.Percent,
		&run.ErrorMessage,
	)
	if err != nil {
		return store.LoadRun{}, err //nolint:wrapcheck
	}
	run.Status = store.LoadRunStatus(status)
	return run, nil
}
