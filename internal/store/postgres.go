package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/simsync/internal/core"
	"github.com/JonMunkholm/simsync/internal/ingest"
	"github.com/JonMunkholm/simsync/internal/registry"
)

// PoolConfig sizes the Postgres connection pool.
type PoolConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// OpenPool parses cfg, connects and pings the database.
func OpenPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// schemaSQL creates the two tables the store needs. registry_snapshot holds
// a single row. import_history keeps the full committed diff next to the
// summary columns used for listing.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS registry_snapshot (
	id        SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	version   BIGINT      NOT NULL,
	saved_at  TIMESTAMPTZ NOT NULL,
	body      JSONB       NOT NULL
);

CREATE TABLE IF NOT EXISTS import_history (
	import_run_id TEXT PRIMARY KEY,
	plan_id       TEXT        NOT NULL DEFAULT '',
	source_file   TEXT        NOT NULL,
	source_type   TEXT        NOT NULL,
	plant_key     TEXT        NOT NULL DEFAULT '',
	version       BIGINT      NOT NULL,
	committed_at  TIMESTAMPTZ NOT NULL,
	summary       JSONB       NOT NULL,
	warnings      INTEGER     NOT NULL DEFAULT 0,
	diff          JSONB       NOT NULL DEFAULT '{}'::jsonb
);

ALTER TABLE import_history ADD COLUMN IF NOT EXISTS diff JSONB NOT NULL DEFAULT '{}'::jsonb;

CREATE INDEX IF NOT EXISTS import_history_committed_at_idx
	ON import_history (committed_at DESC);
`

// Postgres stores the snapshot as one JSONB row and import history as a
// table, both written in a single transaction.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an open pool. Call Migrate before first use.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context) (*registry.Snapshot, error) {
	var body []byte
	err := p.pool.QueryRow(ctx, `SELECT body FROM registry_snapshot WHERE id = 1`).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return decodeSnapshot(body)
}

func (p *Postgres) Commit(ctx context.Context, snap registry.Snapshot, rec *core.ImportRecord) error {
	body, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	// The row only moves forward; a writer holding an older registry
	// updates nothing.
	tag, err := tx.Exec(ctx, `
		INSERT INTO registry_snapshot (id, version, saved_at, body)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET version = EXCLUDED.version, saved_at = EXCLUDED.saved_at, body = EXCLUDED.body
		WHERE registry_snapshot.version < EXCLUDED.version`,
		snap.Version, snap.SavedAt, body,
	)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var saved int64
		if err := tx.QueryRow(ctx, `SELECT version FROM registry_snapshot WHERE id = 1`).Scan(&saved); err != nil {
			return fmt.Errorf("read saved version: %w", err)
		}
		return staleCommit(snap.Version, saved)
	}

	if rec != nil {
		if err := insertImport(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertImport(ctx context.Context, tx pgx.Tx, rec *core.ImportRecord) error {
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	diff, err := json.Marshal(rec.Diff)
	if err != nil {
		return fmt.Errorf("encode diff: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO import_history
			(import_run_id, plan_id, source_file, source_type, plant_key, version, committed_at, summary, warnings, diff)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ImportRunID, rec.PlanID, rec.SourceFile, string(rec.SourceType), rec.PlantKey,
		rec.Version, rec.CommittedAt, summary, rec.Warnings, diff,
	); err != nil {
		return fmt.Errorf("write import record: %w", err)
	}
	return nil
}

// Reset empties import_history and overwrites the snapshot row in one
// transaction.
func (p *Postgres) Reset(ctx context.Context, snap registry.Snapshot) error {
	body, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM import_history`); err != nil {
		return fmt.Errorf("clear import_history: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO registry_snapshot (id, version, saved_at, body)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET version = EXCLUDED.version, saved_at = EXCLUDED.saved_at, body = EXCLUDED.body`,
		snap.Version, snap.SavedAt, body,
	); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	slog.Debug("postgres store reset", "version", snap.Version)
	return nil
}

func (p *Postgres) ListImports(ctx context.Context, limit int) ([]core.ImportRecord, error) {
	q := `
		SELECT import_run_id, plan_id, source_file, source_type, plant_key, version, committed_at, summary, warnings, diff
		FROM import_history
		ORDER BY committed_at DESC, import_run_id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	defer rows.Close()

	var out []core.ImportRecord
	for rows.Next() {
		var (
			rec        core.ImportRecord
			sourceType string
			summary    []byte
			diff       []byte
		)
		if err := rows.Scan(&rec.ImportRunID, &rec.PlanID, &rec.SourceFile, &sourceType, &rec.PlantKey,
			&rec.Version, &rec.CommittedAt, &summary, &rec.Warnings, &diff); err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		rec.SourceType = ingest.SourceKind(sourceType)
		if err := json.Unmarshal(summary, &rec.Summary); err != nil {
			return nil, fmt.Errorf("decode summary of %s: %w", rec.ImportRunID, err)
		}
		if err := json.Unmarshal(diff, &rec.Diff); err != nil {
			return nil, fmt.Errorf("decode diff of %s: %w", rec.ImportRunID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	return out, nil
}
