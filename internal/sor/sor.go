// Package sor reads rows from the system-of-record Postgres database for
// the indexing worker, per spec §4.6's connection-recovery contract: the
// pool is health-checked before each read and recreated on failure, and a
// transient per-read error gets one reconnect-and-retry before giving up.
// Grounded on the existing internal/persistence/databases newPgPool.
package sor

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgxpool.Pool with health-check-and-recreate semantics.
type Store struct {
	dsn  string
	pool *pgxpool.Pool
}

// Open builds a Store and its initial pool.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := newPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{dsn: dsn, pool: pool}, nil
}

func newPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("sor: parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sor: new pool: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sor: ping: %w", err)
	}
	return pool, nil
}

// ensureHealthy runs a trivial SELECT 1 and recreates the pool on failure,
// per spec §4.6's "system-of-record pool is health-checked before each
// read" requirement.
func (s *Store) ensureHealthy(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.pool.Ping(pctx); err == nil {
		return nil
	}

	fresh, err := newPool(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("sor: recreate pool: %w", err)
	}
	old := s.pool
	s.pool = fresh
	old.Close()
	return nil
}

// Row is a single primary-key-resolved system-of-record row, keyed by
// snake_case column name, ready for the indexer's transform step.
type Row map[string]any

// ReadByPK health-checks the pool, then reads one row from table where
// pkColumn = pkValue, retrying once after a fresh health check on a
// transient error.
func (s *Store) ReadByPK(ctx context.Context, table, pkColumn, pkValue string) (Row, bool, error) {
	if herr := s.ensureHealthy(ctx); herr != nil {
		return nil, false, fmt.Errorf("sor: health check before read: %w", herr)
	}
	row, found, err := s.readOnce(ctx, table, pkColumn, pkValue)
	if err == nil {
		return row, found, nil
	}

	if herr := s.ensureHealthy(ctx); herr != nil {
		return nil, false, fmt.Errorf("sor: health check after read failure: %w", herr)
	}
	return s.readOnce(ctx, table, pkColumn, pkValue)
}

func (s *Store) readOnce(ctx context.Context, table, pkColumn, pkValue string) (Row, bool, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", pgx.Identifier{table}.Sanitize(), pgx.Identifier{pkColumn}.Sanitize())
	rows, err := s.pool.Query(ctx, query, pkValue)
	if err != nil {
		return nil, false, fmt.Errorf("sor: query %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, fmt.Errorf("sor: scan %s: %w", table, err)
		}
		return nil, false, nil
	}

	values, err := rows.Values()
	if err != nil {
		return nil, false, fmt.Errorf("sor: values %s: %w", table, err)
	}

	row := make(Row, len(fields))
	for i, f := range fields {
		row[string(f.Name)] = values[i]
	}
	return row, true, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
