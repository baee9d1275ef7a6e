package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/domain/model"
	"ai-learning-plans/internal/domain/ports/repository"
)

var _ repository.ResourceCacheRepository = (*PostgresResourceCacheRepo)(nil)

type PostgresResourceCacheRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresResourceCacheRepo(pool *pgxpool.Pool) *PostgresResourceCacheRepo {
	return &PostgresResourceCacheRepo{pool: pool}
}

func (r *PostgresResourceCacheRepo) Get(ctx context.Context, tx repository.Tx, key model.CacheKey) (*model.CacheEntry, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	const sql = `
SELECT query_key, source, stage, results, cache_version, expires_at, created_at, updated_at
  FROM resource_cache
 WHERE query_key = $1 AND source = $2;`
	var (
		e       model.CacheEntry
		stage   string
		results []byte
	)
	err = ex.QueryRow(ctx, sql, key.QueryKey, key.Source).Scan(
		&e.QueryKey, &e.Source, &stage, &results, &e.Payload.CacheVersion, &e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	e.Stage = model.CacheStage(stage)
	if err := json.Unmarshal(results, &e.Payload.Results); err != nil {
		return nil, fmt.Errorf("decode cache results: %w", err)
	}
	if e.Payload.Results == nil {
		e.Payload.Results = []json.RawMessage{}
	}
	return &e, nil
}

func (r *PostgresResourceCacheRepo) Upsert(ctx context.Context, tx repository.Tx, entry *model.CacheEntry) error {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	results := entry.Payload.Results
	if results == nil {
		results = []json.RawMessage{}
	}
	b, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode cache results: %w", err)
	}
	const sql = `
INSERT INTO resource_cache (query_key, source, stage, results, cache_version, expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (query_key, source) DO UPDATE
  SET stage         = EXCLUDED.stage,
      results       = EXCLUDED.results,
      cache_version = EXCLUDED.cache_version,
      expires_at    = EXCLUDED.expires_at,
      updated_at    = EXCLUDED.updated_at;`
	_, err = ex.Exec(ctx, sql,
		entry.QueryKey, entry.Source, string(entry.Stage), string(b), entry.Payload.CacheVersion,
		entry.ExpiresAt, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

func (r *PostgresResourceCacheRepo) DeleteIfExpired(ctx context.Context, tx repository.Tx, key model.CacheKey, now time.Time) (bool, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return false, err
	}
	ct, err := ex.Exec(ctx,
		`DELETE FROM resource_cache WHERE query_key = $1 AND source = $2 AND expires_at <= $3`,
		key.QueryKey, key.Source, now)
	if err != nil {
		return false, fmt.Errorf("delete expired cache entry: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// DeleteExpired deletes by ctid so a bounded batch never scans past limit rows.
func (r *PostgresResourceCacheRepo) DeleteExpired(ctx context.Context, tx repository.Tx, now time.Time, limit int) (int, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return 0, err
	}
	var (
		sql  string
		args []interface{}
	)
	if limit > 0 {
		sql = `
DELETE FROM resource_cache
 WHERE ctid IN (
   SELECT ctid FROM resource_cache
    WHERE expires_at <= $1
    ORDER BY expires_at
    LIMIT $2
 );`
		args = []interface{}{now, limit}
	} else {
		sql = `DELETE FROM resource_cache WHERE expires_at <= $1`
		args = []interface{}{now}
	}
	ct, err := ex.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired cache: %w", err)
	}
	return int(ct.RowsAffected()), nil
}
