package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"ai-learning-plans/internal/config"
	"ai-learning-plans/internal/infra/metrics"
)

// Connect opens a pool and pings it within a short timeout.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.ConnectConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.Connect failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// ReportPoolStats publishes pool gauges every interval until ctx is done.
func ReportPoolStats(ctx context.Context, pool *pgxpool.Pool, interval time.Duration, logger *zerolog.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := pool.Stat()
			snap := metrics.PoolSnapshot{
				Max:           s.MaxConns(),
				Total:         s.TotalConns(),
				Idle:          s.IdleConns(),
				Acquired:      s.AcquiredConns(),
				EmptyAcquires: s.EmptyAcquireCount(),
			}
			metrics.SetDBPoolStats(snap)
			logger.Trace().
				Int32("total", snap.Total).
				Int32("acquired", snap.Acquired).
				Int64("empty_acquires", snap.EmptyAcquires).
				Msg("db pool stats")
		}
	}
}
