package sched

import (
	"context"

	"github.com/rs/zerolog"
)

type CacheCleaner interface {
	CleanupExpiredCache(ctx context.Context, limit int) (int, error)
}

// CacheSweeper removes expired cache rows in batches until a short batch comes back
// or the run context ends.
type CacheSweeper struct {
	cache CacheCleaner
	batch int
	log   *zerolog.Logger
}

func NewCacheSweeper(cache CacheCleaner, batch int, logger *zerolog.Logger) *CacheSweeper {
	if batch <= 0 {
		batch = 1000
	}
	l := logger.With().Str("component", "CacheSweeper").Logger()
	return &CacheSweeper{cache: cache, batch: batch, log: &l}
}

func (s *CacheSweeper) Name() string { return "cache_sweep" }

func (s *CacheSweeper) Run(ctx context.Context) error {
	total := 0
	for ctx.Err() == nil {
		n, err := s.cache.CleanupExpiredCache(ctx, s.batch)
		total += n
		if err != nil {
			return err
		}
		if n < s.batch {
			break
		}
	}
	if total > 0 {
		s.log.Info().Int("count", total).Msg("expired cache rows swept")
	}
	return ctx.Err()
}
