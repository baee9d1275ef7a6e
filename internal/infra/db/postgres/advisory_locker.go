package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v4"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/domain/ports/adapter"
	"ai-learning-plans/internal/domain/ports/repository"
)

var _ adapter.KeyLocker = (*AdvisoryLocker)(nil)

// AdvisoryLocker holds pg_advisory_xact_lock for the duration of fn.
// The lock lives in its own transaction; fn does its reads and writes outside it,
// so a holder uses two pool connections at once (see config.MinPoolForAdvisoryLocks).
type AdvisoryLocker struct {
	tm   repository.TransactionManager
	wait time.Duration
}

func NewAdvisoryLocker(tm repository.TransactionManager, wait time.Duration) *AdvisoryLocker {
	return &AdvisoryLocker{tm: tm, wait: wait}
}

func (l *AdvisoryLocker) WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return l.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, q repository.Tx) error {
		tx, err := requireTx(q)
		if err != nil {
			return err
		}
		if l.wait > 0 {
			ms := strconv.FormatInt(l.wait.Milliseconds(), 10)
			if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
				return fmt.Errorf("set lock_timeout: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", hashToInt64("cache:"+key)); err != nil {
			if isLockNotAvailable(err) {
				return fmt.Errorf("%w: %s", domain.ErrLockNotAcquired, key)
			}
			return fmt.Errorf("advisory lock %s: %w", key, err)
		}
		return fn(ctx)
	})
}
