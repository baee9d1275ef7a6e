package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ai-learning-plans/internal/domain"
	"ai-learning-plans/internal/domain/ports/repository"
)

var _ repository.TransactionManager = (*TxManager)(nil)

// TxManager runs queue and cache callbacks inside a pgx transaction.
// The callback receives the pgx.Tx as its repository.Tx.
type TxManager struct {
	pool *pgxpool.Pool
}

func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// WithTx commits when fn returns nil and rolls back otherwise. Rollback runs on a
// context detached from ctx so a cancelled caller still releases its row locks promptly.
func (m *TxManager) WithTx(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := m.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// querier is what both the pool and an open transaction offer.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// getExecutor resolves a repository.Tx: nil runs on the pool, a pgx.Tx runs inside it.
func getExecutor(pool *pgxpool.Pool, tx repository.Tx) (querier, error) {
	if tx == nil {
		if pool == nil {
			return nil, domain.ErrInvalidArgument
		}
		return pool, nil
	}
	if t, ok := tx.(pgx.Tx); ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %T", domain.ErrInvalidExecContext, tx)
}

// requireTx is for operations that only make sense under a lock held by a transaction.
func requireTx(tx repository.Tx) (pgx.Tx, error) {
	t, ok := tx.(pgx.Tx)
	if !ok {
		return nil, fmt.Errorf("%w: a transaction is required", domain.ErrInvalidExecContext)
	}
	return t, nil
}
