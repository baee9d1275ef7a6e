package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is a backend-defined transaction handle (pgx.Tx for Postgres).
// Repositories MUST accept a nil Tx and run non-transactionally.
type Tx interface{}

// NoTX selects the non-transactional path.
var NoTX Tx

// TransactionManager runs fn inside one transaction and passes the handle
// through so repositories can lock rows (SELECT ... FOR UPDATE).
// An error returned by fn rolls the transaction back.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
