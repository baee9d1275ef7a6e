package postgres

import (
	"errors"

	"github.com/jackc/pgconn"
)

const (
	codeUniqueViolation  = "23505"
	codeLockNotAvailable = "55P03"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool { return pgCode(err) == codeUniqueViolation }

func isLockNotAvailable(err error) bool { return pgCode(err) == codeLockNotAvailable }
