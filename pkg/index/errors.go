package index

import (
	"errors"

	"github.com/VividCortex/mysqlerr"
	"github.com/go-sql-driver/mysql"
)

// isRetryable mirrors the reference client's habit of type-switching on
// *mysql.MySQLError to distinguish transient lock contention (retry) from
// everything else (propagate), grounded on the same pattern the driver's
// own users apply to distinguish e.g. ER_DUP_ENTRY from ER_BAD_NULL_ERROR.
func isRetryable(err error) bool {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}

	switch mysqlErr.Number {
	case mysqlerr.ER_LOCK_DEADLOCK, mysqlerr.ER_LOCK_WAIT_TIMEOUT:
		return true
	default:
		return false
	}
}

// isDuplicateKey reports whether err is a MySQL duplicate-entry error,
// which upsert-style methods fold into idempotent "return existing row"
// behavior instead of propagating as a failure.
func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlerr.ER_DUP_ENTRY
}
