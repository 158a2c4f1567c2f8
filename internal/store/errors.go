package store

import (
	"errors"

	"github.com/ncruces/go-sqlite3"
)

// isConstraintErr reports whether err is a SQLite constraint violation
// (UNIQUE, PRIMARY KEY, CHECK, FOREIGN KEY), which the store maps to
// nodeerr.Integrity rather than nodeerr.Storage since these signal an
// invariant violation in the caller's data, not a transient I/O failure.
func isConstraintErr(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.CONSTRAINT
	}
	return false
}
