package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// IsDuplicateKeyErr reports whether err is a unique-constraint violation on any
// supported dialect.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsBusyErr reports whether err indicates lock contention or a transaction
// timeout rather than a permanent failure. Callers should retry with backoff.
func IsBusyErr(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	// SQLite
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return true
	}

	// PostgreSQL (55P03 lock_not_available, 40P01 deadlock_detected)
	if strings.Contains(msg, "could not obtain lock") || strings.Contains(msg, "deadlock detected") {
		return true
	}

	// MySQL (1205 lock wait timeout, 1213 deadlock)
	if strings.Contains(msg, "Error 1205") || strings.Contains(msg, "Error 1213") {
		return true
	}

	return false
}
