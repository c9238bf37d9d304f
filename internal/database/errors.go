package database

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
)

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// isNightsViolation reports a collision on the interval-exclusion index.
func isNightsViolation(err error) bool {
	return isUniqueViolation(err) && strings.Contains(err.Error(), "reservation_nights")
}

func isIdempotencyViolation(err error) bool {
	return isUniqueViolation(err) && strings.Contains(err.Error(), "idempotency_key")
}

// isBusy reports a writer lock that outlived the busy timeout.
func isBusy(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}
