package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kursadbilgin/exception-collector/internal/domain"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isSerializationFailure reports whether the transaction lost a serializable
// conflict and may be replayed.
func isSerializationFailure(err error) bool {
	code := pgErrorCode(err)
	return code == pgSerializationFailure || code == pgDeadlockDetected
}

// translateError maps driver-level conflicts onto domain.ErrConflict and
// leaves every other error untouched.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	switch pgErrorCode(err) {
	case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	return err
}
