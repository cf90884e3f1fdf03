package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/fieldlens/analysis-queue/internal/store"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes
const (
	// uniqueViolationCode is the PostgreSQL error code for unique constraint violations
	uniqueViolationCode = "23505"

	// foreignKeyViolationCode is the PostgreSQL error code for foreign key violations
	foreignKeyViolationCode = "23503"

	// checkViolationCode is the PostgreSQL error code for check constraint violations
	checkViolationCode = "23514"

	// notNullViolationCode is the PostgreSQL error code for not null violations
	notNullViolationCode = "23502"
)

// MapError maps a database error to a store error. Constraint violations
// become ErrDuplicate or ErrInvalidEntity; anything else is wrapped in a
// PersistenceError for op.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolationCode:
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		case foreignKeyViolationCode, checkViolationCode:
			return fmt.Errorf("%w: constraint %s: %v", store.ErrInvalidEntity, pgErr.ConstraintName, err)
		case notNullViolationCode:
			return fmt.Errorf("%w: column %s cannot be null: %v", store.ErrInvalidEntity, pgErr.ColumnName, err)
		}
	}

	return store.NewPersistenceError(op, err)
}

// IsUniqueViolation checks if the given error is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// IsCheckConstraintViolation checks if the given error is a PostgreSQL check constraint violation.
func IsCheckConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == checkViolationCode
}

// checkFenced turns a zero-row fenced update into store.ErrClaimLost.
func checkFenced(op string, result sql.Result) error {
	if result == nil {
		return fmt.Errorf("nil result provided to %s", op)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return store.NewPersistenceError(op, fmt.Errorf("failed to get rows affected: %w", err))
	}
	if n == 0 {
		return store.ErrClaimLost
	}
	return nil
}

// checkFound turns a zero-row update into notFound.
func checkFound(op string, result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return store.NewPersistenceError(op, fmt.Errorf("failed to get rows affected: %w", err))
	}
	if n == 0 {
		return notFound
	}
	return nil
}
