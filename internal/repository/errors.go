package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the service reacts to.
const (
	codeUniqueViolation    = "23505"
	codeDeadlockDetected   = "40P01"
	codeSerialization      = "40001"
	codeLockNotAvailable   = "55P03"
	codeTooManyConnections = "53300"
	codeQueryCanceled      = "57014"
	codeAdminShutdown      = "57P01"
	classConnection        = "08"
)

// IsNotFound reports whether err means a :one query matched no row.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsUniqueViolation reports whether err is a unique constraint violation,
// optionally restricted to the named constraint.
func IsUniqueViolation(err error, constraint ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	if len(constraint) == 0 {
		return true
	}
	return pgErr.ConstraintName == constraint[0]
}

// IsTransient reports whether err is a storage failure that may succeed on
// retry: lost connections, lock timeouts, deadlocks, connection exhaustion
// and timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeDeadlockDetected, codeSerialization, codeLockNotAvailable,
			codeTooManyConnections, codeQueryCanceled, codeAdminShutdown:
			return true
		}
		return strings.HasPrefix(pgErr.Code, classConnection)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}

	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}
