package db

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the services branch on.
const (
	CodeUniqueViolation      = "23505"
	CodeExclusionViolation   = "23P01"
	CodeLockNotAvailable     = "55P03"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeUndefinedFunction    = "42883"
	CodeUndefinedTable       = "42P01"
	CodeQueryCanceled        = "57014"
	CodeInvalidText          = "22P02"
)

func Code(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func IsUniqueViolation(err error) bool {
	return Code(err) == CodeUniqueViolation
}

func IsExclusionViolation(err error) bool {
	return Code(err) == CodeExclusionViolation
}

// IsInvalidText reports a value Postgres could not parse, such as a malformed uuid.
func IsInvalidText(err error) bool {
	return Code(err) == CodeInvalidText
}

func IsLockTimeout(err error) bool {
	return Code(err) == CodeLockNotAvailable
}

// IsUndefinedObject reports a missing function or relation, e.g. a migration
// that has not been applied yet.
func IsUndefinedObject(err error) bool {
	switch Code(err) {
	case CodeUndefinedFunction, CodeUndefinedTable:
		return true
	}
	return false
}

// IsTransient reports failures where re-running the whole unit of work may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch Code(err) {
	case CodeLockNotAvailable, CodeSerializationFailure, CodeDeadlockDetected, CodeQueryCanceled:
		return true
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
