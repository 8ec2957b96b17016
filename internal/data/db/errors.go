package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/yungbote/habitbridge-backend/internal/platform/apierr"
)

var (
	// ErrPoolTimeout is returned when no pooled connection frees up within
	// the acquire timeout.
	ErrPoolTimeout = fmt.Errorf("db: timed out waiting for a pooled connection: %w", apierr.ErrStoreTimeout)
	// ErrNotConfigured is returned by components that need the relational
	// store when DATABASE_URL is unset.
	ErrNotConfigured = fmt.Errorf("db: relational store not configured: %w", apierr.ErrStoreUnavailable)
)

// IsTransient reports failures worth retrying the whole transaction for:
// lost connections, serialization failures, deadlocks and admin shutdowns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPoolTimeout) || errors.Is(err, context.Canceled) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := strings.TrimSpace(pgErr.Code)
		switch {
		case strings.HasPrefix(code, "08"):
			return true
		case code == "40001", code == "40P01":
			return true
		case code == "57P01", code == "57P02", code == "57P03":
			return true
		}
		return false
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "database is locked")
}

// IsUniqueViolation reports a unique-constraint failure from either
// Postgres or SQLite.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint failed")
}
