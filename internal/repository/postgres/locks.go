package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	ierr "github.com/meterline/meterline/internal/errors"
)

// WithAdvisoryLock runs fn inside a transaction holding a transaction-scoped
// advisory lock derived from key. The lock is released automatically on
// commit or rollback. Used to serialize schema migrations across processes.
func (c *Client) WithAdvisoryLock(ctx context.Context, key string, timeout time.Duration, fn func(tx *sqlx.Tx) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to begin transaction").
			Mark(ierr.ErrDatabase)
	}
	defer tx.Rollback()

	if timeout > 0 {
		// SET LOCAL resets automatically on commit/rollback
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", timeout.Milliseconds())); err != nil {
			return ierr.WithError(err).
				WithHint("Failed to set lock timeout").
				Mark(ierr.ErrDatabase)
		}
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		if isLockTimeoutError(err) {
			return ierr.WithError(err).
				WithHintf("Failed to acquire advisory lock within %v", timeout).
				WithReportableDetails(map[string]interface{}{"key": key}).
				Mark(ierr.ErrConflict)
		}
		return ierr.WithError(err).
			WithHint("Failed to acquire advisory lock").
			Mark(ierr.ErrDatabase)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to commit transaction").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

// isLockTimeoutError checks the postgres error code for a lock timeout.
func isLockTimeoutError(err error) bool {
	var pqErr *pq.Error
	if ierr.As(err, &pqErr) {
		// 55P03 = lock_not_available
		return pqErr.Code == "55P03"
	}
	return false
}
