package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/meterline/meterline/internal/config"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
)

// Client owns the postgres connection pool. Lifecycle belongs to the process
// wiring; repositories borrow the handle.
type Client struct {
	db     *sqlx.DB
	logger *logger.Logger
}

func NewClient(cfg *config.Configuration, log *logger.Logger) (*Client, error) {
	db, err := sqlx.Connect("postgres", cfg.Postgres.DSN())
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to connect to postgres").
			Mark(ierr.ErrDatabase)
	}

	db.SetMaxOpenConns(cfg.Postgres.MaxOpen)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdle)

	return &Client{db: db, logger: log}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	key        TEXT PRIMARY KEY,
	revision   BIGINT NOT NULL,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the documents table when missing. An advisory lock
// keeps concurrently starting processes from racing the migration.
func (c *Client) EnsureSchema(ctx context.Context) error {
	return c.WithAdvisoryLock(ctx, "meterline:schema", 30*time.Second, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return ierr.WithError(err).
				WithHint("Failed to ensure document schema").
				Mark(ierr.ErrDatabase)
		}
		return nil
	})
}
