package postgres

import (
	"context"
	"database/sql"

	"github.com/meterline/meterline/internal/domain/document"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
)

// DocumentRepository implements document.Store on a single revisioned JSONB
// table. Optimistic concurrency rides on the revision column: updates are
// conditional on the caller-held revision.
type DocumentRepository struct {
	client *Client
	logger *logger.Logger
}

func NewDocumentRepository(client *Client, log *logger.Logger) document.Store {
	return &DocumentRepository{client: client, logger: log}
}

func (r *DocumentRepository) Get(ctx context.Context, key string) (*document.Document, error) {
	var doc document.Document
	err := r.client.db.GetContext(ctx, &doc,
		`SELECT key, revision, body, updated_at FROM documents WHERE key = $1`, key)
	if err == sql.ErrNoRows {
		return nil, ierr.NewError("document not found").
			WithReportableDetails(map[string]interface{}{"key": key}).
			Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to fetch document").
			WithReportableDetails(map[string]interface{}{"key": key}).
			Mark(ierr.ErrDatabase)
	}
	return &doc, nil
}

func (r *DocumentRepository) Put(ctx context.Context, doc *document.Document) (int64, error) {
	if doc.Revision == 0 {
		res, err := r.client.db.ExecContext(ctx,
			`INSERT INTO documents (key, revision, body, updated_at)
			 VALUES ($1, 1, $2, now())
			 ON CONFLICT (key) DO NOTHING`,
			doc.Key, doc.Body)
		if err != nil {
			return 0, ierr.WithError(err).
				WithHint("Failed to create document").
				WithReportableDetails(map[string]interface{}{"key": doc.Key}).
				Mark(ierr.ErrDatabase)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
		if affected == 0 {
			return 0, ierr.NewError("document already exists").
				WithReportableDetails(map[string]interface{}{"key": doc.Key}).
				Mark(ierr.ErrConflict)
		}
		return 1, nil
	}

	res, err := r.client.db.ExecContext(ctx,
		`UPDATE documents
		 SET revision = revision + 1, body = $3, updated_at = now()
		 WHERE key = $1 AND revision = $2`,
		doc.Key, doc.Revision, doc.Body)
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to update document").
			WithReportableDetails(map[string]interface{}{"key": doc.Key}).
			Mark(ierr.ErrDatabase)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		return 0, ierr.NewError("stale document revision").
			WithReportableDetails(map[string]interface{}{
				"key":      doc.Key,
				"revision": doc.Revision,
			}).
			Mark(ierr.ErrConflict)
	}
	return doc.Revision + 1, nil
}

func (r *DocumentRepository) RangeQuery(ctx context.Context, startKey, endKey string, descending bool, limit int) ([]*document.Document, error) {
	query := `SELECT key, revision, body, updated_at FROM documents WHERE key >= $1 AND key < $2 ORDER BY key`
	if descending {
		query += " DESC"
	}
	args := []interface{}{startKey, endKey}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	var docs []*document.Document
	if err := r.client.db.SelectContext(ctx, &docs, query, args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to range-query documents").
			WithReportableDetails(map[string]interface{}{
				"start_key": startKey,
				"end_key":   endKey,
			}).
			Mark(ierr.ErrDatabase)
	}
	return docs, nil
}
