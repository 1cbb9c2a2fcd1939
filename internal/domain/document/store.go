package document

import (
	"context"
	"encoding/json"
	"time"

	ierr "github.com/meterline/meterline/internal/errors"
)

// Document is one versioned record in the store. Revision implements
// optimistic concurrency: a Put with a stale revision fails with
// ierr.ErrConflict.
type Document struct {
	Key       string          `json:"key" db:"key"`
	Revision  int64           `json:"revision" db:"revision"`
	Body      json.RawMessage `json:"body" db:"body"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Store is the contract the engine requires from the underlying versioned
// document store. Keys are opaque strings ordered lexicographically.
type Store interface {
	// Get fetches a document by exact key; ierr.ErrNotFound when absent.
	Get(ctx context.Context, key string) (*Document, error)

	// Put writes a document. Revision 0 creates; otherwise the write only
	// succeeds when the stored revision matches. Returns the new revision,
	// or ierr.ErrConflict on a concurrent write.
	Put(ctx context.Context, doc *Document) (int64, error)

	// RangeQuery returns documents with startKey <= key < endKey, ordered
	// by key, optionally descending and bounded by limit (0 = no limit).
	RangeQuery(ctx context.Context, startKey, endKey string, descending bool, limit int) ([]*Document, error)
}

// Encode marshals a model into a document body.
func Encode(key string, revision int64, v interface{}) (*Document, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to encode document body").
			WithReportableDetails(map[string]interface{}{"key": key}).
			Mark(ierr.ErrInternal)
	}
	return &Document{Key: key, Revision: revision, Body: body}, nil
}

// Decode unmarshals a document body into a model.
func Decode(doc *Document, v interface{}) error {
	if err := json.Unmarshal(doc.Body, v); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to decode document body").
			WithReportableDetails(map[string]interface{}{"key": doc.Key}).
			Mark(ierr.ErrInternal)
	}
	return nil
}
