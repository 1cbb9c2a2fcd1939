package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/domain/document"
	ierr "github.com/meterline/meterline/internal/errors"
)

// InMemoryDocumentStore implements document.Store with the same revision
// semantics as the postgres repository, so the conflict-retry paths can be
// exercised without a database.
type InMemoryDocumentStore struct {
	mu   sync.Mutex
	docs map[string]*document.Document

	// conflictsRemaining injects revision conflicts into the next N Puts.
	conflictsRemaining int
	putCount           int
}

func NewInMemoryDocumentStore() *InMemoryDocumentStore {
	return &InMemoryDocumentStore{docs: make(map[string]*document.Document)}
}

// InjectConflicts makes the next n Put calls fail with a revision conflict.
func (s *InMemoryDocumentStore) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflictsRemaining = n
}

// PutCount reports how many Put calls the store has seen.
func (s *InMemoryDocumentStore) PutCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putCount
}

func copyDoc(doc *document.Document) *document.Document {
	copied := *doc
	copied.Body = append([]byte(nil), doc.Body...)
	return &copied
}

func (s *InMemoryDocumentStore) Get(ctx context.Context, key string) (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[key]
	if !ok {
		return nil, ierr.NewError("document not found").
			WithReportableDetails(map[string]interface{}{"key": key}).
			Mark(ierr.ErrNotFound)
	}
	return copyDoc(doc), nil
}

func (s *InMemoryDocumentStore) Put(ctx context.Context, doc *document.Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.putCount++
	if s.conflictsRemaining > 0 {
		s.conflictsRemaining--
		return 0, ierr.NewError("stale document revision").
			WithReportableDetails(map[string]interface{}{"key": doc.Key}).
			Mark(ierr.ErrConflict)
	}

	existing, ok := s.docs[doc.Key]
	if doc.Revision == 0 {
		if ok {
			return 0, ierr.NewError("document already exists").
				WithReportableDetails(map[string]interface{}{"key": doc.Key}).
				Mark(ierr.ErrConflict)
		}
		stored := copyDoc(doc)
		stored.Revision = 1
		stored.UpdatedAt = time.Now().UTC()
		s.docs[doc.Key] = stored
		return 1, nil
	}

	if !ok || existing.Revision != doc.Revision {
		return 0, ierr.NewError("stale document revision").
			WithReportableDetails(map[string]interface{}{
				"key":      doc.Key,
				"revision": doc.Revision,
			}).
			Mark(ierr.ErrConflict)
	}

	stored := copyDoc(doc)
	stored.Revision = doc.Revision + 1
	stored.UpdatedAt = time.Now().UTC()
	s.docs[doc.Key] = stored
	return stored.Revision, nil
}

func (s *InMemoryDocumentStore) RangeQuery(ctx context.Context, startKey, endKey string, descending bool, limit int) ([]*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.docs))
	for k := range s.docs {
		if k >= startKey && k < endKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if descending {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	docs := make([]*document.Document, 0, len(keys))
	for _, k := range keys {
		docs = append(docs, copyDoc(s.docs[k]))
	}
	return docs, nil
}

// Clear drops all stored documents.
func (s *InMemoryDocumentStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string]*document.Document)
	s.conflictsRemaining = 0
	s.putCount = 0
}
