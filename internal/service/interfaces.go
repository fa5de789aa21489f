package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/homilia/internal/domain"
	"github.com/google/uuid"
)

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// ObjectStore holds the durable raw-text copy of each document.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error
	// Get returns domain.ErrObjectNotFound for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete succeeds for a key that is already absent.
	Delete(ctx context.Context, key string) error
}

// DownloadURLer is implemented by object stores that can serve download links.
type DownloadURLer interface {
	// Stat returns domain.ErrObjectNotFound for a missing key.
	Stat(ctx context.Context, key string) (*domain.ObjectInfo, error)
	DownloadURL(ctx context.Context, key string) (string, error)
}

// BulkItem is the outcome of one entry in a bulk write.
type BulkItem struct {
	ID  string
	Err error
}

// BulkResult reports per-entry outcomes of a bulk write.
type BulkResult struct {
	Items []BulkItem
}

// Failed returns the items that were not written.
func (r *BulkResult) Failed() []BulkItem {
	if r == nil {
		return nil
	}
	var failed []BulkItem
	for _, item := range r.Items {
		if item.Err != nil {
			failed = append(failed, item)
		}
	}
	return failed
}

// SearchIndex is the queryable copy of every chunk.
type SearchIndex interface {
	BulkIndex(ctx context.Context, entries []domain.IndexEntry) (*BulkResult, error)
	// KNNQuery returns at most k hits ordered by descending score.
	KNNQuery(ctx context.Context, vector []float32, k int, filter domain.Filter) ([]domain.Hit, error)
	TermQuery(ctx context.Context, q domain.Query) ([]domain.Hit, error)
	// DeleteByID returns domain.ErrEntryNotFound when no entry has the id.
	DeleteByID(ctx context.Context, id string) error
	// Refresh makes previously written entries visible to queries.
	Refresh(ctx context.Context) error
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// Clock returns the current time. Tests pin it.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}
