package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/homilia/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockEmbedder is a mock implementation of Embedder
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockObjectStore is a mock implementation of ObjectStore
type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	args := m.Called(ctx, key, data, contentType, metadata)
	return args.Error(0)
}

func (m *MockObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockObjectStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockObjectStore) Stat(ctx context.Context, key string) (*domain.ObjectInfo, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ObjectInfo), args.Error(1)
}

func (m *MockObjectStore) DownloadURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

// MockSearchIndex is a mock implementation of SearchIndex
type MockSearchIndex struct {
	mock.Mock
}

func (m *MockSearchIndex) BulkIndex(ctx context.Context, entries []domain.IndexEntry) (*BulkResult, error) {
	args := m.Called(ctx, entries)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*BulkResult), args.Error(1)
}

func (m *MockSearchIndex) KNNQuery(ctx context.Context, vector []float32, k int, filter domain.Filter) ([]domain.Hit, error) {
	args := m.Called(ctx, vector, k, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Hit), args.Error(1)
}

func (m *MockSearchIndex) TermQuery(ctx context.Context, q domain.Query) ([]domain.Hit, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Hit), args.Error(1)
}

func (m *MockSearchIndex) DeleteByID(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSearchIndex) Refresh(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockExtractor is a mock implementation of Extractor
type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Extract(ctx context.Context, data []byte, filename string) (*domain.Extraction, error) {
	args := m.Called(ctx, data, filename)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Extraction), args.Error(1)
}

// MockDocumentLookup is a mock implementation of DocumentLookup
type MockDocumentLookup struct {
	mock.Mock
}

func (m *MockDocumentLookup) GetDocument(ctx context.Context, fileID string) (*domain.Document, error) {
	args := m.Called(ctx, fileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

// MockUUIDGenerator returns the given uuids in order
type MockUUIDGenerator struct {
	callCount int
	uuids     []string
}

func NewMockUUIDGenerator(uuids ...string) *MockUUIDGenerator {
	return &MockUUIDGenerator{uuids: uuids}
}

func (m *MockUUIDGenerator) NewString() string {
	if m.callCount < len(m.uuids) {
		uuid := m.uuids[m.callCount]
		m.callCount++
		return uuid
	}
	return "00000000-0000-0000-0000-000000000000"
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// fakeLinkCodec is a reversible stand-in for the link token codec.
type fakeLinkCodec struct{}

func (fakeLinkCodec) Encode(objectKey string) string { return "tok(" + objectKey + ")" }

func (fakeLinkCodec) Decode(token string) (string, error) {
	if len(token) < 5 || token[:4] != "tok(" || token[len(token)-1] != ')' {
		return "", domain.ErrInvalidLinkToken
	}
	return token[4 : len(token)-1], nil
}

func entryHit(id, fileID string, score float64, meta domain.EntryMetadata) domain.Hit {
	return domain.Hit{
		ID:    id,
		Score: score,
		Entry: domain.IndexEntry{
			ID:       id,
			FileID:   fileID,
			Filename: fileID + ".pdf",
			Source:   domain.SourceLabel(meta.ParishID, meta.DocumentType),
			Text:     "text of " + id,
			Metadata: meta,
		},
	}
}
