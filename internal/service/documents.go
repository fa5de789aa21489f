package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloo-solutions/homilia/internal/domain"
	"github.com/cloo-solutions/homilia/internal/telemetry"
)

// LinkDecoder turns a link token back into an object key.
type LinkDecoder interface {
	Decode(token string) (string, error)
}

// DocumentText is a document summary plus its full backup text.
type DocumentText struct {
	Document *domain.Document
	Text     string
}

// DocumentService answers lookups about ingested documents.
type DocumentService struct {
	index SearchIndex
	store ObjectStore
	links LinkDecoder
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(index SearchIndex, store ObjectStore, links LinkDecoder) *DocumentService {
	return &DocumentService{
		index: index,
		store: store,
		links: links,
	}
}

// GetDocument summarizes a document from its first index entry. The chunk
// count is the number of entries found.
func (s *DocumentService) GetDocument(ctx context.Context, fileID string) (*domain.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "DocumentService.GetDocument", telemetry.SpanAttributes{
		FileID:    fileID,
		Operation: "get",
	})
	defer span.End()

	if strings.TrimSpace(fileID) == "" {
		return nil, domain.ErrMissingFileID
	}

	hits, err := s.index.TermQuery(ctx, domain.Query{
		Filter: domain.Term{Field: domain.FieldFileID, Value: fileID},
		Size:   MaxEntriesPerFile,
	})
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("looking up %s: %w", fileID, err)
	}
	if len(hits) == 0 {
		return nil, domain.ErrDocumentNotFound
	}

	doc := domain.DocumentFromEntry(hits[0].Entry)
	doc.FileID = fileID
	doc.ChunkCount = len(hits)
	return doc, nil
}

// GetDocumentText returns the document summary and its backup text.
func (s *DocumentService) GetDocumentText(ctx context.Context, fileID string) (*DocumentText, error) {
	doc, err := s.GetDocument(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if doc.ObjectKey == "" {
		return nil, domain.ErrObjectKeyMissing
	}
	if s.store == nil {
		return nil, fmt.Errorf("object store not configured")
	}

	data, err := s.store.Get(ctx, doc.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", doc.ObjectKey, err)
	}
	return &DocumentText{Document: doc, Text: string(data)}, nil
}

// DownloadURL resolves a link token to a presigned object URL. A token whose
// object is gone yields domain.ErrObjectNotFound.
func (s *DocumentService) DownloadURL(ctx context.Context, token string) (string, error) {
	if s.links == nil {
		return "", domain.ErrInvalidLinkToken
	}
	key, err := s.links.Decode(token)
	if err != nil {
		return "", err
	}

	presigner, ok := s.store.(DownloadURLer)
	if !ok {
		return "", errors.New("object store cannot presign downloads")
	}
	// A presigned URL for a deleted backup would only fail at the store.
	if _, err := presigner.Stat(ctx, key); err != nil {
		return "", err
	}
	return presigner.DownloadURL(ctx, key)
}
