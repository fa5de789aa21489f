package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloo-solutions/homilia/internal/domain"
	"github.com/cloo-solutions/homilia/internal/logging"
	"github.com/cloo-solutions/homilia/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// DefaultDocumentType is used when the caller does not name one.
const DefaultDocumentType = "document"

const (
	objectKeyTimeLayout = "20060102_150405"
	backupContentType   = "text/plain; charset=utf-8"
)

// Extractor turns an uploaded file into plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename string) (*domain.Extraction, error)
}

// IngestInput is one extracted document to ingest.
type IngestInput struct {
	Text         string
	Filename     string
	ParishID     string
	DocumentType string
	Extraction   domain.Extraction
	Metadata     map[string]any
}

// IngestFileInput is one raw file to extract and ingest.
type IngestFileInput struct {
	Data         []byte
	Filename     string
	ParishID     string
	DocumentType string
	Metadata     map[string]any
}

// IngestResult reports one ingestion. FileID is always set. The call
// succeeded when Failure is nil; Diagnostics then lists the soft failures
// (backup write, refresh) that did not abort it.
type IngestResult struct {
	FileID       string
	Filename     string
	ParishID     string
	DocumentType string
	ChunkCount   int
	ObjectKey    string
	Extraction   domain.Extraction
	CreatedAt    time.Time
	ProcessedAt  time.Time
	Diagnostics  []*domain.Failure
	Failure      *domain.Failure
}

// Success reports whether the document is searchable.
func (r *IngestResult) Success() bool {
	return r.Failure == nil
}

// IngestService drives chunk, embed and dual-store write for one document.
type IngestService struct {
	chunker   *Chunker
	embedder  Embedder
	store     ObjectStore
	index     SearchIndex
	extractor Extractor
	uuidGen   UUIDGenerator
	now       Clock
	logger    logrus.FieldLogger
}

// NewIngestService creates a new IngestService. A nil store disables the
// backup copy; every ingestion then reports a backup diagnostic.
func NewIngestService(
	chunker *Chunker,
	embedder Embedder,
	store ObjectStore,
	index SearchIndex,
	extractor Extractor,
	logger logrus.FieldLogger,
) *IngestService {
	return NewIngestServiceWithDeps(chunker, embedder, store, index, extractor, logger, &DefaultUUIDGenerator{}, systemClock)
}

// NewIngestServiceWithDeps creates an IngestService with custom id and time sources (for testing)
func NewIngestServiceWithDeps(
	chunker *Chunker,
	embedder Embedder,
	store ObjectStore,
	index SearchIndex,
	extractor Extractor,
	logger logrus.FieldLogger,
	uuidGen UUIDGenerator,
	now Clock,
) *IngestService {
	if chunker == nil {
		chunker = NewChunker(DefaultChunkConfig())
	}
	return &IngestService{
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		index:     index,
		extractor: extractor,
		uuidGen:   uuidGen,
		now:       now,
		logger:    logging.Component(logger, "ingest"),
	}
}

// Ingest indexes already-extracted text.
func (s *IngestService) Ingest(ctx context.Context, input IngestInput) *IngestResult {
	return s.ingest(ctx, s.newFileID(), input)
}

// IngestFile extracts text from data and ingests it. The file id is assigned
// before extraction so extraction failures are traceable too.
func (s *IngestService) IngestFile(ctx context.Context, input IngestFileInput) *IngestResult {
	fileID := s.newFileID()

	if s.extractor == nil {
		return s.fail(&IngestResult{FileID: fileID, Filename: input.Filename}, domain.StageExtract,
			domain.NewDomainErrorWithCause(domain.ErrCodeValidation, domain.ErrExtractionFailed.Message, fmt.Errorf("no extractor configured")))
	}

	extraction, err := s.extractor.Extract(ctx, input.Data, input.Filename)
	if err != nil {
		return s.fail(&IngestResult{FileID: fileID, Filename: input.Filename}, domain.StageExtract, err)
	}

	return s.ingest(ctx, fileID, IngestInput{
		Text:         extraction.Text,
		Filename:     input.Filename,
		ParishID:     input.ParishID,
		DocumentType: input.DocumentType,
		Extraction:   *extraction,
		Metadata:     input.Metadata,
	})
}

func (s *IngestService) ingest(ctx context.Context, fileID string, input IngestInput) *IngestResult {
	if input.DocumentType == "" {
		input.DocumentType = DefaultDocumentType
	}
	input.Extraction.Method = orUnknown(input.Extraction.Method)
	input.Extraction.FileType = orUnknown(input.Extraction.FileType)

	ctx, span := telemetry.StartSpan(ctx, "IngestService.Ingest", telemetry.SpanAttributes{
		ParishID:     input.ParishID,
		DocumentType: input.DocumentType,
		FileID:       fileID,
		Operation:    "ingest",
	})
	defer span.End()

	createdAt := s.now()
	result := &IngestResult{
		FileID:       fileID,
		Filename:     input.Filename,
		ParishID:     input.ParishID,
		DocumentType: input.DocumentType,
		Extraction:   input.Extraction,
		CreatedAt:    createdAt,
	}
	defer func() { span.SetFailure(result.Failure) }()
	log := s.logger.WithFields(logrus.Fields{
		"file_id":   fileID,
		"parish_id": input.ParishID,
	})

	if strings.TrimSpace(input.ParishID) == "" {
		return s.fail(result, domain.StageValidate, domain.ErrMissingParishID)
	}
	if strings.TrimSpace(input.Text) == "" {
		return s.fail(result, domain.StageValidate, domain.ErrBlankDocument)
	}

	segments := s.chunker.Split(input.Text)
	if len(segments) == 0 {
		return s.fail(result, domain.StageChunk, domain.ErrNoUsableChunks)
	}
	log.WithField("chunks", len(segments)).Debug("text chunked")

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return s.fail(result, domain.StageEmbed, fmt.Errorf("embedding %d chunks: %w", len(texts), err))
	}
	if len(vectors) != len(segments) {
		return s.fail(result, domain.StageEmbed, domain.NewDomainErrorWithCause(
			domain.ErrEmbeddingMismatch.Code,
			domain.ErrEmbeddingMismatch.Message,
			fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(segments)),
		))
	}

	objectKey := ObjectKey(input.ParishID, input.DocumentType, input.Filename, createdAt)
	if backupErr := s.backup(ctx, objectKey, fileID, input, len(segments)); backupErr != nil {
		log.WithError(backupErr).WithField("stage", domain.StageBackup).Warn("backup write failed, continuing with index only")
		result.Diagnostics = append(result.Diagnostics, backupErr)
		objectKey = ""
	}

	entries := make([]domain.IndexEntry, len(segments))
	for i, seg := range segments {
		entries[i] = domain.IndexEntry{
			ID:        domain.ChunkID(fileID, i),
			FileID:    fileID,
			Filename:  input.Filename,
			Source:    domain.SourceLabel(input.ParishID, input.DocumentType),
			Text:      seg.Text,
			Embedding: vectors[i],
			Metadata: domain.EntryMetadata{
				ParishID:         input.ParishID,
				DocumentType:     input.DocumentType,
				ChunkIndex:       i,
				ChunkCount:       len(segments),
				ChunkStart:       seg.Start,
				ChunkEnd:         seg.End,
				ObjectKey:        objectKey,
				ExtractionMethod: input.Extraction.Method,
				FileType:         input.Extraction.FileType,
				FileSize:         input.Extraction.FileSize,
				CreatedAt:        createdAt,
				Extra:            input.Metadata,
			},
		}
	}

	bulk, err := s.index.BulkIndex(ctx, entries)
	if err != nil {
		return s.fail(result, domain.StageIndex, fmt.Errorf("bulk indexing %d entries: %w", len(entries), err))
	}
	if failed := bulk.Failed(); len(failed) > 0 {
		return s.fail(result, domain.StageIndex, domain.NewDomainErrorWithCause(
			domain.ErrPartialBulkIndex.Code,
			domain.ErrPartialBulkIndex.Message,
			fmt.Errorf("%d of %d entries rejected, first %s: %w", len(failed), len(entries), failed[0].ID, failed[0].Err),
		))
	}

	if err := s.index.Refresh(ctx); err != nil {
		log.WithError(err).WithField("stage", domain.StageRefresh).Warn("index refresh failed")
		result.Diagnostics = append(result.Diagnostics, &domain.Failure{
			Kind:    domain.ErrCodePartialFailure,
			Stage:   domain.StageRefresh,
			Message: domain.ErrRefreshFailed.Message,
			Err:     err,
		})
	}

	result.ChunkCount = len(segments)
	result.ObjectKey = objectKey
	result.ProcessedAt = s.now()

	log.WithFields(logrus.Fields{
		"chunks":     result.ChunkCount,
		"object_key": objectKey,
	}).Info("document ingested")

	return result
}

// backup writes the full text once. A failure is returned as a diagnostic.
func (s *IngestService) backup(ctx context.Context, key, fileID string, input IngestInput, chunkCount int) *domain.Failure {
	if s.store == nil {
		return &domain.Failure{
			Kind:    domain.ErrCodePartialFailure,
			Stage:   domain.StageBackup,
			Message: domain.ErrBackupWriteFailed.Message,
			Err:     fmt.Errorf("object store not configured"),
		}
	}

	meta := BackupMetadata(fileID, input, chunkCount)
	if err := s.store.Put(ctx, key, []byte(input.Text), backupContentType, meta); err != nil {
		return &domain.Failure{
			Kind:    domain.ErrCodePartialFailure,
			Stage:   domain.StageBackup,
			Message: domain.ErrBackupWriteFailed.Message,
			Err:     err,
		}
	}
	return nil
}

func (s *IngestService) fail(result *IngestResult, stage domain.Stage, err error) *IngestResult {
	result.Failure = domain.NewFailure(stage, err)
	entry := s.logger.WithFields(logrus.Fields{
		"file_id": result.FileID,
		"stage":   stage,
	}).WithError(err)
	if result.Failure.IsInput() {
		entry.Info("ingestion rejected")
	} else {
		entry.Error("ingestion failed")
	}
	return result
}

func (s *IngestService) newFileID() string {
	return NewFileID(s.uuidGen)
}

// NewFileID returns "file_" followed by 16 hex characters of a fresh UUID.
func NewFileID(gen UUIDGenerator) string {
	hex := strings.ReplaceAll(gen.NewString(), "-", "")
	if len(hex) > 16 {
		hex = hex[:16]
	}
	return "file_" + hex
}

// ObjectKey is the backup location of a document:
// {parish_id}/{document_type}/{timestamp}_{sanitized filename}.
func ObjectKey(parishID, documentType, filename string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s_%s", parishID, documentType, at.UTC().Format(objectKeyTimeLayout), SanitizeFilename(filename))
}

var filenameReplacer = strings.NewReplacer(" ", "_", "/", "_", "\\", "_")

// SanitizeFilename makes a filename safe to use as the last key segment.
func SanitizeFilename(filename string) string {
	name := filenameReplacer.Replace(strings.TrimSpace(filename))
	if name == "" {
		return "document.txt"
	}
	return name
}

// BackupMetadata is the object metadata stored with the backup copy. Caller
// fields are prefixed with meta_.
func BackupMetadata(fileID string, input IngestInput, chunkCount int) map[string]string {
	meta := map[string]string{
		"file_id":           fileID,
		"parish_id":         input.ParishID,
		"document_type":     input.DocumentType,
		"filename":          input.Filename,
		"chunk_count":       strconv.Itoa(chunkCount),
		"extraction_method": input.Extraction.Method,
		"file_type":         input.Extraction.FileType,
		"file_size":         strconv.FormatInt(input.Extraction.FileSize, 10),
	}
	for k, v := range input.Metadata {
		meta["meta_"+k] = fmt.Sprint(v)
	}
	return meta
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
