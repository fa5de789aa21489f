package domain

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Extraction is what the extractor reports about a source file.
type Extraction struct {
	Text     string
	Method   string
	FileType string
	FileSize int64
}

// Document is one ingested file. It is created once per ingestion and is
// immutable afterwards; re-ingesting produces a new file_id.
type Document struct {
	FileID           string
	Filename         string
	Source           string
	ParishID         string
	DocumentType     string
	ObjectKey        string
	ExtractionMethod string
	FileType         string
	FileSize         int64
	ChunkCount       int
	CreatedAt        time.Time
	Metadata         map[string]any
}

// Segment is a piece of extracted text with its recovered rune offsets.
type Segment struct {
	Text  string
	Start int
	End   int
}

// ChunkID returns the index identity of a chunk.
func ChunkID(fileID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", fileID, index)
}

// SourceLabel is the denormalized source field stored on every entry.
func SourceLabel(parishID, documentType string) string {
	return parishID + "_" + documentType
}

// IndexEntry is the persisted, queryable form of a chunk.
type IndexEntry struct {
	ID        string
	FileID    string
	Filename  string
	Source    string
	Text      string
	Embedding []float32
	Metadata  EntryMetadata
}

// EntryMetadata is the metadata object of an index entry. Extra holds the
// caller-supplied fields that are flattened next to the reserved ones.
type EntryMetadata struct {
	ParishID         string
	DocumentType     string
	ChunkIndex       int
	ChunkCount       int
	ChunkStart       int
	ChunkEnd         int
	ObjectKey        string
	ExtractionMethod string
	FileType         string
	FileSize         int64
	CreatedAt        time.Time
	Extra            map[string]any
}

// Reserved metadata keys.
const (
	MetaParishID         = "parish_id"
	MetaDocumentType     = "document_type"
	MetaChunkIndex       = "chunk_index"
	MetaChunkCount       = "chunk_count"
	MetaChunkStart       = "chunk_start"
	MetaChunkEnd         = "chunk_end"
	MetaObjectKey        = "object_key"
	MetaExtractionMethod = "extraction_method"
	MetaFileType         = "file_type"
	MetaFileSize         = "file_size"
	MetaCreatedAt        = "created_at"
)

var reservedMetaKeys = map[string]struct{}{
	MetaParishID: {}, MetaDocumentType: {}, MetaChunkIndex: {}, MetaChunkCount: {},
	MetaChunkStart: {}, MetaChunkEnd: {}, MetaObjectKey: {}, MetaExtractionMethod: {},
	MetaFileType: {}, MetaFileSize: {}, MetaCreatedAt: {},
}

// IsReservedMetaKey reports whether key is owned by the pipeline.
func IsReservedMetaKey(key string) bool {
	_, ok := reservedMetaKeys[key]
	return ok
}

// Map flattens the metadata into the persisted shape.
func (m EntryMetadata) Map() map[string]any {
	out := make(map[string]any, len(reservedMetaKeys)+len(m.Extra))
	for k, v := range m.Extra {
		if !IsReservedMetaKey(k) {
			out[k] = v
		}
	}
	out[MetaParishID] = m.ParishID
	out[MetaDocumentType] = m.DocumentType
	out[MetaChunkIndex] = m.ChunkIndex
	out[MetaChunkCount] = m.ChunkCount
	out[MetaChunkStart] = m.ChunkStart
	out[MetaChunkEnd] = m.ChunkEnd
	out[MetaObjectKey] = m.ObjectKey
	out[MetaExtractionMethod] = m.ExtractionMethod
	out[MetaFileType] = m.FileType
	out[MetaFileSize] = m.FileSize
	out[MetaCreatedAt] = m.CreatedAt.UTC().Format(time.RFC3339Nano)
	return out
}

// MetadataFromMap rebuilds EntryMetadata from a decoded JSON object.
func MetadataFromMap(raw map[string]any) EntryMetadata {
	m := EntryMetadata{
		ParishID:         stringValue(raw[MetaParishID]),
		DocumentType:     stringValue(raw[MetaDocumentType]),
		ChunkIndex:       int(int64Value(raw[MetaChunkIndex])),
		ChunkCount:       int(int64Value(raw[MetaChunkCount])),
		ChunkStart:       int(int64Value(raw[MetaChunkStart])),
		ChunkEnd:         int(int64Value(raw[MetaChunkEnd])),
		ObjectKey:        stringValue(raw[MetaObjectKey]),
		ExtractionMethod: stringValue(raw[MetaExtractionMethod]),
		FileType:         stringValue(raw[MetaFileType]),
		FileSize:         int64Value(raw[MetaFileSize]),
	}
	if ts := stringValue(raw[MetaCreatedAt]); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			m.CreatedAt = t.UTC()
		}
	}
	for k, v := range raw {
		if IsReservedMetaKey(k) {
			continue
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[k] = v
	}
	return m
}

// Hit is one entry returned by a query. Score is not persisted.
type Hit struct {
	ID    string
	Score float64
	Entry IndexEntry
}

// DocumentFromEntry builds the document summary carried by an entry.
func DocumentFromEntry(e IndexEntry) *Document {
	return &Document{
		FileID:           e.FileID,
		Filename:         e.Filename,
		Source:           e.Source,
		ParishID:         e.Metadata.ParishID,
		DocumentType:     e.Metadata.DocumentType,
		ObjectKey:        e.Metadata.ObjectKey,
		ExtractionMethod: e.Metadata.ExtractionMethod,
		FileType:         e.Metadata.FileType,
		FileSize:         e.Metadata.FileSize,
		ChunkCount:       e.Metadata.ChunkCount,
		CreatedAt:        e.Metadata.CreatedAt,
		Metadata:         e.Metadata.Map(),
	}
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func int64Value(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case float64:
		if math.IsNaN(t) {
			return 0
		}
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

// ObjectInfo describes a stored backup object.
type ObjectInfo struct {
	Size        int64
	ContentType string
	ETag        string
	Metadata    map[string]string
}
