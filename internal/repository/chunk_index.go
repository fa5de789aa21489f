package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloo-solutions/homilia/internal/domain"
	"github.com/cloo-solutions/homilia/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const (
	chunkColumns = `id, file_id, filename, source, text, metadata, created_at`
	chunkOrder   = `(metadata->>'chunk_index')::int, id`
)

// ChunkIndex is the pgvector-backed search index over document_chunks.
type ChunkIndex struct {
	db dbtx
}

func NewChunkIndex(pool *pgxpool.Pool) *ChunkIndex {
	return &ChunkIndex{db: pool}
}

// BulkIndex upserts every entry in one round trip and reports per-entry outcomes.
func (r *ChunkIndex) BulkIndex(ctx context.Context, entries []domain.IndexEntry) (*service.BulkResult, error) {
	result := &service.BulkResult{Items: make([]service.BulkItem, len(entries))}
	if len(entries) == 0 {
		return result, nil
	}

	batch := &pgx.Batch{}
	for i, e := range entries {
		result.Items[i].ID = e.ID
		metadata, err := json.Marshal(e.Metadata.Map())
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata for %s: %w", e.ID, err)
		}
		createdAt := e.Metadata.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		batch.Queue(
			`INSERT INTO document_chunks (id, file_id, filename, source, text, embedding, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO UPDATE SET
				file_id = EXCLUDED.file_id,
				filename = EXCLUDED.filename,
				source = EXCLUDED.source,
				text = EXCLUDED.text,
				embedding = EXCLUDED.embedding,
				metadata = EXCLUDED.metadata,
				created_at = EXCLUDED.created_at`,
			e.ID,
			e.FileID,
			e.Filename,
			e.Source,
			e.Text,
			pgvector.NewVector(e.Embedding),
			metadata,
			createdAt,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	for i := range entries {
		if _, err := br.Exec(); err != nil {
			result.Items[i].Err = err
		}
	}
	if err := br.Close(); err != nil && len(result.Failed()) == 0 {
		return nil, fmt.Errorf("bulk index failed: %w", err)
	}

	return result, nil
}

// KNNQuery ranks entries by cosine similarity. Score is 1 - cosine distance.
func (r *ChunkIndex) KNNQuery(ctx context.Context, vector []float32, k int, filter domain.Filter) ([]domain.Hit, error) {
	if k <= 0 {
		k = service.DefaultSearchK
	}

	where, args, err := buildWhere(filter, 2)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + chunkColumns + `, 1 - (embedding <=> $1) AS score FROM document_chunks`
	if where != "" {
		query += " WHERE " + where
	}
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT %d", k)

	args = append([]any{pgvector.NewVector(vector)}, args...)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanHits(rows, true)
}

// TermQuery runs a non-vector lookup. Hits carry a zero score.
func (r *ChunkIndex) TermQuery(ctx context.Context, q domain.Query) ([]domain.Hit, error) {
	where, args, err := buildWhere(q.Filter, 1)
	if err != nil {
		return nil, err
	}
	orderBy, err := buildOrderBy(q.Sort)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + chunkColumns + ` FROM document_chunks`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY " + orderBy
	if q.Size > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Size)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanHits(rows, false)
}

func (r *ChunkIndex) DeleteByID(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM document_chunks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEntryNotFound
	}
	return nil
}

// Refresh is a no-op: committed rows are immediately visible.
func (r *ChunkIndex) Refresh(ctx context.Context) error {
	return nil
}

func scanHits(rows pgx.Rows, withScore bool) ([]domain.Hit, error) {
	defer rows.Close()

	hits := []domain.Hit{}
	for rows.Next() {
		var (
			e         domain.IndexEntry
			metadata  map[string]any
			createdAt time.Time
			score     float64
		)
		dest := []any{&e.ID, &e.FileID, &e.Filename, &e.Source, &e.Text, &metadata, &createdAt}
		if withScore {
			dest = append(dest, &score)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		e.Metadata = domain.MetadataFromMap(metadata)
		e.Metadata.CreatedAt = createdAt.UTC()
		hits = append(hits, domain.Hit{ID: e.ID, Score: score, Entry: e})
	}
	return hits, rows.Err()
}

// column returns the SQL expression for a logical field.
func column(field string) (string, bool) {
	switch field {
	case domain.FieldFileID:
		return "file_id", true
	case domain.FieldCreatedAt:
		return "created_at", true
	case domain.FieldParishID, domain.FieldDocumentType:
		return "metadata->>'" + field + "'", true
	}
	return "", false
}

// buildWhere translates a filter into a SQL condition whose placeholders
// start at $firstArg.
func buildWhere(filter domain.Filter, firstArg int) (string, []any, error) {
	if filter == nil {
		return "", nil, nil
	}
	b := &whereBuilder{next: firstArg}
	clause, err := b.build(filter)
	if err != nil {
		return "", nil, err
	}
	return clause, b.args, nil
}

type whereBuilder struct {
	next int
	args []any
}

func (b *whereBuilder) placeholder(v any) string {
	b.args = append(b.args, v)
	p := fmt.Sprintf("$%d", b.next)
	b.next++
	return p
}

func (b *whereBuilder) build(f domain.Filter) (string, error) {
	switch f := f.(type) {
	case domain.Term:
		col, ok := column(f.Field)
		if !ok || f.Field == domain.FieldCreatedAt {
			return "", domain.UnsupportedField(f.Field)
		}
		return col + " = " + b.placeholder(f.Value), nil
	case domain.DateRange:
		if f.Field != domain.FieldCreatedAt {
			return "", domain.UnsupportedField(f.Field)
		}
		return "created_at BETWEEN " + b.placeholder(f.From) + " AND " + b.placeholder(f.To), nil
	case domain.And:
		parts := make([]string, 0, len(f))
		for _, c := range f {
			if c == nil {
				continue
			}
			part, err := b.build(c)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		if len(parts) == 0 {
			return "TRUE", nil
		}
		return "(" + strings.Join(parts, " AND ") + ")", nil
	}
	return "", domain.UnsupportedField(fmt.Sprintf("%T", f))
}

func buildOrderBy(sort []domain.SortField) (string, error) {
	if len(sort) == 0 {
		return "file_id, " + chunkOrder, nil
	}
	parts := make([]string, 0, len(sort)+1)
	for _, s := range sort {
		col, ok := column(s.Field)
		if !ok {
			return "", domain.UnsupportedField(s.Field)
		}
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		parts = append(parts, col+" "+dir)
	}
	parts = append(parts, chunkOrder)
	return strings.Join(parts, ", "), nil
}
