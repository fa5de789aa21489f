package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloo-solutions/homilia/internal/domain"
	"github.com/cloo-solutions/homilia/internal/logging"
	"github.com/cloo-solutions/homilia/internal/telemetry"
	"github.com/sirupsen/logrus"
)

const (
	DefaultSearchK   = 10
	DefaultDateLimit = 100
	dateLayout       = "2006-01-02"
	// Last instant of a UTC day; created_at carries sub-second precision.
	endOfDay         = 24*time.Hour - time.Nanosecond
)

// SearchInput is a semantic query.
type SearchInput struct {
	Query        string
	ParishID     string
	DocumentType string
	K            int
}

// ChunkHit is one matching chunk of a document.
type ChunkHit struct {
	ID         string
	Text       string
	Score      float64
	ChunkIndex int
}

// DocumentHits aggregates the hits of one document.
type DocumentHits struct {
	FileID   string
	Filename string
	Source   string
	Metadata map[string]any
	MaxScore float64
	Chunks   []ChunkHit
}

// SearchResult is the outcome of a semantic query.
type SearchResult struct {
	Query       string
	Documents   []DocumentHits
	TotalFiles  int
	TotalChunks int
	Failure     *domain.Failure
}

// Success reports whether the query ran.
func (r *SearchResult) Success() bool {
	return r.Failure == nil
}

// DateRangeInput selects documents by creation day. Dates are YYYY-MM-DD;
// an empty EndDate means the start day only.
type DateRangeInput struct {
	StartDate    string
	EndDate      string
	ParishID     string
	DocumentType string
	Limit        int
}

// DocumentSummary is the first-seen entry of a document in a listing.
type DocumentSummary struct {
	FileID    string
	Filename  string
	Source    string
	Metadata  map[string]any
	CreatedAt time.Time
}

// DateRangeResult is the outcome of a date-range query.
type DateRangeResult struct {
	StartDate      string
	EndDate        string
	Documents      []DocumentSummary
	TotalDocuments int
	TotalChunks    int
	Failure        *domain.Failure
}

// Success reports whether the query ran.
func (r *DateRangeResult) Success() bool {
	return r.Failure == nil
}

// RetrievalService runs semantic and date-range queries and groups hits
// per document.
type RetrievalService struct {
	index    SearchIndex
	embedder Embedder
	logger   logrus.FieldLogger
}

// NewRetrievalService creates a new RetrievalService
func NewRetrievalService(index SearchIndex, embedder Embedder, logger logrus.FieldLogger) *RetrievalService {
	return &RetrievalService{
		index:    index,
		embedder: embedder,
		logger:   logging.Component(logger, "retrieval"),
	}
}

// Search embeds the query and returns matching documents ordered by their
// best chunk score.
func (s *RetrievalService) Search(ctx context.Context, input SearchInput) *SearchResult {
	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.Search", telemetry.SpanAttributes{
		ParishID:     input.ParishID,
		DocumentType: input.DocumentType,
		Operation:    "search",
	})
	defer span.End()

	result := &SearchResult{Query: input.Query}
	defer func() { span.SetFailure(result.Failure) }()

	if strings.TrimSpace(input.Query) == "" {
		result.Failure = domain.NewFailure(domain.StageValidate, domain.ErrBlankQuery)
		return result
	}
	k := input.K
	if k <= 0 {
		k = DefaultSearchK
	}

	vector, err := s.embedder.EmbedOne(ctx, input.Query)
	if err != nil {
		result.Failure = domain.NewFailure(domain.StageEmbed, fmt.Errorf("embedding query: %w", err))
		return result
	}

	filter := domain.Combine(domain.EqualityFilter(input.ParishID, input.DocumentType)...)
	hits, err := s.index.KNNQuery(ctx, vector, k, filter)
	if err != nil {
		result.Failure = domain.NewFailure(domain.StageQuery, err)
		s.logger.WithError(err).Error("knn query failed")
		return result
	}

	result.Documents = s.aggregateByScore(hits)
	result.TotalFiles = len(result.Documents)
	result.TotalChunks = len(hits)
	return result
}

// aggregateByScore groups hits by file. The first hit of a file seeds its
// record; the max score is recomputed in case hits arrive out of order.
func (s *RetrievalService) aggregateByScore(hits []domain.Hit) []DocumentHits {
	docs := make([]DocumentHits, 0)
	byFile := make(map[string]int)
	unordered := false

	for i, hit := range hits {
		if i > 0 && hit.Score > hits[i-1].Score {
			unordered = true
		}
		chunk := ChunkHit{
			ID:         hit.ID,
			Text:       hit.Entry.Text,
			Score:      hit.Score,
			ChunkIndex: hit.Entry.Metadata.ChunkIndex,
		}

		idx, ok := byFile[hit.Entry.FileID]
		if !ok {
			byFile[hit.Entry.FileID] = len(docs)
			docs = append(docs, DocumentHits{
				FileID:   hit.Entry.FileID,
				Filename: hit.Entry.Filename,
				Source:   hit.Entry.Source,
				Metadata: hit.Entry.Metadata.Map(),
				MaxScore: hit.Score,
				Chunks:   []ChunkHit{chunk},
			})
			continue
		}

		doc := &docs[idx]
		doc.Chunks = append(doc.Chunks, chunk)
		if hit.Score > doc.MaxScore {
			doc.MaxScore = hit.Score
		}
	}

	if unordered {
		s.logger.WithField("hits", len(hits)).Warn("knn hits were not in descending score order")
	}

	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].MaxScore > docs[j].MaxScore
	})
	return docs
}

// ByDateRange lists documents created within whole UTC days.
func (s *RetrievalService) ByDateRange(ctx context.Context, input DateRangeInput) *DateRangeResult {
	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.ByDateRange", telemetry.SpanAttributes{
		ParishID:     input.ParishID,
		DocumentType: input.DocumentType,
		Operation:    "by_date",
	})
	defer span.End()

	result := &DateRangeResult{StartDate: input.StartDate, EndDate: input.EndDate}
	defer func() { span.SetFailure(result.Failure) }()
	if result.EndDate == "" {
		result.EndDate = input.StartDate
	}

	rng, err := ParseDayRange(input.StartDate, input.EndDate)
	if err != nil {
		result.Failure = domain.NewFailure(domain.StageValidate, err)
		return result
	}

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultDateLimit
	}

	clauses := append([]domain.Filter{rng}, domain.EqualityFilter(input.ParishID, input.DocumentType)...)
	hits, err := s.index.TermQuery(ctx, domain.Query{
		Filter: domain.Combine(clauses...),
		Size:   limit,
		Sort:   []domain.SortField{{Field: domain.FieldCreatedAt, Desc: true}},
	})
	if err != nil {
		result.Failure = domain.NewFailure(domain.StageQuery, err)
		s.logger.WithError(err).Error("date range query failed")
		return result
	}

	docs := make([]DocumentSummary, 0)
	seen := make(map[string]struct{})
	for _, hit := range hits {
		if _, ok := seen[hit.Entry.FileID]; ok {
			continue
		}
		seen[hit.Entry.FileID] = struct{}{}
		docs = append(docs, DocumentSummary{
			FileID:    hit.Entry.FileID,
			Filename:  hit.Entry.Filename,
			Source:    hit.Entry.Source,
			Metadata:  hit.Entry.Metadata.Map(),
			CreatedAt: hit.Entry.Metadata.CreatedAt,
		})
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})

	result.Documents = docs
	result.TotalDocuments = len(docs)
	result.TotalChunks = len(hits)
	return result
}

// ParseDayRange turns YYYY-MM-DD bounds into an inclusive created_at range
// from 00:00:00 of the start day to 23:59:59 of the end day, in UTC.
func ParseDayRange(startDate, endDate string) (domain.DateRange, error) {
	start, err := time.ParseInLocation(dateLayout, strings.TrimSpace(startDate), time.UTC)
	if err != nil {
		return domain.DateRange{}, domain.ErrInvalidStartDate
	}

	end := start
	if strings.TrimSpace(endDate) != "" {
		end, err = time.ParseInLocation(dateLayout, strings.TrimSpace(endDate), time.UTC)
		if err != nil {
			return domain.DateRange{}, domain.ErrInvalidEndDate
		}
	}
	if end.Before(start) {
		return domain.DateRange{}, domain.ErrInvalidDateRange
	}

	return domain.DateRange{
		Field: domain.FieldCreatedAt,
		From:  start,
		To:    end.Add(endOfDay),
	}, nil
}
