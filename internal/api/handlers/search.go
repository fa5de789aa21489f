package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/homilia/internal/api"
	"github.com/cloo-solutions/homilia/internal/service"
)

type RetrievalService interface {
	Search(ctx context.Context, input service.SearchInput) *service.SearchResult
}

type CitationService interface {
	Resolve(ctx context.Context, text string) *service.CitationResult
}

type SearchHandler struct {
	retrieval RetrievalService
	citations CitationService
}

func NewSearchHandler(retrieval RetrievalService, citations CitationService) *SearchHandler {
	return &SearchHandler{retrieval: retrieval, citations: citations}
}

type SearchRequest struct {
	Query        string `json:"query"`
	ParishID     string `json:"parish_id"`
	DocumentType string `json:"document_type"`
	K            int    `json:"k"`
}

type ChunkHitResponse struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	ChunkIndex int     `json:"chunk_index"`
}

type DocumentHitsResponse struct {
	FileID   string             `json:"file_id"`
	Filename string             `json:"filename"`
	Source   string             `json:"source"`
	Metadata map[string]any     `json:"metadata"`
	MaxScore float64            `json:"max_score"`
	Chunks   []ChunkHitResponse `json:"chunks"`
}

type SearchResponse struct {
	Query       string                 `json:"query"`
	Documents   []DocumentHitsResponse `json:"documents"`
	TotalFiles  int                    `json:"total_files"`
	TotalChunks int                    `json:"total_chunks"`
}

type CitationRequest struct {
	Text string `json:"text"`
}

type ReferenceResponse struct {
	Number   int    `json:"number"`
	FileID   string `json:"file_id"`
	Filename string `json:"filename,omitempty"`
	Link     string `json:"link,omitempty"`
	Error    string `json:"error,omitempty"`
}

type CitationResponse struct {
	Text       string              `json:"text"`
	References []ReferenceResponse `json:"references"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.K < 0 {
		api.Error(w, http.StatusBadRequest, "k must be positive")
		return
	}

	result := h.retrieval.Search(r.Context(), service.SearchInput{
		Query:        req.Query,
		ParishID:     req.ParishID,
		DocumentType: req.DocumentType,
		K:            req.K,
	})
	if !result.Success() {
		api.HandleFailure(w, result.Failure)
		return
	}

	docs := make([]DocumentHitsResponse, 0, len(result.Documents))
	for _, d := range result.Documents {
		chunks := make([]ChunkHitResponse, 0, len(d.Chunks))
		for _, c := range d.Chunks {
			chunks = append(chunks, ChunkHitResponse{ID: c.ID, Text: c.Text, Score: c.Score, ChunkIndex: c.ChunkIndex})
		}
		docs = append(docs, DocumentHitsResponse{
			FileID:   d.FileID,
			Filename: d.Filename,
			Source:   d.Source,
			Metadata: d.Metadata,
			MaxScore: d.MaxScore,
			Chunks:   chunks,
		})
	}

	api.Success(w, http.StatusOK, SearchResponse{
		Query:       result.Query,
		Documents:   docs,
		TotalFiles:  result.TotalFiles,
		TotalChunks: result.TotalChunks,
	})
}

// Citations rewrites numbered source markers in an answer into links.
func (h *SearchHandler) Citations(w http.ResponseWriter, r *http.Request) {
	var req CitationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result := h.citations.Resolve(r.Context(), req.Text)

	refs := make([]ReferenceResponse, 0, len(result.References))
	for _, ref := range result.References {
		resp := ReferenceResponse{
			Number:   ref.Number,
			FileID:   ref.FileID,
			Filename: ref.Filename,
			Link:     ref.Link,
		}
		if ref.Failure != nil {
			resp.Error = ref.Failure.Message
		}
		refs = append(refs, resp)
	}

	api.Success(w, http.StatusOK, CitationResponse{Text: result.Text, References: refs})
}
