package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/cloo-solutions/homilia/internal/api"
	"github.com/cloo-solutions/homilia/internal/domain"
	"github.com/cloo-solutions/homilia/internal/service"
	"github.com/go-chi/chi/v5"
)

type IngestService interface {
	Ingest(ctx context.Context, input service.IngestInput) *service.IngestResult
	IngestFile(ctx context.Context, input service.IngestFileInput) *service.IngestResult
}

type DeletionService interface {
	Delete(ctx context.Context, fileID string) *service.DeleteResult
}

type DocumentService interface {
	GetDocument(ctx context.Context, fileID string) (*domain.Document, error)
	GetDocumentText(ctx context.Context, fileID string) (*service.DocumentText, error)
	DownloadURL(ctx context.Context, token string) (string, error)
}

type DateRangeService interface {
	ByDateRange(ctx context.Context, input service.DateRangeInput) *service.DateRangeResult
}

type DocumentHandler struct {
	ingest    IngestService
	deletion  DeletionService
	documents DocumentService
	dates     DateRangeService
}

func NewDocumentHandler(ingest IngestService, deletion DeletionService, documents DocumentService, dates DateRangeService) *DocumentHandler {
	return &DocumentHandler{ingest: ingest, deletion: deletion, documents: documents, dates: dates}
}

// IngestTextRequest is the JSON form of an upload for already extracted text.
type IngestTextRequest struct {
	Text         string         `json:"text"`
	Filename     string         `json:"filename"`
	ParishID     string         `json:"parish_id"`
	DocumentType string         `json:"document_type"`
	Metadata     map[string]any `json:"metadata"`
}

type DiagnosticResponse struct {
	Code    string `json:"code"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

type IngestResponse struct {
	FileID           string               `json:"file_id"`
	Filename         string               `json:"filename"`
	ParishID         string               `json:"parish_id"`
	DocumentType     string               `json:"document_type"`
	ChunkCount       int                  `json:"chunk_count"`
	ObjectKey        string               `json:"object_key,omitempty"`
	ExtractionMethod string               `json:"extraction_method"`
	FileType         string               `json:"file_type"`
	FileSize         int64                `json:"file_size"`
	CreatedAt        string               `json:"created_at"`
	Warnings         []DiagnosticResponse `json:"warnings,omitempty"`
}

type DocumentResponse struct {
	FileID           string         `json:"file_id"`
	Filename         string         `json:"filename"`
	Source           string         `json:"source"`
	ParishID         string         `json:"parish_id"`
	DocumentType     string         `json:"document_type"`
	ObjectKey        string         `json:"object_key,omitempty"`
	ExtractionMethod string         `json:"extraction_method"`
	FileType         string         `json:"file_type"`
	FileSize         int64          `json:"file_size"`
	ChunkCount       int            `json:"chunk_count"`
	CreatedAt        string         `json:"created_at"`
	Metadata         map[string]any `json:"metadata"`
}

type DocumentTextResponse struct {
	Document *DocumentResponse `json:"document"`
	Text     string            `json:"text"`
}

type DeleteResponse struct {
	FileID         string               `json:"file_id"`
	FoundChunks    int                  `json:"found_chunks"`
	DeletedChunks  int                  `json:"deleted_chunks"`
	FoundObjects   int                  `json:"found_objects"`
	DeletedObjects int                  `json:"deleted_objects"`
	Errors         []DiagnosticResponse `json:"errors,omitempty"`
}

type DocumentSummaryResponse struct {
	FileID    string         `json:"file_id"`
	Filename  string         `json:"filename"`
	Source    string         `json:"source"`
	CreatedAt string         `json:"created_at"`
	Metadata  map[string]any `json:"metadata"`
}

type DateRangeResponse struct {
	StartDate      string                    `json:"start_date"`
	EndDate        string                    `json:"end_date"`
	Documents      []DocumentSummaryResponse `json:"documents"`
	TotalDocuments int                       `json:"total_documents"`
	TotalChunks    int                       `json:"total_chunks"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func diagnosticsToResponse(failures []*domain.Failure) []DiagnosticResponse {
	if len(failures) == 0 {
		return nil
	}
	out := make([]DiagnosticResponse, 0, len(failures))
	for _, f := range failures {
		out = append(out, DiagnosticResponse{Code: f.Kind, Stage: string(f.Stage), Message: f.Message})
	}
	return out
}

func documentToResponse(d *domain.Document) *DocumentResponse {
	return &DocumentResponse{
		FileID:           d.FileID,
		Filename:         d.Filename,
		Source:           d.Source,
		ParishID:         d.ParishID,
		DocumentType:     d.DocumentType,
		ObjectKey:        d.ObjectKey,
		ExtractionMethod: d.ExtractionMethod,
		FileType:         d.FileType,
		FileSize:         d.FileSize,
		ChunkCount:       d.ChunkCount,
		CreatedAt:        formatTime(d.CreatedAt),
		Metadata:         d.Metadata,
	}
}

func ingestToResponse(r *service.IngestResult) *IngestResponse {
	return &IngestResponse{
		FileID:           r.FileID,
		Filename:         r.Filename,
		ParishID:         r.ParishID,
		DocumentType:     r.DocumentType,
		ChunkCount:       r.ChunkCount,
		ObjectKey:        r.ObjectKey,
		ExtractionMethod: r.Extraction.Method,
		FileType:         r.Extraction.FileType,
		FileSize:         r.Extraction.FileSize,
		CreatedAt:        formatTime(r.CreatedAt),
		Warnings:         diagnosticsToResponse(r.Diagnostics),
	}
}

// Upload ingests a multipart file upload, or extracted text sent as JSON.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var result *service.IngestResult
	switch mediaType {
	case "application/json":
		var req IngestTextRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		result = h.ingest.Ingest(r.Context(), service.IngestInput{
			Text:         req.Text,
			Filename:     req.Filename,
			ParishID:     req.ParishID,
			DocumentType: req.DocumentType,
			Metadata:     req.Metadata,
			Extraction:   domain.Extraction{Method: "text", FileType: "text/plain", FileSize: int64(len(req.Text))},
		})
	case "multipart/form-data":
		input, ok := readUpload(w, r)
		if !ok {
			return
		}
		result = h.ingest.IngestFile(r.Context(), input)
	default:
		api.Error(w, http.StatusUnsupportedMediaType, "expected multipart/form-data or application/json")
		return
	}

	if !result.Success() {
		api.HandleFailure(w, result.Failure)
		return
	}
	api.Success(w, http.StatusCreated, ingestToResponse(result))
}

// decodeJSON decodes the request body into v, writing the error response
// itself when it returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		api.BodyTooLarge(w, tooLarge.Limit)
	} else {
		api.Error(w, http.StatusBadRequest, "invalid request body")
	}
	return false
}

func readUpload(w http.ResponseWriter, r *http.Request) (service.IngestFileInput, bool) {
	var input service.IngestFileInput

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.BodyTooLarge(w, tooLarge.Limit)
		} else {
			api.Error(w, http.StatusBadRequest, "invalid multipart form")
		}
		return input, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		api.Error(w, http.StatusBadRequest, "file is required")
		return input, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "failed to read upload")
		return input, false
	}

	input = service.IngestFileInput{
		Data:         data,
		Filename:     header.Filename,
		ParishID:     r.FormValue("parish_id"),
		DocumentType: r.FormValue("document_type"),
	}
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input.Metadata); err != nil {
			api.Error(w, http.StatusBadRequest, "metadata must be a JSON object")
			return input, false
		}
	}
	return input, true
}

func (h *DocumentHandler) ListByDate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("start_date") == "" {
		api.Error(w, http.StatusBadRequest, "start_date is required")
		return
	}

	input := service.DateRangeInput{
		StartDate:    q.Get("start_date"),
		EndDate:      q.Get("end_date"),
		ParishID:     q.Get("parish_id"),
		DocumentType: q.Get("document_type"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			api.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		input.Limit = limit
	}

	result := h.dates.ByDateRange(r.Context(), input)
	if result.Failure != nil {
		api.HandleFailure(w, result.Failure)
		return
	}

	docs := make([]DocumentSummaryResponse, 0, len(result.Documents))
	for _, d := range result.Documents {
		docs = append(docs, DocumentSummaryResponse{
			FileID:    d.FileID,
			Filename:  d.Filename,
			Source:    d.Source,
			CreatedAt: formatTime(d.CreatedAt),
			Metadata:  d.Metadata,
		})
	}

	api.Success(w, http.StatusOK, DateRangeResponse{
		StartDate:      result.StartDate,
		EndDate:        result.EndDate,
		Documents:      docs,
		TotalDocuments: result.TotalDocuments,
		TotalChunks:    result.TotalChunks,
	})
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.documents.GetDocument(r.Context(), chi.URLParam(r, "fileID"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, documentToResponse(doc))
}

func (h *DocumentHandler) GetText(w http.ResponseWriter, r *http.Request) {
	text, err := h.documents.GetDocumentText(r.Context(), chi.URLParam(r, "fileID"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, DocumentTextResponse{
		Document: documentToResponse(text.Document),
		Text:     text.Text,
	})
}

// Delete removes every entry and backup object of a document. Leftover
// artifacts are reported with 207.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	result := h.deletion.Delete(r.Context(), chi.URLParam(r, "fileID"))
	if !result.Success() {
		api.HandleFailure(w, result.Failure)
		return
	}

	status := http.StatusOK
	if !result.Complete() {
		status = http.StatusMultiStatus
	}
	api.Success(w, status, DeleteResponse{
		FileID:         result.FileID,
		FoundChunks:    result.FoundChunks,
		DeletedChunks:  result.DeletedChunks,
		FoundObjects:   result.FoundObjects,
		DeletedObjects: result.DeletedObjects,
		Errors:         diagnosticsToResponse(result.Errors),
	})
}

// Download redirects a citation link to a presigned object URL.
func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	url, err := h.documents.DownloadURL(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}
