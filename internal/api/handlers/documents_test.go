package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloo-solutions/homilia/internal/domain"
	"github.com/cloo-solutions/homilia/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockIngestService struct {
	mock.Mock
}

func (m *MockIngestService) Ingest(ctx context.Context, input service.IngestInput) *service.IngestResult {
	args := m.Called(ctx, input)
	return args.Get(0).(*service.IngestResult)
}

func (m *MockIngestService) IngestFile(ctx context.Context, input service.IngestFileInput) *service.IngestResult {
	args := m.Called(ctx, input)
	return args.Get(0).(*service.IngestResult)
}

type MockDeletionService struct {
	mock.Mock
}

func (m *MockDeletionService) Delete(ctx context.Context, fileID string) *service.DeleteResult {
	args := m.Called(ctx, fileID)
	return args.Get(0).(*service.DeleteResult)
}

type MockDocumentService struct {
	mock.Mock
}

func (m *MockDocumentService) GetDocument(ctx context.Context, fileID string) (*domain.Document, error) {
	args := m.Called(ctx, fileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentService) GetDocumentText(ctx context.Context, fileID string) (*service.DocumentText, error) {
	args := m.Called(ctx, fileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DocumentText), args.Error(1)
}

func (m *MockDocumentService) DownloadURL(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

type MockDateRangeService struct {
	mock.Mock
}

func (m *MockDateRangeService) ByDateRange(ctx context.Context, input service.DateRangeInput) *service.DateRangeResult {
	args := m.Called(ctx, input)
	return args.Get(0).(*service.DateRangeResult)
}

type documentMocks struct {
	ingest    *MockIngestService
	deletion  *MockDeletionService
	documents *MockDocumentService
	dates     *MockDateRangeService
}

func newDocumentHandler() (*DocumentHandler, documentMocks) {
	m := documentMocks{
		ingest:    new(MockIngestService),
		deletion:  new(MockDeletionService),
		documents: new(MockDocumentService),
		dates:     new(MockDateRangeService),
	}
	return NewDocumentHandler(m.ingest, m.deletion, m.documents, m.dates), m
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func multipartUpload(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
	Code  string          `json:"code"`
	Stage string          `json:"stage"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	return env
}

func TestDocumentHandler_Upload_Multipart(t *testing.T) {
	handler, m := newDocumentHandler()
	created := time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC)

	m.ingest.On("IngestFile", mock.Anything, mock.MatchedBy(func(in service.IngestFileInput) bool {
		return in.Filename == "lent.txt" &&
			in.ParishID == "st-anne" &&
			in.DocumentType == "homily" &&
			string(in.Data) == "Return to me with all your heart." &&
			in.Metadata["celebrant"] == "Fr. Paul"
	})).Return(&service.IngestResult{
		FileID:       "file-1",
		Filename:     "lent.txt",
		ParishID:     "st-anne",
		DocumentType: "homily",
		ChunkCount:   1,
		ObjectKey:    "st-anne/homily/2026/03/08/lent.txt",
		Extraction:   domain.Extraction{Method: "text", FileType: "text/plain; charset=utf-8", FileSize: 33},
		CreatedAt:    created,
	})

	body, contentType := multipartUpload(t, "lent.txt", []byte("Return to me with all your heart."), map[string]string{
		"parish_id":     "st-anne",
		"document_type": "homily",
		"metadata":      `{"celebrant":"Fr. Paul"}`,
	})
	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handler.Upload(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	env := decodeEnvelope(t, w)
	var resp IngestResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "file-1", resp.FileID)
	assert.Equal(t, 1, resp.ChunkCount)
	assert.Equal(t, "2026-03-08T10:00:00Z", resp.CreatedAt)
	assert.Empty(t, resp.Warnings)
	m.ingest.AssertExpectations(t)
}

func TestDocumentHandler_Upload_ReportsWarnings(t *testing.T) {
	handler, m := newDocumentHandler()

	m.ingest.On("IngestFile", mock.Anything, mock.Anything).Return(&service.IngestResult{
		FileID:     "file-2",
		ChunkCount: 3,
		Diagnostics: []*domain.Failure{
			{Kind: domain.ErrCodeUpstreamUnavailable, Stage: domain.StageBackup, Message: "bucket unreachable"},
		},
	})

	body, contentType := multipartUpload(t, "notes.txt", []byte("notes"), map[string]string{"parish_id": "st-anne"})
	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handler.Upload(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp IngestResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &resp))
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, "backup", resp.Warnings[0].Stage)
	assert.Empty(t, resp.ObjectKey)
}

func TestDocumentHandler_Upload_JSONText(t *testing.T) {
	handler, m := newDocumentHandler()

	m.ingest.On("Ingest", mock.Anything, mock.MatchedBy(func(in service.IngestInput) bool {
		return in.Text == "Peace be with you." && in.ParishID == "st-anne" && in.Extraction.Method == "text"
	})).Return(&service.IngestResult{FileID: "file-3", ChunkCount: 1})

	req := httptest.NewRequest(http.MethodPost, "/documents",
		strings.NewReader(`{"text":"Peace be with you.","filename":"easter.txt","parish_id":"st-anne"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.Upload(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	m.ingest.AssertExpectations(t)
}

func TestDocumentHandler_Upload_ValidationFailure(t *testing.T) {
	handler, m := newDocumentHandler()

	m.ingest.On("IngestFile", mock.Anything, mock.Anything).Return(&service.IngestResult{
		FileID:  "file-4",
		Failure: domain.NewFailure(domain.StageValidate, domain.ErrMissingParishID),
	})

	body, contentType := multipartUpload(t, "x.txt", []byte("x"), nil)
	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handler.Upload(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, domain.ErrCodeValidation, env.Code)
	assert.Equal(t, "validate", env.Stage)
	assert.Equal(t, "parish_id is required", env.Error)
}

func TestDocumentHandler_Upload_MissingFile(t *testing.T) {
	handler, _ := newDocumentHandler()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("parish_id", "st-anne"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()

	handler.Upload(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandler_Upload_BadMetadata(t *testing.T) {
	handler, _ := newDocumentHandler()

	body, contentType := multipartUpload(t, "x.txt", []byte("x"), map[string]string{"metadata": "not json"})
	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handler.Upload(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandler_Upload_UnsupportedContentType(t *testing.T) {
	handler, _ := newDocumentHandler()

	req := httptest.NewRequest(http.MethodPost, "/documents", strings.NewReader("raw"))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()

	handler.Upload(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestDocumentHandler_ListByDate(t *testing.T) {
	handler, m := newDocumentHandler()
	created := time.Date(2026, 4, 5, 9, 30, 0, 0, time.UTC)

	m.dates.On("ByDateRange", mock.Anything, service.DateRangeInput{
		StartDate:    "2026-04-01",
		EndDate:      "2026-04-30",
		ParishID:     "st-anne",
		DocumentType: "bulletin",
		Limit:        5,
	}).Return(&service.DateRangeResult{
		StartDate: "2026-04-01",
		EndDate:   "2026-04-30",
		Documents: []service.DocumentSummary{
			{FileID: "file-1", Filename: "easter.pdf", Source: "st-anne/bulletin", CreatedAt: created},
		},
		TotalDocuments: 1,
		TotalChunks:    4,
	})

	req := httptest.NewRequest(http.MethodGet,
		"/documents?start_date=2026-04-01&end_date=2026-04-30&parish_id=st-anne&document_type=bulletin&limit=5", nil)
	w := httptest.NewRecorder()

	handler.ListByDate(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp DateRangeResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &resp))
	assert.Equal(t, 1, resp.TotalDocuments)
	assert.Equal(t, 4, resp.TotalChunks)
	require.Len(t, resp.Documents, 1)
	assert.Equal(t, "2026-04-05T09:30:00Z", resp.Documents[0].CreatedAt)
	m.dates.AssertExpectations(t)
}

func TestDocumentHandler_ListByDate_MissingStart(t *testing.T) {
	handler, m := newDocumentHandler()

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	w := httptest.NewRecorder()

	handler.ListByDate(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	m.dates.AssertNotCalled(t, "ByDateRange", mock.Anything, mock.Anything)
}

func TestDocumentHandler_ListByDate_InvalidLimit(t *testing.T) {
	handler, _ := newDocumentHandler()

	req := httptest.NewRequest(http.MethodGet, "/documents?start_date=2026-04-01&limit=abc", nil)
	w := httptest.NewRecorder()

	handler.ListByDate(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandler_ListByDate_Failure(t *testing.T) {
	handler, m := newDocumentHandler()

	m.dates.On("ByDateRange", mock.Anything, mock.Anything).Return(&service.DateRangeResult{
		Failure: domain.NewFailure(domain.StageQuery, errors.New("connection refused")),
	})

	req := httptest.NewRequest(http.MethodGet, "/documents?start_date=2026-04-01", nil)
	w := httptest.NewRecorder()

	handler.ListByDate(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestDocumentHandler_Get(t *testing.T) {
	handler, m := newDocumentHandler()

	m.documents.On("GetDocument", mock.Anything, "file-1").Return(&domain.Document{
		FileID:     "file-1",
		Filename:   "advent.pdf",
		ParishID:   "st-anne",
		ChunkCount: 7,
	}, nil)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/documents/file-1", nil), "fileID", "file-1")
	w := httptest.NewRecorder()

	handler.Get(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp DocumentResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &resp))
	assert.Equal(t, "advent.pdf", resp.Filename)
	assert.Equal(t, 7, resp.ChunkCount)
}

func TestDocumentHandler_Get_NotFound(t *testing.T) {
	handler, m := newDocumentHandler()

	m.documents.On("GetDocument", mock.Anything, "missing").Return(nil, domain.ErrDocumentNotFound)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/documents/missing", nil), "fileID", "missing")
	w := httptest.NewRecorder()

	handler.Get(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.ErrCodeNotFound, decodeEnvelope(t, w).Code)
}

func TestDocumentHandler_GetText(t *testing.T) {
	handler, m := newDocumentHandler()

	m.documents.On("GetDocumentText", mock.Anything, "file-1").Return(&service.DocumentText{
		Document: &domain.Document{FileID: "file-1", Filename: "advent.txt"},
		Text:     "Prepare the way of the Lord.",
	}, nil)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/documents/file-1/text", nil), "fileID", "file-1")
	w := httptest.NewRecorder()

	handler.GetText(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp DocumentTextResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &resp))
	assert.Equal(t, "Prepare the way of the Lord.", resp.Text)
	assert.Equal(t, "advent.txt", resp.Document.Filename)
}

func TestDocumentHandler_Delete(t *testing.T) {
	handler, m := newDocumentHandler()

	m.deletion.On("Delete", mock.Anything, "file-1").Return(&service.DeleteResult{
		FileID:         "file-1",
		FoundChunks:    3,
		DeletedChunks:  3,
		FoundObjects:   1,
		DeletedObjects: 1,
	})

	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/documents/file-1", nil), "fileID", "file-1")
	w := httptest.NewRecorder()

	handler.Delete(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp DeleteResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &resp))
	assert.Equal(t, 3, resp.DeletedChunks)
	assert.Empty(t, resp.Errors)
}

func TestDocumentHandler_Delete_Partial(t *testing.T) {
	handler, m := newDocumentHandler()

	m.deletion.On("Delete", mock.Anything, "file-1").Return(&service.DeleteResult{
		FileID:        "file-1",
		FoundChunks:   3,
		DeletedChunks: 2,
		Errors: []*domain.Failure{
			{Kind: domain.ErrCodeUpstreamUnavailable, Stage: domain.StageDelete, Message: "timeout"},
		},
	})

	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/documents/file-1", nil), "fileID", "file-1")
	w := httptest.NewRecorder()

	handler.Delete(w, req)

	assert.Equal(t, http.StatusMultiStatus, w.Code)
	var resp DeleteResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &resp))
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "timeout", resp.Errors[0].Message)
}

func TestDocumentHandler_Delete_NotFound(t *testing.T) {
	handler, m := newDocumentHandler()

	m.deletion.On("Delete", mock.Anything, "missing").Return(&service.DeleteResult{
		FileID:  "missing",
		Failure: domain.NewFailure(domain.StageLookup, domain.ErrDocumentNotFound),
	})

	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/documents/missing", nil), "fileID", "missing")
	w := httptest.NewRecorder()

	handler.Delete(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocumentHandler_Download_Redirects(t *testing.T) {
	handler, m := newDocumentHandler()

	m.documents.On("DownloadURL", mock.Anything, "tok").Return("https://objects.example/advent.pdf?sig=1", nil)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/files/tok", nil), "token", "tok")
	w := httptest.NewRecorder()

	handler.Download(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://objects.example/advent.pdf?sig=1", w.Header().Get("Location"))
}

func TestDocumentHandler_Download_InvalidToken(t *testing.T) {
	handler, m := newDocumentHandler()

	m.documents.On("DownloadURL", mock.Anything, "bad").Return("", domain.ErrInvalidLinkToken)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/files/bad", nil), "token", "bad")
	w := httptest.NewRecorder()

	handler.Download(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
