package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloo-solutions/homilia/internal/api/handlers"
	"github.com/cloo-solutions/homilia/internal/api/middleware"
	"github.com/cloo-solutions/homilia/internal/domain"
	"github.com/cloo-solutions/homilia/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAuthValidator struct {
	mock.Mock
}

func (m *MockAuthValidator) ValidateAPIKey(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

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

type MockRetrievalService struct {
	mock.Mock
}

func (m *MockRetrievalService) Search(ctx context.Context, input service.SearchInput) *service.SearchResult {
	args := m.Called(ctx, input)
	return args.Get(0).(*service.SearchResult)
}

func (m *MockRetrievalService) ByDateRange(ctx context.Context, input service.DateRangeInput) *service.DateRangeResult {
	args := m.Called(ctx, input)
	return args.Get(0).(*service.DateRangeResult)
}

type MockCitationService struct {
	mock.Mock
}

func (m *MockCitationService) Resolve(ctx context.Context, text string) *service.CitationResult {
	args := m.Called(ctx, text)
	return args.Get(0).(*service.CitationResult)
}

type routerMocks struct {
	auth      *MockAuthValidator
	ingest    *MockIngestService
	deletion  *MockDeletionService
	documents *MockDocumentService
	retrieval *MockRetrievalService
	citations *MockCitationService
	logs      *test.Hook
}

func setupRouter(withAuth bool, maxUpload int64) (http.Handler, routerMocks) {
	logger, hook := test.NewNullLogger()
	m := routerMocks{
		auth:      new(MockAuthValidator),
		ingest:    new(MockIngestService),
		deletion:  new(MockDeletionService),
		documents: new(MockDocumentService),
		retrieval: new(MockRetrievalService),
		citations: new(MockCitationService),
		logs:      hook,
	}

	cfg := RouterConfig{
		Logger:          logger,
		MaxUploadBytes:  maxUpload,
		DocumentHandler: handlers.NewDocumentHandler(m.ingest, m.deletion, m.documents, m.retrieval),
		SearchHandler:   handlers.NewSearchHandler(m.retrieval, m.citations),
	}
	if withAuth {
		cfg.AuthValidator = m.auth
	}
	return NewRouter(cfg), m
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router, _ := setupRouter(true, 0)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
}

func TestRouter_AuthenticatedRoutes_RequireAuth(t *testing.T) {
	router, _ := setupRouter(true, 0)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/documents"},
		{http.MethodGet, "/documents?start_date=2026-01-01"},
		{http.MethodGet, "/documents/file-1"},
		{http.MethodGet, "/documents/file-1/text"},
		{http.MethodDelete, "/documents/file-1"},
		{http.MethodPost, "/search"},
		{http.MethodPost, "/citations"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			req := httptest.NewRequest(route.method, route.path, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRouter_AuthenticatedRoutes_WithValidAuth(t *testing.T) {
	router, m := setupRouter(true, 0)

	m.auth.On("ValidateAPIKey", mock.Anything, "secret").Return("api-key", nil)
	m.documents.On("GetDocument", mock.Anything, "file-1").Return(&domain.Document{FileID: "file-1", Filename: "advent.pdf"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/documents/file-1", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	m.auth.AssertExpectations(t)
	m.documents.AssertExpectations(t)
}

func TestRouter_InvalidKey(t *testing.T) {
	router, m := setupRouter(true, 0)

	m.auth.On("ValidateAPIKey", mock.Anything, "wrong").Return("", middleware.ErrInvalidAPIKey)

	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(`{"query":"mercy"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	m.retrieval.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestRouter_OpenWithoutValidator(t *testing.T) {
	router, m := setupRouter(false, 0)

	m.retrieval.On("Search", mock.Anything, mock.Anything).Return(&service.SearchResult{Query: "mercy"})

	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(`{"query":"mercy"}`))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_DownloadIsPublic(t *testing.T) {
	router, m := setupRouter(true, 0)

	m.documents.On("DownloadURL", mock.Anything, "tok").Return("https://objects.example/a.pdf", nil)

	req := httptest.NewRequest(http.MethodGet, "/files/tok", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://objects.example/a.pdf", w.Header().Get("Location"))
	m.auth.AssertNotCalled(t, "ValidateAPIKey", mock.Anything, mock.Anything)
}

func TestRouter_UploadTooLarge(t *testing.T) {
	router, m := setupRouter(false, 16)

	req := httptest.NewRequest(http.MethodPost, "/documents",
		bytes.NewReader([]byte(`{"text":"this body is longer than sixteen bytes","parish_id":"st-anne"}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	m.ingest.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
}

func TestRouter_AccessLogged(t *testing.T) {
	router, m := setupRouter(false, 0)

	m.documents.On("GetDocument", mock.Anything, "missing").Return(nil, domain.ErrDocumentNotFound)

	req := httptest.NewRequest(http.MethodGet, "/documents/missing", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	entry := m.logs.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, http.StatusNotFound, entry.Data["status"])
}

func TestRouter_AccessLogRecordsPrincipal(t *testing.T) {
	router, m := setupRouter(true, 0)

	m.auth.On("ValidateAPIKey", mock.Anything, "secret").Return("parish-office", nil)
	m.documents.On("GetDocument", mock.Anything, "file-1").Return(&domain.Document{FileID: "file-1"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/documents/file-1", nil)
	req.Header.Set("Authorization", "Bearer secret")
	router.ServeHTTP(httptest.NewRecorder(), req)

	entry := m.logs.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "parish-office", entry.Data["principal"])
	assert.Equal(t, "/documents/file-1", entry.Data["path"])
}

func TestRouter_AccessLogRedactsLinkToken(t *testing.T) {
	router, m := setupRouter(true, 0)

	m.documents.On("DownloadURL", mock.Anything, "sealed-object-key").Return("https://objects.example/a.pdf", nil)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/files/sealed-object-key", nil))

	entry := m.logs.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "/files/{token}", entry.Data["path"])
	assert.NotContains(t, entry.Data, "principal")
}

func TestRouter_UploadTooLargeEnvelope(t *testing.T) {
	router, _ := setupRouter(false, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/documents", bytes.NewReader(make([]byte, 2<<20)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	var resp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
		Stage string `json:"stage"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "request body exceeds 1 MB", resp.Error)
	assert.Equal(t, domain.ErrCodeValidation, resp.Code)
	assert.Equal(t, "validate", resp.Stage)
}
