//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode"

	"github.com/cloo-solutions/homilia/internal/api/handlers"
	"github.com/cloo-solutions/homilia/internal/api/middleware"
	"github.com/cloo-solutions/homilia/internal/extract"
	"github.com/cloo-solutions/homilia/internal/linktoken"
	"github.com/cloo-solutions/homilia/internal/repository"
	"github.com/cloo-solutions/homilia/internal/server"
	"github.com/cloo-solutions/homilia/internal/service"
	"github.com/cloo-solutions/homilia/internal/storage"
	"github.com/cloo-solutions/homilia/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const (
	testAPIKey     = "e2e-secret"
	testLinkSecret = "e2e-link-secret"
	embeddingDims  = 1536
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	MinIOC       *testutil.MinIOContainer
	Pool         *pgxpool.Pool
	Store        *storage.MinIOClient
	ServerURL    string
	ServerCloser func()
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment with containers and server
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	minioC := testutil.NewMinIOContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC)

	store, err := storage.NewMinIOClient(storage.MinIOClientConfig{
		Endpoint:  minioC.Endpoint(),
		AccessKey: testutil.MinIOAccessKey,
		SecretKey: testutil.MinIOSecretKey,
		Bucket:    "e2e-documents",
	})
	if err != nil {
		t.Fatalf("failed to create object store: %v", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, serverCloser := startServer(t, pool, store, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		MinIOC:       minioC,
		Pool:         pool,
		Store:        store,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		// Download redirects are followed by tests explicitly.
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.MinIOC != nil {
		e.MinIOC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// APIResponse is the decoded envelope of an API reply.
type APIResponse struct {
	StatusCode int
	Header     http.Header
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	Code       string          `json:"code"`
	Stage      string          `json:"stage"`
}

func (e *E2ETestEnv) Get(path, authToken string) (*APIResponse, error) {
	req, err := http.NewRequestWithContext(e.Ctx, http.MethodGet, e.ServerURL+path, nil)
	if err != nil {
		return nil, err
	}
	return e.do(req, authToken)
}

func (e *E2ETestEnv) Post(path string, body interface{}, authToken string) (*APIResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(e.Ctx, http.MethodPost, e.ServerURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return e.do(req, authToken)
}

func (e *E2ETestEnv) Delete(path, authToken string) (*APIResponse, error) {
	req, err := http.NewRequestWithContext(e.Ctx, http.MethodDelete, e.ServerURL+path, nil)
	if err != nil {
		return nil, err
	}
	return e.do(req, authToken)
}

// Upload posts a multipart document upload.
func (e *E2ETestEnv) Upload(filename string, content []byte, fields map[string]string, authToken string) (*APIResponse, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(content); err != nil {
		return nil, err
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(e.Ctx, http.MethodPost, e.ServerURL+"/documents", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.do(req, authToken)
}

func (e *E2ETestEnv) do(req *http.Request, authToken string) (*APIResponse, error) {
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	out := &APIResponse{StatusCode: resp.StatusCode, Header: resp.Header}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", raw, err)
		}
	}
	return out, nil
}

// Fetch downloads a URL without the API client settings.
func (e *E2ETestEnv) Fetch(url string) ([]byte, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func startServer(t *testing.T, pool *pgxpool.Pool, store *storage.MinIOClient, port int) (string, func()) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	index := repository.NewChunkIndex(pool)
	links := linktoken.New(testLinkSecret)
	embedder := hashEmbedder{dims: embeddingDims}

	ingestSvc := service.NewIngestService(service.NewChunker(service.DefaultChunkConfig()), embedder, store, index, extract.New(), logger)
	retrievalSvc := service.NewRetrievalService(index, embedder, logger)
	deletionSvc := service.NewDeletionService(index, store, logger)
	documentSvc := service.NewDocumentService(index, store, links)
	citationSvc := service.NewCitationService(documentSvc, links, baseURL, logger)

	router := server.NewRouter(server.RouterConfig{
		AuthValidator:   middleware.StaticKey(testAPIKey),
		Logger:          logger,
		DocumentHandler: handlers.NewDocumentHandler(ingestSvc, deletionSvc, documentSvc, retrievalSvc),
		SearchHandler:   handlers.NewSearchHandler(retrievalSvc, citationSvc),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	waitForServer(t, baseURL+"/health", 10*time.Second)

	return baseURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not become ready within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port, nil
}

// hashEmbedder is a deterministic bag-of-words embedder. Texts sharing words
// get a higher cosine similarity, which is enough to check ranking.
type hashEmbedder struct {
	dims int
}

func (h hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.embed(text)
	}
	return out, nil
}

func (h hashEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return h.embed(text), nil
}

func (h hashEmbedder) embed(text string) []float32 {
	vec := make([]float32, h.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		sum := sha256.Sum256([]byte(w))
		vec[binary.BigEndian.Uint32(sum[:4])%uint32(h.dims)] += 1
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
