// Package app wires configuration into the concrete collaborators used by
// the server and the admin commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloo-solutions/homilia/internal/config"
	"github.com/cloo-solutions/homilia/internal/database"
	"github.com/cloo-solutions/homilia/internal/extract"
	"github.com/cloo-solutions/homilia/internal/linktoken"
	"github.com/cloo-solutions/homilia/internal/logging"
	"github.com/cloo-solutions/homilia/internal/openai"
	"github.com/cloo-solutions/homilia/internal/opensearch"
	"github.com/cloo-solutions/homilia/internal/repository"
	"github.com/cloo-solutions/homilia/internal/service"
	"github.com/cloo-solutions/homilia/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

var (
	_ service.SearchIndex = (*repository.ChunkIndex)(nil)
	_ service.SearchIndex = (*opensearch.Index)(nil)
	_ service.ObjectStore = (*storage.S3Client)(nil)
	_ service.ObjectStore = (*storage.MinIOClient)(nil)
	_ service.Embedder    = (*openai.Client)(nil)
	_ service.Extractor   = (*extract.Extractor)(nil)
)

// ErrEmbedderNotConfigured is returned by every embedding call when no
// provider key is set.
var ErrEmbedderNotConfigured = errors.New("embedding provider not configured: HOMILIA_OPENAI_API_KEY required")

// bucketEnsurer is implemented by object stores that can create their bucket.
type bucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// App bundles the collaborators built from one configuration.
type App struct {
	Config *config.Config
	Logger logrus.FieldLogger

	Pool       *pgxpool.Pool
	Index      service.SearchIndex
	OpenSearch *opensearch.Index
	Store      service.ObjectStore
	Embedder   service.Embedder
	Links      *linktoken.Codec

	Ingest    *service.IngestService
	Retrieval *service.RetrievalService
	Deletion  *service.DeletionService
	Documents *service.DocumentService
	Citations *service.CitationService

	closers []func()
}

// New connects to the configured backends and builds the services. A missing
// object store or embedding key degrades the app instead of failing it.
func New(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*App, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	a := &App{Config: cfg, Logger: logger}

	if err := a.openIndex(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.openEmbedder()

	a.Links = linktoken.New(cfg.LinkSecret)
	if !a.Links.Encrypted() {
		logger.Warn("HOMILIA_LINK_SECRET not set, download links carry plain object keys")
	}

	chunker := service.NewChunker(service.ChunkConfig{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap})
	a.Ingest = service.NewIngestService(chunker, a.Embedder, a.Store, a.Index, extract.New(), logging.Component(logger, "ingest"))
	a.Retrieval = service.NewRetrievalService(a.Index, a.Embedder, logging.Component(logger, "retrieval"))
	a.Deletion = service.NewDeletionService(a.Index, a.Store, logging.Component(logger, "deletion"))
	a.Documents = service.NewDocumentService(a.Index, a.Store, a.Links)
	a.Citations = service.NewCitationService(a.Documents, a.Links, cfg.PublicBaseURL, logging.Component(logger, "citation"))

	return a, nil
}

func (a *App) openIndex(ctx context.Context) error {
	cfg := a.Config
	switch cfg.SearchBackend {
	case config.SearchBackendOpenSearch:
		idx, err := opensearch.NewIndex(opensearch.Config{
			Addresses:  cfg.OpenSearchAddresses,
			Username:   cfg.OpenSearchUsername,
			Password:   cfg.OpenSearchPassword,
			Index:      cfg.OpenSearchIndex,
			Insecure:   cfg.OpenSearchInsecure,
			Dimensions: cfg.EmbeddingDimensions,
		})
		if err != nil {
			return err
		}
		a.OpenSearch = idx
		a.Index = idx
		a.Logger.WithField("index", cfg.OpenSearchIndex).Info("using opensearch search index")
	default:
		pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.Pool = pool
		a.closers = append(a.closers, pool.Close)
		a.Index = repository.NewChunkIndex(pool)
		a.Logger.Info("using postgres search index")
	}
	return nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	if !cfg.HasS3() {
		a.Logger.Warn("object store not configured, documents will be indexed without a backup copy")
		return nil
	}

	var store interface {
		service.ObjectStore
		bucketEnsurer
	}
	switch cfg.StorageBackend {
	case config.StorageBackendMinIO:
		c, err := storage.NewMinIOClient(storage.MinIOClientConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Secure:    cfg.S3UseSSL,
		})
		if err != nil {
			return err
		}
		store = c
	default:
		c, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		store = c
	}

	if err := store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure bucket: %w", err)
	}
	a.Logger.WithFields(logrus.Fields{"backend": cfg.StorageBackend, "bucket": cfg.S3Bucket}).Info("object store ready")
	a.Store = store
	return nil
}

func (a *App) openEmbedder() {
	cfg := a.Config
	if !cfg.HasOpenAI() {
		a.Logger.Warn("embedding provider not configured, ingestion and search are unavailable")
		a.Embedder = unavailableEmbedder{}
		return
	}
	a.Embedder = openai.NewClientWithConfig(openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		EmbeddingModel:      goopenai.EmbeddingModel(cfg.EmbeddingModel),
		EmbeddingDimensions: cfg.EmbeddingDimensions,
	})
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

type unavailableEmbedder struct{}

func (unavailableEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, ErrEmbedderNotConfigured
}

func (unavailableEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrEmbedderNotConfigured
}
