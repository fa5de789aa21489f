package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Search index backends.
const (
	SearchBackendPostgres   = "postgres"
	SearchBackendOpenSearch = "opensearch"
)

// PostgresEmbeddingDimensions is the width of the embedding column in
// migrations/000001_create_document_chunks.up.sql.
const PostgresEmbeddingDimensions = 1536

// Object store backends.
const (
	StorageBackendS3    = "s3"
	StorageBackendMinIO = "minio"
)

type Config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	Debug     bool   `envconfig:"DEBUG" default:"false"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Optional bearer key protecting the HTTP API
	APIKey string `envconfig:"API_KEY"`

	SearchBackend string `envconfig:"SEARCH_BACKEND" default:"postgres"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`

	OpenSearchAddresses []string `envconfig:"OPENSEARCH_ADDRESSES"`
	OpenSearchUsername  string   `envconfig:"OPENSEARCH_USERNAME"`
	OpenSearchPassword  string   `envconfig:"OPENSEARCH_PASSWORD"`
	OpenSearchIndex     string   `envconfig:"OPENSEARCH_INDEX" default:"parish_docs"`
	OpenSearchInsecure  bool     `envconfig:"OPENSEARCH_INSECURE" default:"false"`

	StorageBackend string `envconfig:"STORAGE_BACKEND" default:"s3"`
	S3Endpoint     string `envconfig:"S3_ENDPOINT"`
	S3AccessKey    string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey    string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket       string `envconfig:"S3_BUCKET" default:"homilia-documents"`
	S3Region       string `envconfig:"S3_REGION" default:"us-east-1"`
	S3UseSSL       bool   `envconfig:"S3_USE_SSL" default:"false"`

	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`

	ChunkSize    int `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"200"`

	// Citation links
	LinkSecret    string `envconfig:"LINK_SECRET"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL"`

	MaxUploadMB int64 `envconfig:"MAX_UPLOAD_MB" default:"50"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("HOMILIA", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	c.SearchBackend = strings.ToLower(strings.TrimSpace(c.SearchBackend))
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))

	switch c.SearchBackend {
	case SearchBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("HOMILIA_DATABASE_URL is required for the postgres search backend")
		}
		if c.EmbeddingDimensions != PostgresEmbeddingDimensions {
			return fmt.Errorf("HOMILIA_EMBEDDING_DIMENSIONS must be %d for the postgres search backend, got %d",
				PostgresEmbeddingDimensions, c.EmbeddingDimensions)
		}
	case SearchBackendOpenSearch:
		if len(c.OpenSearchAddresses) == 0 {
			return fmt.Errorf("HOMILIA_OPENSEARCH_ADDRESSES is required for the opensearch search backend")
		}
	default:
		return fmt.Errorf("unknown search backend %q", c.SearchBackend)
	}

	switch c.StorageBackend {
	case StorageBackendS3, StorageBackendMinIO:
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}

	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.EmbeddingDimensions)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be in [0, %d)", c.ChunkOverlap, c.ChunkSize)
	}

	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}
