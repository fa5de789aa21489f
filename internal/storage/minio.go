package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/cloo-solutions/homilia/internal/domain"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOClientConfig holds configuration for MinIOClient
type MinIOClientConfig struct {
	// Endpoint accepts either host:port or a full http(s) URL
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Secure    bool
}

// MinIOClient stores document backups in a MinIO server
type MinIOClient struct {
	client            *minio.Client
	bucket            string
	region            string
	downloadURLExpiry time.Duration
}

// NewMinIOClient creates a MinIO client. No request is made until first use.
func NewMinIOClient(cfg MinIOClientConfig) (*MinIOClient, error) {
	host, secure := splitEndpoint(cfg.Endpoint, cfg.Secure)
	if host == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}

	c, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinIOClient{
		client:            c,
		bucket:            cfg.Bucket,
		region:            cfg.Region,
		downloadURLExpiry: 1 * time.Hour,
	}, nil
}

func splitEndpoint(endpoint string, secure bool) (string, bool) {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.Contains(endpoint, "://") {
		return strings.TrimSuffix(endpoint, "/"), secure
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", secure
	}
	return u.Host, u.Scheme == "https"
}

func (c *MinIOClient) Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	_, err := c.client.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

func (c *MinIOClient) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, c.mapError(key, err)
	}
	defer obj.Close()

	// GetObject is lazy; errors such as NoSuchKey surface on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, c.mapError(key, err)
	}
	return data, nil
}

func (c *MinIOClient) Delete(ctx context.Context, key string) error {
	err := c.client.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isMinIONotFound(err) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

func (c *MinIOClient) DownloadURL(ctx context.Context, key string) (string, error) {
	u, err := c.client.PresignedGetObject(ctx, c.bucket, key, c.downloadURLExpiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to generate download URL: %w", err)
	}
	return u.String(), nil
}

func (c *MinIOClient) Stat(ctx context.Context, key string) (*domain.ObjectInfo, error) {
	info, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, c.mapError(key, err)
	}
	return &domain.ObjectInfo{
		Size:        info.Size,
		ContentType: info.ContentType,
		ETag:        info.ETag,
		Metadata:    info.UserMetadata,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (c *MinIOClient) EnsureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: c.region}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func (c *MinIOClient) mapError(key string, err error) error {
	if isMinIONotFound(err) {
		return domain.ErrObjectNotFound
	}
	return fmt.Errorf("failed to read object %s: %w", key, err)
}

func isMinIONotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
