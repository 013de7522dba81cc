// Package objectstore downloads source files from MinIO / S3 for parsing.
package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Client wraps a MinIO connection scoped to a single bucket.
type Client struct {
	mc     *minio.Client
	bucket string
}

// Config holds connection settings for the object store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// New connects to MinIO and verifies the bucket exists. A missing bucket is
// a deployment error, not something the pipeline can create its way out of.
func New(ctx context.Context, cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: failed to create client: %w", err)
	}

	exists, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("objectstore: failed to check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("objectstore: bucket %q does not exist", cfg.Bucket)
	}

	return &Client{mc: mc, bucket: cfg.Bucket}, nil
}

// Download fetches an object to a uniquely named file under the system temp
// directory and returns the local path. The caller owns cleanup.
func (c *Client) Download(ctx context.Context, objectPath string) (string, error) {
	localPath := filepath.Join(os.TempDir(),
		fmt.Sprintf("docproc_%s_%s", uuid.NewString(), filepath.Base(objectPath)))

	if err := c.mc.FGetObject(ctx, c.bucket, objectPath, localPath, minio.GetObjectOptions{}); err != nil {
		os.Remove(localPath)
		return "", fmt.Errorf("objectstore: failed to download %s/%s: %w", c.bucket, objectPath, err)
	}
	return localPath, nil
}

// Ping verifies the bucket is still reachable, for health checks.
func (c *Client) Ping(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("objectstore: health check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("objectstore: bucket %q disappeared", c.bucket)
	}
	return nil
}
