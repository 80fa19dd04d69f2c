// Package blob stores document text in S3-compatible object storage. It is
// optional: when no endpoint is configured the persistence layer runs on
// Postgres alone.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"inkvault/api/internal/store"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Client wraps a MinIO connection scoped to a single bucket.
type Client struct {
	mc     *minio.Client
	bucket string
}

func NewClient(cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("blob client: %w", err)
	}
	return &Client{mc: mc, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the configured bucket if it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Load returns the stored text for a document, or store.ErrNotFound when no
// object exists for it.
func (c *Client) Load(ctx context.Context, vaultID, fileID string) (string, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, objectKey(vaultID, fileID), minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("read object: %w", err)
	}
	return string(data), nil
}

// Save writes the document text, replacing any previous object.
func (c *Client) Save(ctx context.Context, vaultID, fileID, text string) error {
	reader := bytes.NewReader([]byte(text))
	_, err := c.mc.PutObject(ctx, c.bucket, objectKey(vaultID, fileID), reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "text/markdown",
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func objectKey(vaultID, fileID string) string {
	return path.Join("vaults", vaultID, fileID+".md")
}
