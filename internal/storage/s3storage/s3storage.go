// Package s3storage is a storage.Backend on an S3-compatible object store,
// accessed through the MinIO client.
package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/vk/monogrid/internal/ctxlog"
	"github.com/vk/monogrid/internal/storage"
)

// Config holds the connection settings of the object store.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Backend stores objects at <prefix>/<addr[:2]>/<addr> in one bucket.
type Backend struct {
	mc     *minio.Client
	bucket string
	prefix string
}

var _ storage.Backend = (*Backend)(nil)

// New creates a MinIO client for cfg. It does not contact the server.
func New(cfg Config) (*Backend, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 access_key and secret_key are required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "monogrid-cache"
	}
	return &Backend{mc: mc, bucket: bucket, prefix: cfg.Prefix}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (b *Backend) EnsureBucket(ctx context.Context) error {
	exists, err := b.mc.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := b.mc.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		ctxlog.FromContext(ctx).Info("Created bucket.", "bucket", b.bucket)
	}
	return nil
}

func (b *Backend) key(addr string) string {
	return path.Join(b.prefix, addr[:2], addr)
}

func isNotFound(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// Put uploads data.
func (b *Backend) Put(ctx context.Context, addr string, data []byte) error {
	if err := storage.ValidateAddress(addr); err != nil {
		return err
	}
	key := b.key(addr)
	_, err := b.mc.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Get downloads the object at addr.
func (b *Backend) Get(ctx context.Context, addr string) ([]byte, error) {
	if err := storage.ValidateAddress(addr); err != nil {
		return nil, err
	}
	key := b.key(addr)
	obj, err := b.mc.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.NotFound(addr)
		}
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer obj.Close()

	// GetObject is lazy; the missing-key error surfaces on first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, storage.NotFound(addr)
		}
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	return data, nil
}

// Exists stats the object at addr.
func (b *Backend) Exists(ctx context.Context, addr string) (bool, error) {
	if err := storage.ValidateAddress(addr); err != nil {
		return false, err
	}
	_, err := b.mc.StatObject(ctx, b.bucket, b.key(addr), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
