// internal/blob/blob.go
package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"driftpad/internal/apperr"
	"driftpad/internal/files"
)

// ObjectStore is the surface the offloader needs from an object storage
// backend. Keys are content hashes, so writes are idempotent.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// MinioOptions configures the S3-compatible backend.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore backs ObjectStore with a MinIO bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the object store and ensures the bucket exists.
func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}

	return &MinioStore{client: client, bucket: opts.Bucket}, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	// GetObject defers the request until the first read; stat now so a
	// missing key surfaces here instead of midway through a copy.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("object %s: %w", key, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}
	return obj, nil
}

func (s *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return true, nil
}

// offloadThreshold is the inline size limit; larger bodies move to the
// object store even when they are plain text.
const offloadThreshold = 1 << 20

// ShouldOffload reports whether a body belongs in the object store rather
// than inline in the file_contents row.
func ShouldOffload(body []byte) bool {
	if len(body) > offloadThreshold {
		return true
	}
	if bytes.IndexByte(body, 0) >= 0 {
		return true
	}
	return !utf8.Valid(body)
}

// Offloader moves binary bodies to the object store and keeps a
// blob:<sha256> sentinel in the workspace database.
type Offloader struct {
	store ObjectStore
	log   *slog.Logger
}

func NewOffloader(store ObjectStore, log *slog.Logger) *Offloader {
	if log == nil {
		log = slog.Default()
	}
	return &Offloader{store: store, log: log}
}

// Offload stores the body under its content hash and returns the sentinel
// to keep in file_contents. Identical bodies share one object.
func (o *Offloader) Offload(ctx context.Context, body []byte) (string, error) {
	sum := sha256.Sum256(body)
	key := hex.EncodeToString(sum[:])

	exists, err := o.store.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("check blob %s: %w", key, err)
	}
	if !exists {
		if err := o.store.Put(ctx, key, bytes.NewReader(body), int64(len(body))); err != nil {
			return "", fmt.Errorf("offload blob %s: %w", key, err)
		}
		o.log.Debug("offloaded blob", "key", key, "size", len(body))
	}

	return files.BlobSentinel(key), nil
}

// Resolve returns plain content unchanged and fetches the stored body for
// blob sentinels.
func (o *Offloader) Resolve(ctx context.Context, content string) ([]byte, error) {
	key, ok := files.BlobKey(content)
	if !ok {
		return []byte(content), nil
	}

	rc, err := o.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("resolve blob %s: %w", key, err)
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return body, nil
}
