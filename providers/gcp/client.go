package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// BucketAPI is the slice of a Cloud Storage bucket the store uses
type BucketAPI interface {
	NewWriter(ctx context.Context, name string) io.WriteCloser
	Delete(ctx context.Context, name string) error
	Attrs(ctx context.Context, name string) (*storage.ObjectAttrs, error)
	Close() error
}

// GCSStore stores model binaries in a Cloud Storage bucket
type GCSStore struct {
	bucket BucketAPI
	prefix string
}

// NewGCSStore creates a GCS store using application default credentials
func NewGCSStore(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return NewGCSStoreWithBucket(&clientBucket{client: client, bucket: client.Bucket(bucket)}, prefix), nil
}

// NewGCSStoreWithBucket creates a store over an existing bucket handle
func NewGCSStoreWithBucket(bucket BucketAPI, prefix string) *GCSStore {
	return &GCSStore{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *GCSStore) name(path string) string {
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

// Write uploads the binary
func (s *GCSStore) Write(ctx context.Context, path string, data []byte) error {
	w := s.bucket.NewWriter(ctx, s.name(path))
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Delete removes the binary; a missing object is not an error
func (s *GCSStore) Delete(ctx context.Context, path string) error {
	err := s.bucket.Delete(ctx, s.name(path))
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

// Size returns the object size from its attributes
func (s *GCSStore) Size(ctx context.Context, path string) (int64, error) {
	attrs, err := s.bucket.Attrs(ctx, s.name(path))
	if err != nil {
		return 0, err
	}
	return attrs.Size, nil
}

// Close releases the underlying client
func (s *GCSStore) Close() error {
	return s.bucket.Close()
}

type clientBucket struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

func (b *clientBucket) NewWriter(ctx context.Context, name string) io.WriteCloser {
	w := b.bucket.Object(name).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	return w
}

func (b *clientBucket) Delete(ctx context.Context, name string) error {
	return b.bucket.Object(name).Delete(ctx)
}

func (b *clientBucket) Attrs(ctx context.Context, name string) (*storage.ObjectAttrs, error) {
	return b.bucket.Object(name).Attrs(ctx)
}

func (b *clientBucket) Close() error {
	return b.client.Close()
}
