//go:build gcp

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSStore implements Store using Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSStoreConfig holds configuration for GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore creates a GCS-backed snapshot store using application default
// credentials.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *GCSStore) Put(ctx context.Context, data []byte) (string, error) {
	hash := hashOf(data)
	obj := s.client.Bucket(s.bucket).Object(s.prefix + strings.TrimPrefix(hash, hashPrefix) + ".blob")

	if _, err := obj.Attrs(ctx); err == nil {
		return hash, nil
	}
	if err := s.write(ctx, obj, data, "application/json"); err != nil {
		return "", err
	}
	return hash, nil
}

func (s *GCSStore) Get(ctx context.Context, hash string) ([]byte, error) {
	raw, err := rawHash(hash)
	if err != nil {
		return nil, err
	}
	return s.read(ctx, s.prefix+raw+".blob")
}

func (s *GCSStore) SetHead(ctx context.Context, hash string) error {
	if _, err := rawHash(hash); err != nil {
		return err
	}
	obj := s.client.Bucket(s.bucket).Object(s.prefix + "HEAD")
	return s.write(ctx, obj, []byte(hash), "text/plain")
}

func (s *GCSStore) Head(ctx context.Context) (string, error) {
	data, err := s.read(ctx, s.prefix+"HEAD")
	if errors.Is(err, storage.ErrObjectNotExist) {
		return "", ErrNoSnapshot
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Close releases the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) write(ctx context.Context, obj *storage.ObjectHandle, data []byte, contentType string) error {
	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed: %w", err)
	}
	return nil
}

func (s *GCSStore) read(ctx context.Context, name string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs read failed for %s: %w", name, err)
	}
	defer func() { _ = r.Close() }()

	return io.ReadAll(r)
}
