package snapshot

import (
	"context"
	"fmt"
)

// StoreType represents the type of snapshot storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// Config selects a snapshot backend.
type Config struct {
	Type StoreType

	Dir string // fs

	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string

	GCSBucket string
	GCSPrefix string
}

// NewStoreFromConfig creates the snapshot store cfg.Type names.
func NewStoreFromConfig(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case StoreTypeFS:
		dir := cfg.Dir
		if dir == "" {
			dir = "data/snapshots"
		}
		return NewFileStore(dir)
	case StoreTypeS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("SNAPSHOT_S3_BUCKET is required for S3 storage")
		}
		region := cfg.S3Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.S3Bucket,
			Region:   region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
	case StoreTypeGCS:
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported snapshot storage type: %q", cfg.Type)
	}
}
