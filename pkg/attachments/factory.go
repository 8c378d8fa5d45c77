package attachments

import (
	"context"
	"fmt"
	"path/filepath"
)

// Backend names the configured blob storage backend.
type Backend string

const (
	BackendFS  Backend = "fs"
	BackendS3  Backend = "s3"
	BackendGCS Backend = "gcs"
)

// Config selects and parameterizes the backend.
type Config struct {
	Backend    Backend `yaml:"backend"`
	DataDir    string  `yaml:"data_dir"`
	S3Bucket   string  `yaml:"s3_bucket"`
	S3Region   string  `yaml:"s3_region"`
	S3Endpoint string  `yaml:"s3_endpoint"`
	S3Prefix   string  `yaml:"s3_prefix"`
	GCSBucket  string  `yaml:"gcs_bucket"`
	GCSPrefix  string  `yaml:"gcs_prefix"`
}

// NewStore builds the configured backend. An empty backend means the
// filesystem store under DataDir.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendFS:
		dir := cfg.DataDir
		if dir == "" {
			dir = "data"
		}
		return NewFileStore(filepath.Join(dir, "attachments"))
	case BackendS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("attachments: s3 backend requires a bucket")
		}
		region := cfg.S3Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
	case BackendGCS:
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("attachments: gcs backend requires a bucket")
		}
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("attachments: unsupported backend %q", cfg.Backend)
	}
}
