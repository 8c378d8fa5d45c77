//go:build gcp

package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore keeps attachment blobs in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig configures the bucket. Credentials come from ADC.
type GCSConfig struct {
	Bucket string
	Prefix string
}

func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("attachments: gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) object(sha2 string) (*storage.ObjectHandle, string, error) {
	key, err := Key(sha2)
	if err != nil {
		return nil, "", err
	}
	objKey := s.prefix + key
	return s.client.Bucket(s.bucket).Object(objKey), objKey, nil
}

func (s *GCSStore) Put(ctx context.Context, sha2 string, data []byte) (string, error) {
	obj, objKey, err := s.object(sha2)
	if err != nil {
		return "", err
	}
	if _, err := obj.Attrs(ctx); err == nil {
		return objKey, nil // write-once
	}
	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("attachments: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("attachments: gcs close: %w", err)
	}
	return objKey, nil
}

func (s *GCSStore) Get(ctx context.Context, sha2 string) ([]byte, error) {
	obj, _, err := s.object(sha2)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("attachments: gcs read: %w", err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (s *GCSStore) Exists(ctx context.Context, sha2 string) (bool, error) {
	obj, _, err := s.object(sha2)
	if err != nil {
		return false, err
	}
	_, err = obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("attachments: gcs attrs: %w", err)
	}
	return true, nil
}
