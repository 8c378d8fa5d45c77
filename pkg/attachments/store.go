// Package attachments stores attachment bytes content-addressed by their
// declared SHA-2 digest. The storage key is SHA-256 over the hex-decoded
// digest bytes, rendered base64url without padding: fixed length, safe for
// filesystems and object stores, and distinct from the wire-visible hash.
package attachments

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no bytes exist for a digest.
var ErrNotFound = errors.New("attachments: not found")

// Store is the content-addressed blob backend. Writes are idempotent:
// storing the same digest twice leaves the first bytes in place.
type Store interface {
	// Put persists data under the declared sha2 digest and returns the
	// storage key.
	Put(ctx context.Context, sha2 string, data []byte) (string, error)
	// Get retrieves the bytes for a digest.
	Get(ctx context.Context, sha2 string) ([]byte, error)
	// Exists reports whether bytes for the digest are present.
	Exists(ctx context.Context, sha2 string) (bool, error)
}

// Key derives the storage key from a hex SHA-2 digest.
func Key(sha2 string) (string, error) {
	raw, err := hex.DecodeString(strings.ToLower(sha2))
	if err != nil {
		return "", fmt.Errorf("attachments: sha2 %q is not hex: %w", sha2, err)
	}
	sum := sha256.Sum256(raw)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// FileStore keeps blobs as flat files under a base directory.
type FileStore struct {
	baseDir string
}

func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("attachments: ensure dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(sha2 string) (string, error) {
	key, err := Key(sha2)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, key+".blob"), nil
}

func (s *FileStore) Put(_ context.Context, sha2 string, data []byte) (string, error) {
	path, err := s.path(sha2)
	if err != nil {
		return "", err
	}
	key := strings.TrimSuffix(filepath.Base(path), ".blob")
	if _, err := os.Stat(path); err == nil {
		return key, nil // write-once
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("attachments: write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("attachments: commit blob: %w", err)
	}
	return key, nil
}

func (s *FileStore) Get(_ context.Context, sha2 string) ([]byte, error) {
	path, err := s.path(sha2)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("attachments: read blob: %w", err)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, sha2 string) (bool, error) {
	path, err := s.path(sha2)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("attachments: stat blob: %w", err)
	}
	return true, nil
}
