package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ObjectStore is where exported bundles land.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
}

// StoreType selects the export storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromEnv creates a bundle store from environment variables.
//
// Environment variables:
//   - EXPORT_STORAGE_TYPE: "fs" (default), "s3", or "gcs"
//   - EXPORT_DIR: Base directory for the filesystem store (default: "exports")
//
// For S3:
//   - EXPORT_S3_BUCKET (required)
//   - EXPORT_S3_REGION or AWS_REGION
//   - EXPORT_S3_ENDPOINT (optional, for MinIO/LocalStack)
//
// For GCS (requires -tags gcp):
//   - EXPORT_GCS_BUCKET (required)
func NewStoreFromEnv(ctx context.Context) (ObjectStore, error) {
	storeType := StoreType(os.Getenv("EXPORT_STORAGE_TYPE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		dir := os.Getenv("EXPORT_DIR")
		if dir == "" {
			dir = "exports"
		}
		return NewFileStore(dir)
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported export storage type: %s", storeType)
	}
}

// FileStore writes bundles under a base directory. The development and
// single-node default.
type FileStore struct {
	dir string
}

// NewFileStore creates the base directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Put implements ObjectStore.
func (s *FileStore) Put(_ context.Context, key string, data []byte) error {
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("export put %s: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("export put %s: %w", key, err)
	}
	return nil
}
