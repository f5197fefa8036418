//go:build gcp

package export

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/storage"
)

// GCSStore ships bundles to a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates a GCS-backed bundle store using application default
// credentials.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Put implements ObjectStore.
func (s *GCSStore) Put(ctx context.Context, key string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs put %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs put %s: %w", key, err)
	}
	return nil
}

func newGCSStoreFromEnv(ctx context.Context) (ObjectStore, error) {
	bucket := os.Getenv("EXPORT_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("EXPORT_GCS_BUCKET is required for GCS export storage")
	}
	return NewGCSStore(ctx, bucket)
}
