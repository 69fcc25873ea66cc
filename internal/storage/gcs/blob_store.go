// Package gcs implements the document cache on Google Cloud Storage, for
// sharing one cache across machines.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// BlobStore implements the storage.Provider interface for Google Cloud Storage.
type BlobStore struct {
	client     *storage.Client
	bucketName string
	logger     *zap.Logger
}

// New initializes a GCS client and verifies bucket access up front, so a
// misconfigured bucket fails at startup rather than mid-run.
// Authentication is handled via Google's Application Default Credentials.
func New(ctx context.Context, bucketName string, logger *zap.Logger) (*BlobStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	bkt := client.Bucket(bucketName)
	if _, err := bkt.Attrs(ctx); err != nil {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("Failed to close GCS client after bucket check failure", zap.Error(cerr))
		}
		return nil, fmt.Errorf("failed to get GCS bucket %q attributes: %w", bucketName, err)
	}

	return &BlobStore{
		client:     client,
		bucketName: bucketName,
		logger:     logger,
	}, nil
}

// Save uploads the given data to an object in the bucket.
func (s *BlobStore) Save(ctx context.Context, objectName string, data []byte) error {
	wc := s.client.Bucket(s.bucketName).Object(objectName).NewWriter(ctx)
	if _, err := wc.Write(data); err != nil {
		if cerr := wc.Close(); cerr != nil {
			s.logger.Warn("Failed to close GCS writer after write failure", zap.Error(cerr))
		}
		return fmt.Errorf("failed to write data to GCS object %s: %w", objectName, err)
	}
	// Close finalizes the upload and flushes buffered data.
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for object %s: %w", objectName, err)
	}
	return nil
}

// Get downloads an object from the bucket. A missing object is a miss, not
// an error.
func (s *BlobStore) Get(ctx context.Context, objectName string) ([]byte, bool, error) {
	rc, err := s.client.Bucket(s.bucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to open GCS object %s: %w", objectName, err)
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			s.logger.Warn("Failed to close GCS reader", zap.Error(cerr))
		}
	}()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read GCS object %s: %w", objectName, err)
	}
	return data, true, nil
}

// Close releases the underlying GCS client.
func (s *BlobStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close GCS client: %w", err)
	}
	return nil
}
