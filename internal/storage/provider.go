// Package storage defines the interfaces for the document cache backend.
// This abstraction keeps the pipeline independent of a specific store
// (local filesystem for normal runs, Google Cloud Storage for shared caches).
package storage

import (
	"context"
)

// Provider defines the common interface for a blob cache backend.
type Provider interface {
	// Save uploads data to a specified object path/key in the cache.
	Save(ctx context.Context, objectName string, data []byte) error

	// Get retrieves a cached object. The boolean reports whether the object
	// exists; a miss is not an error.
	Get(ctx context.Context, objectName string) ([]byte, bool, error)
}

// NoOpProvider is a cache backend that stores nothing and never hits.
// It is useful for tests or runs where caching is disabled.
type NoOpProvider struct{}

// Save for NoOpProvider discards the data.
func (n *NoOpProvider) Save(_ context.Context, _ string, _ []byte) error {
	return nil
}

// Get for NoOpProvider always misses.
func (n *NoOpProvider) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}
