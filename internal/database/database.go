// Package database defines the interfaces for loading the work list and
// persisting scrape history. The interface decouples the pipeline from a
// specific backend, so tests and dry runs can use mocks.
package database

import (
	"context"

	"github.com/collegepulse/collegescraper/internal/scrape"
)

// Provider defines the common interface for the relational database layer.
type Provider interface {
	// ListColleges loads the full work list, ordered by id.
	ListColleges(ctx context.Context) ([]scrape.College, error)

	// SaveScrape appends one history row recording a run's outcome for a
	// college and returns the new row id.
	SaveScrape(ctx context.Context, rec scrape.ScrapeRecord) (string, error)

	// Close terminates the database connection and releases any resources.
	Close()
}

// NoOpProvider serves dry runs without a database: it returns a small fixed
// work list and discards history writes.
type NoOpProvider struct{}

// ListColleges returns a built-in sample list for dry runs.
func (n *NoOpProvider) ListColleges(_ context.Context) ([]scrape.College, error) {
	return []scrape.College{
		{ID: 1, Name: "Stanford University", Country: "US", State: "CA", Website: "https://www.stanford.edu"},
		{ID: 2, Name: "Massachusetts Institute of Technology", Country: "US", State: "MA", Website: "https://www.mit.edu"},
		{ID: 3, Name: "University of Toronto", Country: "CA", Website: "https://www.utoronto.ca"},
		{ID: 4, Name: "University of Oxford", Country: "GB", Website: "https://www.ox.ac.uk"},
		{ID: 5, Name: "Purdue University", Country: "US", State: "IN", Website: "https://www.purdue.edu"},
	}, nil
}

// SaveScrape for NoOpProvider discards the record and returns a dummy id.
func (n *NoOpProvider) SaveScrape(_ context.Context, _ scrape.ScrapeRecord) (string, error) {
	return "noop-scrape-id", nil
}

// Close for NoOpProvider does nothing.
func (n *NoOpProvider) Close() {}
