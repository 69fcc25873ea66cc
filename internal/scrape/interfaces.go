package scrape

import (
	"context"
	"time"
)

// Fetcher is one independent enrichment strategy. Fetch contains all of its
// own failures: every error is converted into a FetchResult with
// Available=false and an error description, so one source can never abort the
// others.
type Fetcher interface {
	// Name identifies the source in results and history rows.
	Name() string
	// Applicable reports whether this source can serve the given college at
	// all (country restrictions, missing website, unconfigured credentials).
	Applicable(college College) bool
	Fetch(ctx context.Context, college College) FetchResult
}

// ProgressTracker records which colleges have been processed so an
// interrupted run can resume without refetching.
type ProgressTracker interface {
	IsCompleted(id int64) bool
	MarkCompleted(id int64)
	Save() error
	Reset() error
}

// HistoryStore persists one ScrapeRecord per processed college.
type HistoryStore interface {
	SaveScrape(ctx context.Context, rec ScrapeRecord) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
