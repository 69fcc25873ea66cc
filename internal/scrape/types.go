// Package scrape defines the core types and interfaces for the college
// enrichment pipeline shared across subsystems.
package scrape

import "time"

// Source names reported in results and persisted history rows.
const (
	SourceAPI     = "api"
	SourceCDS     = "cds"
	SourceWebsite = "website"
)

// College identifies one institution to enrich. Immutable once loaded for a run.
type College struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country"`
	State   string `json:"state,omitempty"`
	Website string `json:"website,omitempty"`
}

// FetchResult is the outcome of one (college, source) attempt. Fetchers never
// return an error; failures are folded into Available=false plus Error text.
type FetchResult struct {
	Source    string         `json:"source"`
	FetchedAt time.Time      `json:"fetched_at"`
	Available bool           `json:"available"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// AggregateResult summarizes all source attempts for one college within a run.
// Success is true iff at least one source returned available data.
type AggregateResult struct {
	CollegeID    int64                     `json:"college_id"`
	Name         string                    `json:"name"`
	SourcesTried []string                  `json:"sources_tried"`
	Success      bool                      `json:"success"`
	Data         map[string]map[string]any `json:"data"`
	CompletedAt  time.Time                 `json:"completed_at"`
}

// ScrapeRecord is the append-only history row persisted per processed college.
type ScrapeRecord struct {
	RunID        string          `json:"run_id"`
	CollegeID    int64           `json:"college_id"`
	SourcesTried []string        `json:"sources_tried"`
	Availability map[string]bool `json:"availability"`
	Success      bool            `json:"success"`
	Payload      map[string]map[string]any
	ScrapedAt    time.Time `json:"scraped_at"`
}

// Stats accumulates per-run counters for the end-of-run summary.
type Stats struct {
	Total      int
	Succeeded  int
	Failed     int
	Skipped    int
	SourceHits map[string]int
	Duration   time.Duration
	Failures   []ItemFailure
}

// ItemFailure names one college that produced no data, with the reason.
type ItemFailure struct {
	CollegeID int64
	Name      string
	Reason    string
}
