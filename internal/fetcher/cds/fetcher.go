// Package cds implements the document source: it locates an institution's
// Common Data Set PDF through a web-search API, downloads it through a
// per-college on-disk cache, and extracts admissions figures from the text.
package cds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/collegepulse/collegescraper/internal/breaker"
	"github.com/collegepulse/collegescraper/internal/metrics"
	"github.com/collegepulse/collegescraper/internal/ratelimit"
	"github.com/collegepulse/collegescraper/internal/scrape"
	"github.com/collegepulse/collegescraper/internal/storage"
)

const (
	defaultSearchURL   = "https://www.googleapis.com/customsearch/v1"
	defaultTimeout     = 30 * time.Second
	maxDocumentBytes   = 16 << 20
	cacheObjectPattern = "cds/%d.pdf"
)

// Config controls the search step and document download.
type Config struct {
	SearchURL string
	// APIKey and EngineID are the search-API credentials. The source reports
	// itself inapplicable when either is missing.
	APIKey   string
	EngineID string
	Timeout  time.Duration
}

// Fetcher implements scrape.Fetcher for Common Data Set documents.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	cache   storage.Provider
	limiter *ratelimit.Limiter
	breaker *breaker.Breaker
	retry   scrape.RetryPolicy
	clock   scrape.Clock
	logger  *zap.Logger
}

// New builds a Fetcher backed by the given document cache.
func New(
	cfg Config,
	cache storage.Provider,
	limiter *ratelimit.Limiter,
	brk *breaker.Breaker,
	clock scrape.Clock,
	logger *zap.Logger,
) *Fetcher {
	if cfg.SearchURL == "" {
		cfg.SearchURL = defaultSearchURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cache == nil {
		cache = &storage.NoOpProvider{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		cache:   cache,
		limiter: limiter,
		breaker: brk,
		retry:   scrape.NewExponentialRetryPolicy(),
		clock:   clock,
		logger:  logger,
	}
}

// Name identifies this source in results and history rows.
func (f *Fetcher) Name() string { return scrape.SourceCDS }

// Applicable requires search credentials; without them the search step cannot
// run and the source is skipped entirely.
func (f *Fetcher) Applicable(_ scrape.College) bool {
	return f.cfg.APIKey != "" && f.cfg.EngineID != ""
}

// Fetch resolves, downloads and parses the college's CDS document. A cache
// hit skips the network entirely, including the search step.
func (f *Fetcher) Fetch(ctx context.Context, college scrape.College) scrape.FetchResult {
	result := scrape.FetchResult{
		Source:    f.Name(),
		FetchedAt: f.clock.Now(),
	}

	cacheKey := fmt.Sprintf(cacheObjectPattern, college.ID)
	if data, ok, err := f.cache.Get(ctx, cacheKey); err == nil && ok {
		metrics.ObserveDocumentCacheHit()
		f.parseInto(data, &result)
		return result
	} else if err != nil {
		f.logger.Warn("Document cache read failed, refetching",
			zap.Int64("college_id", college.ID), zap.Error(err))
	}

	docURL, found, err := f.search(ctx, college)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if !found {
		result.Error = "no common data set document found"
		return result
	}

	data, err := f.download(ctx, docURL)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	if err := f.cache.Save(ctx, cacheKey, data); err != nil {
		// A failed cache write costs a refetch next run, nothing else.
		f.logger.Warn("Document cache write failed",
			zap.Int64("college_id", college.ID), zap.Error(err))
	}

	f.parseInto(data, &result)
	result.Data["document_url"] = docURL
	return result
}

type searchResponse struct {
	Items []struct {
		Link  string `json:"link"`
		Title string `json:"title"`
	} `json:"items"`
}

// search asks the search API for the institution's CDS PDF and returns the
// first hit.
func (f *Fetcher) search(ctx context.Context, college scrape.College) (string, bool, error) {
	host := hostOf(f.cfg.SearchURL, "search")
	if f.breaker.IsOpen(host) {
		metrics.ObserveCircuitOpen(host)
		return "", false, fmt.Errorf("circuit open for %s", host)
	}

	params := url.Values{}
	params.Set("key", f.cfg.APIKey)
	params.Set("cx", f.cfg.EngineID)
	params.Set("q", fmt.Sprintf("%q common data set filetype:pdf", college.Name))
	params.Set("num", "3")

	var parsed searchResponse
	err := f.limiter.Do(ctx, host, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.SearchURL+"?"+params.Encode(), nil)
		if err != nil {
			return fmt.Errorf("build search request: %w", err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("search request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("search failed: status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("decode search response: %w", err)
		}
		return nil
	})
	if err != nil {
		f.breaker.RecordFailure(host)
		return "", false, err
	}
	f.breaker.RecordSuccess(host)

	if len(parsed.Items) == 0 {
		return "", false, nil
	}
	return parsed.Items[0].Link, true, nil
}

// download fetches the document from its host, gated by that host's own
// limiter and circuit.
func (f *Fetcher) download(ctx context.Context, docURL string) ([]byte, error) {
	host := hostOf(docURL, "document")
	if f.breaker.IsOpen(host) {
		metrics.ObserveCircuitOpen(host)
		return nil, fmt.Errorf("circuit open for %s", host)
	}

	var data []byte
	err := f.limiter.Do(ctx, host, func(ctx context.Context) error {
		return scrape.WithRetry(ctx, f.retry, func(ctx context.Context) error {
			return f.downloadOnce(ctx, docURL, &data)
		})
	})
	if err != nil {
		f.breaker.RecordFailure(host)
		return nil, err
	}
	f.breaker.RecordSuccess(host)
	return data, nil
}

func (f *Fetcher) downloadOnce(ctx context.Context, docURL string, data *[]byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return fmt.Errorf("build document request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("document request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("document download failed: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	*data = body
	return nil
}

// parseInto extracts whatever fields the document yields. A document that
// parses to nothing is "not available", not an error.
func (f *Fetcher) parseInto(data []byte, result *scrape.FetchResult) {
	fields := extractFields(data)
	if len(fields) == 0 {
		result.Data = map[string]any{}
		result.Error = "document yielded no recognizable fields"
		return
	}
	result.Available = true
	result.Data = fields
}

func hostOf(rawURL, fallback string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return fallback
}
