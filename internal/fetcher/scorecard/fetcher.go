// Package scorecard implements the structured-data source: the US College
// Scorecard open-data API. It applies only to US institutions.
package scorecard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/collegepulse/collegescraper/internal/breaker"
	"github.com/collegepulse/collegescraper/internal/metrics"
	"github.com/collegepulse/collegescraper/internal/ratelimit"
	"github.com/collegepulse/collegescraper/internal/scrape"
)

const (
	// DemoAPIKey is the rate-limited key the API accepts without signup.
	// Absence of a real key degrades throughput, not functionality.
	DemoAPIKey = "DEMO_KEY"

	defaultBaseURL = "https://api.data.gov/ed/collegescorecard"
	defaultTimeout = 15 * time.Second

	requestedFields = "school.name,school.school_url,school.city,school.state," +
		"latest.admissions.admission_rate.overall,latest.admissions.sat_scores.average.overall," +
		"latest.student.size,latest.cost.tuition.in_state,latest.cost.tuition.out_of_state"
)

// Config controls the API client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Fetcher implements scrape.Fetcher against the Scorecard JSON API.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	limiter *ratelimit.Limiter
	breaker *breaker.Breaker
	retry   scrape.RetryPolicy
	clock   scrape.Clock
	logger  *zap.Logger
}

// New builds a Fetcher. Missing BaseURL, APIKey and Timeout fall back to the
// public endpoint, the demo key and 15s.
func New(cfg Config, limiter *ratelimit.Limiter, brk *breaker.Breaker, clock scrape.Clock, logger *zap.Logger) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.APIKey == "" {
		cfg.APIKey = DemoAPIKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		breaker: brk,
		retry:   scrape.NewExponentialRetryPolicy(),
		clock:   clock,
		logger:  logger,
	}
}

// Name identifies this source in results and history rows.
func (f *Fetcher) Name() string { return scrape.SourceAPI }

// Applicable restricts this source to US institutions; the API covers
// nothing else.
func (f *Fetcher) Applicable(college scrape.College) bool {
	return strings.EqualFold(college.Country, "US")
}

type apiResponse struct {
	Metadata struct {
		Total int `json:"total"`
	} `json:"metadata"`
	Results []map[string]any `json:"results"`
}

// Fetch queries the API for the college by name. HTTP 5xx and transport
// errors count as failures against the circuit; 4xx and empty result sets are
// "not available" and do not.
func (f *Fetcher) Fetch(ctx context.Context, college scrape.College) scrape.FetchResult {
	result := scrape.FetchResult{
		Source:    f.Name(),
		FetchedAt: f.clock.Now(),
	}

	host := f.host()
	if f.breaker.IsOpen(host) {
		metrics.ObserveCircuitOpen(host)
		result.Error = fmt.Sprintf("circuit open for %s", host)
		return result
	}

	err := f.limiter.Do(ctx, host, func(ctx context.Context) error {
		return scrape.WithRetry(ctx, f.retry, func(ctx context.Context) error {
			return f.query(ctx, college, &result)
		})
	})
	if err != nil {
		f.breaker.RecordFailure(host)
		result.Available = false
		result.Error = err.Error()
		f.logger.Debug("Scorecard fetch failed",
			zap.Int64("college_id", college.ID), zap.Error(err))
		return result
	}

	f.breaker.RecordSuccess(host)
	return result
}

// query performs the HTTP round trip and fills result in place. It returns an
// error only for failures that should count against the circuit.
func (f *Fetcher) query(ctx context.Context, college scrape.College, result *scrape.FetchResult) error {
	endpoint := fmt.Sprintf("%s/v1/schools", strings.TrimRight(f.cfg.BaseURL, "/"))
	params := url.Values{}
	params.Set("school.name", college.Name)
	params.Set("fields", requestedFields)
	params.Set("per_page", "1")
	params.Set("api_key", f.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build scorecard request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("scorecard request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("scorecard server error: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		// Client errors mean this college is not served, not that the API is down.
		result.Error = fmt.Sprintf("scorecard rejected request: status %d", resp.StatusCode)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read scorecard response: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("decode scorecard response: %w", err)
	}
	if len(parsed.Results) == 0 {
		result.Error = "no matching school in scorecard"
		return nil
	}

	result.Available = true
	result.Data = normalize(parsed.Results[0])
	return nil
}

// normalize maps the API's dotted field names into the payload schema shared
// with the other sources.
func normalize(raw map[string]any) map[string]any {
	data := make(map[string]any)
	mapping := map[string]string{
		"school.name":                                  "name",
		"school.school_url":                            "website",
		"school.city":                                  "city",
		"school.state":                                 "state",
		"latest.admissions.admission_rate.overall":     "acceptance_rate",
		"latest.admissions.sat_scores.average.overall": "sat_average",
		"latest.student.size":                          "enrollment",
		"latest.cost.tuition.in_state":                 "tuition_in_state",
		"latest.cost.tuition.out_of_state":             "tuition_out_of_state",
	}
	for from, to := range mapping {
		if v, ok := raw[from]; ok && v != nil {
			data[to] = v
		}
	}
	return data
}

func (f *Fetcher) host() string {
	if u, err := url.Parse(f.cfg.BaseURL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return "scorecard"
}
