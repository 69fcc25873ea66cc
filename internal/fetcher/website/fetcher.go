// Package website implements the rendered-page source: a lightweight static
// HTTP fetch of the college's own site, promoted to a headless browser when
// the static result looks JavaScript-dependent.
package website

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/collegepulse/collegescraper/internal/breaker"
	"github.com/collegepulse/collegescraper/internal/metrics"
	"github.com/collegepulse/collegescraper/internal/ratelimit"
	"github.com/collegepulse/collegescraper/internal/scrape"
)

// Config controls the website fetcher.
type Config struct {
	Timeout    time.Duration
	UserAgents []string
	// ProxyByRegion maps a country code to an outbound proxy URL. Colleges
	// in unmapped regions are fetched directly.
	ProxyByRegion map[string]string
}

// Fetcher implements scrape.Fetcher against the college's own website.
type Fetcher struct {
	cfg      Config
	static   *staticFetcher
	renderer *Renderer
	detector *HeuristicDetector
	agents   *userAgentRotator
	limiter  *ratelimit.Limiter
	breaker  *breaker.Breaker
	clock    scrape.Clock
	logger   *zap.Logger
}

// New builds a Fetcher. A nil renderer disables headless promotion; a nil
// detector promotes nothing.
func New(
	cfg Config,
	renderer *Renderer,
	detector *HeuristicDetector,
	limiter *ratelimit.Limiter,
	brk *breaker.Breaker,
	clock scrape.Clock,
	logger *zap.Logger,
) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:      cfg,
		static:   newStaticFetcher(cfg.Timeout),
		renderer: renderer,
		detector: detector,
		agents:   newUserAgentRotator(cfg.UserAgents),
		limiter:  limiter,
		breaker:  brk,
		clock:    clock,
		logger:   logger,
	}
}

// Name identifies this source in results and history rows.
func (f *Fetcher) Name() string { return scrape.SourceWebsite }

// Applicable requires a known website URL.
func (f *Fetcher) Applicable(college scrape.College) bool {
	return strings.TrimSpace(college.Website) != ""
}

// Fetch retrieves the college's site. The static path runs first; when it
// fails or the detector flags a JS-dependent page, the headless browser takes
// over. Both paths go through the per-domain limiter and circuit.
func (f *Fetcher) Fetch(ctx context.Context, college scrape.College) scrape.FetchResult {
	result := scrape.FetchResult{
		Source:    f.Name(),
		FetchedAt: f.clock.Now(),
	}

	target := college.Website
	u, err := url.Parse(target)
	if err != nil || u.Hostname() == "" {
		result.Error = fmt.Sprintf("invalid website url %q", target)
		return result
	}
	host := strings.ToLower(u.Hostname())

	if f.breaker.IsOpen(host) {
		metrics.ObserveCircuitOpen(host)
		result.Error = fmt.Sprintf("circuit open for %s", host)
		return result
	}

	userAgent := f.agents.Next()
	proxy := f.cfg.ProxyByRegion[strings.ToUpper(college.Country)]

	var (
		body   []byte
		status int
	)
	staticErr := f.limiter.Do(ctx, host, func(ctx context.Context) error {
		var err error
		body, status, err = f.static.fetch(ctx, target, userAgent, proxy)
		return err
	})

	needsRender := staticErr != nil || f.detector.NeedsJS(body)
	if needsRender && f.renderer != nil {
		renderErr := f.limiter.Do(ctx, host, func(ctx context.Context) error {
			html, err := f.renderer.Render(ctx, target, userAgent)
			if err != nil {
				return err
			}
			body = []byte(html)
			status = 0
			return nil
		})
		if renderErr != nil {
			f.breaker.RecordFailure(host)
			result.Error = renderErr.Error()
			return result
		}
	} else if staticErr != nil {
		f.breaker.RecordFailure(host)
		result.Error = staticErr.Error()
		return result
	}

	data, ok := parsePage(body)
	if !ok {
		// The site answered but gave us nothing to extract. Not a server
		// failure, so the circuit stays closed.
		f.breaker.RecordSuccess(host)
		result.Error = "page yielded no usable content"
		return result
	}
	if status > 0 {
		data["status_code"] = status
	}

	f.breaker.RecordSuccess(host)
	result.Available = true
	result.Data = data
	return result
}

// parsePage extracts the basic page signals the enrichment record keeps.
func parsePage(body []byte) (map[string]any, bool) {
	if len(body) == 0 {
		return nil, false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, false
	}

	data := make(map[string]any)
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		data["title"] = title
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		if desc = strings.TrimSpace(desc); desc != "" {
			data["description"] = desc
		}
	}
	admissionsLinks := doc.Find(`a[href*="admission"]`).Length()
	if admissionsLinks > 0 {
		data["admissions_links"] = admissionsLinks
	}

	if len(data) == 0 {
		return nil, false
	}
	return data, true
}
