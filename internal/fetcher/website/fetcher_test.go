package website

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/collegepulse/collegescraper/internal/breaker"
	"github.com/collegepulse/collegescraper/internal/ratelimit"
	"github.com/collegepulse/collegescraper/internal/scrape"
)

type testClock struct{}

func (testClock) Now() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

const samplePage = `<html>
<head>
  <title>Example University</title>
  <meta name="description" content="A fine institution.">
</head>
<body>
  <main><a href="/admissions/apply">Apply</a><a href="/admission/visit">Visit</a></main>
</body>
</html>`

func newWebsiteFetcher(t *testing.T, handler http.Handler, detector *HeuristicDetector) (*Fetcher, *httptest.Server, *breaker.Breaker) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	brk := breaker.New(5, time.Minute, testClock{})
	limiter := ratelimit.New(ratelimit.Config{MaxConcurrent: 2, MinInterval: time.Millisecond})
	f := New(Config{Timeout: 5 * time.Second}, nil, detector, limiter, brk, testClock{}, nil)
	return f, srv, brk
}

func TestApplicableRequiresWebsite(t *testing.T) {
	f, _, _ := newWebsiteFetcher(t, http.NotFoundHandler(), nil)
	require.True(t, f.Applicable(scrape.College{Website: "https://example.edu"}))
	require.False(t, f.Applicable(scrape.College{Website: "   "}))
	require.False(t, f.Applicable(scrape.College{}))
}

func TestFetchStaticPage(t *testing.T) {
	f, srv, _ := newWebsiteFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, samplePage)
	}), nil)

	res := f.Fetch(context.Background(), scrape.College{ID: 1, Name: "Example", Website: srv.URL})
	require.True(t, res.Available)
	require.Equal(t, "Example University", res.Data["title"])
	require.Equal(t, "A fine institution.", res.Data["description"])
	require.Equal(t, 2, res.Data["admissions_links"])
	require.Equal(t, http.StatusOK, res.Data["status_code"])
}

func TestFetchInvalidURL(t *testing.T) {
	f, _, _ := newWebsiteFetcher(t, http.NotFoundHandler(), nil)
	res := f.Fetch(context.Background(), scrape.College{ID: 1, Website: "not a url"})
	require.False(t, res.Available)
	require.Contains(t, res.Error, "invalid website url")
}

func TestFetchEmptyPageIsUnavailableNotFailure(t *testing.T) {
	f, srv, brk := newWebsiteFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html><head></head><body></body></html>")
	}), nil)

	res := f.Fetch(context.Background(), scrape.College{ID: 1, Website: srv.URL})
	require.False(t, res.Available)
	require.Contains(t, res.Error, "no usable content")
	require.Zero(t, brk.Failures("127.0.0.1"))
}

func TestFetchServerFailureTripsBreaker(t *testing.T) {
	f, srv, brk := newWebsiteFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}), nil)

	college := scrape.College{ID: 1, Website: srv.URL}
	for i := 0; i < 5; i++ {
		res := f.Fetch(context.Background(), college)
		require.False(t, res.Available)
	}
	require.Equal(t, 5, brk.Failures("127.0.0.1"))

	res := f.Fetch(context.Background(), college)
	require.Contains(t, res.Error, "circuit open")
}

func TestFetchPromotionWithoutRendererFallsBackToStaticBody(t *testing.T) {
	// The detector flags the page but no renderer is configured, so the
	// static body is parsed as-is.
	detector := NewHeuristicDetector(1<<20, nil, nil)
	f, srv, _ := newWebsiteFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, samplePage)
	}), detector)

	res := f.Fetch(context.Background(), scrape.College{ID: 1, Website: srv.URL})
	require.True(t, res.Available)
	require.Equal(t, "Example University", res.Data["title"])
}

func TestParsePage(t *testing.T) {
	data, ok := parsePage([]byte(samplePage))
	require.True(t, ok)
	require.Equal(t, "Example University", data["title"])

	_, ok = parsePage(nil)
	require.False(t, ok)

	_, ok = parsePage([]byte("<html><body><p></p></body></html>"))
	require.False(t, ok)
}
