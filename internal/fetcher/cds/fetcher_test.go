package cds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/collegepulse/collegescraper/internal/breaker"
	"github.com/collegepulse/collegescraper/internal/ratelimit"
	"github.com/collegepulse/collegescraper/internal/scrape"
)

type testClock struct{}

func (testClock) Now() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

type memCache struct {
	objects map[string][]byte
}

func newMemCache() *memCache { return &memCache{objects: make(map[string][]byte)} }

func (c *memCache) Save(_ context.Context, name string, data []byte) error {
	c.objects[name] = data
	return nil
}

func (c *memCache) Get(_ context.Context, name string) ([]byte, bool, error) {
	data, ok := c.objects[name]
	return data, ok, nil
}

func newTestFetcher(t *testing.T, cache *memCache, handler http.Handler) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	brk := breaker.New(5, time.Minute, testClock{})
	limiter := ratelimit.New(ratelimit.Config{MaxConcurrent: 2, MinInterval: time.Millisecond})
	f := New(Config{
		SearchURL: srv.URL + "/customsearch/v1",
		APIKey:    "search-key",
		EngineID:  "engine-id",
	}, cache, limiter, brk, testClock{}, nil)
	f.retry = scrape.NewRetryPolicy(1, time.Millisecond, time.Millisecond)
	return f
}

func TestApplicableRequiresCredentials(t *testing.T) {
	f := New(Config{}, nil, nil, nil, testClock{}, nil)
	require.False(t, f.Applicable(scrape.College{Name: "X"}))

	f = New(Config{APIKey: "k"}, nil, nil, nil, testClock{}, nil)
	require.False(t, f.Applicable(scrape.College{Name: "X"}))

	f = New(Config{APIKey: "k", EngineID: "e"}, nil, nil, nil, testClock{}, nil)
	require.True(t, f.Applicable(scrape.College{Name: "X"}))
}

func TestFetchSearchDownloadAndCache(t *testing.T) {
	cache := newMemCache()
	var searches, downloads atomic.Int64
	mux := http.NewServeMux()

	var docURL string
	mux.HandleFunc("/customsearch/v1", func(w http.ResponseWriter, r *http.Request) {
		searches.Add(1)
		require.Equal(t, "search-key", r.URL.Query().Get("key"))
		require.Equal(t, "engine-id", r.URL.Query().Get("cx"))
		require.Contains(t, r.URL.Query().Get("q"), "common data set")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]string{{"link": docURL, "title": "CDS 2023-2024"}},
		})
	})
	mux.HandleFunc("/cds.pdf", func(w http.ResponseWriter, _ *http.Request) {
		downloads.Add(1)
		fmt.Fprint(w, "Total applicants: 10,000 Total admitted: 2,500")
	})

	f := newTestFetcher(t, cache, mux)
	docURL = f.cfg.SearchURL[:len(f.cfg.SearchURL)-len("/customsearch/v1")] + "/cds.pdf"

	college := scrape.College{ID: 42, Name: "Test University"}
	res := f.Fetch(context.Background(), college)
	require.True(t, res.Available)
	require.Equal(t, int64(10000), res.Data["applicants_total"])
	require.Equal(t, int64(2500), res.Data["admitted_total"])
	require.InDelta(t, 0.25, res.Data["acceptance_rate"], 0.0001)
	require.Equal(t, docURL, res.Data["document_url"])
	require.Contains(t, cache.objects, "cds/42.pdf")

	// A second fetch is served entirely from the cache.
	res = f.Fetch(context.Background(), college)
	require.True(t, res.Available)
	require.Equal(t, int64(1), searches.Load())
	require.Equal(t, int64(1), downloads.Load())
}

func TestFetchNoSearchHits(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/customsearch/v1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"items": []}`))
	})

	f := newTestFetcher(t, newMemCache(), mux)
	res := f.Fetch(context.Background(), scrape.College{ID: 1, Name: "Obscure College"})
	require.False(t, res.Available)
	require.Contains(t, res.Error, "no common data set document found")
}

func TestFetchSearchFailureTripsBreaker(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/customsearch/v1", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	f := newTestFetcher(t, newMemCache(), mux)
	college := scrape.College{ID: 1, Name: "X"}
	for i := 0; i < 5; i++ {
		res := f.Fetch(context.Background(), college)
		require.False(t, res.Available)
		require.Contains(t, res.Error, "status 429")
	}

	res := f.Fetch(context.Background(), college)
	require.Contains(t, res.Error, "circuit open")
}

func TestFetchUnparseableDocumentIsUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	var docURL string
	mux.HandleFunc("/customsearch/v1", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]string{{"link": docURL}},
		})
	})
	mux.HandleFunc("/scan.pdf", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte{0x00, 0x01, 0x02, 0x03})
	})

	f := newTestFetcher(t, newMemCache(), mux)
	docURL = f.cfg.SearchURL[:len(f.cfg.SearchURL)-len("/customsearch/v1")] + "/scan.pdf"

	res := f.Fetch(context.Background(), scrape.College{ID: 1, Name: "Scanned U"})
	require.False(t, res.Available)
	require.Contains(t, res.Error, "no recognizable fields")
}
