package scrape

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubClock struct{}

func (stubClock) Now() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

type fakeFetcher struct {
	name       string
	applicable func(College) bool
	fetch      func(context.Context, College) FetchResult
}

func (f *fakeFetcher) Name() string { return f.name }

func (f *fakeFetcher) Applicable(c College) bool {
	if f.applicable == nil {
		return true
	}
	return f.applicable(c)
}

func (f *fakeFetcher) Fetch(ctx context.Context, c College) FetchResult {
	return f.fetch(ctx, c)
}

func availableFetcher(name string, data map[string]any) *fakeFetcher {
	return &fakeFetcher{
		name: name,
		fetch: func(context.Context, College) FetchResult {
			return FetchResult{Source: name, Available: true, Data: data}
		},
	}
}

func unavailableFetcher(name string) *fakeFetcher {
	return &fakeFetcher{
		name: name,
		fetch: func(context.Context, College) FetchResult {
			return FetchResult{Source: name, Available: false}
		},
	}
}

func erroringFetcher(name, msg string) *fakeFetcher {
	return &fakeFetcher{
		name: name,
		fetch: func(context.Context, College) FetchResult {
			return FetchResult{Source: name, Available: false, Error: msg}
		},
	}
}

func panickingFetcher(name string) *fakeFetcher {
	return &fakeFetcher{
		name: name,
		fetch: func(context.Context, College) FetchResult {
			panic("poison source")
		},
	}
}

type memProgress struct {
	mu        sync.Mutex
	completed map[int64]bool
	saves     int
	resets    int
}

func newMemProgress() *memProgress {
	return &memProgress{completed: make(map[int64]bool)}
}

func (p *memProgress) IsCompleted(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed[id]
}

func (p *memProgress) MarkCompleted(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed[id] = true
}

func (p *memProgress) Save() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	return nil
}

func (p *memProgress) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = make(map[int64]bool)
	p.resets++
	return nil
}

type memHistory struct {
	mu   sync.Mutex
	recs []ScrapeRecord
}

func (h *memHistory) SaveScrape(_ context.Context, rec ScrapeRecord) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recs = append(h.recs, rec)
	return "test-id", nil
}

func (h *memHistory) records() []ScrapeRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ScrapeRecord(nil), h.recs...)
}

func colleges(n int) []College {
	out := make([]College, n)
	for i := range out {
		out[i] = College{ID: int64(i + 1), Name: "College", Country: "US"}
	}
	return out
}

func newTestOrchestrator(fetchers []Fetcher, progress ProgressTracker, history HistoryStore, cfg OrchestratorConfig) *Orchestrator {
	return NewOrchestrator(fetchers, progress, history, stubClock{}, cfg, "run-1", nil)
}

func TestRunMergesResultsAcrossSources(t *testing.T) {
	progress := newMemProgress()
	history := &memHistory{}
	o := newTestOrchestrator([]Fetcher{
		availableFetcher(SourceAPI, map[string]any{"enrollment": 1000}),
		unavailableFetcher(SourceWebsite),
	}, progress, history, OrchestratorConfig{})

	stats, err := o.Run(context.Background(), colleges(1))
	require.NoError(t, err)
	require.Equal(t, 1, stats.Succeeded)
	require.Zero(t, stats.Failed)
	require.Equal(t, 1, stats.SourceHits[SourceAPI])
	require.Zero(t, stats.SourceHits[SourceWebsite])

	recs := history.records()
	require.Len(t, recs, 1)
	require.True(t, recs[0].Success)
	require.ElementsMatch(t, []string{SourceAPI, SourceWebsite}, recs[0].SourcesTried)
	require.True(t, recs[0].Availability[SourceAPI])
	require.False(t, recs[0].Availability[SourceWebsite])
	require.Equal(t, "run-1", recs[0].RunID)
}

func TestRunCountsFailuresAndMarksThemCompleted(t *testing.T) {
	progress := newMemProgress()
	o := newTestOrchestrator([]Fetcher{
		erroringFetcher(SourceWebsite, "connection refused"),
	}, progress, &memHistory{}, OrchestratorConfig{})

	stats, err := o.Run(context.Background(), colleges(3))
	require.NoError(t, err)
	require.Equal(t, 3, stats.Failed)
	require.Len(t, stats.Failures, 3)
	require.Contains(t, stats.Failures[0].Reason, "connection refused")

	for id := int64(1); id <= 3; id++ {
		require.True(t, progress.IsCompleted(id), "failed colleges are still marked done")
	}
}

func TestRunIsolatesPanickingSource(t *testing.T) {
	o := newTestOrchestrator([]Fetcher{
		panickingFetcher(SourceCDS),
		availableFetcher(SourceAPI, map[string]any{"sat_average": 1400}),
	}, newMemProgress(), &memHistory{}, OrchestratorConfig{})

	stats, err := o.Run(context.Background(), colleges(1))
	require.NoError(t, err)
	require.Equal(t, 1, stats.Succeeded, "a healthy source still wins when another panics")
}

func TestRunSkipsCompletedColleges(t *testing.T) {
	progress := newMemProgress()
	progress.MarkCompleted(1)
	progress.MarkCompleted(2)

	o := newTestOrchestrator([]Fetcher{
		availableFetcher(SourceAPI, map[string]any{"x": 1}),
	}, progress, &memHistory{}, OrchestratorConfig{})

	stats, err := o.Run(context.Background(), colleges(3))
	require.NoError(t, err)
	require.Equal(t, 2, stats.Skipped)
	require.Equal(t, 1, stats.Succeeded)
}

func TestRunSecondPassProcessesNothing(t *testing.T) {
	progress := newMemProgress()
	history := &memHistory{}
	make2 := func() *Orchestrator {
		return newTestOrchestrator([]Fetcher{
			availableFetcher(SourceAPI, map[string]any{"x": 1}),
		}, progress, history, OrchestratorConfig{})
	}

	_, err := make2().Run(context.Background(), colleges(4))
	require.NoError(t, err)

	stats, err := make2().Run(context.Background(), colleges(4))
	require.NoError(t, err)
	require.Equal(t, 4, stats.Skipped)
	require.Zero(t, stats.Succeeded)
	require.Len(t, history.records(), 4, "no extra history rows on the rerun")
}

func TestRunFreshStartResetsProgress(t *testing.T) {
	progress := newMemProgress()
	progress.MarkCompleted(1)

	o := newTestOrchestrator([]Fetcher{
		availableFetcher(SourceAPI, map[string]any{"x": 1}),
	}, progress, &memHistory{}, OrchestratorConfig{FreshStart: true})

	stats, err := o.Run(context.Background(), colleges(1))
	require.NoError(t, err)
	require.Equal(t, 1, progress.resets)
	require.Zero(t, stats.Skipped)
	require.Equal(t, 1, stats.Succeeded)
}

func TestRunSavesProgressPerBatch(t *testing.T) {
	progress := newMemProgress()
	o := newTestOrchestrator([]Fetcher{
		availableFetcher(SourceAPI, map[string]any{"x": 1}),
	}, progress, &memHistory{}, OrchestratorConfig{BatchSize: 2})

	_, err := o.Run(context.Background(), colleges(5))
	require.NoError(t, err)
	require.Equal(t, 3, progress.saves)
}

func TestRunStopsDispatchingWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var processed int
	var mu sync.Mutex

	progress := newMemProgress()
	o := newTestOrchestrator([]Fetcher{
		&fakeFetcher{
			name: SourceAPI,
			fetch: func(context.Context, College) FetchResult {
				mu.Lock()
				processed++
				mu.Unlock()
				cancel()
				return FetchResult{Source: SourceAPI, Available: true, Data: map[string]any{"x": 1}}
			},
		},
	}, progress, &memHistory{}, OrchestratorConfig{BatchSize: 1, Concurrency: 1})

	stats, err := o.Run(ctx, colleges(10))
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	require.Less(t, processed, 10, "remaining batches are abandoned after cancel")
	require.Positive(t, progress.saves, "progress persists before shutdown")
	require.Equal(t, 10, stats.Total)
}

func TestRunCollegeWithNoApplicableSourcesFails(t *testing.T) {
	o := newTestOrchestrator([]Fetcher{
		&fakeFetcher{
			name:       SourceWebsite,
			applicable: func(c College) bool { return c.Website != "" },
			fetch: func(context.Context, College) FetchResult {
				return FetchResult{Source: SourceWebsite, Available: true}
			},
		},
	}, newMemProgress(), &memHistory{}, OrchestratorConfig{})

	stats, err := o.Run(context.Background(), []College{{ID: 1, Name: "No Website U", Country: "US"}})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)
	require.Equal(t, "no applicable sources", stats.Failures[0].Reason)
}

func TestBatchColleges(t *testing.T) {
	require.Nil(t, batchColleges(nil, 50))

	batches := batchColleges(colleges(5), 2)
	require.Len(t, batches, 3)
	require.Len(t, batches[0], 2)
	require.Len(t, batches[2], 1)
}
