package scrape

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/collegepulse/collegescraper/internal/metrics"
)

const (
	defaultBatchSize   = 50
	defaultConcurrency = 5
)

// OrchestratorConfig controls batching and dispatch behavior for one run.
type OrchestratorConfig struct {
	BatchSize   int
	Concurrency int
	// FreshStart clears all progress records before processing.
	FreshStart bool
	// Verbose logs every processed college, not just failures.
	Verbose bool
}

// Orchestrator drives a full enrichment run: it batches the work list,
// dispatches colleges through a bounded worker pool, fans each college out
// across all applicable sources, persists results and progress, and
// accumulates the end-of-run statistics.
type Orchestrator struct {
	fetchers []Fetcher
	progress ProgressTracker
	history  HistoryStore
	clock    Clock
	logger   *zap.Logger
	cfg      OrchestratorConfig
	runID    string

	mu    sync.Mutex
	stats Stats
}

// NewOrchestrator constructs an Orchestrator. runID tags every history row
// written by this run.
func NewOrchestrator(
	fetchers []Fetcher,
	progress ProgressTracker,
	history HistoryStore,
	clock Clock,
	cfg OrchestratorConfig,
	runID string,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		fetchers: fetchers,
		progress: progress,
		history:  history,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
		runID:    runID,
		stats:    Stats{SourceHits: make(map[string]int)},
	}
}

// Run processes the whole work list. A canceled context stops dispatching
// after the in-flight colleges finish; progress is saved so the next run
// resumes. Run fails only for setup problems, never for per-college errors.
func (o *Orchestrator) Run(ctx context.Context, colleges []College) (Stats, error) {
	start := o.clock.Now()

	if o.cfg.FreshStart {
		if err := o.progress.Reset(); err != nil {
			return o.snapshot(), fmt.Errorf("reset progress: %w", err)
		}
		o.logger.Info("Progress cleared, starting fresh")
	}

	o.mu.Lock()
	o.stats.Total = len(colleges)
	o.mu.Unlock()

	batches := batchColleges(colleges, o.cfg.BatchSize)
	o.logger.Info("Starting run",
		zap.String("run_id", o.runID),
		zap.Int("colleges", len(colleges)),
		zap.Int("batches", len(batches)),
		zap.Int("concurrency", o.cfg.Concurrency),
	)

	for i, batch := range batches {
		if ctx.Err() != nil {
			o.logger.Warn("Run interrupted, saving progress",
				zap.Int("batches_done", i), zap.Error(ctx.Err()))
			break
		}
		o.runBatch(ctx, batch)
		metrics.ObserveBatch()

		if err := o.progress.Save(); err != nil {
			o.logger.Error("Failed to save progress after batch",
				zap.Int("batch", i+1), zap.Error(err))
		}
	}

	o.mu.Lock()
	o.stats.Duration = o.clock.Now().Sub(start)
	o.mu.Unlock()
	metrics.ObserveRunDuration(o.stats.Duration)

	return o.snapshot(), nil
}

// runBatch pushes one batch through a bounded pool of workers.
func (o *Orchestrator) runBatch(ctx context.Context, batch []College) {
	jobs := make(chan College)
	var wg sync.WaitGroup

	for range o.cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for college := range jobs {
				metrics.IncActiveWorkers()
				o.processCollege(ctx, college)
				metrics.DecActiveWorkers()
			}
		}()
	}

	for _, college := range batch {
		select {
		case jobs <- college:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		}
	}
	close(jobs)
	wg.Wait()
}

// processCollege runs all applicable sources for one college, merges the
// results, persists them and marks the college completed. A panic anywhere in
// the item is contained here: the item is counted failed and still marked
// completed so a poison college cannot wedge every subsequent run.
func (o *Orchestrator) processCollege(ctx context.Context, college College) {
	if o.progress.IsCompleted(college.ID) {
		o.mu.Lock()
		o.stats.Skipped++
		o.mu.Unlock()
		metrics.ObserveItem("skipped")
		if o.cfg.Verbose {
			o.logger.Info("Skipping completed college",
				zap.Int64("id", college.ID), zap.String("name", college.Name))
		}
		return
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("College processing panicked",
				zap.Int64("id", college.ID),
				zap.String("name", college.Name),
				zap.Any("panic", r),
			)
			o.recordFailure(college, fmt.Sprintf("panic: %v", r))
			o.progress.MarkCompleted(college.ID)
		}
	}()

	agg, results := o.fetchAll(ctx, college)

	if err := o.persist(ctx, college, agg); err != nil {
		o.logger.Error("Failed to persist scrape record",
			zap.Int64("id", college.ID), zap.Error(err))
	}

	o.mu.Lock()
	if agg.Success {
		o.stats.Succeeded++
		for source, data := range agg.Data {
			if len(data) > 0 {
				o.stats.SourceHits[source]++
			}
		}
	} else {
		o.stats.Failed++
		o.stats.Failures = append(o.stats.Failures, ItemFailure{
			CollegeID: college.ID,
			Name:      college.Name,
			Reason:    failureReason(results),
		})
	}
	o.mu.Unlock()

	if agg.Success {
		metrics.ObserveItem("succeeded")
	} else {
		metrics.ObserveItem("failed")
	}

	// Completed regardless of outcome: a college with no data today is not
	// retried until its record expires.
	o.progress.MarkCompleted(college.ID)

	if o.cfg.Verbose {
		o.logger.Info("Processed college",
			zap.Int64("id", college.ID),
			zap.String("name", college.Name),
			zap.Bool("success", agg.Success),
			zap.Strings("sources", agg.SourcesTried),
		)
	}
}

// fetchAll invokes every applicable source concurrently and merges the
// results. Each source is isolated: an error or panic in one never prevents
// the others from completing.
func (o *Orchestrator) fetchAll(ctx context.Context, college College) (AggregateResult, []FetchResult) {
	applicable := make([]Fetcher, 0, len(o.fetchers))
	for _, f := range o.fetchers {
		if f.Applicable(college) {
			applicable = append(applicable, f)
		}
	}

	results := make([]FetchResult, len(applicable))
	var wg sync.WaitGroup
	for i, f := range applicable {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = FetchResult{
						Source:    f.Name(),
						FetchedAt: o.clock.Now(),
						Error:     fmt.Sprintf("panic: %v", r),
					}
				}
			}()
			results[i] = f.Fetch(ctx, college)
			metrics.ObserveSourceResult(f.Name(), results[i].Available)
		}()
	}
	wg.Wait()

	agg := AggregateResult{
		CollegeID:   college.ID,
		Name:        college.Name,
		Data:        make(map[string]map[string]any),
		CompletedAt: o.clock.Now(),
	}
	for _, res := range results {
		agg.SourcesTried = append(agg.SourcesTried, res.Source)
		if res.Available {
			agg.Success = true
			agg.Data[res.Source] = res.Data
		}
	}
	return agg, results
}

func (o *Orchestrator) persist(ctx context.Context, college College, agg AggregateResult) error {
	availability := make(map[string]bool, len(agg.SourcesTried))
	for _, source := range agg.SourcesTried {
		_, ok := agg.Data[source]
		availability[source] = ok
	}
	_, err := o.history.SaveScrape(ctx, ScrapeRecord{
		RunID:        o.runID,
		CollegeID:    college.ID,
		SourcesTried: agg.SourcesTried,
		Availability: availability,
		Success:      agg.Success,
		Payload:      agg.Data,
		ScrapedAt:    agg.CompletedAt,
	})
	return err
}

func (o *Orchestrator) recordFailure(college College, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats.Failed++
	o.stats.Failures = append(o.stats.Failures, ItemFailure{
		CollegeID: college.ID,
		Name:      college.Name,
		Reason:    reason,
	})
}

func (o *Orchestrator) snapshot() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.stats
	out.SourceHits = make(map[string]int, len(o.stats.SourceHits))
	for k, v := range o.stats.SourceHits {
		out.SourceHits[k] = v
	}
	out.Failures = append([]ItemFailure(nil), o.stats.Failures...)
	return out
}

func failureReason(results []FetchResult) string {
	if len(results) == 0 {
		return "no applicable sources"
	}
	for _, res := range results {
		if res.Error != "" {
			return fmt.Sprintf("%s: %s", res.Source, res.Error)
		}
	}
	return "no source returned data"
}

func batchColleges(colleges []College, size int) [][]College {
	if len(colleges) == 0 {
		return nil
	}
	batches := make([][]College, 0, (len(colleges)+size-1)/size)
	for start := 0; start < len(colleges); start += size {
		end := min(start+size, len(colleges))
		batches = append(batches, colleges[start:end])
	}
	return batches
}
