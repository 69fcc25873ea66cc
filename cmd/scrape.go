package cmd

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/collegepulse/collegescraper/internal/api"
	"github.com/collegepulse/collegescraper/internal/app"
	"github.com/collegepulse/collegescraper/internal/breaker"
	"github.com/collegepulse/collegescraper/internal/config"
	"github.com/collegepulse/collegescraper/internal/fetcher/cds"
	"github.com/collegepulse/collegescraper/internal/fetcher/scorecard"
	"github.com/collegepulse/collegescraper/internal/fetcher/website"
	"github.com/collegepulse/collegescraper/internal/metrics"
	"github.com/collegepulse/collegescraper/internal/ratelimit"
	"github.com/collegepulse/collegescraper/internal/scrape"
)

type scrapeFlags struct {
	fresh   bool
	reset   bool
	force   bool
	api     bool
	verbose bool
}

// newScrapeCmd creates and configures the 'scrape' subcommand, which runs the
// full enrichment pipeline over the college work list.
func newScrapeCmd() *cobra.Command {
	flags := &scrapeFlags{}
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Runs the enrichment pipeline over all colleges",
		Long: `Loads the college work list, fetches data for each college from all
applicable sources in rate-limited batches, persists the results, and
records progress so a rerun only processes what is left.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrape(cmd, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.fresh, "fresh", false, "clear progress and restart from scratch")
	cmd.Flags().BoolVar(&flags.reset, "reset", false, "alias for --fresh")
	cmd.Flags().BoolVar(&flags.force, "force", false, "alias for --fresh")
	cmd.Flags().BoolVar(&flags.api, "api", false, "enable live structured-API fetching")
	cmd.Flags().BoolVar(&flags.verbose, "verbose", false, "log every processed college")

	return cmd
}

func runScrape(cmd *cobra.Command, flags *scrapeFlags) error {
	ctx := cmd.Context()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	metrics.Init()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer application.Close()
	logger := application.Logger

	limiter := ratelimit.New(ratelimit.Config{
		MaxConcurrent: cfg.Pipeline.PerDomainMax,
		MinInterval:   cfg.DomainDelay(),
	})
	brk := breaker.New(cfg.Pipeline.BreakerFailures, cfg.BreakerWindow(), application.Clock)

	fetchers, renderer := buildFetchers(cfg, flags, application, limiter, brk)
	if renderer != nil {
		defer renderer.Close()
	}

	if cfg.Status.Enabled {
		server := api.NewServer(application.Progress, logger)
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Status.Port)
			logger.Info("Starting status server", zap.String("addr", addr))
			if err := server.Serve(addr); err != nil {
				logger.Error("Status server failed", zap.Error(err))
			}
		}()
	}

	colleges, err := application.Database.ListColleges(ctx)
	if err != nil {
		return fmt.Errorf("load work list: %w", err)
	}

	runID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}

	orch := scrape.NewOrchestrator(
		fetchers,
		application.Progress,
		application.Database,
		application.Clock,
		scrape.OrchestratorConfig{
			BatchSize:   cfg.Pipeline.BatchSize,
			Concurrency: cfg.Pipeline.Concurrency,
			FreshStart:  flags.fresh || flags.reset || flags.force,
			Verbose:     flags.verbose,
		},
		runID.String(),
		logger,
	)

	stats, err := orch.Run(ctx, colleges)
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}

	printSummary(cmd.OutOrStdout(), stats)
	return nil
}

func buildFetchers(
	cfg config.Config,
	flags *scrapeFlags,
	application *app.App,
	limiter *ratelimit.Limiter,
	brk *breaker.Breaker,
) ([]scrape.Fetcher, *website.Renderer) {
	var fetchers []scrape.Fetcher

	if flags.api {
		fetchers = append(fetchers, scorecard.New(scorecard.Config{
			BaseURL: cfg.Sources.ScorecardBaseURL,
			APIKey:  cfg.Sources.ScorecardAPIKey,
			Timeout: cfg.SourceTimeout(),
		}, limiter, brk, application.Clock, application.Logger))
	} else {
		application.Logger.Info("Structured-API fetching disabled; pass --api to enable")
	}

	fetchers = append(fetchers, cds.New(cds.Config{
		SearchURL: cfg.Sources.SearchURL,
		APIKey:    cfg.Sources.SearchAPIKey,
		EngineID:  cfg.Sources.SearchEngineID,
		Timeout:   cfg.SourceTimeout(),
	}, application.Cache, limiter, brk, application.Clock, application.Logger))

	var renderer *website.Renderer
	if cfg.Headless.Enabled {
		renderer = website.NewRenderer(website.RendererConfig{
			MaxParallel:       cfg.Headless.MaxParallel,
			NavigationTimeout: cfg.NavTimeout(),
		})
	}
	detector := website.NewHeuristicDetector(
		cfg.Headless.MinHTMLBytes,
		cfg.Headless.DetectSelectors,
		cfg.Headless.DetectKeywords,
	)
	fetchers = append(fetchers, website.New(website.Config{
		Timeout:       cfg.WebsiteTimeout(),
		UserAgents:    cfg.Website.UserAgents,
		ProxyByRegion: cfg.RegionProxies(),
	}, renderer, detector, limiter, brk, application.Clock, application.Logger))

	return fetchers, renderer
}

func printSummary(out io.Writer, stats scrape.Stats) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nScrape summary")
	fmt.Fprintf(w, "total\t%d\n", stats.Total)
	fmt.Fprintf(w, "succeeded\t%d\n", stats.Succeeded)
	fmt.Fprintf(w, "failed\t%d\n", stats.Failed)
	fmt.Fprintf(w, "skipped\t%d\n", stats.Skipped)
	if processed := stats.Succeeded + stats.Failed; processed > 0 {
		fmt.Fprintf(w, "success rate\t%.1f%%\n", 100*float64(stats.Succeeded)/float64(processed))
	}
	fmt.Fprintf(w, "duration\t%s\n", stats.Duration.Round(time.Millisecond))

	sources := make([]string, 0, len(stats.SourceHits))
	for source := range stats.SourceHits {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	for _, source := range sources {
		fmt.Fprintf(w, "hits[%s]\t%d\n", source, stats.SourceHits[source])
	}
	_ = w.Flush()

	if n := len(stats.Failures); n > 0 && n <= maxFailuresListed {
		fmt.Fprintln(out, "\nFailed colleges:")
		for _, f := range stats.Failures {
			fmt.Fprintf(out, "  %d %s: %s\n", f.CollegeID, f.Name, f.Reason)
		}
	}
}

const maxFailuresListed = 15
