// Package cmd defines and implements the CLI commands for the collegescraper
// executable.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collegescraper",
		Short: "A resilient enrichment pipeline for the college-information database.",
		Long: `collegescraper fetches admissions and enrollment data for every college
in the database from multiple external sources, with per-domain rate
limiting, circuit breaking, and durable progress so interrupted runs
resume where they left off.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is built-in defaults + environment)")

	cmd.AddCommand(newScrapeCmd())

	return cmd
}

// Execute is the main entry point. It installs signal handling so an
// interrupt triggers a graceful shutdown: in-flight work finishes, progress
// is saved, and the process exits cleanly.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
