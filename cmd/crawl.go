package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawl/internal/linkcrawler"
	"github.com/JakeFAU/jobcrawl/internal/metrics"
	"github.com/JakeFAU/jobcrawl/pkg/crawler"
	"github.com/JakeFAU/jobcrawl/pkg/progress"
	"github.com/JakeFAU/jobcrawl/pkg/progress/sinks"
)

const shutdownTimeout = 5 * time.Second

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [urls...]",
		Short: "Crawl seed URLs and the pages they link to",
		Long: `Fetches every seed URL, queues a "page" job for each link found on it
and logs the title of every linked page. Seeds given as arguments replace
crawler.initial_urls from the configuration.`,
		RunE: runCrawlCommand,
	}
	cmd.Flags().Int("max-connections", 0, "maximum concurrent fetches")
	cmd.Flags().Int64("max-body-bytes", 0, "fail fetches whose body is larger than this (0 means no limit)")
	cmd.Flags().Bool("stop-on-error", false, "cancel remaining work after the first failed job")
	cmd.Flags().Bool("same-host-only", true, "only follow links on the host of the page they were found on")
	cmd.Flags().String("metrics-addr", "", "serve /metrics and /healthz on this address while crawling")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, args []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	if err := bindFlags(e.v, cmd, map[string]string{
		"crawler.max_connections": "max-connections",
		"crawler.max_body_bytes":  "max-body-bytes",
		"crawler.stop_on_error":   "stop-on-error",
		"crawler.same_host_only":  "same-host-only",
		"metrics.addr":            "metrics-addr",
	}); err != nil {
		return err
	}

	cfg, err := crawler.LoadConfig(e.v)
	if err != nil {
		return fmt.Errorf("load crawler config: %w", err)
	}
	if len(args) > 0 {
		cfg.Seeds = args
	}
	if len(cfg.Seeds) == 0 {
		return errors.New("no seed URLs: pass them as arguments or set crawler.initial_urls")
	}

	reg := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return err
	}
	summary := sinks.NewSummarySink()
	hubSinks := []progress.Sink{promSink, summary}
	if e.v.GetBool("progress.log_events") {
		hubSinks = append(hubSinks, sinks.NewLogSink(e.logger))
	}
	hub := progress.NewHub(progress.Config{Logger: e.logger}, hubSinks...)

	if addr := e.v.GetString("metrics.addr"); addr != "" {
		srv := metrics.NewServer(addr, reg, e.logger)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				e.logger.Warn("Failed to stop metrics server", zap.Error(err))
			}
		}()
	}

	engine, err := crawler.NewEngine(cfg,
		crawler.WithLogger(e.logger),
		crawler.WithEmitter(hub),
		crawler.WithPreparer(linkcrawler.New(linkcrawler.Options{
			SameHostOnly: e.v.GetBool("crawler.same_host_only"),
			Logger:       e.logger,
		})),
	)
	if err != nil {
		return err
	}

	start := time.Now()
	runErr := engine.Run(cmd.Context())
	elapsed := time.Since(start)

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hub.Close(closeCtx); err != nil {
		e.logger.Warn("Failed to flush progress events", zap.Error(err))
	}

	printSummary(cmd.OutOrStdout(), engine.RunID(), elapsed, engine.Stats(), summary.Snapshot())

	if runErr != nil {
		return fmt.Errorf("crawl finished with %d error(s): %w", len(multierr.Errors(runErr)), runErr)
	}
	return nil
}

// printSummary writes the run report. Totals come from the engine; the
// per-kind and per-status breakdowns come from progress events, which the hub
// may drop under load.
func printSummary(w io.Writer, runID uuid.UUID, elapsed time.Duration, stats crawler.Stats, s sinks.Summary) {
	fmt.Fprintf(w, "run %s finished in %s\n", runID, elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  queued:     %d\n", stats.Queued)
	fmt.Fprintf(w, "  fetched:    %d (%s)\n", stats.Fetched, humanize.Bytes(uint64(max(stats.Bytes, 0))))
	fmt.Fprintf(w, "  dispatched: %d\n", stats.Dispatched)
	fmt.Fprintf(w, "  failed:     %d (%d fetch, %d handler)\n", stats.Failed, stats.FetchFailed, stats.Failed-stats.FetchFailed)
	for _, kind := range slices.Sorted(maps.Keys(s.ByKind)) {
		fmt.Fprintf(w, "  kind %-12s %d\n", kind, s.ByKind[kind])
	}
	for _, class := range slices.Sorted(maps.Keys(s.ByStatus)) {
		fmt.Fprintf(w, "  status %-10s %d\n", class, s.ByStatus[class])
	}
}
