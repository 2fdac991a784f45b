package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/comex-enrich/internal/classify"
	"github.com/sells-group/comex-enrich/internal/enrich"
	"github.com/sells-group/comex-enrich/internal/match"
	"github.com/sells-group/comex-enrich/internal/metrics"
	"github.com/sells-group/comex-enrich/internal/resilience"
	"github.com/sells-group/comex-enrich/internal/runlog"
	"github.com/sells-group/comex-enrich/internal/sink"
	"github.com/sells-group/comex-enrich/internal/source"
)

type enrichOptions struct {
	resume   bool
	progress io.Writer // nil disables the progress bar
	out      io.Writer
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Match the trade batch against the company registry",
	Long:  "Reads the registry in windows, matches each window against the trade relation and writes the enriched rows to enrich.destination in batches.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("enrich"); err != nil {
			return err
		}

		resume, _ := cmd.Flags().GetBool("resume")
		showProgress, _ := cmd.Flags().GetBool("progress")
		opts := enrichOptions{resume: resume, out: cmd.OutOrStdout()}
		if showProgress {
			opts.progress = os.Stderr
		}

		b, err := openBackend(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer b.Close()

		_, err = runEnrich(ctx, b, opts)
		return err
	},
}

func init() {
	enrichCmd.Flags().Bool("resume", false, "continue the last failed run for the destination from its checkpoint")
	enrichCmd.Flags().Bool("progress", false, "show a progress bar on stderr")
	rootCmd.AddCommand(enrichCmd)
}

func runEnrich(ctx context.Context, b *backend, opts enrichOptions) (*enrich.Result, error) {
	log := zap.L().With(zap.String("component", "enrich"))
	dest := cfg.Enrich.Destination

	if err := b.runs.Migrate(ctx); err != nil {
		return nil, err
	}

	querySQL, err := cfg.Registry.RegistrySQL()
	if err != nil {
		return nil, err
	}
	registry, err := b.registry(source.Query{SQL: querySQL, OrderBy: cfg.Registry.OrderBy})
	if err != nil {
		return nil, err
	}

	trades, err := b.trade(cfg.Trade.Relation).ReadAll(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: load trade batch")
	}
	if len(trades) == 0 {
		log.Warn("trade relation is empty", zap.String("relation", cfg.Trade.Relation))
	}
	if cfg.Classify.Artifact != "" {
		artifact, err := classify.LoadArtifact(cfg.Classify.Artifact)
		if err != nil {
			return nil, err
		}
		n := classify.Annotate(trades, artifact)
		log.Info("annotated trade records from artifact", zap.Int("annotated", n), zap.Int("trades", len(trades)))
	}

	ecfg := enrich.Config{
		ChunkSize:     cfg.Enrich.ChunkSize,
		BatchSize:     cfg.Enrich.BatchSize,
		FallbackTotal: cfg.Registry.FallbackTotal,
		Workers:       cfg.Enrich.Workers,
		StartOffset:   cfg.Enrich.StartOffset,
		Retry:         resilience.FromRetryConfig(cfg.Registry.ReadRetries, cfg.Registry.RetryBackoffMs),
		Match:         match.Options{TradeOrigin: cfg.Trade.OriginTag},
	}

	writer := sink.NewWriter(b.sink, dest)
	meta := map[string]any{
		"chunk_size": ecfg.ChunkSize,
		"batch_size": ecfg.BatchSize,
		"workers":    ecfg.Workers,
		"trades":     len(trades),
	}

	if opts.resume {
		last, err := b.runs.LastCheckpoint(ctx, dest)
		if err != nil {
			return nil, err
		}
		if last.Resumable() {
			ecfg.StartOffset = last.LastOffset
			meta["resumed_from"] = last.ID
			log.Info("resuming run",
				zap.String("previous_run", last.ID),
				zap.Int64("offset", last.LastOffset),
			)
		} else {
			log.Info("no resumable run, starting over", zap.String("destination", dest))
			ecfg.StartOffset = 0
		}
	}
	if ecfg.StartOffset > 0 {
		if err := writer.Resume(ctx); err != nil {
			return nil, err
		}
	}
	meta["start_offset"] = ecfg.StartOffset

	observers := []enrich.Observer{}
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		observers = append(observers, metrics.New(reg))

		srvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(srvCtx, cfg.Metrics.Addr, reg); err != nil {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}
	var bar *progressObserver
	if opts.progress != nil {
		bar = newProgressObserver(opts.progress)
		observers = append(observers, bar)
	}

	runID, err := b.runs.Start(ctx, dest, meta)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("run_id", runID))

	orch := enrich.New(registry, writer, ecfg,
		enrich.WithLogger(log),
		enrich.WithObserver(enrich.Observers(observers...)),
		enrich.WithCheckpointer(runlog.Checkpointer(b.runs, runID)),
	)

	res, runErr := orch.Run(ctx, trades)
	if bar != nil {
		bar.Finish()
	}

	// The run may have been interrupted; record the outcome regardless.
	recordCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		if err := b.runs.Fail(recordCtx, runID, res, runErr.Error()); err != nil {
			log.Error("failed to record run failure", zap.Error(err))
		}
		return res, eris.Wrap(runErr, "enrich")
	}
	if err := b.runs.Complete(recordCtx, runID, res); err != nil {
		return res, err
	}

	log.Info("enrichment complete",
		zap.Int64("total_rows", res.TotalRows),
		zap.Int("batches", res.BatchesWritten),
		zap.Int64("rows_written", res.RowsWritten),
		zap.Int("skipped_chunks", len(res.SkippedChunks)),
		zap.Bool("degraded", res.Degraded),
	)
	if opts.out != nil {
		formatEnrichSummary(opts.out, runID, dest, res)
	}
	return res, nil
}

func formatEnrichSummary(out io.Writer, runID, dest string, res *enrich.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", runID)
	_, _ = fmt.Fprintf(w, "Destination:\t%s\n", dest)
	_, _ = fmt.Fprintf(w, "Registry rows:\t%d\n", res.TotalRows)
	if res.Degraded {
		_, _ = fmt.Fprintln(w, "Registry count:\tunavailable, fallback total used")
	}
	_, _ = fmt.Fprintf(w, "Windows:\t%d (%d empty)\n", res.Chunks, res.EmptyChunks)
	_, _ = fmt.Fprintf(w, "Batches written:\t%d\n", res.BatchesWritten)
	_, _ = fmt.Fprintf(w, "Rows written:\t%d\n", res.RowsWritten)
	_, _ = fmt.Fprintf(w, "Skipped windows:\t%d\n", len(res.SkippedChunks))
	for _, c := range res.SkippedChunks {
		_, _ = fmt.Fprintf(w, "  [%d, %d):\t%s\n", c.Offset, c.Offset+c.Limit, c.Error)
	}
	_ = w.Flush()
}
