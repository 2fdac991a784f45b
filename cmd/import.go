package main

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/comex-enrich/internal/classify"
	"github.com/sells-group/comex-enrich/internal/fetcher"
	"github.com/sells-group/comex-enrich/internal/ingest"
	"github.com/sells-group/comex-enrich/internal/model"
	"github.com/sells-group/comex-enrich/internal/sink"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load trade files and Receita Federal extracts into the store",
}

// -- import trade --

type tradeImportOptions struct {
	file      string
	artifact  string
	format    string
	delimiter string
	sheet     string
}

var importTradeCmd = &cobra.Command{
	Use:   "trade",
	Short: "Replace the trade relation with a CSV, JSON, NDJSON or XLSX file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("import"); err != nil {
			return err
		}

		var opts tradeImportOptions
		opts.file, _ = cmd.Flags().GetString("file")
		opts.artifact, _ = cmd.Flags().GetString("model")
		opts.format, _ = cmd.Flags().GetString("format")
		opts.delimiter, _ = cmd.Flags().GetString("delimiter")
		opts.sheet, _ = cmd.Flags().GetString("sheet")
		if opts.artifact == "" {
			opts.artifact = cfg.Classify.Artifact
		}

		b, err := openBackend(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer b.Close()

		_, err = runImportTrade(ctx, b, opts)
		return err
	},
}

func runImportTrade(ctx context.Context, b *backend, opts tradeImportOptions) (*ingest.Result, error) {
	log := zap.L().With(zap.String("component", "import"), zap.String("file", opts.file))

	topts := ingest.TradeOptions{Format: fetcher.Format(strings.ToLower(opts.format)), Sheet: opts.sheet}
	if opts.delimiter != "" {
		d := []rune(opts.delimiter)
		if opts.delimiter == `\t` {
			d = []rune{'\t'}
		}
		if len(d) != 1 {
			return nil, eris.Errorf("import: delimiter must be a single character, got %q", opts.delimiter)
		}
		topts.Delimiter = d[0]
	}

	records, err := ingest.ReadTrades(ctx, opts.file, topts)
	if err != nil {
		return nil, err
	}
	log.Info("read trade records", zap.Int("records", len(records)))

	if opts.artifact != "" {
		artifact, err := classify.LoadArtifact(opts.artifact)
		if err != nil {
			return nil, err
		}
		n := classify.Annotate(records, artifact)
		log.Info("annotated missing predictions", zap.Int("annotated", n), zap.Int("artifact_keys", artifact.Len()))
	}

	w := sink.NewWriter(b.sink, cfg.Trade.Relation, model.ColRecordKey)
	res, err := ingest.WriteTrades(ctx, w, records, cfg.Import.BatchSize)
	if err != nil {
		return res, err
	}
	log.Info("trade import complete",
		zap.String("relation", cfg.Trade.Relation),
		zap.Int64("rows", res.Rows),
		zap.Int("batches", res.Batches),
	)
	return res, nil
}

// -- import registry --

type registryImportOptions struct {
	layout    string
	files     []string
	append    bool
	encoding  string
	batchSize int
}

var importRegistryCmd = &cobra.Command{
	Use:   "registry <file>...",
	Short: "Load Receita Federal extracts into a registry table",
	Long: "Loads headerless ';'-delimited Receita Federal files (plain or zipped) into the table of the given layout. " +
		"The first file replaces the table unless --append is set; later files append.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("import"); err != nil {
			return err
		}

		opts := registryImportOptions{files: args}
		opts.layout, _ = cmd.Flags().GetString("layout")
		opts.append, _ = cmd.Flags().GetBool("append")
		opts.encoding, _ = cmd.Flags().GetString("encoding")
		opts.batchSize, _ = cmd.Flags().GetInt("batch-size")

		b, err := openBackend(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer b.Close()

		_, err = runImportRegistry(ctx, b, opts)
		return err
	},
}

func runImportRegistry(ctx context.Context, b *backend, opts registryImportOptions) (*ingest.Result, error) {
	layout, err := ingest.LayoutFor(opts.layout)
	if err != nil {
		return nil, err
	}
	var enc encoding.Encoding
	if opts.encoding != "" {
		if enc, err = htmlindex.Get(opts.encoding); err != nil {
			return nil, eris.Wrapf(err, "import: unknown encoding %q", opts.encoding)
		}
	}

	log := zap.L().With(zap.String("component", "import"))
	w := sink.NewWriter(b.sink, layout.Table, layout.Key[0])
	appending := opts.append
	if appending {
		if err := w.Resume(ctx); err != nil {
			return nil, err
		}
	}

	total := &ingest.Result{}
	for _, file := range opts.files {
		res, err := importRegistryFile(ctx, w, file, layout, ingest.RegistryOptions{
			BatchSize: opts.batchSize,
			Append:    appending,
			Encoding:  enc,
		}, log.With(zap.String("file", file)))
		if err != nil {
			return total, err
		}
		total.Rows += res.Rows
		total.Batches += res.Batches
		total.Duplicates += res.Duplicates
		total.Malformed += res.Malformed
		if res.Batches > 0 {
			appending = true
		}
	}

	log.Info("registry import complete",
		zap.String("layout", layout.Name),
		zap.Int("files", len(opts.files)),
		zap.Int64("rows", total.Rows),
		zap.Int64("duplicates", total.Duplicates),
		zap.Int64("malformed", total.Malformed),
	)
	return total, nil
}

func importRegistryFile(ctx context.Context, w ingest.Writer, path string, layout ingest.Layout, opts ingest.RegistryOptions, log *zap.Logger) (*ingest.Result, error) {
	rc, name, err := fetcher.Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	log.Info("importing registry file", zap.String("entry", name), zap.String("layout", layout.Name))
	return ingest.ImportRegistry(ctx, w, rc, layout, opts, log)
}

func init() {
	importTradeCmd.Flags().String("file", "", "trade file to import (required)")
	importTradeCmd.Flags().String("model", "", "classifier artifact used to fill missing predictions (defaults to classify.artifact)")
	importTradeCmd.Flags().String("format", "", "input format: csv, json, ndjson or xlsx (default: from extension)")
	importTradeCmd.Flags().String("delimiter", "", `CSV delimiter (default: sniffed; use \t for tab)`)
	importTradeCmd.Flags().String("sheet", "", "XLSX sheet name (default: first sheet)")
	_ = importTradeCmd.MarkFlagRequired("file")

	importRegistryCmd.Flags().String("layout", "", "file layout: "+strings.Join(ingest.LayoutNames(), ", ")+" (required)")
	importRegistryCmd.Flags().Bool("append", false, "append to the existing table instead of replacing it")
	importRegistryCmd.Flags().String("encoding", "", "input encoding label, e.g. utf-8 (default: iso-8859-1)")
	importRegistryCmd.Flags().Int("batch-size", 0, "rows per write (default: the layout's batch size)")
	_ = importRegistryCmd.MarkFlagRequired("layout")

	importCmd.AddCommand(importTradeCmd)
	importCmd.AddCommand(importRegistryCmd)
	rootCmd.AddCommand(importCmd)
}
