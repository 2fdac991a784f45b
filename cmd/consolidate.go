package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/comex-enrich/internal/match"
	"github.com/sells-group/comex-enrich/internal/model"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Build one enriched row per trade record",
	Long:  "Reduces enrich.destination, which holds one row per trade record per registry window, into enrich.consolidated keeping the best match for each record.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("consolidate"); err != nil {
			return err
		}

		b, err := openBackend(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer b.Close()

		_, err = runConsolidate(ctx, b, cmd.OutOrStdout())
		return err
	},
}

func init() {
	rootCmd.AddCommand(consolidateCmd)
}

func runConsolidate(ctx context.Context, b *backend, out io.Writer) (int64, error) {
	src, dst := cfg.Enrich.Destination, cfg.Enrich.Consolidated

	cols, err := b.sink.Columns(ctx, src)
	if err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, eris.Errorf("consolidate: relation %s does not exist; run enrich first", src)
	}

	n, err := b.sink.Consolidate(ctx, src, dst)
	if err != nil {
		return 0, err
	}
	for _, col := range []string{match.TradePrefix + model.ColRecordKey, match.ColNormalizedID} {
		if err := b.sink.CreateIndex(ctx, dst, col); err != nil {
			return n, err
		}
	}

	zap.L().Info("consolidation complete",
		zap.String("source", src),
		zap.String("target", dst),
		zap.Int64("rows", n),
	)
	if out != nil {
		_, _ = fmt.Fprintf(out, "Consolidated %d rows from %s into %s\n", n, src, dst)
	}
	return n, nil
}
