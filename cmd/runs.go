package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/comex-enrich/internal/runlog"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect enrichment run history",
	Long:  "Commands for listing and viewing enrichment runs and their checkpoints.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrichment runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("runs"); err != nil {
			return err
		}

		b, err := openBackend(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer b.Close()

		destination, _ := cmd.Flags().GetString("destination")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := listRuns(ctx, b.runs, destination, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("runs"); err != nil {
			return err
		}

		b, err := openBackend(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer b.Close()

		run, err := findRun(ctx, b.runs, args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	runsListCmd.Flags().String("destination", "", "filter by destination relation")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func listRuns(ctx context.Context, l runlog.Log, destination string, limit int) ([]runlog.Entry, error) {
	if err := l.Migrate(ctx); err != nil {
		return nil, err
	}
	all, err := l.ListAll(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "runs list")
	}

	var out []runlog.Entry
	for _, e := range all {
		if destination != "" && e.Destination != destination {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// findRun matches a full run ID or an unambiguous prefix of one.
func findRun(ctx context.Context, l runlog.Log, id string) (*runlog.Entry, error) {
	all, err := listRuns(ctx, l, "", 0)
	if err != nil {
		return nil, err
	}
	var found *runlog.Entry
	for i := range all {
		e := &all[i]
		if e.ID == id {
			return e, nil
		}
		if len(id) >= 4 && len(e.ID) > len(id) && e.ID[:len(id)] == id {
			if found != nil {
				return nil, eris.Errorf("runs show: prefix %q is ambiguous", id)
			}
			found = e
		}
	}
	if found == nil {
		return nil, eris.Errorf("runs show: run %q not found", id)
	}
	return found, nil
}

// formatRunsList writes a tabular list of runs to out.
func formatRunsList(out io.Writer, runs []runlog.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDESTINATION\tSTATUS\tSTARTED\tDURATION\tROWS\tBATCHES\tSKIPPED\tOFFSET")
	_, _ = fmt.Fprintln(w, "--\t-----------\t------\t-------\t--------\t----\t-------\t-------\t------")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			truncateID(r.ID),
			r.Destination,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			r.RowsWritten,
			r.BatchesWritten,
			r.SkippedChunks,
			r.LastOffset,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
