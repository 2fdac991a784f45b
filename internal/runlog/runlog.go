// Package runlog records enrichment runs and their batch checkpoints so a
// failed run can be resumed from the last written batch.
package runlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/comex-enrich/internal/enrich"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Entry is one row of enrich_runs.
type Entry struct {
	ID             string         `json:"id"`
	Destination    string         `json:"destination"`
	Status         Status         `json:"status"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	TotalRows      int64          `json:"total_rows"`
	RowsWritten    int64          `json:"rows_written"`
	BatchesWritten int            `json:"batches_written"`
	SkippedChunks  int            `json:"skipped_chunks"`
	LastOffset     int64          `json:"last_offset"`
	Error          string         `json:"error,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Resumable reports whether a run stopped after writing at least one batch.
func (e *Entry) Resumable() bool {
	return e != nil && e.Status != StatusComplete && e.BatchesWritten > 0
}

// Log persists run bookkeeping.
type Log interface {
	// Migrate creates the run table if needed.
	Migrate(ctx context.Context) error

	// Start records a new running run and returns its ID.
	Start(ctx context.Context, destination string, metadata map[string]any) (string, error)

	// Checkpoint records the progress of a running run after a written batch.
	Checkpoint(ctx context.Context, id string, p enrich.Progress) error

	// Complete marks a run as finished with its result.
	Complete(ctx context.Context, id string, res *enrich.Result) error

	// Fail marks a run as failed. res may be nil.
	Fail(ctx context.Context, id string, res *enrich.Result, errMsg string) error

	// ListAll returns every run, most recent first.
	ListAll(ctx context.Context) ([]Entry, error)

	// LastCheckpoint returns the most recent run for destination, or nil when
	// there is none.
	LastCheckpoint(ctx context.Context, destination string) (*Entry, error)
}

// Checkpointer binds a run ID to l for use by the orchestrator.
func Checkpointer(l Log, id string) enrich.Checkpointer {
	return enrich.CheckpointFunc(func(ctx context.Context, p enrich.Progress) error {
		return l.Checkpoint(ctx, id, p)
	})
}

func resultMetadata(res *enrich.Result) ([]byte, error) {
	if res == nil {
		return nil, nil
	}
	meta := map[string]any{
		"degraded":     res.Degraded,
		"chunks":       res.Chunks,
		"empty_chunks": res.EmptyChunks,
	}
	if len(res.SkippedChunks) > 0 {
		meta["skipped"] = res.SkippedChunks
	}
	data, err := json.Marshal(meta)
	return data, eris.Wrap(err, "runlog: marshal result metadata")
}

func marshalMetadata(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	return data, eris.Wrap(err, "runlog: marshal metadata")
}

// resultCounters flattens res for the UPDATE statements; a nil result keeps
// zero counters.
func resultCounters(res *enrich.Result) (total, rows int64, batches, skipped int, offset int64) {
	if res == nil {
		return 0, 0, 0, 0, 0
	}
	return res.TotalRows, res.RowsWritten, res.BatchesWritten, len(res.SkippedChunks), res.NextOffset
}
