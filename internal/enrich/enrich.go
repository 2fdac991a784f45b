// Package enrich drives a full enrichment run: it counts the registry, reads
// it in fixed-size windows, matches every window against the trade batch and
// persists groups of windows through an incremental writer.
package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/comex-enrich/internal/match"
	"github.com/sells-group/comex-enrich/internal/model"
	"github.com/sells-group/comex-enrich/internal/resilience"
	"github.com/sells-group/comex-enrich/internal/source"
)

// State is the lifecycle stage of an Orchestrator.
type State string

const (
	StateInit      State = "init"
	StateCounting  State = "counting"
	StateDegraded  State = "degraded"
	StateIterating State = "iterating"
	StateDone      State = "done"
)

// Defaults used when Config fields are zero.
const (
	DefaultChunkSize     int64 = 25_000
	DefaultBatchSize           = 5
	DefaultFallbackTotal int64 = 1_000_000
)

// Config controls windowing, batching and concurrency of a run.
type Config struct {
	ChunkSize     int64 // rows per registry window
	BatchSize     int   // windows per write
	FallbackTotal int64 // registry size assumed when counting fails
	Workers       int   // windows matched concurrently within a batch
	StartOffset   int64 // first registry offset; > 0 resumes by appending
	Retry         resilience.RetryConfig
	Match         match.Options
}

// DefaultConfig returns the sequential configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:     DefaultChunkSize,
		BatchSize:     DefaultBatchSize,
		FallbackTotal: DefaultFallbackTotal,
		Workers:       1,
		Retry:         resilience.DefaultRetryConfig(),
	}
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FallbackTotal <= 0 {
		c.FallbackTotal = DefaultFallbackTotal
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.StartOffset < 0 {
		c.StartOffset = 0
	}
	return c
}

// Writer persists one batch. The first successful write of a run replaces the
// destination; later writes append.
type Writer interface {
	Write(ctx context.Context, t *model.Table, isFirst bool) error
}

// ChunkRange is a registry window that produced no output because reading
// or matching it failed.
type ChunkRange struct {
	Offset int64  `json:"offset"`
	Limit  int64  `json:"limit"`
	Error  string `json:"error"`
}

// Result summarizes a run.
type Result struct {
	TotalRows      int64        `json:"total_rows"`
	Degraded       bool         `json:"degraded"`
	Chunks         int          `json:"chunks"`
	EmptyChunks    int          `json:"empty_chunks"`
	BatchesWritten int          `json:"batches_written"`
	RowsWritten    int64        `json:"rows_written"`
	NextOffset     int64        `json:"next_offset"`
	SkippedChunks  []ChunkRange `json:"skipped_chunks,omitempty"`
}

// Progress is reported to a Checkpointer after every written batch.
type Progress struct {
	NextOffset     int64
	RowsWritten    int64
	BatchesWritten int
	SkippedChunks  int
}

// Checkpointer persists run progress so a failed run can resume.
type Checkpointer interface {
	Checkpoint(ctx context.Context, p Progress) error
}

// CheckpointFunc adapts a function to Checkpointer.
type CheckpointFunc func(ctx context.Context, p Progress) error

// Checkpoint calls f.
func (f CheckpointFunc) Checkpoint(ctx context.Context, p Progress) error { return f(ctx, p) }

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithObserver sets the event observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.obs = obs
		}
	}
}

// WithCheckpointer records progress after each written batch.
func WithCheckpointer(c Checkpointer) Option {
	return func(o *Orchestrator) { o.checkpoint = c }
}

// Orchestrator runs one enrichment pass. It is not safe for concurrent Runs.
type Orchestrator struct {
	registry   source.Registry
	writer     Writer
	cfg        Config
	log        *zap.Logger
	obs        Observer
	checkpoint Checkpointer
	state      State
}

// New creates an orchestrator reading from registry and writing through w.
func New(registry source.Registry, w Writer, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		writer:   w,
		cfg:      cfg.withDefaults(),
		log:      zap.NewNop(),
		obs:      NopObserver{},
		state:    StateInit,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current lifecycle stage.
func (o *Orchestrator) State() State { return o.state }

func (o *Orchestrator) setState(s State) {
	o.log.Info("state transition", zap.String("from", string(o.state)), zap.String("to", string(s)))
	o.state = s
}

// Run enriches trades against the whole registry. Chunk failures are logged,
// recorded in the result and skipped. A write failure or context
// cancellation stops the run and is returned alongside the partial result.
func (o *Orchestrator) Run(ctx context.Context, trades []model.TradeRecord) (*Result, error) {
	res := &Result{NextOffset: o.cfg.StartOffset}

	o.setState(StateCounting)
	total, err := resilience.DoVal(ctx, o.retryConfig("count registry"), o.registry.Count)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		o.log.Warn("registry count failed, using fallback total",
			zap.Error(err), zap.Int64("fallback_total", o.cfg.FallbackTotal))
		total = o.cfg.FallbackTotal
		res.Degraded = true
		o.setState(StateDegraded)
	}
	res.TotalRows = total

	offsets := chunkOffsets(o.cfg.StartOffset, total, o.cfg.ChunkSize)
	res.Chunks = len(offsets)
	o.log.Info("starting enrichment",
		zap.Int64("total_rows", total),
		zap.Int("trade_rows", len(trades)),
		zap.Int("chunks", len(offsets)),
		zap.Int64("chunk_size", o.cfg.ChunkSize),
		zap.Int("batch_size", o.cfg.BatchSize),
		zap.Int("workers", o.cfg.Workers),
		zap.Int64("start_offset", o.cfg.StartOffset),
	)

	o.setState(StateIterating)
	isFirst := o.cfg.StartOffset == 0

	for start := 0; start < len(offsets); start += o.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		end := min(start+o.cfg.BatchSize, len(offsets))
		batchEnd := offsets[end-1] + o.cfg.ChunkSize
		log := o.log.With(zap.Int64("batch_start", offsets[start]), zap.Int64("batch_end", batchEnd))

		out, err := o.runBatch(ctx, offsets[start:end], trades, res)
		if err != nil {
			return res, err
		}

		if out.Len() == 0 {
			log.Info("batch produced no rows, skipping write")
		} else {
			began := time.Now()
			if err := o.writer.Write(ctx, out, isFirst); err != nil {
				log.Error("batch write failed", zap.Error(err))
				return res, eris.Wrapf(err, "enrich: write batch [%d, %d)", offsets[start], batchEnd)
			}
			elapsed := time.Since(began)
			isFirst = false
			res.BatchesWritten++
			res.RowsWritten += int64(out.Len())
			o.obs.BatchWritten(out.Len(), elapsed)
			log.Info("batch written", zap.Int("rows", out.Len()), zap.Duration("elapsed", elapsed))
		}
		// Release the batch before reading the next one.
		out = nil //nolint:ineffassign,wastedassign

		res.NextOffset = batchEnd
		o.saveCheckpoint(ctx, res)
	}

	o.setState(StateDone)
	o.log.Info("enrichment complete",
		zap.Int("batches_written", res.BatchesWritten),
		zap.Int64("rows_written", res.RowsWritten),
		zap.Int("skipped_chunks", len(res.SkippedChunks)),
		zap.Int("empty_chunks", res.EmptyChunks),
		zap.Bool("degraded", res.Degraded),
	)
	return res, nil
}

// chunkOffsets returns the window offsets covering [start, total).
func chunkOffsets(start, total, size int64) []int64 {
	var offsets []int64
	for off := start; off < total; off += size {
		offsets = append(offsets, off)
	}
	return offsets
}

type chunkOutcome struct {
	table *model.Table
	empty bool
	err   error
}

// runBatch matches the windows at offsets and concatenates their output in
// offset order, so concurrent and sequential runs write the same rows.
func (o *Orchestrator) runBatch(ctx context.Context, offsets []int64, trades []model.TradeRecord, res *Result) (*model.Table, error) {
	outcomes := make([]chunkOutcome, len(offsets))

	if o.cfg.Workers == 1 {
		for i, off := range offsets {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			outcomes[i] = o.runChunk(ctx, off, trades)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(o.cfg.Workers)
		for i, off := range offsets {
			i, off := i, off
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				outcomes[i] = o.runChunk(ctx, off, trades)
				return nil
			})
		}
		_ = g.Wait()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tables := make([]*model.Table, 0, len(offsets))
	for i, oc := range outcomes {
		switch {
		case oc.err != nil:
			o.log.Error("chunk failed, skipping",
				zap.Int64("offset", offsets[i]),
				zap.Int64("end", offsets[i]+o.cfg.ChunkSize),
				zap.Error(oc.err),
			)
			res.SkippedChunks = append(res.SkippedChunks, ChunkRange{
				Offset: offsets[i],
				Limit:  o.cfg.ChunkSize,
				Error:  oc.err.Error(),
			})
		case oc.empty:
			o.log.Warn("empty registry window", zap.Int64("offset", offsets[i]))
			res.EmptyChunks++
		default:
			tables = append(tables, oc.table)
		}
	}

	out, err := model.Concat(tables)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: concat batch")
	}
	return out, nil
}

func (o *Orchestrator) runChunk(ctx context.Context, offset int64, trades []model.TradeRecord) chunkOutcome {
	limit := o.cfg.ChunkSize
	w, err := resilience.DoVal(ctx, o.retryConfig("read registry window"), func(ctx context.Context) (*model.RegistryWindow, error) {
		return o.registry.ReadWindow(ctx, offset, limit)
	})
	if err != nil {
		o.obs.ChunkSkipped(offset, limit, err)
		return chunkOutcome{err: err}
	}
	if w.Len() == 0 {
		o.obs.ChunkEmpty(offset)
		return chunkOutcome{empty: true}
	}

	t, err := match.Match(w, trades, o.cfg.Match)
	if err != nil {
		o.obs.ChunkSkipped(offset, limit, err)
		return chunkOutcome{err: err}
	}
	o.obs.ChunkMatched(offset, t.Len())
	return chunkOutcome{table: t}
}

func (o *Orchestrator) retryConfig(operation string) resilience.RetryConfig {
	cfg := o.cfg.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(o.log, operation)
	}
	return cfg
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, res *Result) {
	if o.checkpoint == nil {
		return
	}
	err := o.checkpoint.Checkpoint(ctx, Progress{
		NextOffset:     res.NextOffset,
		RowsWritten:    res.RowsWritten,
		BatchesWritten: res.BatchesWritten,
		SkippedChunks:  len(res.SkippedChunks),
	})
	if err != nil {
		o.log.Warn("failed to record checkpoint", zap.Int64("next_offset", res.NextOffset), zap.Error(err))
	}
}
