package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/comex-enrich/internal/match"
	"github.com/sells-group/comex-enrich/internal/model"
	"github.com/sells-group/comex-enrich/internal/resilience"
)

// memRegistry serves windows over an in-memory slice.
type memRegistry struct {
	mu       sync.Mutex
	rows     []model.RegistryRecord
	countErr error
	// failures maps an offset to the errors returned by successive reads.
	failures map[int64][]error
	reads    map[int64]int
}

func newMemRegistry(n int) *memRegistry {
	r := &memRegistry{failures: map[int64][]error{}, reads: map[int64]int{}}
	for i := 0; i < n; i++ {
		r.rows = append(r.rows, model.RegistryRecord{
			BasicID:     fmt.Sprintf("%08d", i+1),
			Order:       "0001",
			CheckDigits: "00",
			Values:      []any{fmt.Sprintf("EMPRESA %d", i+1)},
		})
	}
	return r
}

func (r *memRegistry) Count(context.Context) (int64, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	return int64(len(r.rows)), nil
}

func (r *memRegistry) ReadWindow(_ context.Context, offset, limit int64) (*model.RegistryWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads[offset]++
	if errs := r.failures[offset]; len(errs) > 0 {
		r.failures[offset] = errs[1:]
		return nil, errs[0]
	}
	w := &model.RegistryWindow{
		Offset:  offset,
		Limit:   limit,
		Columns: []model.Column{{Name: "razao_social", Type: model.TypeText}},
	}
	end := min(offset+limit, int64(len(r.rows)))
	if offset < end {
		w.Rows = append(w.Rows, r.rows[offset:end]...)
	}
	return w, nil
}

type write struct {
	rows    int
	isFirst bool
	table   *model.Table
}

type memWriter struct {
	writes []write
	err    error
}

func (w *memWriter) Write(_ context.Context, t *model.Table, isFirst bool) error {
	if w.err != nil {
		return w.err
	}
	w.writes = append(w.writes, write{rows: t.Len(), isFirst: isFirst, table: t})
	return nil
}

type countingObserver struct {
	mu      sync.Mutex
	matched int
	empty   int
	skipped []int64
	batches int
}

func (c *countingObserver) ChunkMatched(int64, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matched++
}

func (c *countingObserver) ChunkEmpty(int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.empty++
}

func (c *countingObserver) ChunkSkipped(offset, _ int64, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skipped = append(c.skipped, offset)
}

func (c *countingObserver) BatchWritten(int, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches++
}

// tradesFor builds one trade per id, each predicting the given identifier.
func tradesFor(ids ...string) []model.TradeRecord {
	trades := make([]model.TradeRecord, len(ids))
	for i, id := range ids {
		trades[i] = model.TradeRecord{RecordKey: fmt.Sprintf("k%d", i), PredictedID: id, Confidence: 0.5}
		trades[i].Normalize()
	}
	return trades
}

func testConfig(chunk int64, batch int) Config {
	cfg := DefaultConfig()
	cfg.ChunkSize = chunk
	cfg.BatchSize = batch
	cfg.Retry = resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	return cfg
}

func TestRun_ReplaceThenAppend(t *testing.T) {
	reg := newMemRegistry(10)
	w := &memWriter{}
	trades := tradesFor("00000001000100", "00000007000100")

	o := New(reg, w, testConfig(3, 2))
	res, err := o.Run(context.Background(), trades)
	require.NoError(t, err)

	// Offsets 0,3,6,9 in batches {0,3} and {6,9}.
	require.Len(t, w.writes, 2)
	assert.True(t, w.writes[0].isFirst)
	assert.False(t, w.writes[1].isFirst)
	assert.Equal(t, 4, w.writes[0].rows, "every chunk emits all trade rows")
	assert.Equal(t, 4, w.writes[1].rows)

	assert.Equal(t, int64(10), res.TotalRows)
	assert.Equal(t, 4, res.Chunks)
	assert.Equal(t, 2, res.BatchesWritten)
	assert.Equal(t, int64(8), res.RowsWritten)
	assert.Equal(t, int64(12), res.NextOffset)
	assert.False(t, res.Degraded)
	assert.Empty(t, res.SkippedChunks)
	assert.Equal(t, StateDone, o.State())
}

func TestRun_FailingChunkIsSkipped(t *testing.T) {
	reg := newMemRegistry(10)
	reg.failures[3] = []error{errors.New("syntax error at or near LIMIT")}
	w := &memWriter{}
	obs := &countingObserver{}

	res, err := New(reg, w, testConfig(3, 2), WithObserver(obs)).Run(context.Background(), tradesFor("00000004000100"))
	require.NoError(t, err)

	require.Len(t, res.SkippedChunks, 1)
	assert.Equal(t, int64(3), res.SkippedChunks[0].Offset)
	assert.Equal(t, int64(3), res.SkippedChunks[0].Limit)
	assert.Contains(t, res.SkippedChunks[0].Error, "syntax error")
	assert.Equal(t, int64(3), res.RowsWritten)
	assert.Equal(t, 1, reg.reads[3], "non-transient errors are not retried")

	assert.Equal(t, 3, obs.matched)
	assert.Equal(t, []int64{3}, obs.skipped)
	assert.Equal(t, 2, obs.batches)
}

func TestRun_TransientReadIsRetried(t *testing.T) {
	reg := newMemRegistry(4)
	reg.failures[0] = []error{resilience.NewTransientError(errors.New("connection reset"))}
	w := &memWriter{}

	res, err := New(reg, w, testConfig(4, 1)).Run(context.Background(), tradesFor("00000001000100"))
	require.NoError(t, err)

	assert.Equal(t, 2, reg.reads[0])
	assert.Empty(t, res.SkippedChunks)
	assert.Equal(t, int64(1), res.RowsWritten)
}

func TestRun_DegradedCount(t *testing.T) {
	reg := newMemRegistry(5)
	reg.countErr = errors.New("permission denied for relation estabelecimentos")
	w := &memWriter{}
	obs := &countingObserver{}

	cfg := testConfig(5, 5)
	cfg.FallbackTotal = 15

	core, logs := observer.New(zap.WarnLevel)
	res, err := New(reg, w, cfg, WithObserver(obs), WithLogger(zap.New(core))).Run(context.Background(), tradesFor("00000002000100"))
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Equal(t, int64(15), res.TotalRows)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 2, res.EmptyChunks)
	assert.Equal(t, 2, obs.empty)
	require.Len(t, w.writes, 1)
	assert.Equal(t, 1, w.writes[0].rows)

	assert.Equal(t, 1, logs.FilterMessage("registry count failed, using fallback total").Len())
	assert.Equal(t, 2, logs.FilterMessage("empty registry window").Len())
}

func TestRun_WriteFailureIsFatal(t *testing.T) {
	reg := newMemRegistry(10)
	w := &memWriter{err: errors.New("disk full")}

	o := New(reg, w, testConfig(3, 2))
	res, err := o.Run(context.Background(), tradesFor("00000001000100"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "[0, 6)")
	assert.Equal(t, 0, res.BatchesWritten)
	assert.Equal(t, StateIterating, o.State())
}

func TestRun_FirstWriteWaitsForNonEmptyBatch(t *testing.T) {
	reg := newMemRegistry(6)
	reg.failures[0] = []error{errors.New("bad window")}
	w := &memWriter{}

	res, err := New(reg, w, testConfig(3, 1)).Run(context.Background(), tradesFor("00000004000100"))
	require.NoError(t, err)

	require.Len(t, w.writes, 1)
	assert.True(t, w.writes[0].isFirst, "a batch with no output does not consume the replace")
	assert.Equal(t, 1, res.BatchesWritten)
}

func TestRun_StartOffsetAppends(t *testing.T) {
	reg := newMemRegistry(10)
	w := &memWriter{}

	cfg := testConfig(3, 2)
	cfg.StartOffset = 6
	res, err := New(reg, w, cfg).Run(context.Background(), tradesFor("00000007000100"))
	require.NoError(t, err)

	require.Len(t, w.writes, 1)
	assert.False(t, w.writes[0].isFirst)
	assert.Equal(t, 2, res.Chunks)
	assert.Zero(t, reg.reads[0])
	assert.Equal(t, 1, reg.reads[6])
	assert.Equal(t, 1, reg.reads[9])
}

func TestRun_Checkpoints(t *testing.T) {
	reg := newMemRegistry(10)
	var got []Progress

	cp := CheckpointFunc(func(_ context.Context, p Progress) error {
		got = append(got, p)
		return nil
	})
	_, err := New(reg, &memWriter{}, testConfig(3, 2), WithCheckpointer(cp)).Run(context.Background(), tradesFor("x"))
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, Progress{NextOffset: 6, RowsWritten: 2, BatchesWritten: 1}, got[0])
	assert.Equal(t, Progress{NextOffset: 12, RowsWritten: 4, BatchesWritten: 2}, got[1])
}

func TestRun_CheckpointErrorIsNotFatal(t *testing.T) {
	cp := CheckpointFunc(func(context.Context, Progress) error { return errors.New("runlog down") })

	res, err := New(newMemRegistry(3), &memWriter{}, testConfig(3, 1), WithCheckpointer(cp)).
		Run(context.Background(), tradesFor("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.BatchesWritten)
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &memWriter{}
	_, err := New(newMemRegistry(10), w, testConfig(3, 2)).Run(ctx, tradesFor("x"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, w.writes)
}

func TestRun_ParallelMatchesSequential(t *testing.T) {
	defer goleak.VerifyNone(t)

	trades := tradesFor("00000001000100", "00000013000199", "00000025", "", "00000040000100")

	run := func(workers int) []write {
		reg := newMemRegistry(40)
		reg.failures[9] = []error{errors.New("bad window")}
		w := &memWriter{}
		cfg := testConfig(3, 4)
		cfg.Workers = workers
		_, err := New(reg, w, cfg).Run(context.Background(), trades)
		require.NoError(t, err)
		return w.writes
	}

	seq := run(1)
	par := run(4)
	require.Equal(t, len(seq), len(par))
	for i := range seq {
		assert.Equal(t, seq[i].isFirst, par[i].isFirst)
		assert.Equal(t, seq[i].table.Rows, par[i].table.Rows, "batch %d", i)
	}
}

func TestRun_EveryTradeMatchedOnceAcrossWindows(t *testing.T) {
	reg := newMemRegistry(20)
	w := &memWriter{}
	trades := tradesFor("00000003000100", "00000011000100", "00000019000100")

	_, err := New(reg, w, testConfig(4, 2)).Run(context.Background(), trades)
	require.NoError(t, err)

	matched := map[string]int{}
	var total int
	for _, wr := range w.writes {
		for i := range wr.table.Rows {
			total++
			if wr.table.Value(i, match.ColRegistryMatched) == true {
				matched[wr.table.Value(i, match.TradePrefix+model.ColRecordKey).(string)]++
			}
		}
	}
	assert.Equal(t, 5*len(trades), total)
	assert.Equal(t, map[string]int{"k0": 1, "k1": 1, "k2": 1}, matched)
}

func TestChunkOffsets(t *testing.T) {
	assert.Equal(t, []int64{0, 3, 6, 9}, chunkOffsets(0, 10, 3))
	assert.Equal(t, []int64{0, 5}, chunkOffsets(0, 10, 5))
	assert.Equal(t, []int64{6, 9}, chunkOffsets(6, 10, 3))
	assert.Nil(t, chunkOffsets(0, 0, 3))
	assert.Nil(t, chunkOffsets(12, 10, 3))
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{StartOffset: -4}.withDefaults()
	assert.Equal(t, DefaultChunkSize, cfg.ChunkSize)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, DefaultFallbackTotal, cfg.FallbackTotal)
	assert.Equal(t, 1, cfg.Workers)
	assert.Zero(t, cfg.StartOffset)
}
