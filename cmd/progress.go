package main

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// progressObserver renders registry windows as they finish. The registry
// size is only known to the orchestrator, so the bar counts windows.
type progressObserver struct {
	bar     *progressbar.ProgressBar
	batches atomic.Int64
	rows    atomic.Int64
}

func newProgressObserver(w io.Writer) *progressObserver {
	return &progressObserver{
		bar: progressbar.NewOptions64(-1,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("matching registry windows"),
			progressbar.OptionSetItsString("windows"),
			progressbar.OptionShowIts(),
			progressbar.OptionShowCount(),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionOnCompletion(func() {
				_, _ = fmt.Fprintln(w)
			}),
		),
	}
}

func (p *progressObserver) step() {
	if err := p.bar.Add(1); err != nil {
		zap.L().Debug("progress bar update failed", zap.Error(err))
	}
}

func (p *progressObserver) ChunkMatched(int64, int)          { p.step() }
func (p *progressObserver) ChunkEmpty(int64)                 { p.step() }
func (p *progressObserver) ChunkSkipped(int64, int64, error) { p.step() }

func (p *progressObserver) BatchWritten(rows int, _ time.Duration) {
	b := p.batches.Add(1)
	r := p.rows.Add(int64(rows))
	p.bar.Describe(fmt.Sprintf("matching registry windows (%d batches, %d rows written)", b, r))
}

func (p *progressObserver) Finish() {
	_ = p.bar.Finish()
}
