package enrich

import "time"

// Observer receives per-chunk and per-batch events from a run. Calls may
// arrive from several goroutines when Workers > 1.
type Observer interface {
	ChunkMatched(offset int64, rows int)
	ChunkEmpty(offset int64)
	ChunkSkipped(offset, limit int64, err error)
	BatchWritten(rows int, elapsed time.Duration)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) ChunkMatched(int64, int)          {}
func (NopObserver) ChunkEmpty(int64)                 {}
func (NopObserver) ChunkSkipped(int64, int64, error) {}
func (NopObserver) BatchWritten(int, time.Duration)  {}

type multiObserver []Observer

// Observers fans events out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multiObserver) ChunkMatched(offset int64, rows int) {
	for _, o := range m {
		o.ChunkMatched(offset, rows)
	}
}

func (m multiObserver) ChunkEmpty(offset int64) {
	for _, o := range m {
		o.ChunkEmpty(offset)
	}
}

func (m multiObserver) ChunkSkipped(offset, limit int64, err error) {
	for _, o := range m {
		o.ChunkSkipped(offset, limit, err)
	}
}

func (m multiObserver) BatchWritten(rows int, elapsed time.Duration) {
	for _, o := range m {
		o.BatchWritten(rows, elapsed)
	}
}
