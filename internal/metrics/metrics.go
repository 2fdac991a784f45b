// Package metrics exports enrichment progress to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chunk outcome label values.
const (
	StatusMatched = "matched"
	StatusEmpty   = "empty"
	StatusSkipped = "skipped"
)

// Metrics holds the enrichment collectors. It implements enrich.Observer.
type Metrics struct {
	ChunksTotal   *prometheus.CounterVec
	RowsMatched   prometheus.Counter
	RowsWritten   prometheus.Counter
	BatchesTotal  prometheus.Counter
	BatchDuration prometheus.Histogram
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChunksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "comex_enrich_chunks_total",
			Help: "Registry windows processed, by outcome",
		}, []string{"status"}),
		RowsMatched: f.NewCounter(prometheus.CounterOpts{
			Name: "comex_enrich_rows_matched_total",
			Help: "Enriched rows produced by matched registry windows",
		}),
		RowsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "comex_enrich_rows_written_total",
			Help: "Enriched rows persisted to the destination relation",
		}),
		BatchesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "comex_enrich_batches_total",
			Help: "Batches persisted to the destination relation",
		}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "comex_enrich_batch_duration_seconds",
			Help:    "Time spent writing one batch",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

func (m *Metrics) ChunkMatched(_ int64, rows int) {
	if m == nil {
		return
	}
	m.ChunksTotal.WithLabelValues(StatusMatched).Inc()
	m.RowsMatched.Add(float64(rows))
}

func (m *Metrics) ChunkEmpty(int64) {
	if m == nil {
		return
	}
	m.ChunksTotal.WithLabelValues(StatusEmpty).Inc()
}

func (m *Metrics) ChunkSkipped(int64, int64, error) {
	if m == nil {
		return
	}
	m.ChunksTotal.WithLabelValues(StatusSkipped).Inc()
}

func (m *Metrics) BatchWritten(rows int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BatchesTotal.Inc()
	m.RowsWritten.Add(float64(rows))
	m.BatchDuration.Observe(elapsed.Seconds())
}
