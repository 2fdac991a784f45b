package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/comex-enrich/internal/enrich"
)

var _ enrich.Observer = (*Metrics)(nil)

func TestMetrics_Observer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ChunkMatched(0, 10)
	m.ChunkMatched(25000, 10)
	m.ChunkEmpty(50000)
	m.ChunkSkipped(75000, 25000, errors.New("boom"))
	m.BatchWritten(20, 150*time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.ChunksTotal.WithLabelValues(StatusMatched)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ChunksTotal.WithLabelValues(StatusEmpty)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ChunksTotal.WithLabelValues(StatusSkipped)), 0)
	assert.InDelta(t, 20, testutil.ToFloat64(m.RowsMatched), 0)
	assert.InDelta(t, 20, testutil.ToFloat64(m.RowsWritten), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.BatchesTotal), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.BatchDuration))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ChunkMatched(0, 1)
		m.ChunkEmpty(0)
		m.ChunkSkipped(0, 1, nil)
		m.BatchWritten(1, time.Second)
	})
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.BatchWritten(5, time.Second)

	srv := httptest.NewServer(Router(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "comex_enrich_rows_written_total 5")
	assert.Contains(t, string(body), "comex_enrich_batch_duration_seconds_count 1")
}

func TestServe_StopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, prometheus.NewRegistry()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close() //nolint:errcheck
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServe_BadAddr(t *testing.T) {
	err := Serve(context.Background(), "not-an-addr", prometheus.NewRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics: listen")
}
