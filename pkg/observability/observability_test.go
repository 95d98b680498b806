package observability

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justjake/querylink/pkg/config"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordQuery("postgres", time.Millisecond, true)
	m.RecordConnect("postgres", time.Millisecond, false)
	m.RecordCheckout(true)
	m.RecordDiscard("transport")
	m.SetCachedConnections(3)
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.RecordQuery("postgres", 10*time.Millisecond, true)
	m.RecordQuery("postgres", 10*time.Millisecond, false)
	m.RecordQuery("sqlite", time.Millisecond, true)
	m.RecordConnect("sqlite", time.Millisecond, true)
	m.RecordCheckout(true)
	m.RecordCheckout(false)
	m.RecordCheckout(false)
	m.RecordDiscard("transport")
	m.SetCachedConnections(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("postgres", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("postgres", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectsTotal.WithLabelValues("sqlite", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CheckoutsTotal.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DiscardedConnectionsTotal.WithLabelValues("transport")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CachedConnections))
	assert.Equal(t, 2, testutil.CollectAndCount(m.QueryDuration))
}

func TestMetricsServer_Disabled(t *testing.T) {
	s := NewMetricsServer(nil, nil, slog.Default())
	assert.False(t, s.Enabled())
	assert.NoError(t, s.Start())
	assert.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, "MetricsServer(disabled)", s.String())
}

func TestMetricsServer_Serves(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "querylink")
	m.RecordCheckout(true)

	s := NewMetricsServer(&config.PrometheusConfig{Listen: "127.0.0.1:0"}, reg, slog.Default())
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `querylink_checkouts_total{result="hit"} 1`)
}
