package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveRequest("GET", 200)
	m.ObserveRequest("GET", 200)
	m.ObserveRequest("GET", 429)
	m.ObserveRetry(61 * time.Second)
	m.ObserveWait(10 * time.Second)
	m.ObserveRecords(12)
	m.ObserveMessage("error")
	m.ObserveItem("getAll", "success")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "429")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.waits))
	assert.Equal(t, 71.0, testutil.ToFloat64(m.waitSeconds))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.recordsFetched))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconcileMessage.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.itemResults.WithLabelValues("getAll", "success")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("GET", 200)
	m.ObserveRetry(time.Second)
	m.ObserveWait(time.Second)
	m.ObserveRecords(1)
	m.ObserveMessage("info")
	m.ObserveItem("get", "error")
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveRecords(3)

	path := filepath.Join(t.TempDir(), "exact.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "exact_records_fetched_total 3")
}
