package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineBatchDispatched(t *testing.T) {
	t.Parallel()

	reg := New()
	e := NewEngine(reg)

	e.BatchDispatched("kp1", 3)
	e.BatchDispatched("kp1", 1)

	assert.Equal(t, float64(2), testutil.ToFloat64(e.batches.WithLabelValues("kp1")))
}

func TestEngineQueueDepthGauge(t *testing.T) {
	t.Parallel()

	reg := New()
	e := NewEngine(reg)

	e.QueueDepth("kp1", 5)
	assert.Equal(t, float64(5), testutil.ToFloat64(e.queueDepth.WithLabelValues("kp1")))

	e.QueueDepth("kp1", 0)
	assert.Equal(t, float64(0), testutil.ToFloat64(e.queueDepth.WithLabelValues("kp1")))
}

func TestEngineLatencyObservations(t *testing.T) {
	t.Parallel()

	reg := New()
	e := NewEngine(reg)

	e.DispatchLatency("kp1", 10*time.Millisecond)
	e.PaceWait("kp1", 20*time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(e.dispatch))
	assert.Equal(t, 1, testutil.CollectAndCount(e.paceWait))
}

func TestInstrumentRecordsRequest(t *testing.T) {
	t.Parallel()

	reg := New()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{kpID}/meta_knowledge_graph", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(Instrument(reg, mux))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/kp1/meta_knowledge_graph")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNormalizePattern(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/register/:id", normalizePattern("/register/{kpID}"))
	assert.Equal(t, "/:id/query", normalizePattern("/{kpID}/query"))
	assert.Equal(t, "/healthz", normalizePattern("/healthz"))
}
