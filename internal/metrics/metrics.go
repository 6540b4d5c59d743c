// Package metrics wires prometheus counters/gauges/histograms for the
// throttle package's per-KP batching and pacing activity, plus HTTP
// instrumentation for the handler surface, generalizing the teacher's
// controllerMetrics/cacheMetrics split.
package metrics

import (
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const _namespace = "trapi_throttle"

// _patternRE strips `{...}` path segments so dynamic routes collapse to one
// metrics label instead of one per kp_id.
var _patternRE = regexp.MustCompile(`\{[^/]+\}`)

// New creates a prometheus registry with the default collectors already
// registered, matching the teacher's NewMetrics.
func New() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: _namespace}),
		collectors.NewBuildInfoCollector(),
	)
	return reg
}

// Engine implements throttle.Metrics.
type Engine struct {
	batches    *prometheus.CounterVec
	batchSize  *prometheus.HistogramVec
	queueDepth *prometheus.GaugeVec
	dispatch   *prometheus.HistogramVec
	paceWait   *prometheus.HistogramVec
}

// NewEngine registers and returns the engine-level metric collectors.
func NewEngine(reg *prometheus.Registry) *Engine {
	e := &Engine{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: _namespace,
			Subsystem: "engine",
			Name:      "batches_dispatched_total",
			Help:      "Count of upstream batch dispatches per KP.",
		}, []string{"kp_id"}),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: _namespace,
			Subsystem: "engine",
			Name:      "batch_size",
			Help:      "Number of client requests merged per dispatched batch.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 55},
		}, []string{"kp_id"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: _namespace,
			Subsystem: "engine",
			Name:      "queue_depth",
			Help:      "Number of PendingRequests waiting in an engine's queue.",
		}, []string{"kp_id"}),
		dispatch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: _namespace,
			Subsystem: "engine",
			Name:      "dispatch_latency_seconds",
			Help:      "Upstream POST latency per batch dispatch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kp_id"}),
		paceWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: _namespace,
			Subsystem: "engine",
			Name:      "pace_wait_seconds",
			Help:      "Time spent sleeping to honor the GCRA rate limit.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kp_id"}),
	}
	if reg != nil {
		reg.MustRegister(e.batches, e.batchSize, e.queueDepth, e.dispatch, e.paceWait)
	}
	return e
}

// BatchDispatched implements throttle.Metrics.
func (e *Engine) BatchDispatched(kpID string, size int) {
	e.batches.WithLabelValues(kpID).Inc()
	e.batchSize.WithLabelValues(kpID).Observe(float64(size))
}

// QueueDepth implements throttle.Metrics.
func (e *Engine) QueueDepth(kpID string, depth int) {
	e.queueDepth.WithLabelValues(kpID).Set(float64(depth))
}

// DispatchLatency implements throttle.Metrics.
func (e *Engine) DispatchLatency(kpID string, d time.Duration) {
	e.dispatch.WithLabelValues(kpID).Observe(d.Seconds())
}

// PaceWait implements throttle.Metrics.
func (e *Engine) PaceWait(kpID string, d time.Duration) {
	e.paceWait.WithLabelValues(kpID).Observe(d.Seconds())
}

// Instrument wraps next with request latency and in-flight gauges, the way
// the teacher's instrument() does for its own HTTP surface.
func Instrument(reg *prometheus.Registry, next http.Handler) http.Handler {
	requests := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: _namespace,
		Subsystem: "http",
		Name:      "requests_seconds",
		Help:      "HTTP request latencies by method & path.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 1.5, 2.5, 5, 10, 30},
	}, []string{"method", "path", "status"})

	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: _namespace,
		Subsystem: "http",
		Name:      "inflight",
		Help:      "Current number of inbound in-flight HTTP requests.",
	})

	reg.MustRegister(requests, inflight)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		inflight.Inc()
		defer inflight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := normalizePattern(r.Pattern)
		if path == "" {
			return
		}

		requests.WithLabelValues(r.Method, path, fmt.Sprint(ww.Status())).Observe(time.Since(start).Seconds())
	})
}

// normalizePattern collapses "/register/{kpID}" into "/register/:id" so
// distinct kp_ids don't each get their own HTTP metrics label.
func normalizePattern(pattern string) string {
	return _patternRE.ReplaceAllString(pattern, ":id")
}
