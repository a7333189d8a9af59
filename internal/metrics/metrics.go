package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the render cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records render cache lookup calls.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records render cache store attempts.
	CacheOperationStore CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates the lookup reused a cached render.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no cached render was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the lookup failed due to an error.
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a cache store attempt.
type CacheStoreOutcome string

const (
	// CacheStoreStored indicates the rendered image was persisted.
	CacheStoreStored CacheStoreOutcome = "stored"
	// CacheStoreError indicates the store operation failed.
	CacheStoreError CacheStoreOutcome = "error"
)

// UpstreamKind labels which external collaborator a request went to.
type UpstreamKind string

const (
	// UpstreamProfile covers name to UUID lookups on the auth server.
	UpstreamProfile UpstreamKind = "profile"
	// UpstreamSkin covers skin URL lookups on the auth server.
	UpstreamSkin UpstreamKind = "skin"
	// UpstreamTexture covers raw skin image downloads.
	UpstreamTexture UpstreamKind = "texture"
	// UpstreamRender covers calls to the render service.
	UpstreamRender UpstreamKind = "render"
)

// Recorder publishes Prometheus metrics for render pipeline activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	renderRequests *prometheus.CounterVec
	renderLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	upstreamRequests    *prometheus.CounterVec
	admissionRejections *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	renderRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skinrender",
		Subsystem: "render",
		Name:      "requests_total",
		Help:      "Total skin render requests processed by the pipeline.",
	}, []string{"type", "outcome", "status_code", "from_cache"})

	renderLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "skinrender",
		Subsystem: "render",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed skin render requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"type", "outcome"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skinrender",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Render cache operations executed by the pipeline.",
	}, []string{"operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "skinrender",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for render cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"operation", "result"})

	upstreamRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skinrender",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Upstream lookups, downloads, and render calls by collaborator.",
	}, []string{"kind", "outcome"})

	admissionRejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skinrender",
		Subsystem: "admission",
		Name:      "rejections_total",
		Help:      "Requests rejected before any resolution work.",
	}, []string{"reason"})

	reg.MustRegister(renderRequests, renderLatency, cacheOperations, cacheLatency, upstreamRequests, admissionRejections)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:            reg,
		handler:             handler,
		renderRequests:      renderRequests,
		renderLatency:       renderLatency,
		cacheOperations:     cacheOperations,
		cacheLatency:        cacheLatency,
		upstreamRequests:    upstreamRequests,
		admissionRejections: admissionRejections,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveRender records the outcome and latency for a completed skin request.
func (r *Recorder) ObserveRender(renderType, outcome string, statusCode int, fromCache bool, duration time.Duration) {
	if r == nil {
		return
	}
	typeLabel := normalizeLabel(renderType)
	outcomeLabel := normalizeLabel(outcome)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	cacheLabel := "false"
	if fromCache {
		cacheLabel = "true"
	}
	r.renderRequests.WithLabelValues(typeLabel, outcomeLabel, statusLabel, cacheLabel).Inc()
	r.renderLatency.WithLabelValues(typeLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records a render cache lookup and its latency.
func (r *Recorder) ObserveCacheLookup(outcome CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	r.cacheOperations.WithLabelValues(string(CacheOperationLookup), string(outcome)).Inc()
	r.cacheLatency.WithLabelValues(string(CacheOperationLookup), string(outcome)).Observe(duration.Seconds())
}

// ObserveCacheStore records a render cache store attempt and its latency.
func (r *Recorder) ObserveCacheStore(outcome CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	r.cacheOperations.WithLabelValues(string(CacheOperationStore), string(outcome)).Inc()
	r.cacheLatency.WithLabelValues(string(CacheOperationStore), string(outcome)).Observe(duration.Seconds())
}

// ObserveUpstream counts one call to an external collaborator.
func (r *Recorder) ObserveUpstream(kind UpstreamKind, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.upstreamRequests.WithLabelValues(string(kind), outcome).Inc()
}

// ObserveAdmissionRejection counts a request turned away by the request gate.
func (r *Recorder) ObserveAdmissionRejection(reason string) {
	if r == nil {
		return
	}
	r.admissionRejections.WithLabelValues(normalizeLabel(reason)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
