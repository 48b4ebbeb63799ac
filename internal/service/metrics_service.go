package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic,
// cache usage and the supervision engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	encadrementTransitions *prometheus.CounterVec
	quotaRejections        *prometheus.CounterVec
	transitionSteps        *prometheus.HistogramVec
	notifications          *prometheus.CounterVec
	archiveExports         *prometheus.CounterVec
}

// NewMetricsService registers the Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	encadrementTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "encadrement_transitions_total",
		Help: "Supervision record transitions by target status and outcome",
	}, []string{"operation", "outcome"})

	quotaRejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supervisor_quota_rejections_total",
		Help: "Operations blocked because the supervisor quota was reached",
	}, []string{"operation"})

	transitionSteps := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "year_transition_step_duration_seconds",
		Help:    "Duration of academic year transition steps",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"step", "status"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Notification events by type and delivery outcome",
	}, []string{"type", "outcome"})

	archiveExports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_exports_total",
		Help: "Rendered archive exports by format",
	}, []string{"format"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHits, cacheMisses,
		encadrementTransitions, quotaRejections, transitionSteps, notifications, archiveExports, goroutines)

	return &MetricsService{
		registry:               registry,
		handler:                promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:        requestDuration,
		requestTotal:           requestTotal,
		cacheLatency:           cacheLatency,
		cacheWrite:             cacheWrite,
		cacheHits:              cacheHits,
		cacheMisses:            cacheMisses,
		encadrementTransitions: encadrementTransitions,
		quotaRejections:        quotaRejections,
		transitionSteps:        transitionSteps,
		notifications:          notifications,
		archiveExports:         archiveExports,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordEncadrementTransition counts a supervision operation and whether it succeeded.
func (m *MetricsService) RecordEncadrementTransition(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "rejected"
	}
	m.encadrementTransitions.WithLabelValues(operation, outcome).Inc()
}

// RecordQuotaRejection counts an operation refused by the quota check.
func (m *MetricsService) RecordQuotaRejection(operation string) {
	if m == nil {
		return
	}
	m.quotaRejections.WithLabelValues(operation).Inc()
}

// ObserveTransitionStep records the duration and outcome of one rollover step.
func (m *MetricsService) ObserveTransitionStep(step, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.transitionSteps.WithLabelValues(step, status).Observe(duration.Seconds())
}

// RecordNotification counts a notification delivery attempt.
func (m *MetricsService) RecordNotification(eventType, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(eventType, outcome).Inc()
}

// RecordArchiveExport counts a rendered export.
func (m *MetricsService) RecordArchiveExport(format string) {
	if m == nil {
		return
	}
	m.archiveExports.WithLabelValues(format).Inc()
}
