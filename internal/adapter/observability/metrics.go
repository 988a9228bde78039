// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

type routeTemplateKey struct{}

// RouteTemplateHolder carries a matched route's template through the
// request context so an outer middleware can read a value a downstream
// dispatcher sets, mirroring chi's own RouteContext pointer idiom: the
// holder is installed by HTTPMetricsMiddleware before calling next, and
// the pipeline's dispatcher (§4.2 lookup) fills in Template after a
// successful route match.
type RouteTemplateHolder struct {
	Template string
}

// WithRouteTemplate installs an empty holder in ctx for a downstream
// dispatcher to fill in once it matches a route.
func WithRouteTemplate(ctx context.Context) (context.Context, *RouteTemplateHolder) {
	h := &RouteTemplateHolder{}
	return context.WithValue(ctx, routeTemplateKey{}, h), h
}

// RouteTemplateFrom returns the holder installed by WithRouteTemplate, if any.
func RouteTemplateFrom(ctx context.Context) *RouteTemplateHolder {
	h, _ := ctx.Value(routeTemplateKey{}).(*RouteTemplateHolder)
	return h
}

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// TaskRequestsTotal counts task executions by class and outcome status (§4.6).
	TaskRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_requests_total",
			Help: "Total number of task executions by class and status",
		},
		[]string{"class", "status"},
	)
	// TaskRequestSeconds records task execution duration by class (§4.6).
	TaskRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "task_request_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"class"},
	)

	// PoolCapacity is a gauge of each pool's configured max (§3 pool stats).
	PoolCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "pool_capacity", Help: "Configured pool capacity"},
		[]string{"pool"},
	)
	// PoolCreated is a gauge of handles currently created for a pool.
	PoolCreated = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "pool_created", Help: "Handles currently created"},
		[]string{"pool"},
	)
	// PoolAvailable is a gauge of idle handles sitting in a pool's queue.
	PoolAvailable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "pool_available", Help: "Idle handles available"},
		[]string{"pool"},
	)
	// PoolInUse is a gauge of handles currently checked out of a pool.
	PoolInUse = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "pool_in_use", Help: "Handles currently checked out"},
		[]string{"pool"},
	)

	// CacheSize is a gauge of live entries in the shared cache table (§4.8).
	CacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "cache_table_size", Help: "Entries currently in the shared cache table"},
	)
	// CacheGCRemoved counts entries removed by a GC pass.
	CacheGCRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cache_gc_removed_total", Help: "Entries removed across all GC passes"},
	)
	// CacheHits counts shared-table get hits.
	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cache_hits_total", Help: "Shared cache table get hits"},
	)
	// CacheMisses counts shared-table get misses.
	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cache_misses_total", Help: "Shared cache table get misses"},
	)

	// CircuitBreakerStatus tracks circuit breaker state per backend.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "operation"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(TaskRequestsTotal)
	prometheus.MustRegister(TaskRequestSeconds)
	prometheus.MustRegister(PoolCapacity)
	prometheus.MustRegister(PoolCreated)
	prometheus.MustRegister(PoolAvailable)
	prometheus.MustRegister(PoolInUse)
	prometheus.MustRegister(CacheSize)
	prometheus.MustRegister(CacheGCRemoved)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(CircuitBreakerStatus)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ctx, holder := WithRouteTemplate(r.Context())
		next.ServeHTTP(ww, r.WithContext(ctx))
		dur := time.Since(start).Seconds()
		route := holder.Template
		if route == "" {
			// unmatched route (404, not-ready gate): fall back to the raw path
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// RecordTask records a task execution's outcome and duration (§4.6).
func RecordTask(class, status string, dur time.Duration) {
	TaskRequestsTotal.WithLabelValues(class, status).Inc()
	TaskRequestSeconds.WithLabelValues(class).Observe(dur.Seconds())
}

// RecordPoolStats publishes a pool's current accounting as gauges.
func RecordPoolStats(pool string, capacity, created, available, inUse int) {
	PoolCapacity.WithLabelValues(pool).Set(float64(capacity))
	PoolCreated.WithLabelValues(pool).Set(float64(created))
	PoolAvailable.WithLabelValues(pool).Set(float64(available))
	PoolInUse.WithLabelValues(pool).Set(float64(inUse))
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}
