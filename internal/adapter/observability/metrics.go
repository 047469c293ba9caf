package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	EventsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_events_received_total",
			Help: "Total upstream events received by the ingestion bridge",
		},
		[]string{"type"},
	)
	EventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_events_dropped_total",
			Help: "Events dropped because the inbound queue was full",
		},
	)
	EventsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_events_processed_total",
			Help: "Events fully processed by the worker pool",
		},
		[]string{"type"},
	)
	EventsDedupedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_events_deduped_total",
			Help: "Events skipped because their seq was at or below the cursor",
		},
	)
	InboundQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_inbound_queue_depth",
			Help: "Current depth of the inbound event queue",
		},
	)
	BroadcastClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_broadcast_clients",
			Help: "Number of live downstream subscribers",
		},
	)
	BroadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_broadcasts_total",
			Help: "Total broadcast fan-out passes",
		},
	)

	BulkBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_batches_total",
			Help: "Bulk enrichment batches by outcome",
		},
		[]string{"outcome"},
	)
	BulkItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_items_total",
			Help: "Bulk enrichment items by outcome",
		},
		[]string{"outcome"},
	)
)

// InitMetrics registers all Prometheus collectors. Call once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(AIRequestsTotal)
	prometheus.MustRegister(AIRequestDuration)
	prometheus.MustRegister(EventsReceivedTotal)
	prometheus.MustRegister(EventsDroppedTotal)
	prometheus.MustRegister(EventsProcessedTotal)
	prometheus.MustRegister(EventsDedupedTotal)
	prometheus.MustRegister(InboundQueueDepth)
	prometheus.MustRegister(BroadcastClients)
	prometheus.MustRegister(BroadcastsTotal)
	prometheus.MustRegister(BulkBatchesTotal)
	prometheus.MustRegister(BulkItemsTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObserveAIRequest records one predictor call.
func ObserveAIRequest(operation string, dur time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	AIRequestsTotal.WithLabelValues(operation, outcome).Inc()
	AIRequestDuration.WithLabelValues(operation).Observe(dur.Seconds())
}
