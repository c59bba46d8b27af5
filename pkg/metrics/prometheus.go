package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusProvider implements the Provider interface using Prometheus
type PrometheusProvider struct {
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	requestsInFlight  prometheus.Gauge
	dbQueryDuration   *prometheus.HistogramVec
	dbQueryTotal      *prometheus.CounterVec
	eventsCreated     *prometheus.CounterVec
	eventsDistributed *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	eventsRecovered   *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	openStreams       prometheus.Gauge
	connectedUsers    prometheus.Gauge
	panicsTotal       *prometheus.CounterVec
}

// NewPrometheusProvider creates a new Prometheus metrics provider
func NewPrometheusProvider() *PrometheusProvider {
	return &PrometheusProvider{
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),
		dbQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Event store query duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),
		dbQueryTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_queries_total",
				Help: "Total number of event store queries",
			},
			[]string{"operation", "table", "status"},
		),
		eventsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_created_total",
				Help: "Total number of events persisted via create",
			},
			[]string{"event_type"},
		),
		eventsDistributed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_distributed_total",
				Help: "Total number of events fanned out to mailboxes",
			},
			[]string{"event_type"},
		),
		eventsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_dropped_total",
				Help: "Total number of events dropped before delivery",
			},
			[]string{"event_type", "reason"},
		),
		eventsRecovered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_recovered_total",
				Help: "Total number of events re-delivered from the store on reconnect",
			},
			[]string{"event_type"},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_event_queue_depth",
				Help: "Current depth of the central event queue",
			},
		),
		openStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_open_streams",
				Help: "Current number of open SSE streams",
			},
		),
		connectedUsers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_connected_users",
				Help: "Current number of distinct users with at least one stream",
			},
		),
		panicsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panics_recovered_total",
				Help: "Total number of panics recovered",
			},
			[]string{"location"},
		),
	}
}

// ResponseWriter wraps http.ResponseWriter to capture status code
type ResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rw *ResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes flushes through so streaming handlers keep working when wrapped
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RecordHTTPRequest implements Provider interface
func (p *PrometheusProvider) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	p.requestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	p.requestTotal.WithLabelValues(method, path, status).Inc()
}

// IncRequestsInFlight implements Provider interface
func (p *PrometheusProvider) IncRequestsInFlight() {
	p.requestsInFlight.Inc()
}

// DecRequestsInFlight implements Provider interface
func (p *PrometheusProvider) DecRequestsInFlight() {
	p.requestsInFlight.Dec()
}

// RecordDBQuery implements Provider interface
func (p *PrometheusProvider) RecordDBQuery(operation, table string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.dbQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	p.dbQueryTotal.WithLabelValues(operation, table, status).Inc()
}

// RecordEventCreated implements Provider interface
func (p *PrometheusProvider) RecordEventCreated(eventType string) {
	p.eventsCreated.WithLabelValues(eventType).Inc()
}

// RecordEventDistributed implements Provider interface
func (p *PrometheusProvider) RecordEventDistributed(eventType string) {
	p.eventsDistributed.WithLabelValues(eventType).Inc()
}

// RecordEventDropped implements Provider interface
func (p *PrometheusProvider) RecordEventDropped(eventType, reason string) {
	p.eventsDropped.WithLabelValues(eventType, reason).Inc()
}

// RecordEventRecovered implements Provider interface
func (p *PrometheusProvider) RecordEventRecovered(eventType string) {
	p.eventsRecovered.WithLabelValues(eventType).Inc()
}

// UpdateQueueDepth implements Provider interface
func (p *PrometheusProvider) UpdateQueueDepth(depth int) {
	p.queueDepth.Set(float64(depth))
}

// UpdateOpenStreams implements Provider interface
func (p *PrometheusProvider) UpdateOpenStreams(count int) {
	p.openStreams.Set(float64(count))
}

// UpdateConnectedUsers implements Provider interface
func (p *PrometheusProvider) UpdateConnectedUsers(count int) {
	p.connectedUsers.Set(float64(count))
}

// RecordPanic implements Provider interface
func (p *PrometheusProvider) RecordPanic(location string) {
	p.panicsTotal.WithLabelValues(location).Inc()
}

// Handler implements Provider interface
func (p *PrometheusProvider) Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that collects metrics
func (p *PrometheusProvider) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Increment in-flight requests
		p.IncRequestsInFlight()
		defer p.DecRequestsInFlight()

		// Wrap response writer to capture status code
		rw := NewResponseWriter(w)

		// Call next handler
		next.ServeHTTP(rw, r)

		// Record metrics
		duration := time.Since(start)
		status := strconv.Itoa(rw.statusCode)

		p.RecordHTTPRequest(r.Method, r.URL.Path, status, duration)
	})
}
