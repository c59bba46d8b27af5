package metrics

import (
	"net/http"
	"time"

	"github.com/bitechdev/NotifySpec/pkg/logger"
)

// Provider defines the interface for metric collection
type Provider interface {
	// RecordHTTPRequest records metrics for an HTTP request
	RecordHTTPRequest(method, path, status string, duration time.Duration)

	// IncRequestsInFlight increments the in-flight requests counter
	IncRequestsInFlight()

	// DecRequestsInFlight decrements the in-flight requests counter
	DecRequestsInFlight()

	// RecordDBQuery records metrics for an event store query
	RecordDBQuery(operation, table string, duration time.Duration, err error)

	// RecordEventCreated records a persisted event creation
	RecordEventCreated(eventType string)

	// RecordEventDistributed records an event handed to at least one mailbox
	RecordEventDistributed(eventType string)

	// RecordEventDropped records an event dropped on the floor
	// (full central queue, mailbox eviction, expiry at dequeue)
	RecordEventDropped(eventType, reason string)

	// RecordEventRecovered records an event re-materialized from the store on reconnect
	RecordEventRecovered(eventType string)

	// UpdateQueueDepth updates the central queue depth gauge
	UpdateQueueDepth(depth int)

	// UpdateOpenStreams updates the open SSE streams gauge
	UpdateOpenStreams(count int)

	// UpdateConnectedUsers updates the distinct connected users gauge
	UpdateConnectedUsers(count int)

	// RecordPanic records a recovered panic
	RecordPanic(location string)

	// Handler returns an HTTP handler for exposing metrics (e.g., /metrics endpoint)
	Handler() http.Handler

	// Middleware wraps an HTTP handler with request metric collection
	Middleware(next http.Handler) http.Handler
}

// globalProvider is the global metrics provider
var globalProvider Provider

// SetProvider sets the global metrics provider
func SetProvider(p Provider) {
	globalProvider = p
}

// GetProvider returns the current metrics provider
func GetProvider() Provider {
	if globalProvider == nil {
		// Return no-op provider if none is set
		return &NoOpProvider{}
	}
	return globalProvider
}

// NoOpProvider is a no-op implementation of Provider
type NoOpProvider struct{}

func (n *NoOpProvider) RecordHTTPRequest(method, path, status string, duration time.Duration) {}
func (n *NoOpProvider) IncRequestsInFlight()                                                  {}
func (n *NoOpProvider) DecRequestsInFlight()                                                  {}
func (n *NoOpProvider) RecordDBQuery(operation, table string, duration time.Duration, err error) {
}
func (n *NoOpProvider) RecordEventCreated(eventType string)         {}
func (n *NoOpProvider) RecordEventDistributed(eventType string)     {}
func (n *NoOpProvider) RecordEventDropped(eventType, reason string) {}
func (n *NoOpProvider) RecordEventRecovered(eventType string)       {}
func (n *NoOpProvider) UpdateQueueDepth(depth int)                  {}
func (n *NoOpProvider) UpdateOpenStreams(count int)                 {}
func (n *NoOpProvider) UpdateConnectedUsers(count int)              {}
func (n *NoOpProvider) RecordPanic(location string)                 {}
func (n *NoOpProvider) Middleware(next http.Handler) http.Handler {
	return next
}

func (n *NoOpProvider) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Metrics provider not configured"))
		if err != nil {
			logger.Warn("Failed to write. %v", err)
		}
	})
}
