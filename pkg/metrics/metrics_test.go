package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderFromConfig(t *testing.T) {
	// Disabled or unknown providers fall back to no-op
	p := NewProviderFromConfig(Config{Enabled: false, Provider: "prometheus"})
	assert.IsType(t, &NoOpProvider{}, p)

	p = NewProviderFromConfig(Config{Enabled: true, Provider: "bogus"})
	assert.IsType(t, &NoOpProvider{}, p)
}

func TestGlobalProviderDefaultsToNoOp(t *testing.T) {
	original := globalProvider
	defer SetProvider(original)

	SetProvider(nil)
	assert.IsType(t, &NoOpProvider{}, GetProvider())

	noop := &NoOpProvider{}
	SetProvider(noop)
	assert.Equal(t, noop, GetProvider())
}

func TestNoOpMiddlewarePassesThrough(t *testing.T) {
	p := &NoOpProvider{}

	handler := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

// The prometheus provider registers its vectors in the default registry, so it
// is constructed once for the whole package.
func TestPrometheusProvider(t *testing.T) {
	p := NewPrometheusProvider()
	require.NotNil(t, p.Handler())

	// None of these may panic with arbitrary label values
	p.RecordHTTPRequest("GET", "/sse/SystemNotification", "200", 5*time.Millisecond)
	p.IncRequestsInFlight()
	p.DecRequestsInFlight()
	p.RecordDBQuery("insert", "event", time.Millisecond, nil)
	p.RecordDBQuery("insert", "event", time.Millisecond, assert.AnError)
	p.RecordEventCreated("SystemNotification")
	p.RecordEventDistributed("SystemNotification")
	p.RecordEventDropped("SystemNotification", "queue_full")
	p.RecordEventRecovered("SystemNotification")
	p.UpdateQueueDepth(3)
	p.UpdateOpenStreams(2)
	p.UpdateConnectedUsers(1)
	p.RecordPanic("TestLocation")

	t.Run("middleware records and preserves status", func(t *testing.T) {
		handler := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("metrics endpoint serves the registry", func(t *testing.T) {
		rec := httptest.NewRecorder()
		p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "sse_events_created_total")
	})
}
