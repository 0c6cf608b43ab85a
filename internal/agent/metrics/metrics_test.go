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

func TestCollector_Records(t *testing.T) {
	c := NewCollector("test")

	c.RoutingDecision("main", "fanout")
	c.RoutingDecision("main", "fanout")
	c.ChildFailure("main", "cards", "backend_timeout")
	c.MemoryJob("dropped")
	c.ObserveGeneration("responder", "ok", 150*time.Millisecond, 0.002)
	c.ObserveHTTP(http.MethodPost, "/chat", http.StatusOK, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.routingDecisions.WithLabelValues("main", "fanout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.childFailures.WithLabelValues("main", "cards", "backend_timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.memoryJobs.WithLabelValues("dropped")))
	assert.InDelta(t, 0.002, testutil.ToFloat64(c.generationCost.WithLabelValues("responder")), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues(http.MethodPost, "/chat", "200")))
}

func TestCollector_IndependentRegistries(t *testing.T) {
	a, b := NewCollector("test"), NewCollector("test")
	a.MemoryJob("stored")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.memoryJobs.WithLabelValues("stored")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RoutingDecision("main", "single")
		c.ChildFailure("main", "cards", "internal")
		c.MemoryJob("failed")
		c.ObserveGeneration("responder", "error", time.Second, 1)
		c.ObserveHTTP(http.MethodGet, "/", http.StatusOK, time.Millisecond)
	})
	assert.Nil(t, c.Registry())
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("banking")
	c.RoutingDecision("cards", "single")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `banking_routing_decisions_total{outcome="single",router="cards"} 1`)
}
