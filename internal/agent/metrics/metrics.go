// Package metrics holds the Prometheus instruments of the router. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns its registry so tests can build as many as they like.
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	routingDecisions *prometheus.CounterVec
	childFailures    *prometheus.CounterVec

	generations        *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	generationCost     *prometheus.CounterVec

	memoryJobs *prometheus.CounterVec
}

func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "route"},
		),
		routingDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routing_decisions_total",
				Help:      "Routing decisions by router and outcome (single, fanout, ambiguous)",
			},
			[]string{"router", "outcome"},
		),
		childFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routing_child_failures_total",
				Help:      "Dispatched children that failed, by error kind",
			},
			[]string{"router", "child", "kind"},
		),
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_calls_total",
				Help:      "Generation backend calls by model and outcome",
			},
			[]string{"backend", "outcome"},
		),
		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Generation backend call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		generationCost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_cost_usd_total",
				Help:      "Estimated generation cost in USD",
			},
			[]string{"backend"},
		),
		memoryJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memory_jobs_total",
				Help:      "Memory extraction jobs by outcome (stored, empty, failed, dropped)",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.routingDecisions,
		c.childFailures,
		c.generations,
		c.generationDuration,
		c.generationCost,
		c.memoryJobs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) RoutingDecision(router, outcome string) {
	if c == nil {
		return
	}
	c.routingDecisions.WithLabelValues(router, outcome).Inc()
}

func (c *Collector) ChildFailure(router, child, kind string) {
	if c == nil {
		return
	}
	c.childFailures.WithLabelValues(router, child, kind).Inc()
}

func (c *Collector) ObserveGeneration(backend, outcome string, d time.Duration, costUSD float64) {
	if c == nil {
		return
	}
	c.generations.WithLabelValues(backend, outcome).Inc()
	c.generationDuration.WithLabelValues(backend).Observe(d.Seconds())
	if costUSD > 0 {
		c.generationCost.WithLabelValues(backend).Add(costUSD)
	}
}

func (c *Collector) MemoryJob(outcome string) {
	if c == nil {
		return
	}
	c.memoryJobs.WithLabelValues(outcome).Inc()
}
