// Package metrics exposes Prometheus collectors for the HTTP boundary, the
// response cache, outbound integrations and post ingestion.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ObiAU/disasterfeed/internal/cache"
	"github.com/ObiAU/disasterfeed/internal/upstream"
)

const namespace = "disasterfeed"

type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	cacheEvents         *prometheus.CounterVec
	upstreamCalls       *prometheus.CounterVec
	postsIngested       *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg. Tests pass a fresh registry.
func New(reg *prometheus.Registry) *Collector {
	c := &Collector{
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_events_total",
			Help:      "Response cache hits, misses, stores and store errors by operation tag",
		}, []string{"tag", "event"}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_calls_total",
			Help:      "Outbound calls by service and result kind",
		}, []string{"service", "result"}),
		postsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_ingested_total",
			Help:      "Newly stored social posts by source",
		}, []string{"source"}),
		gatherer: reg,
	}

	reg.MustRegister(c.httpRequestsTotal, c.httpRequestDuration, c.cacheEvents, c.upstreamCalls, c.postsIngested)
	return c
}

func (c *Collector) CacheHooks() cache.MetricsHooks {
	event := func(name string) func(string) {
		return func(tag string) {
			c.cacheEvents.WithLabelValues(tag, name).Inc()
		}
	}
	return cache.MetricsHooks{
		OnHit:   event("hit"),
		OnMiss:  event("miss"),
		OnStore: event("store"),
		OnError: event("error"),
	}
}

func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unknown"
	}
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveUpstream counts one outbound call; the result label is "ok" or the
// error kind.
func (c *Collector) ObserveUpstream(service string, err error) {
	result := "ok"
	if err != nil {
		result = upstream.Kind(err)
	}
	c.upstreamCalls.WithLabelValues(service, result).Inc()
}

func (c *Collector) PostsIngested(source string, n int) {
	if n > 0 {
		c.postsIngested.WithLabelValues(source).Add(float64(n))
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
