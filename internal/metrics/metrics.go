// Package metrics owns the Prometheus collectors for the service. Every
// component receives a *Metrics and records through its methods so metric
// names and label sets stay in one place.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tier labels for cache metrics.
const (
	TierFast    = "fast"
	TierDurable = "durable"
)

// Metrics holds all collectors behind a private registry so tests can
// instantiate as many independent copies as they like.
type Metrics struct {
	registry *prometheus.Registry

	scrapeDuration *prometheus.HistogramVec
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	tokensUsed     *prometheus.CounterVec
	apiCalls       *prometheus.CounterVec
	poolWorkers    *prometheus.GaugeVec
	activeRuns     prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New builds a Metrics with a fresh registry, process and Go collectors
// included.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		scrapeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraping_duration_ms",
			Help:    "Wall-clock duration of full-site scrapes in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(250, 2, 11),
		}, []string{"domain"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Cache hits by tier.",
		}, []string{"tier"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Cache misses by tier.",
		}, []string{"tier"}),
		tokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openai_tokens_used_total",
			Help: "Total tokens consumed by OpenAI calls.",
		}, []string{"model", "endpoint"}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openai_api_calls_total",
			Help: "OpenAI API calls by outcome.",
		}, []string{"model", "endpoint", "status"}),
		poolWorkers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "browser_pool_workers",
			Help: "Browser pool workers by state.",
		}, []string{"state"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_runs",
			Help: "Number of active, unexpired runs.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.scrapeDuration,
		m.cacheHits,
		m.cacheMisses,
		m.tokensUsed,
		m.apiCalls,
		m.poolWorkers,
		m.activeRuns,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveScrape records one completed scrape for a domain.
func (m *Metrics) ObserveScrape(domain string, d time.Duration) {
	m.scrapeDuration.WithLabelValues(domain).Observe(float64(d.Milliseconds()))
}

// CacheHit increments the hit counter for a tier.
func (m *Metrics) CacheHit(tier string) {
	m.cacheHits.WithLabelValues(tier).Inc()
}

// CacheMiss increments the miss counter for a tier.
func (m *Metrics) CacheMiss(tier string) {
	m.cacheMisses.WithLabelValues(tier).Inc()
}

// AddTokens records token consumption for one OpenAI call.
func (m *Metrics) AddTokens(model, endpoint string, tokens int) {
	if tokens <= 0 {
		return
	}
	m.tokensUsed.WithLabelValues(model, endpoint).Add(float64(tokens))
}

// RecordAPICall records one OpenAI call outcome. status is "success",
// "error", or "timeout".
func (m *Metrics) RecordAPICall(model, endpoint, status string) {
	m.apiCalls.WithLabelValues(model, endpoint, status).Inc()
}

// SetPoolWorkers publishes the browser pool occupancy gauges.
func (m *Metrics) SetPoolWorkers(total, inUse, available int) {
	m.poolWorkers.WithLabelValues("total").Set(float64(total))
	m.poolWorkers.WithLabelValues("in_use").Set(float64(inUse))
	m.poolWorkers.WithLabelValues("available").Set(float64(available))
}

// SetActiveRuns publishes the active-run gauge.
func (m *Metrics) SetActiveRuns(n int) {
	m.activeRuns.Set(float64(n))
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, route, code).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
