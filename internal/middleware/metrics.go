package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Upstream metrics
	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsync_upstream_requests_total",
		Help: "Total number of upstream requests",
	}, []string{"source", "status"})

	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketsync_upstream_request_duration_seconds",
		Help:    "Duration of upstream requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	upstreamRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsync_upstream_retries_total",
		Help: "Total number of retried upstream requests",
	}, []string{"source", "kind"})

	fallbacksServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsync_fallbacks_served_total",
		Help: "Total number of reads answered with stale or seed data",
	}, []string{"dataset", "origin"})

	// Cache metrics
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsync_cache_hits_total",
		Help: "Total number of cache hits",
	}, []string{"dataset"})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsync_cache_misses_total",
		Help: "Total number of cache misses",
	}, []string{"dataset"})

	// Polling metrics
	pollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsync_poll_cycles_total",
		Help: "Total number of poll cycles",
	}, []string{"outcome"})

	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketsync_poll_cycle_duration_seconds",
		Help:    "Duration of poll cycles",
		Buckets: prometheus.DefBuckets,
	})

	online = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketsync_online",
		Help: "1 when upstream connectivity is available",
	})

	unreadNews = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketsync_unread_news",
		Help: "Number of news items newer than the last acknowledged one",
	})

	// Chat metrics
	chatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsync_chat_requests_total",
		Help: "Total number of chat requests",
	}, []string{"provider", "status"})

	chatDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketsync_chat_request_duration_seconds",
		Help:    "Duration of chat requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	// API metrics
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsync_http_requests_total",
		Help: "Total number of API requests",
	}, []string{"route", "code"})

	rateLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketsync_rate_limit_exceeded_total",
		Help: "Total number of API requests rejected by the rate limiter",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordUpstream records one upstream call
func (m *Metrics) RecordUpstream(source, status string, duration time.Duration) {
	upstreamRequests.WithLabelValues(source, status).Inc()
	upstreamDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordRetry records a retried upstream call
func (m *Metrics) RecordRetry(source, kind string) {
	upstreamRetries.WithLabelValues(source, kind).Inc()
}

// RecordFallback records a read served from stale cache or seed data
func (m *Metrics) RecordFallback(dataset, origin string) {
	fallbacksServed.WithLabelValues(dataset, origin).Inc()
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit(dataset string) {
	cacheHits.WithLabelValues(dataset).Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss(dataset string) {
	cacheMisses.WithLabelValues(dataset).Inc()
}

// RecordPollCycle records a finished, skipped or discarded poll cycle
func (m *Metrics) RecordPollCycle(outcome string, duration time.Duration) {
	pollCycles.WithLabelValues(outcome).Inc()
	if duration > 0 {
		pollDuration.Observe(duration.Seconds())
	}
}

// SetOnline sets the connectivity gauge
func (m *Metrics) SetOnline(up bool) {
	if up {
		online.Set(1)
		return
	}
	online.Set(0)
}

// SetUnread sets the unread news gauge
func (m *Metrics) SetUnread(count int) {
	unreadNews.Set(float64(count))
}

// RecordChat records a chat request
func (m *Metrics) RecordChat(provider, status string, duration time.Duration) {
	chatRequests.WithLabelValues(provider, status).Inc()
	chatDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordHTTPRequest records an API request
func (m *Metrics) RecordHTTPRequest(route string, code int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// RecordRateLimitExceeded records a rate limit exceeded event
func (m *Metrics) RecordRateLimitExceeded() {
	rateLimitExceeded.Inc()
}

// NewMetricsServer builds the metrics HTTP server
func NewMetricsServer(port int, path string) *http.Server {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// ShutdownServer stops srv, waiting at most timeout for open requests.
func ShutdownServer(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
