// Package metrics provides Prometheus instrumentation for the aggregator.
//
// Metrics registered here:
//
//	iptvmerge_fetch_attempts_total        counter: provider fetch attempts by outcome
//	iptvmerge_provider_failures_total     counter: providers that yielded nothing, by origin
//	iptvmerge_fetch_duration_seconds      histogram: whole-provider fetch time including retries
//	iptvmerge_batches_total               counter: aggregation batches by result
//	iptvmerge_catalog_channels            gauge: logical channels in the last catalog
//	iptvmerge_proxy_pool_size             gauge: proxies in the current pool
//	iptvmerge_http_requests_total         counter: API requests by method/route/status
//	iptvmerge_http_request_duration_secs  histogram: API latency by method/route
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FetchAttempts counts attempts by outcome: ok, unreachable, protocol, error.
var FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptvmerge_fetch_attempts_total",
	Help: "Provider fetch attempts by outcome.",
}, []string{"outcome"})

// ProviderFailures counts providers that contributed nothing, by origin.
var ProviderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptvmerge_provider_failures_total",
	Help: "Providers that failed terminally, by origin.",
}, []string{"origin"})

// FetchDuration is the wall time of one provider fetch including retries.
var FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "iptvmerge_fetch_duration_seconds",
	Help:    "Provider fetch time including retries.",
	Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 45, 90},
})

// Batches counts aggregation batches by result: ok, partial, empty.
var Batches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptvmerge_batches_total",
	Help: "Aggregation batches by result.",
}, []string{"result"})

// CatalogChannels is the logical channel count of the last catalog built.
var CatalogChannels = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "iptvmerge_catalog_channels",
	Help: "Logical channels in the most recent catalog.",
})

// ProxyPoolSize is the number of proxies in the current pool.
var ProxyPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "iptvmerge_proxy_pool_size",
	Help: "Proxies in the current egress pool.",
})

// HTTPRequests counts API requests by method, route and status.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptvmerge_http_requests_total",
	Help: "Total HTTP requests handled.",
}, []string{"method", "route", "status"})

// HTTPDuration tracks API latency.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "iptvmerge_http_request_duration_seconds",
	Help:    "HTTP request latency in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "route"})

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency labelled by the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
