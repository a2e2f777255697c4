// Package telemetry provides application-level observability for the GitLab bridge gate.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<GLB_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint returns data in the Prometheus text exposition
// format and is intended to be scraped every 15–60 seconds. It is NOT served by
// the Gin router, so it is never subject to the gate's own middleware chain.
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v4/projects/:id/issues)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments. Gate metrics are labelled by error code and
// operation name, both closed sets.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Gate decision metrics.
//
// TokenValidationsTotal counts every token validation by outcome. The result
// label holds "accepted" or the rejection code (MALFORMED_TOKEN,
// EXPIRED_TOKEN, REVOKED_TOKEN, ...), a closed set.
//
// Example PromQL queries:
//   - Rejection rate by cause:  sum by (result) (rate(token_validations_total{result!="accepted"}[5m]))
//   - Expiry-driven failures:   rate(token_validations_total{result="EXPIRED_TOKEN"}[1h])
var (
	TokenValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_validations_total",
			Help: "Total number of token validations, by outcome.",
		},
		[]string{"result"},
	)

	PermissionDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_denials_total",
			Help: "Total number of permission denials, by operation and denial code.",
		},
		[]string{"operation", "code"},
	)

	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Total number of inbound webhook deliveries, by event type and outcome.",
		},
		[]string{"event", "result"},
	)

	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter, by route template.",
		},
		[]string{"path"},
	)
)

// IntrospectionDuration observes round-trip time of token introspection calls
// to the upstream GitLab instance. A rising p99 here usually precedes a wave
// of REVOKED_TOKEN rejections, because timeouts are treated as revocations.
//
// Example PromQL queries:
//   - p95 introspection latency:  histogram_quantile(0.95, rate(token_introspection_duration_seconds_bucket[5m]))
var IntrospectionDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "token_introspection_duration_seconds",
		Help:    "Duration of token introspection calls to the upstream instance.",
		Buckets: prometheus.DefBuckets,
	},
)

// RateLimitTrackedKeys gauges how many keys the in-memory limiter currently
// tracks. Sampled by StartRateLimitKeyCollector, not per request.
var RateLimitTrackedKeys = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "ratelimit_tracked_keys",
		Help: "Current number of keys tracked by the in-memory rate limiter.",
	},
)

// AuditEntriesTotal counts audit records shipped, by action. A stalled
// counter while gate rejections continue indicates a broken shipper.
var AuditEntriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "audit_entries_total",
		Help: "Total number of audit entries recorded, by action.",
	},
	[]string{"action"},
)

// StartRateLimitKeyCollector launches a background goroutine that samples the
// in-memory limiter key count every 30 seconds and updates the
// RateLimitTrackedKeys gauge. Sampling on a timer rather than per request
// keeps the limiter's hot path free of metric work.
//
// The returned stop function terminates the goroutine; call it during
// graceful shutdown after the limiter stores have been stopped.
func StartRateLimitKeyCollector(sample func() int) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				RateLimitTrackedKeys.Set(float64(sample()))
			}
		}
	}()
	return func() { close(done) }
}
