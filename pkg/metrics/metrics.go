// Package metrics provides the Prometheus registry reference and the
// scrape handler for the cache server and the local retry proxy.
// All metrics are defined in their respective packages (store, cache,
// breaker, server, tunnel, client) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by all packages.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the scrape handler for Registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Store Metrics (pkg/store):
//   - kcsp_store_errors_total{backend, operation} (Counter): Store operation errors
//   - kcsp_store_swept_entries_total{backend} (Counter): Expired entries removed by sweeps
//
// Cache Metrics (pkg/cache):
//   - kcsp_cache_lookups_total{state} (Counter): Lookups by observed state
//     (absent, pending, blocked, cached, invalid, locked)
//   - kcsp_cache_writes_total{state} (Counter): Marker and payload writes
//   - kcsp_cache_claim_conflicts_total (Counter): Lost pending claims
//   - kcsp_cache_errors_total{operation} (Counter): Cache operation errors
//
// Circuit Breaker Metrics (pkg/breaker):
//   - kcsp_breaker_engaged (Gauge): 1 when the lock key was set at the last check
//   - kcsp_breaker_rejections_total (Counter): Requests rejected by the breaker
//
// Request Metrics (pkg/server):
//   - kcsp_requests_total{outcome} (Counter): Requests by outcome
//   - kcsp_request_duration_seconds{outcome} (Histogram): Handling duration
//   - kcsp_upstream_requests_total{result} (Counter): Upstream calls by result
//   - kcsp_upstream_duration_seconds (Histogram): Upstream call duration
//   - kcsp_render_encodings_total{encoding} (Counter): Responses by content encoding
//
// Tunnel Metrics (pkg/tunnel):
//   - kcsp_tunnels_active (Gauge): Open CONNECT tunnels
//   - kcsp_tunnels_total{result} (Counter): CONNECT requests by result
//   - kcsp_tunnel_bytes_total{direction} (Counter): Relayed bytes
//
// Retry Proxy Metrics (pkg/client):
//   - kcsp_client_requests_total{result} (Counter): Relayed requests by result
//   - kcsp_client_request_duration_seconds (Histogram): Duration including retries
//   - kcsp_client_retries_total{error_class} (Counter): Retried attempts by error class
//   - kcsp_client_retry_exhausted_total (Counter): Requests that used up every attempt
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(kcsp_requests_total{outcome="hit"}[5m])) /
//   sum(rate(kcsp_requests_total{outcome=~"hit|miss"}[5m]))
//
//   # Dedup pressure
//   rate(kcsp_cache_lookups_total{state="pending"}[5m])
//
//   # Upstream Failure Rate
//   rate(kcsp_upstream_requests_total{result!="success"}[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(kcsp_request_duration_seconds_bucket[5m]))
