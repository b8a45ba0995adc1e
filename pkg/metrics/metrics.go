// Package metrics documents the Prometheus metrics of the Shopify bulk client
// and serves them. All metrics are defined in their respective packages
// (client, ratelimit, pagination, staging, bulk, cache, shopify) to maintain
// modularity and avoid circular dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewMux returns a mux with /metrics and a /health endpoint that answers OK.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - shopify_graphql_requests_total{operation, status} (Counter): GraphQL requests by operation and outcome
//   - shopify_graphql_request_duration_seconds{operation} (Histogram): Request duration by operation
//   - shopify_errors_total{class} (Counter): Errors by class (transport, throttled, graphql, user, ...)
//   - shopify_retries_total{operation} (Counter): Same-request retries after THROTTLED
//
// Rate Limit Metrics (pkg/ratelimit):
//   - shopify_throttles_total (Counter): THROTTLED responses absorbed by a limiter
//   - shopify_throttle_backoff_seconds (Histogram): Backoff slept per throttle
//   - shopify_throttle_retries_exhausted_total (Counter): Operations that ran out of throttle retries
//   - shopify_query_cost_available (Gauge): Points left in the shop's cost bucket
//   - shopify_preemptive_waits_total (Counter): Waits inserted before the bucket ran dry
//
// Pagination Metrics (pkg/pagination):
//   - shopify_pages_fetched_total{query} (Counter): Connection pages fetched
//
// Staging Metrics (pkg/staging):
//   - shopify_staged_uploads_total{resource, result} (Counter): Staged uploads by resource and result
//
// Bulk Metrics (pkg/bulk):
//   - shopify_bulk_operations_total{kind, status} (Counter): Bulk operations by final status
//   - shopify_bulk_poll_total (Counter): currentBulkOperation polls
//   - shopify_bulk_duration_seconds{kind} (Histogram): Submission to terminal status
//
// Cache Metrics (pkg/cache):
//   - shopify_cache_hits_total{kind} (Counter): Lookup cache hits
//   - shopify_cache_misses_total{kind} (Counter): Lookup cache misses
//   - shopify_cache_size_bytes (Gauge): Bytes written to the cache
//   - shopify_cache_errors_total{operation} (Counter): Cache operation errors
//
// Operation Metrics (pkg/shopify):
//   - shopify_operations_total{operation, result} (Counter): Catalog operations by result class
//   - shopify_operation_duration_seconds{operation} (Histogram): Catalog operation duration
//
// Example Prometheus Queries:
//
//   # Throttle rate
//   rate(shopify_throttles_total[5m])
//
//   # Bucket nearly empty
//   shopify_query_cost_available < 100
//
//   # Failed bulk operations
//   sum by (status) (rate(shopify_bulk_operations_total{status!="COMPLETED"}[1h]))
//
//   # P95 GraphQL latency
//   histogram_quantile(0.95, rate(shopify_graphql_request_duration_seconds_bucket[5m]))
//
//   # Cache hit rate
//   sum(rate(shopify_cache_hits_total[5m])) /
//   (sum(rate(shopify_cache_hits_total[5m])) + sum(rate(shopify_cache_misses_total[5m])))
