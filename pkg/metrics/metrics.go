// Package metrics provides the Prometheus registry and HTTP handler for the
// GitLab cache. All metrics are defined in their respective packages
// (cache, client, ratelimit) and registered via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the cache packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the registered metrics.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Validator Cache Metrics (pkg/cache):
//   - glcache_validator_hits_total (Counter): Validator lookups that found a live token
//   - glcache_validator_misses_total (Counter): Lookups for unknown or expired keys
//   - glcache_validator_expirations_total (Counter): Entries removed because their TTL passed
//   - glcache_validator_evictions_total (Counter): Entries removed by batch LRU eviction
//   - glcache_validator_entries (Gauge): Current number of entries
//   - glcache_payload_store_operations_total{operation, status} (Counter): Payload store operations
//   - glcache_snapshot_errors_total{operation} (Counter): Redis snapshot failures
//
// Request Metrics (pkg/client):
//   - glcache_requests_total{outcome} (Counter): Logical requests by outcome (ok, not_modified, error)
//   - glcache_attempts_total{status} (Counter): Transport attempts by HTTP status
//   - glcache_request_duration_seconds{method} (Histogram): Logical request duration including retries
//   - glcache_errors_total{class} (Counter): Failed attempts by class
//   - glcache_conditional_requests_total (Counter): Attempts sent with If-None-Match
//   - glcache_304_responses_total (Counter): 304 Not Modified responses
//
// Retry Metrics (pkg/client):
//   - glcache_retries_total{error_class} (Counter): Retry attempts by error class
//   - glcache_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - glcache_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - glcache_rate_limit_remaining (Gauge): Last RateLimit-Remaining seen
//   - glcache_rate_limit_blocks_total (Counter): Requests blocked at critical remaining
//   - glcache_rate_limit_throttles_total (Counter): Requests delayed at warning remaining
//
// Example Prometheus Queries:
//
//   # Validator Hit Rate
//   sum(rate(glcache_validator_hits_total[5m])) /
//   (sum(rate(glcache_validator_hits_total[5m])) + sum(rate(glcache_validator_misses_total[5m])))
//
//   # 304 Response Rate
//   rate(glcache_304_responses_total[5m]) / rate(glcache_attempts_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(glcache_request_duration_seconds_bucket[5m]))
