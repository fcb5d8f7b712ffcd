package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ValidatorHits tracks validator lookups that returned a token
	ValidatorHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "glcache_validator_hits_total",
			Help: "Total number of validator cache hits",
		},
	)

	// ValidatorMisses tracks lookups for unknown or expired keys
	ValidatorMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "glcache_validator_misses_total",
			Help: "Total number of validator cache misses",
		},
	)

	// ValidatorExpirations tracks entries removed because their TTL elapsed
	ValidatorExpirations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "glcache_validator_expirations_total",
			Help: "Total number of validators removed after expiry",
		},
	)

	// ValidatorEvictions tracks entries removed under size pressure
	ValidatorEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "glcache_validator_evictions_total",
			Help: "Total number of validators evicted by the LRU policy",
		},
	)

	// ValidatorEntries tracks the current number of stored validators
	ValidatorEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "glcache_validator_entries",
			Help: "Current number of validators in the cache",
		},
	)

	// PayloadStoreOps tracks payload store operations by operation and status
	PayloadStoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glcache_payload_store_operations_total",
			Help: "Total number of payload store operations",
		},
		[]string{"operation", "status"}, // "get"/"set", "hit"/"miss"/"error"/"success"
	)

	// SnapshotErrors tracks Redis snapshot failures
	SnapshotErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glcache_snapshot_errors_total",
			Help: "Total number of validator snapshot errors",
		},
		[]string{"operation"}, // "save", "restore"
	)
)
