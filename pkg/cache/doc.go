// Package cache provides the ETag validator cache for conditional GitLab API requests.
//
// The validator cache implements the following:
//
// - One ETag per request identity (canonical URL, query sorted)
// - Per-entry TTL, expired entries removed on read and swept before every insert
// - Bounded size with batch LRU eviction (5% of capacity per pressured insert)
// - Mutex-serialized access for concurrent requests
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	validators := cache.NewValidatorCache(
//		cache.WithMaxEntries(1000),
//		cache.WithDefaultTTL(time.Hour),
//	)
//
//	key := cache.KeyFromURL(req.URL).String()
//	if token, ok := validators.Get(key); ok {
//		cache.AddConditionalHeaders(req, token)
//	}
//
//	// After a 200 response
//	if etag := cache.ValidatorFromHeader(resp.Header); etag != "" {
//		validators.Put(key, etag)
//	}
//
// # Payload Store
//
// A 304 only says the cached representation is still valid. Callers that do
// not keep their own copy can store bodies in a PayloadStore (bigcache):
//
//	store, err := cache.NewPayloadStore(ctx, cache.DefaultPayloadStoreConfig())
//	store.Set(key, &cache.Payload{ETag: etag, Body: body})
//
// # Snapshots
//
// Snapshotter saves live validators to Redis with their remaining TTL and
// restores them on startup:
//
//	snap := cache.NewSnapshotter(redisClient)
//	snap.Restore(ctx, validators)
//	defer snap.Save(context.Background(), validators)
//
// # Metrics
//
//   - glcache_validator_hits_total - Validator lookups returning a token
//   - glcache_validator_misses_total - Unknown or expired keys
//   - glcache_validator_expirations_total - Entries removed after TTL
//   - glcache_validator_evictions_total - Entries removed by LRU pressure
//   - glcache_validator_entries - Current entry count
//   - glcache_payload_store_operations_total{operation,status} - Payload store operations
//   - glcache_snapshot_errors_total{operation} - Redis snapshot failures
package cache
