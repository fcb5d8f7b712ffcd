package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sternrassler/gitlab-http-cache/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultSnapshotPrefix namespaces validator keys in Redis.
const DefaultSnapshotPrefix = "glcache:etag:"

// Snapshotter copies validators between a ValidatorCache and Redis so they
// survive restarts and can be shared between proxy replicas.
type Snapshotter struct {
	redis  *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewSnapshotter creates a snapshotter using DefaultSnapshotPrefix.
func NewSnapshotter(redisClient *redis.Client) *Snapshotter {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Snapshotter{
		redis:  redisClient,
		prefix: DefaultSnapshotPrefix,
		logger: log.With().Str("component", logging.ComponentSnapshot).Logger(),
	}
}

// WithPrefix returns a copy of s storing keys under prefix.
func (s *Snapshotter) WithPrefix(prefix string) *Snapshotter {
	cp := *s
	cp.prefix = prefix
	return &cp
}

// Save writes every live validator with its remaining TTL.
// Returns the number of validators written.
func (s *Snapshotter) Save(ctx context.Context, c *ValidatorCache) (int, error) {
	entries := c.Entries()
	if len(entries) == 0 {
		return 0, nil
	}

	saved := 0
	pipe := s.redis.Pipeline()
	for _, e := range entries {
		// zero expiration would persist the key forever
		if e.Remaining <= 0 {
			continue
		}
		pipe.Set(ctx, s.prefix+e.Key, e.Token, e.Remaining)
		saved++
	}
	if saved == 0 {
		return 0, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		SnapshotErrors.WithLabelValues("save").Inc()
		return 0, fmt.Errorf("redis pipeline exec: %w", err)
	}

	s.logger.Info().Int("validators", saved).Msg("Saved validator snapshot")
	return saved, nil
}

// Restore loads validators from Redis into c using their remaining TTL.
// Entries are restored in scan order, so recency is not preserved.
// Returns the number of validators restored.
func (s *Snapshotter) Restore(ctx context.Context, c *ValidatorCache) (int, error) {
	var (
		cursor   uint64
		restored int
	)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.prefix+"*", 200).Result()
		if err != nil {
			SnapshotErrors.WithLabelValues("restore").Inc()
			return restored, fmt.Errorf("redis scan: %w", err)
		}

		n, err := s.restoreKeys(ctx, c, keys)
		restored += n
		if err != nil {
			SnapshotErrors.WithLabelValues("restore").Inc()
			return restored, err
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	s.logger.Info().Int("validators", restored).Msg("Restored validator snapshot")
	return restored, nil
}

func (s *Snapshotter) restoreKeys(ctx context.Context, c *ValidatorCache, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	pipe := s.redis.Pipeline()
	gets := make([]*redis.StringCmd, len(keys))
	ttls := make([]*redis.DurationCmd, len(keys))
	for i, key := range keys {
		gets[i] = pipe.Get(ctx, key)
		ttls[i] = pipe.PTTL(ctx, key)
	}
	// redis.Nil for keys that expired between SCAN and GET is expected
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, fmt.Errorf("redis pipeline exec: %w", err)
	}

	restored := 0
	for i, key := range keys {
		token, err := gets[i].Result()
		if err != nil {
			continue
		}
		ttl, err := ttls[i].Result()
		if err != nil || ttl <= 0 {
			continue
		}
		c.PutWithTTL(strings.TrimPrefix(key, s.prefix), token, ttl)
		restored++
	}
	return restored, nil
}

// Clear deletes every snapshot key.
func (s *Snapshotter) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.prefix+"*", 200).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := s.redis.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
