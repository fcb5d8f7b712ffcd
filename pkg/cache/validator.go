package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/Sternrassler/gitlab-http-cache/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxEntries is the default capacity of a ValidatorCache.
	DefaultMaxEntries = 1000

	// DefaultTTL is how long a validator is reused when no TTL is given.
	DefaultTTL = time.Hour

	// evictionDivisor sets the eviction batch to 1/20 (5%) of capacity.
	evictionDivisor = 20
)

// ValidatorCache maps request identities to ETag validators.
//
// Capacity is enforced with batch LRU eviction: when an insert finds the
// cache full, the max(1, MaxEntries/20) least recently used entries are
// dropped at once. Expired entries are removed lazily on Get and swept
// before every Put. All methods are safe for concurrent use.
type ValidatorCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	// order holds *node values, front is least recently used
	order *list.List

	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

type node struct {
	key   string
	entry ValidatorEntry
}

// Option configures a ValidatorCache.
type Option func(*ValidatorCache)

// WithMaxEntries sets the capacity. Values below 1 are ignored.
func WithMaxEntries(n int) Option {
	return func(c *ValidatorCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithDefaultTTL sets the TTL used by Put. Values below or equal to 0 are ignored.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *ValidatorCache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithClock replaces time.Now (for testing).
func WithClock(now func() time.Time) Option {
	return func(c *ValidatorCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *ValidatorCache) {
		c.logger = logger
	}
}

// NewValidatorCache creates an empty validator cache.
func NewValidatorCache(opts ...Option) *ValidatorCache {
	c := &ValidatorCache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: DefaultMaxEntries,
		defaultTTL: DefaultTTL,
		now:        time.Now,
		logger:     log.With().Str("component", logging.ComponentValidators).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxEntries returns the configured capacity.
func (c *ValidatorCache) MaxEntries() int {
	return c.maxEntries
}

// DefaultTTL returns the TTL applied by Put.
func (c *ValidatorCache) DefaultTTL() time.Duration {
	return c.defaultTTL
}

// EvictionBatch returns how many entries a pressured Put evicts.
func (c *ValidatorCache) EvictionBatch() int {
	return max(1, c.maxEntries/evictionDivisor)
}

// Get returns the validator for key if present and not expired.
// A hit marks the key as most recently used; an expired entry is removed.
func (c *ValidatorCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		ValidatorMisses.Inc()
		return "", false
	}

	n := elem.Value.(*node)
	if n.entry.IsExpired(c.now()) {
		c.removeElement(elem)
		ValidatorExpirations.Inc()
		ValidatorMisses.Inc()
		c.logger.Debug().Str("key", key).Msg("Validator expired")
		return "", false
	}

	c.order.MoveToBack(elem)
	ValidatorHits.Inc()
	return n.entry.Token, true
}

// Put stores token for key using the default TTL.
func (c *ValidatorCache) Put(key, token string) {
	c.PutWithTTL(key, token, c.defaultTTL)
}

// PutWithTTL stores token for key, overwriting any previous validator.
func (c *ValidatorCache) PutWithTTL(key, token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweepExpired(now)

	entry := ValidatorEntry{Token: token, StoredAt: now, TTL: ttl}

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*node).entry = entry
		c.order.MoveToBack(elem)
		return
	}

	if len(c.entries) >= c.maxEntries {
		c.evict(c.EvictionBatch())
	}

	c.entries[key] = c.order.PushBack(&node{key: key, entry: entry})
	ValidatorEntries.Set(float64(len(c.entries)))
}

// Clear removes all entries.
func (c *ValidatorCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
	ValidatorEntries.Set(0)
}

// Size returns the number of stored entries, including expired entries
// that have not been swept yet.
func (c *ValidatorCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Snapshot is a copy of one live cache entry.
type Snapshot struct {
	Key       string
	Token     string
	Remaining time.Duration
}

// Entries returns copies of all non-expired entries, least recently used first.
// Recency is not affected.
func (c *ValidatorCache) Entries() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]Snapshot, 0, len(c.entries))
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		n := elem.Value.(*node)
		if n.entry.IsExpired(now) {
			continue
		}
		out = append(out, Snapshot{
			Key:       n.key,
			Token:     n.entry.Token,
			Remaining: n.entry.Remaining(now),
		})
	}
	return out
}

// sweepExpired removes every expired entry. Caller holds mu.
func (c *ValidatorCache) sweepExpired(now time.Time) {
	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*node).entry.IsExpired(now) {
			c.removeElement(elem)
			removed++
		}
		elem = next
	}
	if removed > 0 {
		ValidatorExpirations.Add(float64(removed))
		c.logger.Debug().Int("removed", removed).Msg("Swept expired validators")
	}
}

// evict drops up to n least recently used entries. Caller holds mu.
func (c *ValidatorCache) evict(n int) {
	evicted := 0
	for evicted < n {
		elem := c.order.Front()
		if elem == nil {
			break
		}
		c.removeElement(elem)
		evicted++
	}
	ValidatorEvictions.Add(float64(evicted))
	c.logger.Debug().
		Int("evicted", evicted).
		Int("size", len(c.entries)).
		Msg("Evicted least recently used validators")
}

// removeElement deletes elem from both the map and the access order. Caller holds mu.
func (c *ValidatorCache) removeElement(elem *list.Element) {
	n := c.order.Remove(elem).(*node)
	delete(c.entries, n.key)
	ValidatorEntries.Set(float64(len(c.entries)))
}
