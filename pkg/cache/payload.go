package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/allegro/bigcache/v3"
)

// ErrPayloadMiss indicates no payload is stored for the key.
var ErrPayloadMiss = errors.New("payload miss")

// Payload is a stored 200 response body and the validator it was served with.
type Payload struct {
	// ETag the body was served with
	ETag string `json:"etag"`

	// Body is the raw response body
	Body []byte `json:"body"`

	// ContentType is the response Content-Type header
	ContentType string `json:"content_type,omitempty"`

	// Header holds response headers callers need on replay (pagination links)
	Header http.Header `json:"header,omitempty"`

	// StoredAt is when the body was stored
	StoredAt time.Time `json:"stored_at"`
}

// PayloadStoreConfig configures a PayloadStore.
type PayloadStoreConfig struct {
	// LifeWindow is how long a payload is kept
	LifeWindow time.Duration

	// MaxSizeMB caps the memory used by the store (0 = unbounded)
	MaxSizeMB int

	// MaxEntrySize is the expected maximum payload size in bytes
	MaxEntrySize int

	// Shards is the number of bigcache shards (power of two).
	// A single payload must fit in MaxSizeMB/Shards.
	Shards int
}

// DefaultPayloadStoreConfig returns a configuration matching DefaultTTL.
func DefaultPayloadStoreConfig() PayloadStoreConfig {
	return PayloadStoreConfig{
		LifeWindow:   DefaultTTL,
		MaxSizeMB:    64,
		MaxEntrySize: 512 * 1024,
		Shards:       64,
	}
}

// PayloadStore keeps the last successful body per request identity so
// that a 304 can be answered by callers that hold no displayed copy.
type PayloadStore struct {
	cache *bigcache.BigCache
}

// NewPayloadStore creates a bigcache-backed payload store.
func NewPayloadStore(ctx context.Context, cfg PayloadStoreConfig) (*PayloadStore, error) {
	if cfg.LifeWindow <= 0 {
		cfg.LifeWindow = DefaultTTL
	}

	bcCfg := bigcache.DefaultConfig(cfg.LifeWindow)
	bcCfg.HardMaxCacheSize = cfg.MaxSizeMB
	bcCfg.Verbose = false
	if cfg.Shards > 0 {
		bcCfg.Shards = cfg.Shards
	}
	if cfg.MaxEntrySize > 0 {
		bcCfg.MaxEntrySize = cfg.MaxEntrySize
	}

	bc, err := bigcache.New(ctx, bcCfg)
	if err != nil {
		return nil, fmt.Errorf("create bigcache: %w", err)
	}

	return &PayloadStore{cache: bc}, nil
}

// Get returns the payload stored for key.
// Returns ErrPayloadMiss if nothing is stored.
func (s *PayloadStore) Get(key string) (*Payload, error) {
	data, err := s.cache.Get(key)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			PayloadStoreOps.WithLabelValues("get", "miss").Inc()
			return nil, ErrPayloadMiss
		}
		PayloadStoreOps.WithLabelValues("get", "error").Inc()
		return nil, fmt.Errorf("bigcache get: %w", err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		PayloadStoreOps.WithLabelValues("get", "error").Inc()
		_ = s.cache.Delete(key) // corrupted entry
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	PayloadStoreOps.WithLabelValues("get", "hit").Inc()
	return &p, nil
}

// Set stores p under key.
func (s *PayloadStore) Set(key string, p *Payload) error {
	if p == nil {
		return fmt.Errorf("payload cannot be nil")
	}

	data, err := json.Marshal(p)
	if err != nil {
		PayloadStoreOps.WithLabelValues("set", "error").Inc()
		return fmt.Errorf("marshal payload: %w", err)
	}

	if err := s.cache.Set(key, data); err != nil {
		PayloadStoreOps.WithLabelValues("set", "error").Inc()
		return fmt.Errorf("bigcache set: %w", err)
	}

	PayloadStoreOps.WithLabelValues("set", "success").Inc()
	return nil
}

// Delete removes the payload for key. Missing keys are not an error.
func (s *PayloadStore) Delete(key string) error {
	if err := s.cache.Delete(key); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return fmt.Errorf("bigcache delete: %w", err)
	}
	return nil
}

// Len returns the number of stored payloads.
func (s *PayloadStore) Len() int {
	return s.cache.Len()
}

// Reset removes all payloads.
func (s *PayloadStore) Reset() error {
	return s.cache.Reset()
}

// Close releases the store.
func (s *PayloadStore) Close() error {
	return s.cache.Close()
}
