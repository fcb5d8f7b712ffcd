package cache

import (
	"time"
)

// ValidatorEntry is a cached ETag for one request identity.
// Entries are owned by ValidatorCache and never handed out by pointer.
type ValidatorEntry struct {
	// Token is the ETag exactly as the server sent it
	Token string

	// StoredAt is when the token was stored
	StoredAt time.Time

	// TTL is how long the token may be sent as a precondition
	TTL time.Duration
}

// IsExpired returns true if more than TTL has elapsed since StoredAt.
func (e ValidatorEntry) IsExpired(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}

// Remaining returns the time until expiration.
// Returns 0 if already expired.
func (e ValidatorEntry) Remaining(now time.Time) time.Duration {
	ttl := e.TTL - now.Sub(e.StoredAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}
