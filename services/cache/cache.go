// Package cache holds the shared short-lived state the crawler needs
// between processes, most importantly the rate-limit cool-down key the
// fetcher consults before every page request.
package cache

import (
	"time"
)

// CacheService is a minimal expiring key-value store. Implementations
// must treat a missing key as an error so callers can use Get as an
// existence probe for cool-down keys.
type CacheService interface {
	// Get retrieves a value; a missing or expired key returns an error
	Get(key string) ([]byte, error)

	// Set stores a value that expires after the given duration
	Set(key string, value []byte, expiration time.Duration) error

	// Delete removes a key, ending a cool-down early
	Delete(key string) error
}
