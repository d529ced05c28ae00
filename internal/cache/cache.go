// Package cache is a small byte-value TTL cache used for provider metadata
// (JWKS documents). In-process only; the broker holds nothing here that
// cannot be refetched.
package cache

import "time"

// Cache is the read/write contract components depend on.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}
