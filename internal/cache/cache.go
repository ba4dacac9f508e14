// Package cache implements the optional fast, expiring image tier.
//
// Values are the text-safe (base64) form of an image. Entries expire after
// their TTL; expiry is enforced by the backend, never by callers.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMiss is returned when a key is absent or expired, or when
	// RandomKey is called on an empty cache.
	ErrMiss = errors.New("imagestore: cache miss")

	// ErrUnavailable wraps connectivity and protocol failures.
	ErrUnavailable = errors.New("imagestore: cache unavailable")
)

// Cache is a key/value store with per-entry expiry.
type Cache interface {
	// Set stores value under key for ttl. A ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the live value stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// RandomKey returns a key chosen by the backend among live keys.
	RandomKey(ctx context.Context) (string, error)

	// Size returns the number of keys held by the backend.
	Size(ctx context.Context) (int64, error)

	Close() error
}
