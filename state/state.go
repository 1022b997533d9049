package state

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Common errors.
var (
	ErrNotFound   = errors.New("key not found")
	ErrClosed     = errors.New("store closed")
	ErrInvalidKey = errors.New("invalid key")
	ErrInvalidTTL = errors.New("invalid TTL")
	ErrConflict   = errors.New("update conflict: retries exhausted")
	ErrNotCounter = errors.New("value is not a counter")
)

// DefaultMaxRetries bounds optimistic update attempts for CAS backends.
const DefaultMaxRetries = 16

// UpdateFunc computes the next value of a key from its current value.
// exists is false when the key is absent or expired. Returning a nil slice
// deletes the key. Returning an error aborts the update with no write.
// Backends with optimistic concurrency may call fn more than once.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Store provides shared key-value storage with atomic primitives.
type Store interface {
	// Get retrieves a value by key.
	// Returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores a value with an optional TTL.
	// If ttl is 0, the key never expires.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key.
	// Returns nil if the key does not exist.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys matching a pattern.
	// Pattern supports * wildcard at the end (e.g., "rotation.*").
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Update atomically replaces the value of key with fn(current).
	// Values written by Update never expire.
	// Returns ErrConflict if concurrent writers won every retry.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// Incr atomically increments the counter at key and returns the new
	// value. When the increment starts a fresh counter the key expires
	// after ttl; later increments keep the original expiry.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// TTL returns the time left before key expires, or 0 if it never does.
	// Returns ErrNotFound if the key does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Close shuts down the store and releases resources.
	Close() error
}

// ValidateKey checks if a key is valid.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, " \t\n*>") {
		return ErrInvalidKey
	}
	if strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
		return ErrInvalidKey
	}
	if len(key) > 1024 {
		return ErrInvalidKey
	}
	return nil
}

// ValidateTTL checks if a TTL is valid.
func ValidateTTL(ttl time.Duration) error {
	if ttl < 0 {
		return ErrInvalidTTL
	}
	return nil
}

// MatchPattern checks if a key matches a pattern.
// Supports * wildcard at the end (e.g., "rotation.*" matches "rotation.images").
func MatchPattern(pattern, key string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(key, prefix)
	}
	return pattern == key
}
