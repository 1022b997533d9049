package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"
)

// Common errors.
var (
	ErrInvalidMaxUses = errors.New("max uses must be positive")
	ErrInvalidWindow  = errors.New("window must be positive")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Counter is the shared-state primitive the limiter needs.
// Every state.Store satisfies it.
type Counter interface {
	// Incr increments key and returns the new value. When the key is absent
	// or expired it starts at 1 with the given ttl, atomically.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// TTL returns the remaining lifetime of key.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Decision is the outcome of a Check.
type Decision struct {
	// Allowed reports whether the actor may proceed.
	Allowed bool

	// Remaining is the time until the window resets. Only set when denied.
	Remaining time.Duration

	// UseCount is the post-increment count. Zero when the counter could
	// not be reached.
	UseCount int
}

// RemainingSeconds returns Remaining rounded up to whole seconds.
func (d Decision) RemainingSeconds() int {
	if d.Remaining <= 0 {
		return 0
	}
	return int(math.Ceil(d.Remaining.Seconds()))
}

// WindowConfig configures a WindowLimiter.
type WindowConfig struct {
	// Prefix namespaces the counter keys, e.g. "ratelimit.retroq".
	Prefix string

	// MaxUses is the number of allowed uses per window.
	MaxUses int

	// Window is the window length, measured from the first use.
	Window time.Duration
}

// Validate checks the configuration.
func (c WindowConfig) Validate() error {
	if c.Prefix == "" {
		return errors.Join(ErrInvalidConfig, errors.New("prefix required"))
	}
	if c.MaxUses <= 0 {
		return ErrInvalidMaxUses
	}
	if c.Window <= 0 {
		return ErrInvalidWindow
	}
	return nil
}
