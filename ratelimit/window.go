package ratelimit

import (
	"context"
	"time"

	"github.com/vinayprograms/chatkit/logging"
	"github.com/vinayprograms/chatkit/metrics"
)

// WindowLimiter allows MaxUses per actor per Window.
// It is safe for concurrent use.
type WindowLimiter struct {
	counter  Counter
	config   WindowConfig
	name     string
	logger   *logging.Logger
	observer metrics.Observer
}

// Option configures a WindowLimiter.
type Option func(*WindowLimiter)

// WithLogger sets the logger for denied and failed checks.
func WithLogger(l *logging.Logger) Option {
	return func(w *WindowLimiter) {
		w.logger = l
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o metrics.Observer) Option {
	return func(w *WindowLimiter) {
		w.observer = o
	}
}

// WithName sets the limiter label used in logs and metrics.
// Default: the key prefix.
func WithName(name string) Option {
	return func(w *WindowLimiter) {
		w.name = name
	}
}

// NewWindowLimiter creates a limiter over counter.
func NewWindowLimiter(counter Counter, cfg WindowConfig, opts ...Option) (*WindowLimiter, error) {
	if counter == nil {
		return nil, ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &WindowLimiter{
		counter: counter,
		config:  cfg,
		name:    cfg.Prefix,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.OrNop(w.logger).WithComponent("ratelimit")
	w.observer = metrics.OrNop(w.observer)
	return w, nil
}

// Config returns the limiter configuration.
func (w *WindowLimiter) Config() WindowConfig {
	return w.config
}

// Key returns the counter key for actor.
func (w *WindowLimiter) Key(actor string) string {
	return w.config.Prefix + "." + actor
}

// Check counts one use by actor and reports whether it is within budget.
// Counter failures fail open.
func (w *WindowLimiter) Check(ctx context.Context, actor string) Decision {
	if actor == "" {
		w.logger.Warn("rate check without actor", map[string]any{"limiter": w.name})
		w.observer.RateDecision(w.name, metrics.ResultError)
		return Decision{Allowed: true}
	}

	key := w.Key(actor)
	n, err := w.counter.Incr(ctx, key, w.config.Window)
	if err != nil {
		w.logger.Warn("rate counter unavailable, failing open", map[string]any{
			"limiter": w.name,
			"actor":   actor,
			"error":   err.Error(),
		})
		w.observer.RateDecision(w.name, metrics.ResultError)
		return Decision{Allowed: true}
	}

	if n <= int64(w.config.MaxUses) {
		w.observer.RateDecision(w.name, metrics.ResultAllowed)
		return Decision{Allowed: true, UseCount: int(n)}
	}

	remaining := w.remaining(ctx, key)
	w.logger.RateLimited(actor, int(n), remaining)
	w.observer.RateDecision(w.name, metrics.ResultDenied)
	return Decision{
		Allowed:   false,
		Remaining: remaining,
		UseCount:  int(n),
	}
}

// remaining reads the window TTL, falling back to the full window.
func (w *WindowLimiter) remaining(ctx context.Context, key string) time.Duration {
	ttl, err := w.counter.TTL(ctx, key)
	if err != nil || ttl <= 0 || ttl > w.config.Window {
		return w.config.Window
	}
	return ttl
}
