// Package correlation matches asynchronous replies to the request that
// anticipated them.
//
// A Table maps a correlation key (a user ID, a confirmation message ID) to
// pending context with a deadline. Each entry ends exactly once: resolved
// by a matching reply or expired by a sweep, whichever comes first. There
// are no per-entry timers; expired entries are reclaimed lazily on every
// Register/Resolve and periodically by Run. Expiry hooks found by the lazy
// sweep run on their own goroutine so callers never wait on them.
package correlation

import (
	"context"
	"sync"
	"time"

	"github.com/vinayprograms/chatkit/logging"
	"github.com/vinayprograms/chatkit/metrics"
)

// Entry is a pending correlation.
type Entry[C any] struct {
	Key       string
	Context   C
	CreatedAt time.Time
	TTL       time.Duration
}

// ExpiresAt returns the instant the entry stops being resolvable.
func (e Entry[C]) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

func (e Entry[C]) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// Table is a time-bounded map of pending correlations.
// It is safe for concurrent use.
type Table[C any] struct {
	mu       sync.Mutex
	entries  map[string]Entry[C]
	now      func() time.Time
	onExpire func(Entry[C])
	hooks    sync.WaitGroup
	name     string
	logger   *logging.Logger
	observer metrics.Observer
}

// Option configures a Table.
type Option[C any] func(*Table[C])

// WithClock overrides time.Now.
func WithClock[C any](now func() time.Time) Option[C] {
	return func(t *Table[C]) {
		t.now = now
	}
}

// WithOnExpire sets the compensating action for expired entries. It runs
// outside the table lock, once per expired entry. SweepExpired and Run call
// it synchronously; Register and Resolve hand it to a background goroutine.
func WithOnExpire[C any](fn func(Entry[C])) Option[C] {
	return func(t *Table[C]) {
		t.onExpire = fn
	}
}

// WithName labels the table in logs and metrics.
func WithName[C any](name string) Option[C] {
	return func(t *Table[C]) {
		t.name = name
	}
}

// WithObserver sets the metrics observer.
func WithObserver[C any](o metrics.Observer) Option[C] {
	return func(t *Table[C]) {
		t.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger[C any](l *logging.Logger) Option[C] {
	return func(t *Table[C]) {
		t.logger = l
	}
}

// New creates an empty Table.
func New[C any](opts ...Option[C]) *Table[C] {
	t := &Table[C]{
		entries: make(map[string]Entry[C]),
		now:     time.Now,
		name:    "correlation",
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = logging.OrNop(t.logger).WithComponent("correlation")
	t.observer = metrics.OrNop(t.observer)
	return t
}

// Name returns the table label.
func (t *Table[C]) Name() string {
	return t.name
}

// Register stores c under key for ttl. A pending entry under the same key
// is replaced. A negative ttl is a programming error and panics.
func (t *Table[C]) Register(key string, c C, ttl time.Duration) {
	if ttl < 0 {
		panic("correlation: negative ttl")
	}

	t.mu.Lock()
	expired := t.sweepLocked()
	t.entries[key] = Entry[C]{
		Key:       key,
		Context:   c,
		CreatedAt: t.now(),
		TTL:       ttl,
	}
	t.mu.Unlock()

	t.observer.CorrelationRegistered(t.name)
	t.expireAsync(expired)
}

// Resolve removes and returns the entry under key. It reports false when
// the key was never registered, is already resolved or has expired.
func (t *Table[C]) Resolve(key string) (C, bool) {
	return t.ResolveIf(key, nil)
}

// ResolveIf resolves key only when pred accepts its context. A rejected
// entry stays pending. A nil pred accepts everything.
func (t *Table[C]) ResolveIf(key string, pred func(C) bool) (C, bool) {
	t.mu.Lock()
	expired := t.sweepLocked()
	e, ok := t.entries[key]
	if ok && pred != nil && !pred(e.Context) {
		ok = false
	}
	if ok {
		delete(t.entries, key)
	}
	t.mu.Unlock()

	t.expireAsync(expired)
	if !ok {
		var zero C
		return zero, false
	}
	t.observer.CorrelationResolved(t.name)
	return e.Context, true
}

// SweepExpired removes every expired entry, runs OnExpire for each and
// returns them.
func (t *Table[C]) SweepExpired() []Entry[C] {
	t.mu.Lock()
	expired := t.sweepLocked()
	t.mu.Unlock()

	t.expire(expired)
	return expired
}

// sweepLocked removes expired entries. Must be called with lock held.
func (t *Table[C]) sweepLocked() []Entry[C] {
	now := t.now()
	var expired []Entry[C]
	for key, e := range t.entries {
		if e.expired(now) {
			delete(t.entries, key)
			expired = append(expired, e)
		}
	}
	return expired
}

func (t *Table[C]) expireAsync(entries []Entry[C]) {
	if len(entries) == 0 {
		return
	}
	t.hooks.Add(1)
	go func() {
		defer t.hooks.Done()
		t.expire(entries)
	}()
}

// Wait blocks until expiry hooks started by Register and Resolve return.
func (t *Table[C]) Wait() {
	t.hooks.Wait()
}

func (t *Table[C]) expire(entries []Entry[C]) {
	if len(entries) == 0 {
		return
	}
	now := t.now()
	for _, e := range entries {
		t.observer.CorrelationExpired(t.name)
		t.logger.CorrelationExpired(t.name, e.Key, now.Sub(e.CreatedAt))
		if t.onExpire != nil {
			t.onExpire(e)
		}
	}
}

// Len returns the number of entries, including expired ones not yet swept.
func (t *Table[C]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Run sweeps every interval until ctx is done.
func (t *Table[C]) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.SweepExpired()
		}
	}
}
