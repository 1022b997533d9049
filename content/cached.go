package content

import (
	"context"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cached is a read-through cache over a Store. GetAll results are reused
// for ttl; concurrent misses share one load. Writes through the cache
// invalidate it.
type Cached[T any] struct {
	inner Store[T]
	ttl   time.Duration
	now   func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	items    map[string]T
	loadedAt time.Time
	gen      uint64
}

// NewCached wraps inner. A non-positive ttl caches until the next write.
func NewCached[T any](inner Store[T], ttl time.Duration) *Cached[T] {
	return &Cached[T]{
		inner: inner,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *Cached[T]) fresh() (map[string]T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(c.loadedAt) >= c.ttl {
		return nil, false
	}
	return c.items, true
}

// GetAll returns the cached pool, loading it when stale.
func (c *Cached[T]) GetAll(ctx context.Context) (map[string]T, error) {
	if items, ok := c.fresh(); ok {
		return maps.Clone(items), nil
	}

	v, err, _ := c.group.Do("all", func() (any, error) {
		c.mu.Lock()
		gen := c.gen
		c.mu.Unlock()

		items, err := c.inner.GetAll(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		// A write that raced the load wins; do not cache stale data.
		if c.gen == gen {
			c.items = items
			c.loadedAt = c.now()
		}
		c.mu.Unlock()
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return maps.Clone(v.(map[string]T)), nil
}

// Get reads through the cached pool.
func (c *Cached[T]) Get(ctx context.Context, id string) (T, bool, error) {
	items, err := c.GetAll(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}
	v, ok := items[id]
	return v, ok, nil
}

// Put writes through and invalidates.
func (c *Cached[T]) Put(ctx context.Context, id string, v T) error {
	defer c.Invalidate()
	return c.inner.Put(ctx, id, v)
}

// Delete writes through and invalidates.
func (c *Cached[T]) Delete(ctx context.Context, id string) (bool, error) {
	defer c.Invalidate()
	return c.inner.Delete(ctx, id)
}

// Invalidate drops the cached pool.
func (c *Cached[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.gen++
}

var _ Store[struct{}] = (*Cached[struct{}])(nil)
