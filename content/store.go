// Package content stores the item pools features serve from.
//
// A Store maps item IDs to payloads. Rotation and recency only ever see the
// IDs; payload types belong to the features. Backends:
//
//   - FileStore: one JSON object in a file, rewritten atomically
//   - BoltStore: one bbolt bucket, JSON values
//   - Cached: read-through cache with a TTL and deduplicated loads
package content

import (
	"context"
	"slices"
	"sort"
)

// Store is the contract every content backend implements.
type Store[T any] interface {
	// GetAll returns every item.
	GetAll(ctx context.Context) (map[string]T, error)

	// Get returns one item and whether it exists.
	Get(ctx context.Context, id string) (T, bool, error)

	// Put creates or replaces an item.
	Put(ctx context.Context, id string, v T) error

	// Delete removes an item and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
}

// IDs returns the keys of items in sorted order.
func IDs[T any](items map[string]T) []string {
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Filter returns the sorted IDs whose items satisfy keep.
func Filter[T any](items map[string]T, keep func(id string, v T) bool) []string {
	ids := IDs(items)
	return slices.DeleteFunc(ids, func(id string) bool {
		return !keep(id, items[id])
	})
}

// DeleteWhere removes every item matching pred and returns the removed IDs.
func DeleteWhere[T any](ctx context.Context, s Store[T], pred func(id string, v T) bool) ([]string, error) {
	items, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, id := range Filter(items, pred) {
		ok, err := s.Delete(ctx, id)
		if err != nil {
			return removed, err
		}
		if ok {
			removed = append(removed, id)
		}
	}
	return removed, nil
}
