// Package state provides the shared key-value state behind rate limit
// counters and rotation queues.
//
// Every backend offers the same two atomic primitives the engine relies on:
//
//   - Incr: increment a counter and attach an expiry when the window is fresh
//   - Update: read-modify-write of one key without lost updates
//
// Plain read-then-write is never used for shared documents. Backends:
//
//   - MemoryStore: single process, tests and local development
//   - RedisStore: Lua INCR+PEXPIRE, WATCH/MULTI optimistic transactions
//   - NATSStore: JetStream KV with revision compare-and-swap
//
// # Usage
//
//	store := state.NewMemoryStore()
//	defer store.Close()
//
//	n, _ := store.Incr(ctx, "ratelimit.retroq.42", 5*time.Minute)
//
//	err := store.Update(ctx, "rotation.images", func(cur []byte, ok bool) ([]byte, error) {
//	    // decode cur, mutate, encode
//	    return next, nil
//	})
package state
