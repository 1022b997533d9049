// Package ratelimit provides a fixed-window use counter for chat features.
//
// Each actor (usually a user ID) gets a counter in shared state that expires
// one window after its first use. The count is incremented before it is
// checked, and the increment and expiry are applied atomically by the store,
// so two concurrent requests can never both read "under limit".
//
// # Usage
//
//	limiter, err := ratelimit.NewWindowLimiter(store, ratelimit.WindowConfig{
//	    Prefix:  "ratelimit.retroq",
//	    MaxUses: 10,
//	    Window:  5 * time.Minute,
//	})
//
//	d := limiter.Check(ctx, userID)
//	if !d.Allowed {
//	    reply("wait %d seconds", d.RemainingSeconds())
//	}
//
// # Failure Semantics
//
// Rate limiting protects the chat from spam; it is not a correctness
// requirement. When the counter store is unreachable, Check fails open and
// reports Allowed=true.
package ratelimit
