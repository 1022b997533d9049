// Package errors provides the structured error taxonomy shared by the
// chatkit engine and its feature handlers.
//
// # Error Categories
//
//   - Transient: storage outages and timeouts; the user may try again.
//   - Permanent: empty pools, stale correlations, bad input.
//   - Resource: rate limits.
//   - Internal: corrupt persisted state and programmer errors.
//
// # Usage
//
//	err := errors.New(errors.ErrCodeEmptyPool, "no images saved yet")
//
//	if errors.Is(err, errors.ErrCodeEmptyPool) {
//	    // reply "nothing to show"
//	}
//
// Storage backends wrap driver failures with StorageUnavailable so that
// handlers can decide between a "try again" reply and a generic failure
// without knowing which backend is configured:
//
//	switch errors.ReactionFor(err) {
//	case errors.ReactRetry:
//	case errors.ReactEmpty:
//	default:
//	}
package errors
