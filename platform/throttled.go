package platform

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled limits outbound calls to a steady rate with bursts.
type Throttled struct {
	caller  Caller
	limiter *rate.Limiter
}

// NewThrottled wraps caller so at most perSecond calls run per second,
// with up to burst back to back. A non-positive rate disables throttling.
func NewThrottled(caller Caller, perSecond float64, burst int) *Throttled {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{
		caller:  caller,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Call waits for a token, then forwards the call.
func (t *Throttled) Call(ctx context.Context, call Call) (*Message, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.caller.Call(ctx, call)
}

var _ Caller = (*Throttled)(nil)
