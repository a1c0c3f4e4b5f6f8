package resilience

import (
	"context"

	"golang.org/x/time/rate"
)

// FetchLimiter wraps x/time/rate.Limiter to throttle outbound remote
// manifest fetches, keeping a misconfigured refresh interval from hammering
// a manifest source.
type FetchLimiter struct {
	limiter *rate.Limiter
}

// NewFetchLimiter builds a FetchLimiter allowing ratePerSecond requests per
// second with the given burst.
func NewFetchLimiter(ratePerSecond float64, burst int) *FetchLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &FetchLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Wait blocks until a token is available or ctx is canceled.
func (f *FetchLimiter) Wait(ctx context.Context) error {
	return f.limiter.Wait(ctx)
}
