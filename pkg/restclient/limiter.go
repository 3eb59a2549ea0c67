package restclient

import (
	"context"

	"golang.org/x/time/rate"
)

// DefaultGlobalRate is the default global token-bucket budget per account,
// 50 requests/second.
const DefaultGlobalRate = 50

// newGlobalLimiter builds the per-account global limiter. Burst equals the
// rate so a quiet account can briefly catch up without being throttled
// below its steady-state budget.
func newGlobalLimiter(requestsPerSecond float64) *rate.Limiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = DefaultGlobalRate
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond))
}

// waitGlobal blocks until the global limiter admits one request or ctx is
// done, matching the ingress middleware's reuse of golang.org/x/time/rate
// generalized from per-client-IP limiting to one limiter per account.
func waitGlobal(ctx context.Context, limiter *rate.Limiter) error {
	return limiter.Wait(ctx)
}
