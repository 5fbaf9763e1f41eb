package registry

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

type RateLimiterConfig struct {
	RPS   int           // Rate per second
	Burst int           // Burst count
	Wait  time.Duration // Maximum wait time for a request
}

// RateLimitedRoundTripper keeps cascade from hammering the artifact
// store's API.
func RateLimitedRoundTripper(rt http.RoundTripper, config RateLimiterConfig) http.RoundTripper {
	return &roundTripRateLimiter{
		wait:      config.Wait,
		rl:        rate.NewLimiter(rate.Limit(config.RPS), config.Burst),
		transport: rt,
	}
}

type roundTripRateLimiter struct {
	wait      time.Duration
	rl        *rate.Limiter
	transport http.RoundTripper
}

func (rl *roundTripRateLimiter) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(r.Context(), rl.wait)
	defer cancel() // always cancel the context!

	// Wait errors out if the request cannot be processed within
	// the deadline. This is preemptive, instead of waiting the
	// entire duration.
	if err := rl.rl.Wait(ctx); err != nil {
		return nil, err
	}
	return rl.transport.RoundTrip(r)
}
