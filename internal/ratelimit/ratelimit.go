package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMinInterval spaces lookups at least 200ms apart, keeping aggregate
// throughput at or under 5 requests/second across every scanner.
const DefaultMinInterval = 200 * time.Millisecond

// Gate is a process-wide minimum-interval throttle shared by all scanners.
// It is a coarse global gate, not a fair scheduler: callers blocked in Wait
// wake in whatever order the limiter releases them.
type Gate struct {
	limiter *rate.Limiter
}

// New creates a gate that allows one acquisition per minInterval
func New(minInterval time.Duration) *Gate {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Gate{
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// Wait blocks until the interval since the last acquisition has elapsed, or
// the context is canceled
func (g *Gate) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}
