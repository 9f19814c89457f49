// Package ratelimit provides the shared probe-start rate limiter for scan
// jobs. It wraps a token bucket: tokens accumulate at the configured rate up
// to a burst capacity and every probe start drains one token. A single
// limiter is handed to all workers of one job at spawn time.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/sweepnet/sweepnet/internal/metrics"
)

// Limiter throttles probe starts to a maximum rate per second. A nil inner
// limiter means unlimited: Wait never blocks.
type Limiter struct {
	limiter *rate.Limiter
	rate    uint32
}

// New creates a limiter allowing ratePerSecond probe starts per second with
// a burst capacity equal to the rate. ratePerSecond of 0 disables
// throttling entirely.
func New(ratePerSecond uint32) *Limiter {
	if ratePerSecond == 0 {
		return &Limiter{}
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)),
		rate:    ratePerSecond,
	}
}

// Wait blocks until a token is available or the context is canceled.
// Unlimited limiters return immediately.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	start := time.Now()
	err := l.limiter.Wait(ctx)
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.Histogram(metrics.MetricRateWait, waited.Seconds(), nil)
	}
	return err
}

// Allow reports whether a token is available right now, consuming it if so.
// Unlimited limiters always allow.
func (l *Limiter) Allow() bool {
	if l.limiter == nil {
		return true
	}
	return l.limiter.Allow()
}

// Rate returns the configured probe starts per second (0 = unlimited).
func (l *Limiter) Rate() uint32 {
	return l.rate
}

// Unlimited reports whether the limiter performs no throttling.
func (l *Limiter) Unlimited() bool {
	return l.limiter == nil
}
