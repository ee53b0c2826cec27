// Package ratelimit wraps golang.org/x/time/rate the way the teacher's
// polymarket client does (per-endpoint token buckets around an HTTP
// client), but closes a race the teacher's usage leaves open: concurrent
// callers computing a reservation and then sleeping independently can all
// wake at once and burst past the bucket. Wait here holds a single mutex
// across both the reservation and the sleep so callers queue instead.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alexrivas/mirrorbot/internal/metrics"
)

// Limiter is a token-bucket limiter safe for concurrent use, with waits
// serialized end-to-end.
type Limiter struct {
	mu  sync.Mutex
	rl  *rate.Limiter
}

// New creates a Limiter allowing rps events per second, with the given
// burst capacity.
func New(rps float64, burst int) *Limiter {
	return &Limiter{rl: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a token is available or ctx is done. Unlike calling
// rate.Limiter.Wait directly from multiple goroutines, Wait here holds its
// mutex across the full reserve-then-sleep sequence: the reservation for
// goroutine B is only computed after goroutine A has both reserved AND
// finished sleeping out its delay, so the bucket never sees more waiters
// release at once than its rate actually permits. This is the fix for the
// "compute wait, release lock, then sleep" race class, not a claim that
// the underlying rate.Limiter itself double-spends tokens.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.rl.Wait(ctx)
	metrics.RateLimiterWaitSeconds.Observe(time.Since(start).Seconds())
	return err
}

// Allow reports whether a token is available right now, consuming it if so.
// Does not serialize against concurrent Wait calls in flight — intended for
// best-effort, non-blocking checks only (e.g. metrics sampling).
func (l *Limiter) Allow() bool {
	return l.rl.Allow()
}

// SetLimit adjusts the refill rate at runtime (e.g. after a 429 response
// signals the upstream has tightened its limits).
func (l *Limiter) SetLimit(rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rl.SetLimit(rate.Limit(rps))
}
