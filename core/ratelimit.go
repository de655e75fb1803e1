package core

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// publicRateWindow and publicRateBurst match the ledger's documented public
// limits (spec §4.8: "default R=40, W=10 s").
const (
	publicRateBurst  = 40
	publicRateWindow = 10 * time.Second
)

// RateGate is the shared, process-wide rate-limit bookkeeping for public
// endpoints: a sliding-window token bucket plus a retry_after_until gate
// (spec §4.8, §9 "Global mutable state": "encapsulated in an explicit
// object passed to every transport call; there are no hidden singletons").
// It is built on golang.org/x/time/rate rather than a hand-rolled counter
// array, generalizing the teacher's absence of a rate limiter (the teacher
// has no RPC rate limiting of its own) using the pack's own dependency.
type RateGate struct {
	mu              sync.Mutex
	limiter         *rate.Limiter
	retryAfterUntil time.Time
}

// NewRateGate builds a RateGate with capacity burst tokens replenished
// uniformly over window.
func NewRateGate(burst int, window time.Duration) *RateGate {
	if burst <= 0 {
		burst = publicRateBurst
	}
	if window <= 0 {
		window = publicRateWindow
	}
	every := window / time.Duration(burst)
	return &RateGate{limiter: rate.NewLimiter(rate.Every(every), burst)}
}

// NewDefaultRateGate builds the reference R=40/W=10s gate.
func NewDefaultRateGate() *RateGate { return NewRateGate(publicRateBurst, publicRateWindow) }

// Wait blocks until both the retry_after_until gate has passed and a token
// bucket slot is available, or ctx is cancelled.
func (g *RateGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	until := g.retryAfterUntil
	g.mu.Unlock()
	if d := time.Until(until); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return g.limiter.Wait(ctx)
}

// AdvanceRetryAfter extends retry_after_until by d from now if that's later
// than the current value (spec §4.8 429 handling).
func (g *RateGate) AdvanceRetryAfter(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(g.retryAfterUntil) {
		g.retryAfterUntil = until
	}
}
