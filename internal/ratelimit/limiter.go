package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Source represents the different external endpoints we pace
type Source string

const (
	// SourceListing is the bulk instrument listing endpoint
	SourceListing Source = "listing"
	// SourcePages covers the per-instrument fundamentals pages
	SourcePages Source = "pages"
)

// Rate is the steady-state request rate and burst for one source
type Rate struct {
	PerSecond float64
	Burst     int
}

// Unlimited disables pacing for a source, used in tests
var Unlimited = Rate{PerSecond: 0}

// Limiter manages rate limits for different sources
type Limiter struct {
	limiters map[Source]*rate.Limiter
	mu       sync.RWMutex
}

// New creates a limiter with one token bucket per configured source. A
// non-positive PerSecond means unlimited.
func New(rates map[Source]Rate) *Limiter {
	l := &Limiter{
		limiters: make(map[Source]*rate.Limiter, len(rates)),
	}
	for source, r := range rates {
		l.Set(source, r)
	}
	return l
}

// Set replaces the bucket for source
func (l *Limiter) Set(source Source, r Rate) {
	limit := rate.Inf
	if r.PerSecond > 0 {
		limit = rate.Limit(r.PerSecond)
	}
	burst := r.Burst
	if burst < 1 {
		burst = 1
	}

	l.mu.Lock()
	l.limiters[source] = rate.NewLimiter(limit, burst)
	l.mu.Unlock()
}

// Wait blocks until the rate limiter permits an event for the given source
// It returns an error if the context is canceled before the event can proceed
func (l *Limiter) Wait(ctx context.Context, source Source) error {
	l.mu.RLock()
	limiter, exists := l.limiters[source]
	l.mu.RUnlock()

	if !exists {
		// If no limiter exists for this source, allow the request without limiting
		return nil
	}

	return limiter.Wait(ctx)
}

// Allow reports whether an event for the given source may happen now
func (l *Limiter) Allow(source Source) bool {
	l.mu.RLock()
	limiter, exists := l.limiters[source]
	l.mu.RUnlock()

	if !exists {
		// If no limiter exists for this source, allow the request
		return true
	}

	return limiter.Allow()
}
