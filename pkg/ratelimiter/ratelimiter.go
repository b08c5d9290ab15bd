// Package ratelimiter provides the request throttling used by the HTTP layer.
package ratelimiter

import (
	"math"
	"sync"
	"time"
)

// Limiter decides whether a request may proceed. Allow never blocks; callers
// reject the request when it returns false.
type Limiter interface {
	Allow() bool
}

// TokenBucket is a Limiter that refills at a fixed rate and absorbs bursts up
// to its capacity. Refill is lazy: tokens are credited on each Allow call
// from the time elapsed since the previous one.
type TokenBucket struct {
	mu         sync.Mutex
	ratePerSec float64
	burst      float64
	available  float64
	lastRefill time.Time
	now        func() time.Time // injectable clock for tests
}

// NewTokenBucket creates a bucket granting ratePerSec requests per second
// with bursts of at most burst requests. The bucket starts full.
func NewTokenBucket(ratePerSec float64, burst int) *TokenBucket {
	return &TokenBucket{
		ratePerSec: ratePerSec,
		burst:      float64(burst),
		available:  float64(burst),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Allow consumes one token if one is available.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		b.available = math.Min(b.burst, b.available+elapsed.Seconds()*b.ratePerSec)
		b.lastRefill = now
	}
	if b.available < 1 {
		return false
	}
	b.available--
	return true
}

var _ Limiter = (*TokenBucket)(nil)
