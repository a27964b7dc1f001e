package exchange

import (
	"context"
	"sync"
	"time"
)

// The CLOB publishes per-category limits over 10-second windows: 3500
// order posts, 3000 cancels, 1500 book reads. Each bucket carries the
// full window as burst and refills at a tenth of it per second, so a
// sustained caller smooths out instead of slamming into the hard limit.
const (
	orderBurst, orderPerSec   = 350, 50
	cancelBurst, cancelPerSec = 300, 30
	bookBurst, bookPerSec     = 150, 15
)

// TokenBucket is a continuously refilling token bucket. Fractional
// tokens accumulate between calls.
type TokenBucket struct {
	mu     sync.Mutex
	avail  float64
	burst  float64
	perSec float64
	last   time.Time
}

// NewTokenBucket returns a bucket that starts full.
func NewTokenBucket(burst, perSec float64) *TokenBucket {
	return &TokenBucket{avail: burst, burst: burst, perSec: perSec, last: time.Now()}
}

// Wait consumes one token, sleeping through refills until one is
// available or ctx is cancelled.
func (b *TokenBucket) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := time.Now()
		b.avail += now.Sub(b.last).Seconds() * b.perSec
		if b.avail > b.burst {
			b.avail = b.burst
		}
		b.last = now

		if b.avail >= 1 {
			b.avail--
			b.mu.Unlock()
			return nil
		}
		sleep := time.Duration((1 - b.avail) / b.perSec * float64(time.Second))
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// RateLimiter holds one bucket per CLOB endpoint category. Every client
// method waits on its category before the HTTP request goes out.
type RateLimiter struct {
	Order  *TokenBucket // POST /order, /orders
	Cancel *TokenBucket // DELETE /order, /cancel-all, /cancel-market-orders
	Book   *TokenBucket // every read endpoint
}

// NewRateLimiter creates the three category buckets at their published
// allowances.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(orderBurst, orderPerSec),
		Cancel: NewTokenBucket(cancelBurst, cancelPerSec),
		Book:   NewTokenBucket(bookBurst, bookPerSec),
	}
}
