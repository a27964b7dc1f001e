// Package jitter randomizes order sizes and loop timings so the bot's
// activity does not form a machine-regular pattern on the public book.
package jitter

import (
	"context"
	"math/rand/v2"
	"time"
)

// randFloat returns a uniform sample in [0, 1). Swapped out in tests for
// deterministic behavior. rand/v2's global generator is safe for concurrent
// use.
var randFloat = rand.Float64

// Size perturbs v by a uniform factor in [1-pct, 1+pct]. The result is
// never negative. pct <= 0 returns v unchanged.
func Size(v, pct float64) float64 {
	if pct <= 0 {
		return v
	}
	factor := 1 + (randFloat()*2-1)*pct
	out := v * factor
	if out < 0 {
		return 0
	}
	return out
}

// Interval perturbs a duration by a uniform factor in [1-pct, 1+pct],
// floored at zero.
func Interval(d time.Duration, pct float64) time.Duration {
	if pct <= 0 {
		return d
	}
	factor := 1 + (randFloat()*2-1)*pct
	out := time.Duration(float64(d) * factor)
	if out < 0 {
		return 0
	}
	return out
}

// Sleep blocks for d or until ctx is cancelled, returning ctx.Err() in the
// latter case. A non-positive d returns immediately.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
