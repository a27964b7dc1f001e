// Package retry provides bounded exponential backoff with full jitter for
// transient API failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Config bounds a retry loop.
type Config struct {
	Attempts int           // total tries, including the first
	Base     time.Duration // delay before the second attempt
	Cap      time.Duration // upper bound on any single delay
}

// DefaultConfig matches the API clients: 3 attempts, 500ms base, 5s cap.
var DefaultConfig = Config{Attempts: 3, Base: 500 * time.Millisecond, Cap: 5 * time.Second}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable. Do stops immediately when fn
// returns a wrapped permanent error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, a permanent error occurs, attempts are
// exhausted, or ctx is cancelled. Backoff doubles each attempt with full
// jitter, capped at cfg.Cap.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	delay := cfg.Base
	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if attempt == cfg.Attempts {
			break
		}
		sleep := time.Duration(rand.Float64() * float64(delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		delay *= 2
		if cfg.Cap > 0 && delay > cfg.Cap {
			delay = cfg.Cap
		}
	}
	return fmt.Errorf("retry: %d attempts exhausted: %w", cfg.Attempts, lastErr)
}
