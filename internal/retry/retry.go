// Package retry provides the single retry policy applied to idempotent
// writes: bounded exponential backoff with full jitter.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy describes a bounded exponential backoff.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialInterval is the backoff ceiling for the first retry.
	InitialInterval time.Duration

	// MaxInterval caps the backoff ceiling.
	MaxInterval time.Duration

	// Multiplier grows the ceiling between retries.
	Multiplier float64
}

// DefaultPolicy returns the policy used for event log appends.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     250 * time.Millisecond,
		Multiplier:      2.0,
	}
}

// ErrAttemptsExhausted is returned when every attempt failed with a
// retryable error. The last attempt's error is wrapped alongside it.
var ErrAttemptsExhausted = errors.New("retry: attempts exhausted")

// Do runs op until it succeeds, returns a non-retryable error, the context
// is cancelled, or MaxAttempts is reached. The sleep before attempt n is a
// uniform draw from [0, min(MaxInterval, InitialInterval*Multiplier^(n-1))].
func (p Policy) Do(ctx context.Context, op func() error, retryable func(error) bool) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	ceiling := p.InitialInterval
	var lastErr error

	for attempt := 1; ; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt >= p.MaxAttempts {
			return errors.Join(ErrAttemptsExhausted, lastErr)
		}

		sleep := time.Duration(rand.Int63n(int64(ceiling) + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		ceiling = time.Duration(float64(ceiling) * p.Multiplier)
		if p.MaxInterval > 0 && ceiling > p.MaxInterval {
			ceiling = p.MaxInterval
		}
	}
}
