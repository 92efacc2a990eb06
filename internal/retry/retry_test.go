package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Microsecond,
		MaxInterval:     10 * time.Microsecond,
		Multiplier:      2.0,
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func() error {
		calls++
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, func(err error) bool { return errors.Is(err, errTransient) })
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy(4).Do(context.Background(), func() error {
		calls++
		return errTransient
	}, func(err error) bool { return true })

	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 4, calls)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func() error {
		calls++
		return fatal
	}, func(err error) bool { return errors.Is(err, errTransient) })

	assert.ErrorIs(t, err, fatal)
	assert.NotErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := Policy{
		MaxAttempts:     10,
		InitialInterval: time.Hour,
		Multiplier:      2.0,
	}
	err := policy.Do(ctx, func() error {
		return errTransient
	}, func(err error) bool { return true })

	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffCeilingIsBounded(t *testing.T) {
	policy := Policy{
		MaxAttempts:     6,
		InitialInterval: time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
		Multiplier:      2.0,
	}

	// Worst case sleeps: 1+2+4+4+4 ms of ceiling. Full jitter draws below
	// the ceiling, so the whole loop stays well under a second.
	start := time.Now()
	err := policy.Do(context.Background(), func() error {
		return errTransient
	}, func(err error) bool { return true })
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Less(t, elapsed, time.Second)
}

func TestZeroAttemptsStillRunsOnce(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), func() error {
		calls++
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
