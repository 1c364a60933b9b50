package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailbridge/mailbridge/internal/errs"
)

func TestLimiter_AcquireWithinBurst(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 10, Burst: 5, MaxWait: time.Second})

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Acquire(context.Background()))
	}
}

func TestLimiter_ExhaustedBudgetFailsFast(t *testing.T) {
	// One token, refilled far slower than the wait bound.
	limiter := NewLimiter(Config{RequestsPerSecond: 0.001, Burst: 1, MaxWait: 20 * time.Millisecond})

	require.NoError(t, limiter.Acquire(context.Background()))

	err := limiter.Acquire(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrRateLimited))
}

func TestLimiter_ContextCancellationIsNotThrottling(t *testing.T) {
	// Next token ~200ms out, well inside the wait bound, so Acquire is
	// genuinely blocking when the cancel fires.
	limiter := NewLimiter(Config{RequestsPerSecond: 5, Burst: 1, MaxWait: time.Minute})
	require.NoError(t, limiter.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := limiter.Acquire(ctx)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, errs.ErrRateLimited))
}

func TestLimiter_Allow(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 0.001, Burst: 1, MaxWait: time.Second})

	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow())
}
