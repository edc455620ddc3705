package errors

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryWithResultRetriesTransient(t *testing.T) {
	calls := 0
	got, err := RetryWithResultAndLog(context.Background(), fastRetry(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(stderrors.New("collision"), "")
		}
		return "order_ok", nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "order_ok", got)
	assert.Equal(t, 3, calls)
}

func TestRetryWithResultStopsOnPermanent(t *testing.T) {
	sentinel := stderrors.New("forbidden")
	calls := 0
	_, err := RetryWithResultAndLog(context.Background(), fastRetry(), func(context.Context) (int, error) {
		calls++
		return 0, sentinel
	}, nil)

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := RetryWithResultAndLog(context.Background(), fastRetry(), func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, NewTransientError(stderrors.New("still busy"), "")
	}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, 4, calls)
	assert.True(t, IsTransient(err))
}

func TestRetryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := RetryWithResultAndLog(ctx, fastRetry(), func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, nil
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestCalculateBackoffCapsAtMaxDelay(t *testing.T) {
	config := RetryConfig{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	assert.Equal(t, time.Second, calculateBackoff(0, config))
	assert.Equal(t, 2*time.Second, calculateBackoff(1, config))
	assert.Equal(t, 3*time.Second, calculateBackoff(5, config))

	config.JitterFactor = 0.25
	for i := 0; i < 20; i++ {
		delay := calculateBackoff(1, config)
		assert.GreaterOrEqual(t, delay, 1500*time.Millisecond)
		assert.LessOrEqual(t, delay, 2500*time.Millisecond)
	}
}
