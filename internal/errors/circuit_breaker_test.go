package errors

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func failWith(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("provider", CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}).WithNow(clock.Now)

	failure := stderrors.New("gateway 502")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, cb.Execute(ctx, failWith(failure)), failure)
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsDegraded(err))
	assert.False(t, called)

	clock.Advance(time.Minute)
	require.NoError(t, cb.Execute(ctx, failWith(nil)))
	require.NoError(t, cb.Execute(ctx, failWith(nil)), "one successful probe closes the circuit")
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("provider", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          time.Second,
	}).WithNow(clock.Now)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failWith(stderrors.New("down"))))
	assert.True(t, IsDegraded(cb.Execute(ctx, failWith(nil))))

	clock.Advance(2 * time.Second)
	probe := stderrors.New("still down")
	require.ErrorIs(t, cb.Execute(ctx, failWith(probe)), probe)

	assert.True(t, IsDegraded(cb.Execute(ctx, failWith(nil))), "a failed probe reopens immediately")
}

func TestCircuitBreakerStateChangeCallback(t *testing.T) {
	changes := make(chan CircuitState, 1)
	cb := NewCircuitBreaker("provider", CircuitBreakerConfig{
		FailureThreshold: 1,
		Timeout:          time.Hour,
		OnStateChange: func(_, to CircuitState, _ string) {
			changes <- to
		},
	})

	_ = cb.Execute(context.Background(), failWith(stderrors.New("down")))

	select {
	case to := <-changes:
		assert.Equal(t, StateOpen, to)
	case <-time.After(time.Second):
		t.Fatal("expected state change callback")
	}
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
