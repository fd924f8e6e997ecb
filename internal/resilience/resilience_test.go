package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localzure/brokerd/internal/brokererrors"
)

func TestWithTimeoutExpires(t *testing.T) {
	err := WithTimeout(context.Background(), "receive", 10*time.Millisecond, func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	require.Error(t, err)
	be, ok := brokererrors.As(err)
	require.True(t, ok)
	assert.Equal(t, brokererrors.CodeOperationTimeout, be.Code)
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2}, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return brokererrors.ConnectionError("dial failed")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryStopsOnNonTransient(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), DefaultRetryConfig(), func(ctx context.Context) error {
		attempts++
		return brokererrors.EntityNotFound("queue")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Name: "test", FailureThreshold: 2, ResetTimeout: time.Hour})
	failing := func() error { return errors.New("boom") }

	_ = cb.Execute(failing)
	_ = cb.Execute(failing)
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(func() error { return nil })
	require.Error(t, err)
	be, ok := brokererrors.As(err)
	require.True(t, ok)
	assert.Equal(t, brokererrors.CodeCircuitBreakerOpen, be.Code)
}

func TestRegistryReturnsSameBreaker(t *testing.T) {
	r := NewRegistry()
	a := r.GetOrCreate(BreakerConfig{Name: "svc"})
	b := r.GetOrCreate(BreakerConfig{Name: "svc"})
	assert.Same(t, a, b)
}
