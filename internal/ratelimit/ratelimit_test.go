package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localzure/brokerd/internal/brokererrors"
)

func TestCheckQueueRateWithinBurst(t *testing.T) {
	l := New()
	for i := 0; i < int(DefaultQueueRate*burstMultiplier); i++ {
		require.NoError(t, l.CheckQueueRate("orders", 1))
	}
	err := l.CheckQueueRate("orders", 1)
	require.Error(t, err)
	be, ok := brokererrors.As(err)
	require.True(t, ok)
	assert.Equal(t, brokererrors.CodeQuotaExceeded, be.Code)
	assert.True(t, be.IsTransient)
}

func TestCustomRateOverride(t *testing.T) {
	l := New()
	l.SetCustomRate("slow-queue", 1)
	require.NoError(t, l.CheckQueueRate("slow-queue", 1))
	require.NoError(t, l.CheckQueueRate("slow-queue", 1)) // burst = rate*2 = 2
	err := l.CheckQueueRate("slow-queue", 1)
	require.Error(t, err)
}

func TestIngressLimiterAllow(t *testing.T) {
	l := NewIngressLimiter(1000, 5)
	admitted := 0
	for i := 0; i < 5; i++ {
		if l.Allow() {
			admitted++
		}
	}
	assert.Equal(t, 5, admitted)
}
