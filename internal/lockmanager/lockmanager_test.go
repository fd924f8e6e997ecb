package lockmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampLockDuration(t *testing.T) {
	assert.Equal(t, MinLockDuration, ClampLockDuration(100*time.Millisecond))
	assert.Equal(t, MaxLockDuration, ClampLockDuration(time.Hour))
	assert.Equal(t, 10*time.Second, ClampLockDuration(10*time.Second))
}

func TestAcceptSpecificSessionContested(t *testing.T) {
	sl := NewSessionLocks()
	now := time.Now()
	_, err := sl.AcceptSpecific("s1", "owner-a", 30*time.Second, now)
	require.NoError(t, err)

	_, err = sl.AcceptSpecific("s1", "owner-b", 30*time.Second, now)
	require.Error(t, err)
}

func TestAcceptNextPicksUnlockedSession(t *testing.T) {
	sl := NewSessionLocks()
	now := time.Now()
	sl.AcceptSpecific("s1", "owner-a", 30*time.Second, now)

	sessionID, _, err := sl.AcceptNext([]string{"s1", "s2"}, "owner-b", 30*time.Second, now)
	require.NoError(t, err)
	assert.Equal(t, "s2", sessionID)
}

func TestRenewRequiresOwnership(t *testing.T) {
	sl := NewSessionLocks()
	now := time.Now()
	sl.AcceptSpecific("s1", "owner-a", 30*time.Second, now)

	_, err := sl.Renew("s1", "owner-b", 30*time.Second, now)
	require.Error(t, err)

	_, err = sl.Renew("s1", "owner-a", 30*time.Second, now)
	require.NoError(t, err)
}

func TestSweepReleasesExpired(t *testing.T) {
	sl := NewSessionLocks()
	now := time.Now()
	sl.AcceptSpecific("s1", "owner-a", time.Second, now)

	released := sl.Sweep(now.Add(2 * time.Second))
	assert.Equal(t, []string{"s1"}, released)
	assert.False(t, sl.IsLocked("s1", now.Add(2*time.Second)))
}
