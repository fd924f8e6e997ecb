package messagestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localzure/brokerd/internal/model"
)

func newMsg(id string) *model.Message {
	return &model.Message{
		ID:   id,
		Body: []byte("body-" + id),
		System: model.SystemProperties{
			EnqueuedTimeUTC: time.Now(),
		},
	}
}

func TestEnqueueAndPeekActive(t *testing.T) {
	s := NewEntityStore("queue:orders", 0)
	m := newMsg("m1")
	s.Enqueue(m, time.Now())

	peeked := s.PeekActive()
	require.NotNil(t, peeked)
	assert.Equal(t, "m1", peeked.ID)
}

func TestScheduledMessagePromotedWhenDue(t *testing.T) {
	s := NewEntityStore("queue:orders", 0)
	now := time.Now()
	m := newMsg("future")
	m.System.ScheduledEnqueueTimeUTC = now.Add(time.Hour)
	s.Enqueue(m, now)

	assert.Nil(t, s.PeekActive())

	promoted := s.PromoteDue(now.Add(2 * time.Hour))
	assert.Equal(t, 1, promoted)
	assert.NotNil(t, s.PeekActive())
}

func TestLockCompleteCycle(t *testing.T) {
	s := NewEntityStore("queue:orders", 0)
	m := newMsg("m1")
	s.Enqueue(m, time.Now())

	s.Lock(m, "token-1", time.Now().Add(30*time.Second), "receiver-1")
	assert.Nil(t, s.PeekActive())

	locked, err := s.LookupLocked("token-1")
	require.NoError(t, err)
	assert.Equal(t, "m1", locked.ID)

	require.NoError(t, s.Complete("token-1"))
	_, err = s.LookupLocked("token-1")
	require.Error(t, err)
}

func TestAbandonReturnsToActive(t *testing.T) {
	s := NewEntityStore("queue:orders", 0)
	m := newMsg("m1")
	s.Enqueue(m, time.Now())
	s.Lock(m, "token-1", time.Now().Add(30*time.Second), "receiver-1")

	back, err := s.Abandon("token-1")
	require.NoError(t, err)
	assert.Equal(t, "m1", back.ID)
	assert.NotNil(t, s.PeekActive())
}

// TestAbandonReinsertsAtFIFOHead covers the head-of-queue requirement: a
// message locked and abandoned out of order must be the very next
// message a subsequent receive sees, ahead of messages that arrived
// after it but were never locked.
func TestAbandonReinsertsAtFIFOHead(t *testing.T) {
	s := NewEntityStore("queue:orders", 0)
	m1 := newMsg("m1")
	m2 := newMsg("m2")
	s.Enqueue(m1, time.Now())
	s.Enqueue(m2, time.Now())

	s.Lock(m1, "token-1", time.Now().Add(30*time.Second), "receiver-1")
	_, err := s.Abandon("token-1")
	require.NoError(t, err)

	assert.Equal(t, "m1", s.PeekActive().ID)
}

// TestAbandonReinsertsSessionBucketAtHead covers the same head-of-queue
// requirement for a session-scoped message.
func TestAbandonReinsertsSessionBucketAtHead(t *testing.T) {
	s := NewEntityStore("queue:orders", 0)
	m1 := newMsg("m1")
	m1.System.SessionID = "s1"
	m2 := newMsg("m2")
	m2.System.SessionID = "s1"
	s.Enqueue(m1, time.Now())
	s.Enqueue(m2, time.Now())

	s.Lock(m1, "token-1", time.Now().Add(30*time.Second), "receiver-1")
	_, err := s.Abandon("token-1")
	require.NoError(t, err)

	assert.Equal(t, "m1", s.PeekActiveForSession("s1").ID)
}

func TestDeadLetterFromLocked(t *testing.T) {
	s := NewEntityStore("queue:orders", 0)
	m := newMsg("m1")
	s.Enqueue(m, time.Now())
	s.Lock(m, "token-1", time.Now().Add(30*time.Second), "receiver-1")

	dl, err := s.DeadLetter("token-1", model.ReasonMaxDeliveryCountExceeded, "exceeded")
	require.NoError(t, err)
	assert.Equal(t, model.StateDeadLettered, dl.State)

	peeked := s.PeekDeadLetter(0, 10)
	require.Len(t, peeked, 1)
	assert.Equal(t, "m1", peeked[0].ID)
}

func TestDuplicateDetectionWindow(t *testing.T) {
	s := NewEntityStore("queue:orders", time.Minute)
	now := time.Now()
	assert.False(t, s.IsDuplicate("dedup-1", now))
	assert.True(t, s.IsDuplicate("dedup-1", now.Add(30*time.Second)))
	assert.False(t, s.IsDuplicate("dedup-1", now.Add(2*time.Minute)))
}

func TestExpiredLocksSweep(t *testing.T) {
	s := NewEntityStore("queue:orders", 0)
	m := newMsg("m1")
	s.Enqueue(m, time.Now())
	past := time.Now().Add(-time.Second)
	s.Lock(m, "token-1", past, "receiver-1")

	expired := s.ExpiredLocks(time.Now())
	assert.Equal(t, []string{"token-1"}, expired)
}

func TestSessionBucketing(t *testing.T) {
	s := NewEntityStore("queue:sessioned", 0)
	m1 := newMsg("m1")
	m1.System.SessionID = "s1"
	m2 := newMsg("m2")
	m2.System.SessionID = "s2"
	s.Enqueue(m1, time.Now())
	s.Enqueue(m2, time.Now())

	p1 := s.PeekActiveForSession("s1")
	require.NotNil(t, p1)
	assert.Equal(t, "m1", p1.ID)

	sessionID, ok := s.AnySessionWithMessages()
	assert.True(t, ok)
	assert.Contains(t, []string{"s1", "s2"}, sessionID)
}

func TestRegistryGetOrCreate(t *testing.T) {
	r := NewRegistry()
	a := r.GetOrCreate("queue:orders", 0)
	b := r.GetOrCreate("queue:orders", 0)
	assert.Same(t, a, b)

	r.Remove("queue:orders")
	_, ok := r.Get("queue:orders")
	assert.False(t, ok)
}
