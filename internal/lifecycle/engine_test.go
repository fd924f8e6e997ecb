package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localzure/brokerd/internal/messagestore"
	"github.com/localzure/brokerd/internal/model"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newEngine(props model.EntityProperties, clock Clock) (*Engine, *messagestore.EntityStore) {
	store := messagestore.NewEntityStore("queue:test", props.DuplicateDetectionWindow)
	return New(store, clock, props), store
}

func TestSendThenPeekLockReceive(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	props := model.DefaultEntityProperties()
	eng, _ := newEngine(props, clock)

	msg := &model.Message{ID: "m1", Body: []byte("x"), System: model.SystemProperties{EnqueuedTimeUTC: clock.Now()}}
	require.True(t, eng.Send(msg, "dedup-1"))

	received := eng.Receive(PeekLock, "", 1, "receiver-1")
	require.Len(t, received, 1)
	assert.Equal(t, 1, received[0].DeliveryCount)
	assert.NotEmpty(t, received[0].LockToken)

	require.NoError(t, eng.Complete(received[0].LockToken))
}

func TestReceiveAndDeleteSkipsLocking(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	eng, _ := newEngine(model.DefaultEntityProperties(), clock)
	msg := &model.Message{ID: "m1", System: model.SystemProperties{EnqueuedTimeUTC: clock.Now()}}
	eng.Send(msg, "")

	received := eng.Receive(ReceiveAndDelete, "", 1, "")
	require.Len(t, received, 1)
	assert.Empty(t, received[0].LockToken)
}

func TestAbandonDeadLettersAtMaxDeliveryCount(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	props := model.DefaultEntityProperties()
	props.MaxDeliveryCount = 2
	eng, store := newEngine(props, clock)

	msg := &model.Message{ID: "m1", System: model.SystemProperties{EnqueuedTimeUTC: clock.Now()}}
	eng.Send(msg, "")

	for i := 0; i < 2; i++ {
		received := eng.Receive(PeekLock, "", 1, "r")
		require.Len(t, received, 1)
		require.NoError(t, eng.Abandon(received[0].LockToken))
	}

	assert.Nil(t, store.PeekActive())
	dl := store.PeekDeadLetter(0, 10)
	require.Len(t, dl, 1)
	assert.Equal(t, model.ReasonMaxDeliveryCountExceeded, dl[0].DeadLetterReason)
}

func TestDuplicateSendIsSilentlyAccepted(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	props := model.DefaultEntityProperties()
	props.RequiresDuplicateDetection = true
	props.DuplicateDetectionWindow = time.Minute
	eng, store := newEngine(props, clock)

	m1 := &model.Message{ID: "m1", System: model.SystemProperties{EnqueuedTimeUTC: clock.Now()}}
	m2 := &model.Message{ID: "m2", System: model.SystemProperties{EnqueuedTimeUTC: clock.Now()}}
	assert.True(t, eng.Send(m1, "dup-key"))
	assert.False(t, eng.Send(m2, "dup-key"))
	assert.Equal(t, int64(1), store.Counters().ActiveMessageCount)
}

func TestLockLostOnUnknownToken(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	eng, _ := newEngine(model.DefaultEntityProperties(), clock)
	err := eng.Complete("nonexistent")
	require.Error(t, err)
}

func TestSweepExpiredLocksReapplies(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	eng, store := newEngine(model.DefaultEntityProperties(), clock)
	msg := &model.Message{ID: "m1", System: model.SystemProperties{EnqueuedTimeUTC: clock.Now()}}
	eng.Send(msg, "")
	received := eng.Receive(PeekLock, "", 1, "r")
	require.Len(t, received, 1)

	clock.t = clock.t.Add(time.Hour) // well past lock duration
	eng.SweepExpiredLocks()

	assert.NotNil(t, store.PeekActive())
}
