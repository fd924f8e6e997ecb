package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localzure/brokerd/internal/config"
	"github.com/localzure/brokerd/internal/lifecycle"
	"github.com/localzure/brokerd/internal/model"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	cfg := config.New()
	return New(cfg, nil, nil)
}

func TestSendThenReceiveFromQueue(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	_, _, err := b.Admin.CreateOrUpdateQueue("orders", model.DefaultEntityProperties())
	require.NoError(t, err)

	msg := &model.Message{ID: "m1", Body: []byte("hello")}
	require.NoError(t, b.SendToQueue(ctx, "orders", msg, "dedup-1"))

	received, err := b.ReceiveFromQueue(ctx, "orders", lifecycle.PeekLock, "", 1, "receiver-1")
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "m1", received[0].ID)
	assert.NotEmpty(t, received[0].LockToken)

	require.NoError(t, b.CompleteQueueMessage("orders", received[0].LockToken))
}

func TestPublishFansOutToMatchingSubscription(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	_, _, err := b.Admin.CreateOrUpdateTopic("events", model.DefaultEntityProperties())
	require.NoError(t, err)
	_, _, err = b.Admin.CreateOrUpdateSubscription("events", "all", model.DefaultEntityProperties())
	require.NoError(t, err)

	msg := &model.Message{Body: []byte("payload")}
	require.NoError(t, b.PublishToTopic(ctx, "events", msg))

	received, err := b.ReceiveFromSubscription(ctx, "events", "all", lifecycle.ReceiveAndDelete, "", 1, "receiver-1")
	require.NoError(t, err)
	require.Len(t, received, 1)
}

func TestSendToUnknownQueueFails(t *testing.T) {
	b := newTestBroker(t)
	err := b.SendToQueue(context.Background(), "missing", &model.Message{ID: "m1"}, "d1")
	assert.Error(t, err)
}

// TestScenarioS4SessionFIFO exercises S4: a session-enabled subscription
// delivers its session's messages in enqueue order and withholds another
// session's messages until that session is separately accepted.
func TestScenarioS4SessionFIFO(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	props := model.DefaultEntityProperties()
	props.RequiresSession = true
	_, _, err := b.Admin.CreateOrUpdateTopic("events", model.DefaultEntityProperties())
	require.NoError(t, err)
	_, _, err = b.Admin.CreateOrUpdateSubscription("events", "s", props)
	require.NoError(t, err)

	for _, id := range []string{"A1", "A2", "A3"} {
		msg := &model.Message{Body: []byte(id), System: model.SystemProperties{SessionID: "SA"}}
		require.NoError(t, b.PublishToTopic(ctx, "events", msg))
	}
	msgB1 := &model.Message{Body: []byte("B1"), System: model.SystemProperties{SessionID: "SB"}}
	require.NoError(t, b.PublishToTopic(ctx, "events", msgB1))

	_, err = b.AcceptSubscriptionSession("events", "s", "SA", "receiver-a", props.LockDuration)
	require.NoError(t, err)

	received, err := b.ReceiveFromSubscription(ctx, "events", "s", lifecycle.PeekLock, "SA", 10, "receiver-a")
	require.NoError(t, err)
	require.Len(t, received, 3)
	assert.Equal(t, "A1", string(received[0].Body))
	assert.Equal(t, "A2", string(received[1].Body))
	assert.Equal(t, "A3", string(received[2].Body))
	for _, m := range received {
		assert.NotEqual(t, "B1", string(m.Body))
	}
}

// TestPublishToTopicAssignsSequenceNumbers covers the sequence-number
// propagation requirement: every subscription copy of a topic publication
// must inherit the topic's own sequence number, increasing per publish.
func TestPublishToTopicAssignsSequenceNumbers(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	_, _, err := b.Admin.CreateOrUpdateTopic("events", model.DefaultEntityProperties())
	require.NoError(t, err)
	_, _, err = b.Admin.CreateOrUpdateSubscription("events", "all", model.DefaultEntityProperties())
	require.NoError(t, err)

	msg1 := &model.Message{Body: []byte("first")}
	require.NoError(t, b.PublishToTopic(ctx, "events", msg1))
	msg2 := &model.Message{Body: []byte("second")}
	require.NoError(t, b.PublishToTopic(ctx, "events", msg2))

	assert.Equal(t, int64(1), msg1.System.SequenceNumber)
	assert.Equal(t, int64(2), msg2.System.SequenceNumber)

	received, err := b.ReceiveFromSubscription(ctx, "events", "all", lifecycle.ReceiveAndDelete, "", 2, "receiver-1")
	require.NoError(t, err)
	require.Len(t, received, 2)
	assert.Equal(t, int64(1), received[0].System.SequenceNumber)
	assert.Equal(t, int64(2), received[1].System.SequenceNumber)
}

// TestReceiveFromSessionQueueRequiresAcceptedSession covers spec's
// session-isolation rule: a session-enabled queue must refuse a
// sessionless receive, and must refuse a receive whose sessionID was
// never accepted by that receiver.
func TestReceiveFromSessionQueueRequiresAcceptedSession(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	props := model.DefaultEntityProperties()
	props.RequiresSession = true
	_, _, err := b.Admin.CreateOrUpdateQueue("sessioned", props)
	require.NoError(t, err)

	msg := &model.Message{ID: "m1", Body: []byte("hello"), System: model.SystemProperties{SessionID: "s1"}}
	require.NoError(t, b.SendToQueue(ctx, "sessioned", msg, ""))

	_, err = b.ReceiveFromQueue(ctx, "sessioned", lifecycle.PeekLock, "", 1, "receiver-1")
	assert.Error(t, err)

	_, err = b.ReceiveFromQueue(ctx, "sessioned", lifecycle.PeekLock, "s1", 1, "receiver-1")
	assert.Error(t, err)

	_, err = b.AcceptSession("sessioned", "s1", "receiver-1", props.LockDuration)
	require.NoError(t, err)

	received, err := b.ReceiveFromQueue(ctx, "sessioned", lifecycle.PeekLock, "s1", 1, "receiver-1")
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "m1", received[0].ID)

	_, err = b.ReceiveFromQueue(ctx, "sessioned", lifecycle.PeekLock, "s1", 1, "receiver-2")
	assert.Error(t, err)
}

func TestAcceptSessionContestedByAnotherOwner(t *testing.T) {
	b := newTestBroker(t)
	props := model.DefaultEntityProperties()
	props.RequiresSession = true
	_, _, err := b.Admin.CreateOrUpdateQueue("sessioned", props)
	require.NoError(t, err)

	_, err = b.AcceptSession("sessioned", "s1", "owner-a", props.LockDuration)
	require.NoError(t, err)

	_, err = b.AcceptSession("sessioned", "s1", "owner-b", props.LockDuration)
	assert.Error(t, err)
}
