package janitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localzure/brokerd/internal/lifecycle"
	"github.com/localzure/brokerd/internal/lockmanager"
	"github.com/localzure/brokerd/internal/messagestore"
	"github.com/localzure/brokerd/internal/model"
)

type fakeEngines struct {
	engines map[string]*lifecycle.Engine
	locks   map[string]*lockmanager.SessionLocks
}

func (f *fakeEngines) Engines() map[string]*lifecycle.Engine             { return f.engines }
func (f *fakeEngines) SessionLocks() map[string]*lockmanager.SessionLocks { return f.locks }

func TestSweepOncePromotesScheduledMessages(t *testing.T) {
	store := messagestore.NewEntityStore("queue:orders", time.Minute)
	eng := lifecycle.New(store, lifecycle.SystemClock, model.EntityProperties{
		LockDuration:     30 * time.Second,
		MaxDeliveryCount: 5,
	})

	msg := &model.Message{
		ID: "m1",
		System: model.SystemProperties{
			ScheduledEnqueueTimeUTC: time.Now().UTC().Add(-time.Second),
		},
	}
	store.Enqueue(msg, time.Now().UTC().Add(-time.Hour))

	entities := &fakeEngines{
		engines: map[string]*lifecycle.Engine{"queue:orders": eng},
		locks:   map[string]*lockmanager.SessionLocks{},
	}

	j, err := New(entities, time.Hour, "", nil, nil)
	require.NoError(t, err)
	j.SweepOnce()

	assert.NotNil(t, store.PeekActive())
}

func TestNewRejectsInvalidCronExpression(t *testing.T) {
	entities := &fakeEngines{engines: map[string]*lifecycle.Engine{}, locks: map[string]*lockmanager.SessionLocks{}}
	_, err := New(entities, time.Second, "not a cron expr", nil, nil)
	assert.Error(t, err)
}

func TestStartStopStopsCleanly(t *testing.T) {
	entities := &fakeEngines{engines: map[string]*lifecycle.Engine{}, locks: map[string]*lockmanager.SessionLocks{}}
	j, err := New(entities, 10*time.Millisecond, "", nil, nil)
	require.NoError(t, err)
	j.Start()
	time.Sleep(30 * time.Millisecond)
	j.Stop()
}
