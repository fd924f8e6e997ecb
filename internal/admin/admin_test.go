package admin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localzure/brokerd/internal/entitystore"
	"github.com/localzure/brokerd/internal/messagestore"
	"github.com/localzure/brokerd/internal/model"
)

func newFacade() *Facade {
	return New(entitystore.New(), messagestore.NewRegistry())
}

func TestCreateOrUpdateQueueIdempotent(t *testing.T) {
	f := newFacade()
	_, created, err := f.CreateOrUpdateQueue("orders", model.DefaultEntityProperties())
	require.NoError(t, err)
	assert.True(t, created)

	_, created2, err := f.CreateOrUpdateQueue("orders", model.DefaultEntityProperties())
	require.NoError(t, err)
	assert.False(t, created2)
}

func TestListQueuesClampsTop(t *testing.T) {
	f := newFacade()
	_, _, err := f.CreateOrUpdateQueue("orders", model.DefaultEntityProperties())
	require.NoError(t, err)

	queues := f.ListQueues(0, 5000)
	require.Len(t, queues, 1)
}

func TestDeleteQueueRemovesMessageStore(t *testing.T) {
	f := newFacade()
	_, _, err := f.CreateOrUpdateQueue("orders", model.DefaultEntityProperties())
	require.NoError(t, err)
	f.messages.GetOrCreate("queue:orders", 0)

	require.NoError(t, f.DeleteQueue("orders"))
	_, ok := f.messages.Get("queue:orders")
	assert.False(t, ok)
}

func TestRuleCRUDWithSQLExpression(t *testing.T) {
	f := newFacade()
	_, _, err := f.CreateOrUpdateTopic("events", model.DefaultEntityProperties())
	require.NoError(t, err)
	_, _, err = f.CreateOrUpdateSubscription("events", "all", model.DefaultEntityProperties())
	require.NoError(t, err)

	created, err := f.CreateOrUpdateRule("events", "all", "r1", RuleSpec{Kind: model.FilterSQL, SQLExpression: "priority eq 'high'"})
	require.NoError(t, err)
	assert.True(t, created)

	rule, err := f.GetRule("events", "all", "r1")
	require.NoError(t, err)
	require.NotNil(t, rule.SQLAst)
}

func TestRuleCRUDInvalidSQLExpression(t *testing.T) {
	f := newFacade()
	_, _, err := f.CreateOrUpdateTopic("events", model.DefaultEntityProperties())
	require.NoError(t, err)
	_, _, err = f.CreateOrUpdateSubscription("events", "all", model.DefaultEntityProperties())
	require.NoError(t, err)

	_, err = f.CreateOrUpdateRule("events", "all", "r1", RuleSpec{Kind: model.FilterSQL, SQLExpression: "priority === 'high'"})
	require.Error(t, err)
}
