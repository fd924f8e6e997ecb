// Package admin implements the broker's administrative façade (C10):
// create-or-update, get, list, and delete for queues, topics,
// subscriptions, and rules.
package admin

import (
	"github.com/localzure/brokerd/internal/brokererrors"
	"github.com/localzure/brokerd/internal/entitystore"
	"github.com/localzure/brokerd/internal/filter"
	"github.com/localzure/brokerd/internal/messagestore"
	"github.com/localzure/brokerd/internal/model"
)

const maxListTop = 1000

// Facade wires the entity store to the per-entity message stores so that
// deletes cascade correctly (spec §4.10 + §5 cascade semantics).
type Facade struct {
	entities *entitystore.Store
	messages *messagestore.Registry
}

// New constructs a Facade over the broker's shared stores.
func New(entities *entitystore.Store, messages *messagestore.Registry) *Facade {
	return &Facade{entities: entities, messages: messages}
}

func clampTop(top int) int {
	if top <= 0 || top > maxListTop {
		return maxListTop
	}
	return top
}

// CreateOrUpdateQueue creates or updates a queue.
func (f *Facade) CreateOrUpdateQueue(name string, props model.EntityProperties) (*model.Queue, bool, error) {
	return f.entities.CreateOrUpdateQueue(name, props)
}

// GetQueue fetches a queue, attaching its live runtime counters.
func (f *Facade) GetQueue(name string) (*model.Queue, error) {
	q, err := f.entities.GetQueue(name)
	if err != nil {
		return nil, err
	}
	if store, ok := f.messages.Get("queue:" + name); ok {
		q.Counters = store.Counters()
	}
	return q, nil
}

// ListQueues returns queues in insertion order, bounded by [0, 1000] top.
func (f *Facade) ListQueues(skip, top int) []*model.Queue {
	return f.entities.ListQueues(skip, clampTop(top))
}

// DeleteQueue removes the queue and its message store (including its DLQ).
func (f *Facade) DeleteQueue(name string) error {
	if err := f.entities.DeleteQueue(name); err != nil {
		return err
	}
	f.messages.Remove("queue:" + name)
	return nil
}

// CreateOrUpdateTopic creates or updates a topic.
func (f *Facade) CreateOrUpdateTopic(name string, props model.EntityProperties) (*model.Topic, bool, error) {
	return f.entities.CreateOrUpdateTopic(name, props)
}

// GetTopic fetches a topic description.
func (f *Facade) GetTopic(name string) (*model.Topic, error) {
	return f.entities.GetTopic(name)
}

// DeleteTopic removes a topic, cascading to its subscriptions' message
// stores.
func (f *Facade) DeleteTopic(name string) error {
	removedSubs, err := f.entities.DeleteTopic(name)
	if err != nil {
		return err
	}
	for _, sub := range removedSubs {
		f.messages.Remove(name + "/" + sub)
	}
	return nil
}

// CreateOrUpdateSubscription creates or updates a subscription, seeding
// its default TRUE rule on first creation.
func (f *Facade) CreateOrUpdateSubscription(topic, name string, props model.EntityProperties) (*model.Subscription, bool, error) {
	return f.entities.CreateOrUpdateSubscription(topic, name, props)
}

// GetSubscription fetches a subscription description with live counters.
func (f *Facade) GetSubscription(topic, name string) (*model.Subscription, error) {
	sub, err := f.entities.GetSubscription(topic, name)
	if err != nil {
		return nil, err
	}
	if store, ok := f.messages.Get(topic + "/" + name); ok {
		sub.Counters = store.Counters()
	}
	return sub, nil
}

// ListSubscriptions lists a topic's subscriptions in insertion order.
func (f *Facade) ListSubscriptions(topic string) ([]*model.Subscription, error) {
	return f.entities.ListSubscriptions(topic)
}

// DeleteSubscription removes a subscription and its message store.
func (f *Facade) DeleteSubscription(topic, name string) error {
	if err := f.entities.DeleteSubscription(topic, name); err != nil {
		return err
	}
	f.messages.Remove(topic + "/" + name)
	return nil
}

// RuleSpec describes a rule CRUD request; exactly one of SQLExpression or
// Correlation should be set, matching the wire's i:type discriminator.
type RuleSpec struct {
	Kind          model.FilterKind
	SQLExpression string
	Correlation   *filter.CorrelationFilter
}

// CreateOrUpdateRule creates or replaces a rule, parsing a SQL expression
// into its AST up front so evaluation never re-parses at dispatch time.
func (f *Facade) CreateOrUpdateRule(topic, sub, name string, spec RuleSpec) (bool, error) {
	rule := &model.Rule{Kind: spec.Kind}
	switch spec.Kind {
	case model.FilterSQL:
		ast, err := filter.Parse(spec.SQLExpression)
		if err != nil {
			line, column, suggestion := 0, 0, ""
			if perr, ok := err.(*filter.ParseError); ok {
				line, column, suggestion = perr.Position.Line, perr.Position.Column, perr.Suggestion
			} else if lerr, ok := err.(*filter.LexError); ok {
				line, column, suggestion = lerr.Position.Line, lerr.Position.Column, lerr.Suggestion
			}
			return false, brokererrors.SyntaxError(line, column, err.Error(), suggestion)
		}
		rule.SQLExpression = spec.SQLExpression
		rule.SQLAst = ast
	case model.FilterCorrelation:
		rule.Correlation = spec.Correlation
	default:
		rule.Kind = model.FilterTrue
	}
	return f.entities.CreateOrUpdateRule(topic, sub, name, rule)
}

// GetRule fetches a single rule by name.
func (f *Facade) GetRule(topic, sub, name string) (*model.Rule, error) {
	rules, err := f.entities.ListRules(topic, sub)
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, brokererrors.EntityNotFound(topic + "/" + sub + "/" + name)
}

// ListRules returns a subscription's rules in declaration order.
func (f *Facade) ListRules(topic, sub string) ([]*model.Rule, error) {
	return f.entities.ListRules(topic, sub)
}

// DeleteRule removes a rule.
func (f *Facade) DeleteRule(topic, sub, name string) error {
	return f.entities.DeleteRule(topic, sub, name)
}
