// Package dispatcher fans a topic publication out to its subscriptions,
// evaluating each subscription's rule set in declaration order (C6).
package dispatcher

import (
	"time"

	"github.com/localzure/brokerd/internal/entitystore"
	"github.com/localzure/brokerd/internal/filter"
	"github.com/localzure/brokerd/internal/messagestore"
	"github.com/localzure/brokerd/internal/model"
)

// Dispatcher holds the shared entity/message stores it fans out across.
type Dispatcher struct {
	entities *entitystore.Store
	messages *messagestore.Registry
	registry *filter.FunctionRegistry
}

// New constructs a Dispatcher bound to the broker's shared stores.
func New(entities *entitystore.Store, messages *messagestore.Registry) *Dispatcher {
	return &Dispatcher{entities: entities, messages: messages, registry: filter.NewFunctionRegistry()}
}

// Publish fans msg out to every subscription of topic. The subscription
// list is snapshotted at the start (spec §4.6: "atomic with respect to
// concurrent subscription-set mutation"), so subscriptions created mid-
// fan-out do not observe this publication.
func (d *Dispatcher) Publish(topic string, msg *model.Message, now time.Time) error {
	keys, err := d.entities.SubscriptionKeysOf(topic)
	if err != nil {
		return err
	}
	for _, key := range keys {
		topicName, subName := splitKey(key)
		sub, err := d.entities.GetSubscription(topicName, subName)
		if err != nil {
			continue // deleted between snapshot and dispatch
		}
		d.deliverToSubscription(key, sub, msg, now)
	}
	return nil
}

func (d *Dispatcher) deliverToSubscription(key string, sub *model.Subscription, msg *model.Message, now time.Time) {
	rules, err := d.entities.ListRules(sub.TopicName, sub.Name)
	if err != nil {
		return
	}

	matched, evalErr := d.matchesAnyRule(rules, msg)
	store := d.messages.GetOrCreate(key, sub.Properties.DuplicateDetectionWindow)

	if evalErr != nil {
		if sub.Properties.DeadLetteringOnFilterError {
			copy := msg.Clone()
			store.Enqueue(copy, now)
			store.DeadLetterActive(copy, model.ReasonFilterEvaluationError, evalErr.Error())
		}
		return
	}
	if !matched {
		return
	}
	store.Enqueue(msg.Clone(), now)
}

// matchesAnyRule reports whether msg matches at least one of the
// subscription's rules in declaration order; a rule's own evaluation
// error is surfaced to the caller so dead-lettering-on-filter-error can
// apply (spec §4.6: "If rule evaluation raises... otherwise the rule's
// match is treated as false").
func (d *Dispatcher) matchesAnyRule(rules []*model.Rule, msg *model.Message) (bool, error) {
	props := msg.PropertyMap()
	var firstErr error
	for _, rule := range rules {
		switch rule.Kind {
		case model.FilterTrue:
			return true, nil
		case model.FilterCorrelation:
			if rule.Correlation != nil && rule.Correlation.Matches(props) {
				return true, nil
			}
		case model.FilterSQL:
			eval := filter.NewEvaluator(props, d.registry, false)
			ok, err := eval.Evaluate(rule.SQLAst)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, firstErr
}

func splitKey(key string) (topic, sub string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
