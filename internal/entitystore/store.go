package entitystore

import (
	"sort"
	"sync"
	"time"

	"github.com/localzure/brokerd/internal/brokererrors"
	"github.com/localzure/brokerd/internal/model"
)

const (
	maxQueues             = 100
	maxTopics             = 100
	maxSubscriptionsPerTopic = 2000
	maxRulesPerSubscription  = 100
)

// Store owns the queues/topics/subscriptions/rules maps under a single
// mutex covering the top-level maps, per spec §5 ("The entity store has a
// separate mutex covering the top-level maps").
type Store struct {
	mu sync.RWMutex

	queues      map[string]*model.Queue
	queueOrder  []string
	topics      map[string]*model.Topic
	topicOrder  []string
	subscriptions map[string]*model.Subscription // key: topic/sub
	rules       map[string]*model.Rule           // key: topic/sub/rule
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		queues:        make(map[string]*model.Queue),
		topics:        make(map[string]*model.Topic),
		subscriptions: make(map[string]*model.Subscription),
		rules:         make(map[string]*model.Rule),
	}
}

func subKey(topic, sub string) string  { return topic + "/" + sub }
func ruleKey(topic, sub, rule string) string { return topic + "/" + sub + "/" + rule }

// CreateOrUpdateQueue is idempotent: created reports whether the queue
// was newly created (caller maps this to 201 vs 200).
func (s *Store) CreateOrUpdateQueue(name string, props model.EntityProperties) (q *model.Queue, created bool, err error) {
	if err := ValidateEntityName(name); err != nil {
		return nil, false, brokererrors.InvalidEntityName(name, err.Error())
	}
	if err := ValidateEntityProperties(props); err != nil {
		return nil, false, brokererrors.ValidationError(map[string]interface{}{"properties": err.Error()})
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.queues[name]; ok {
		if existing.Properties.RequiresSession != props.RequiresSession {
			return nil, false, brokererrors.InvalidOperation("update_queue", "requires_session cannot be changed after creation")
		}
		existing.Properties = props
		existing.UpdatedAt = now
		return existing, false, nil
	}
	if len(s.queues) >= maxQueues {
		return nil, false, brokererrors.QuotaExceeded("queue_count", len(s.queues), maxQueues)
	}
	q = &model.Queue{Name: name, Properties: props, CreatedAt: now, UpdatedAt: now}
	s.queues[name] = q
	s.queueOrder = append(s.queueOrder, name)
	return q, true, nil
}

// GetQueue returns the queue or EntityNotFound.
func (s *Store) GetQueue(name string) (*model.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[name]
	if !ok {
		return nil, brokererrors.EntityNotFound(name)
	}
	return q, nil
}

// ListQueues returns queues in insertion order, paginated by skip/top.
func (s *Store) ListQueues(skip, top int) []*model.Queue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return paginate(s.queueOrder, s.queues, skip, top)
}

func paginate(order []string, m map[string]*model.Queue, skip, top int) []*model.Queue {
	if skip < 0 {
		skip = 0
	}
	if top <= 0 || top > 1000 {
		top = 1000
	}
	var out []*model.Queue
	for i, name := range order {
		if i < skip {
			continue
		}
		if len(out) >= top {
			break
		}
		if q, ok := m[name]; ok {
			out = append(out, q)
		}
	}
	return out
}

// DeleteQueue removes the queue. The message store/DLQ cleanup for it is
// the caller's (broker façade's) responsibility, since Store only owns
// naming/quota state.
func (s *Store) DeleteQueue(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[name]; !ok {
		return brokererrors.EntityNotFound(name)
	}
	delete(s.queues, name)
	s.queueOrder = removeString(s.queueOrder, name)
	return nil
}

// CreateOrUpdateTopic mirrors CreateOrUpdateQueue for topics.
func (s *Store) CreateOrUpdateTopic(name string, props model.EntityProperties) (t *model.Topic, created bool, err error) {
	if err := ValidateEntityName(name); err != nil {
		return nil, false, brokererrors.InvalidEntityName(name, err.Error())
	}
	if err := ValidateEntityProperties(props); err != nil {
		return nil, false, brokererrors.ValidationError(map[string]interface{}{"properties": err.Error()})
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.topics[name]; ok {
		existing.Properties = props
		existing.UpdatedAt = now
		return existing, false, nil
	}
	if len(s.topics) >= maxTopics {
		return nil, false, brokererrors.QuotaExceeded("topic_count", len(s.topics), maxTopics)
	}
	t = &model.Topic{Name: name, Properties: props, CreatedAt: now, UpdatedAt: now}
	s.topics[name] = t
	s.topicOrder = append(s.topicOrder, name)
	return t, true, nil
}

func (s *Store) GetTopic(name string) (*model.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topics[name]
	if !ok {
		return nil, brokererrors.EntityNotFound(name)
	}
	return t, nil
}

// DeleteTopic cascades: removes all subscriptions and their rules (the
// caller drains their message stores separately).
func (s *Store) DeleteTopic(name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[name]
	if !ok {
		return nil, brokererrors.EntityNotFound(name)
	}
	removedSubs := append([]string(nil), t.SubscriptionOrder...)
	for _, sub := range removedSubs {
		key := subKey(name, sub)
		if subEntity, ok := s.subscriptions[key]; ok {
			for _, r := range subEntity.RuleOrder {
				delete(s.rules, ruleKey(name, sub, r))
			}
		}
		delete(s.subscriptions, key)
	}
	delete(s.topics, name)
	s.topicOrder = removeString(s.topicOrder, name)
	return removedSubs, nil
}

// CreateOrUpdateSubscription is idempotent and seeds the default "$Default"
// TRUE rule on first creation (spec §4.2/§4.3).
func (s *Store) CreateOrUpdateSubscription(topic, name string, props model.EntityProperties) (sub *model.Subscription, created bool, err error) {
	if err := ValidateSubscriptionName(name); err != nil {
		return nil, false, brokererrors.InvalidEntityName(name, err.Error())
	}
	if err := ValidateEntityProperties(props); err != nil {
		return nil, false, brokererrors.ValidationError(map[string]interface{}{"properties": err.Error()})
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[topic]
	if !ok {
		return nil, false, brokererrors.EntityNotFound(topic)
	}

	key := subKey(topic, name)
	now := time.Now().UTC()
	if existing, ok := s.subscriptions[key]; ok {
		if existing.Properties.RequiresSession != props.RequiresSession {
			return nil, false, brokererrors.InvalidOperation("update_subscription", "requires_session cannot be changed after creation")
		}
		existing.Properties = props
		existing.UpdatedAt = now
		return existing, false, nil
	}
	if len(t.SubscriptionOrder) >= maxSubscriptionsPerTopic {
		return nil, false, brokererrors.QuotaExceeded("subscription_count", len(t.SubscriptionOrder), maxSubscriptionsPerTopic)
	}
	sub = &model.Subscription{TopicName: topic, Name: name, Properties: props, CreatedAt: now, UpdatedAt: now}
	s.subscriptions[key] = sub
	t.SubscriptionOrder = append(t.SubscriptionOrder, name)

	defaultRule := &model.Rule{SubscriptionKey: key, Name: "$Default", Kind: model.FilterTrue, CreatedAt: now}
	s.rules[ruleKey(topic, name, "$Default")] = defaultRule
	sub.RuleOrder = append(sub.RuleOrder, "$Default")

	return sub, true, nil
}

func (s *Store) GetSubscription(topic, name string) (*model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[subKey(topic, name)]
	if !ok {
		return nil, brokererrors.EntityNotFound(subKey(topic, name))
	}
	return sub, nil
}

// ListSubscriptions returns the subscriptions of a topic in insertion order.
func (s *Store) ListSubscriptions(topic string) ([]*model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topics[topic]
	if !ok {
		return nil, brokererrors.EntityNotFound(topic)
	}
	var out []*model.Subscription
	for _, name := range t.SubscriptionOrder {
		if sub, ok := s.subscriptions[subKey(topic, name)]; ok {
			out = append(out, sub)
		}
	}
	return out, nil
}

// DeleteSubscription cascades: removes its rules.
func (s *Store) DeleteSubscription(topic, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := subKey(topic, name)
	sub, ok := s.subscriptions[key]
	if !ok {
		return brokererrors.EntityNotFound(key)
	}
	for _, r := range sub.RuleOrder {
		delete(s.rules, ruleKey(topic, name, r))
	}
	delete(s.subscriptions, key)
	if t, ok := s.topics[topic]; ok {
		t.SubscriptionOrder = removeString(t.SubscriptionOrder, name)
	}
	return nil
}

// CreateOrUpdateRule creates or replaces a rule on a subscription.
func (s *Store) CreateOrUpdateRule(topic, sub, name string, rule *model.Rule) (created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subEntity, ok := s.subscriptions[subKey(topic, sub)]
	if !ok {
		return false, brokererrors.EntityNotFound(subKey(topic, sub))
	}
	key := ruleKey(topic, sub, name)
	rule.SubscriptionKey = subKey(topic, sub)
	rule.Name = name
	if _, exists := s.rules[key]; exists {
		s.rules[key] = rule
		return false, nil
	}
	if len(subEntity.RuleOrder) >= maxRulesPerSubscription {
		return false, brokererrors.QuotaExceeded("rule_count", len(subEntity.RuleOrder), maxRulesPerSubscription)
	}
	s.rules[key] = rule
	subEntity.RuleOrder = append(subEntity.RuleOrder, name)
	return true, nil
}

// DeleteRule removes a rule. Deleting the last rule is permitted per
// spec §3 invariant and yields a subscription matching nothing.
func (s *Store) DeleteRule(topic, sub, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ruleKey(topic, sub, name)
	if _, ok := s.rules[key]; !ok {
		return brokererrors.EntityNotFound(key)
	}
	delete(s.rules, key)
	if subEntity, ok := s.subscriptions[subKey(topic, sub)]; ok {
		subEntity.RuleOrder = removeString(subEntity.RuleOrder, name)
	}
	return nil
}

// ListRules returns a subscription's rules in declaration (insertion) order.
func (s *Store) ListRules(topic, sub string) ([]*model.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subEntity, ok := s.subscriptions[subKey(topic, sub)]
	if !ok {
		return nil, brokererrors.EntityNotFound(subKey(topic, sub))
	}
	out := make([]*model.Rule, 0, len(subEntity.RuleOrder))
	for _, name := range subEntity.RuleOrder {
		if r, ok := s.rules[ruleKey(topic, sub, name)]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// SubscriptionKeysOf returns topic/subscription keys in declaration order,
// snapshotted under the store's read lock — used by the dispatcher to
// take a stable fan-out snapshot in the order subscriptions were created
// (spec §4.6: "for each subscription of the topic, in declaration order").
func (s *Store) SubscriptionKeysOf(topic string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topics[topic]
	if !ok {
		return nil, brokererrors.EntityNotFound(topic)
	}
	keys := make([]string, len(t.SubscriptionOrder))
	for i, name := range t.SubscriptionOrder {
		keys[i] = subKey(topic, name)
	}
	return keys, nil
}

// SubscriptionLockKeysOf returns the same key set sorted by name, for
// callers that need a fixed, entity-name-derived lock-acquisition order
// rather than fan-out order (spec §5) — distinct from SubscriptionKeysOf,
// which preserves declaration order for dispatch.
func (s *Store) SubscriptionLockKeysOf(topic string) ([]string, error) {
	keys, err := s.SubscriptionKeysOf(topic)
	if err != nil {
		return nil, err
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	return sorted, nil
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
