// Package broker is the top-level wiring façade: it binds the entity
// store, the per-entity message stores, the lifecycle engines, the
// dispatcher, the rate limiters, and the resilience primitives into one
// cohesive API surface for the transport layer (spec's end-to-end send/
// receive/publish/admin path).
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/localzure/brokerd/internal/admin"
	"github.com/localzure/brokerd/internal/brokererrors"
	"github.com/localzure/brokerd/internal/config"
	"github.com/localzure/brokerd/internal/dispatcher"
	"github.com/localzure/brokerd/internal/entitystore"
	"github.com/localzure/brokerd/internal/events"
	"github.com/localzure/brokerd/internal/lifecycle"
	"github.com/localzure/brokerd/internal/lockmanager"
	"github.com/localzure/brokerd/internal/logging"
	"github.com/localzure/brokerd/internal/messagestore"
	"github.com/localzure/brokerd/internal/model"
	"github.com/localzure/brokerd/internal/ratelimit"
	"github.com/localzure/brokerd/internal/resilience"
)

// Broker owns every shared store and exposes the operations the transport
// layer calls into. One Broker instance per running process.
type Broker struct {
	cfg *config.Config

	entities   *entitystore.Store
	messages   *messagestore.Registry
	dispatch   *dispatcher.Dispatcher
	rates      *ratelimit.Limiter
	Ingress    *ratelimit.IngressLimiter
	breakers   *resilience.Registry
	Admin      *admin.Facade
	logger     *logging.Logger
	audit      *logging.AuditSink
	Events     *events.Bus

	mu       sync.Mutex
	engines  map[string]*lifecycle.Engine
	sessions map[string]*lockmanager.SessionLocks
}

// New wires a Broker from the given configuration.
func New(cfg *config.Config, logger *logging.Logger, audit *logging.AuditSink) *Broker {
	entities := entitystore.New()
	messages := messagestore.NewRegistry()
	return &Broker{
		cfg:      cfg,
		entities: entities,
		messages: messages,
		dispatch: dispatcher.New(entities, messages),
		rates:    ratelimit.New(),
		Ingress:  ratelimit.NewIngressLimiter(cfg.RateLimit.IngressRate, cfg.RateLimit.IngressBurst),
		breakers: resilience.NewRegistry(),
		Admin:    admin.New(entities, messages),
		logger:   logger,
		audit:    audit,
		Events:   events.NewBus(),
		engines:  make(map[string]*lifecycle.Engine),
		sessions: make(map[string]*lockmanager.SessionLocks),
	}
}

// Engines implements janitor.EntityEngines: a snapshot of every currently
// materialized lifecycle engine.
func (b *Broker) Engines() map[string]*lifecycle.Engine {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]*lifecycle.Engine, len(b.engines))
	for k, v := range b.engines {
		out[k] = v
	}
	return out
}

// SessionLocks implements janitor.EntityEngines: a snapshot of every
// currently materialized session-lock table.
func (b *Broker) SessionLocks() map[string]*lockmanager.SessionLocks {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]*lockmanager.SessionLocks, len(b.sessions))
	for k, v := range b.sessions {
		out[k] = v
	}
	return out
}

func (b *Broker) engineFor(key string, props model.EntityProperties) *lifecycle.Engine {
	b.mu.Lock()
	defer b.mu.Unlock()
	if eng, ok := b.engines[key]; ok {
		return eng
	}
	store := b.messages.GetOrCreate(key, props.DuplicateDetectionWindow)
	eng := lifecycle.New(store, lifecycle.SystemClock, props)
	b.engines[key] = eng
	return eng
}

func (b *Broker) sessionLocksFor(key string) *lockmanager.SessionLocks {
	b.mu.Lock()
	defer b.mu.Unlock()
	if locks, ok := b.sessions[key]; ok {
		return locks
	}
	locks := lockmanager.NewSessionLocks()
	b.sessions[key] = locks
	return locks
}

func queueKey(name string) string       { return "queue:" + name }
func subscriptionKey(topic, sub string) string { return topic + "/" + sub }

// requireSessionLock enforces spec §4.5's session-isolation rule: a
// session-enabled entity may only be received from by a caller that
// currently holds the session lock for the session it asks for.
func (b *Broker) requireSessionLock(key string, props model.EntityProperties, sessionID, receiverID string) error {
	if !props.RequiresSession {
		return nil
	}
	if sessionID == "" {
		return brokererrors.InvalidOperation("receive", "entity requires a session id")
	}
	locks := b.sessionLocksFor(key)
	if !locks.IsHeldBy(sessionID, receiverID, time.Now().UTC()) {
		return brokererrors.InvalidOperation("receive", "session lock not held by this receiver")
	}
	return nil
}

func (b *Broker) breakerFor(name string) *resilience.CircuitBreaker {
	return b.breakers.GetOrCreate(resilience.BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	})
}

// SendToQueue admits a message onto a queue, applying the queue's rate
// limit and a resilience envelope (timeout + circuit breaker) around the
// store mutation, matching spec §5's "Send" deadline class.
func (b *Broker) SendToQueue(ctx context.Context, name string, msg *model.Message, dedupKey string) error {
	queue, err := b.entities.GetQueue(name)
	if err != nil {
		return err
	}
	if err := b.rates.CheckQueueRate(name, 1); err != nil {
		return err
	}

	key := queueKey(name)
	eng := b.engineFor(key, queue.Properties)
	breaker := b.breakerFor(key)

	msg.System.SequenceNumber = eng.NextSequenceNumber()
	msg.System.EnqueuedTimeUTC = time.Now().UTC()

	err = resilience.WithTimeout(ctx, "send", b.cfg.Deadlines.Send(), func(ctx context.Context) error {
		return breaker.Execute(func() error {
			eng.Send(msg, dedupKey)
			return nil
		})
	})
	if err == nil {
		b.Events.Publish(events.Event{
			Kind: events.KindSent, EntityType: "queue", EntityName: name,
			MessageID: msg.ID, Timestamp: time.Now().UTC(),
		})
	}
	return err
}

// ReceiveFromQueue dequeues up to n messages from a queue.
func (b *Broker) ReceiveFromQueue(ctx context.Context, name string, mode lifecycle.ReceiveMode, sessionID string, n int, receiverID string) ([]*model.Message, error) {
	queue, err := b.entities.GetQueue(name)
	if err != nil {
		return nil, err
	}
	key := queueKey(name)
	if err := b.requireSessionLock(key, queue.Properties, sessionID, receiverID); err != nil {
		return nil, err
	}
	eng := b.engineFor(key, queue.Properties)

	var out []*model.Message
	err = resilience.WithTimeout(ctx, "receive", b.cfg.Deadlines.Receive(), func(ctx context.Context) error {
		out = eng.Receive(mode, sessionID, n, receiverID)
		return nil
	})
	return out, err
}

// CompleteQueueMessage finalizes a locked message.
func (b *Broker) CompleteQueueMessage(name, lockToken string) error {
	eng, err := b.existingEngine(queueKey(name))
	if err != nil {
		return err
	}
	if err := eng.Complete(lockToken); err != nil {
		return err
	}
	b.Events.Publish(events.Event{Kind: events.KindCompleted, EntityType: "queue", EntityName: name, Timestamp: time.Now().UTC()})
	return nil
}

// AbandonQueueMessage releases a locked message back to Active.
func (b *Broker) AbandonQueueMessage(name, lockToken string) error {
	eng, err := b.existingEngine(queueKey(name))
	if err != nil {
		return err
	}
	if err := eng.Abandon(lockToken); err != nil {
		return err
	}
	b.Events.Publish(events.Event{Kind: events.KindAbandoned, EntityType: "queue", EntityName: name, Timestamp: time.Now().UTC()})
	return nil
}

// DeadLetterQueueMessage moves a locked message to its queue's DLQ.
func (b *Broker) DeadLetterQueueMessage(name, lockToken string, reason model.DeadLetterReason, description string) error {
	eng, err := b.existingEngine(queueKey(name))
	if err != nil {
		return err
	}
	if err := eng.DeadLetter(lockToken, reason, description); err != nil {
		return err
	}
	b.Events.Publish(events.Event{
		Kind: events.KindDeadLettered, EntityType: "queue", EntityName: name, Timestamp: time.Now().UTC(),
		Detail: map[string]interface{}{"reason": string(reason)},
	})
	return nil
}

// ReceiveFromQueueDeadLetter peeks up to n messages from a queue's
// $DeadLetterQueue sub-queue.
func (b *Broker) ReceiveFromQueueDeadLetter(name string, n int) ([]*model.Message, error) {
	eng, err := b.existingEngine(queueKey(name))
	if err != nil {
		return nil, err
	}
	return eng.PeekDeadLetter(n), nil
}

// RenewQueueMessageLock extends a locked message's lock.
func (b *Broker) RenewQueueMessageLock(name, lockToken string) error {
	eng, err := b.existingEngine(queueKey(name))
	if err != nil {
		return err
	}
	return eng.RenewLock(lockToken)
}

// AcceptSession locks sessionID on a session-enabled queue for receiverID.
func (b *Broker) AcceptSession(queueName, sessionID, receiverID string, lockDuration time.Duration) (time.Time, error) {
	locks := b.sessionLocksFor(queueKey(queueName))
	until, err := locks.AcceptSpecific(sessionID, receiverID, lockmanager.ClampLockDuration(lockDuration), time.Now().UTC())
	if err == nil {
		b.Events.Publish(events.Event{
			Kind: events.KindSessionAccepted, EntityType: "queue", EntityName: queueName,
			Timestamp: time.Now().UTC(), Detail: map[string]interface{}{"session_id": sessionID},
		})
	}
	return until, err
}

// AcceptSubscriptionSession locks sessionID on a session-enabled
// subscription for receiverID.
func (b *Broker) AcceptSubscriptionSession(topic, sub, sessionID, receiverID string, lockDuration time.Duration) (time.Time, error) {
	locks := b.sessionLocksFor(subscriptionKey(topic, sub))
	until, err := locks.AcceptSpecific(sessionID, receiverID, lockmanager.ClampLockDuration(lockDuration), time.Now().UTC())
	if err == nil {
		b.Events.Publish(events.Event{
			Kind: events.KindSessionAccepted, EntityType: "subscription", EntityName: subscriptionKey(topic, sub),
			Timestamp: time.Now().UTC(), Detail: map[string]interface{}{"session_id": sessionID},
		})
	}
	return until, err
}

func (b *Broker) existingEngine(key string) (*lifecycle.Engine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	eng, ok := b.engines[key]
	if !ok {
		return nil, brokererrors.EntityNotFound(key)
	}
	return eng, nil
}

// PublishToTopic fans msg out to every matching subscription, applying
// the topic's rate limit and a resilience envelope around the fan-out.
func (b *Broker) PublishToTopic(ctx context.Context, topic string, msg *model.Message) error {
	t, err := b.entities.GetTopic(topic)
	if err != nil {
		return err
	}
	if err := b.rates.CheckTopicRate(topic, 1); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.System.SequenceNumber = t.NextSequenceNumber()
	msg.System.EnqueuedTimeUTC = time.Now().UTC()
	breaker := b.breakerFor("topic:" + topic)
	err = resilience.WithTimeout(ctx, "publish", b.cfg.Deadlines.Send(), func(ctx context.Context) error {
		return breaker.Execute(func() error {
			return b.dispatch.Publish(topic, msg, time.Now().UTC())
		})
	})
	if err == nil {
		b.Events.Publish(events.Event{
			Kind: events.KindSent, EntityType: "topic", EntityName: topic,
			MessageID: msg.ID, Timestamp: time.Now().UTC(),
		})
	}
	return err
}

// ReceiveFromSubscription dequeues up to n messages from a topic's
// subscription.
func (b *Broker) ReceiveFromSubscription(ctx context.Context, topic, sub string, mode lifecycle.ReceiveMode, sessionID string, n int, receiverID string) ([]*model.Message, error) {
	subscription, err := b.entities.GetSubscription(topic, sub)
	if err != nil {
		return nil, err
	}
	if err := b.rates.CheckSubscriptionRate(subscriptionKey(topic, sub), n); err != nil {
		return nil, err
	}
	key := subscriptionKey(topic, sub)
	if err := b.requireSessionLock(key, subscription.Properties, sessionID, receiverID); err != nil {
		return nil, err
	}
	eng := b.engineFor(key, subscription.Properties)

	var out []*model.Message
	err = resilience.WithTimeout(ctx, "receive", b.cfg.Deadlines.Receive(), func(ctx context.Context) error {
		out = eng.Receive(mode, sessionID, n, receiverID)
		return nil
	})
	return out, err
}

// CompleteSubscriptionMessage finalizes a locked subscription message.
func (b *Broker) CompleteSubscriptionMessage(topic, sub, lockToken string) error {
	eng, err := b.existingEngine(subscriptionKey(topic, sub))
	if err != nil {
		return err
	}
	if err := eng.Complete(lockToken); err != nil {
		return err
	}
	b.Events.Publish(events.Event{Kind: events.KindCompleted, EntityType: "subscription", EntityName: subscriptionKey(topic, sub), Timestamp: time.Now().UTC()})
	return nil
}

// AbandonSubscriptionMessage releases a locked subscription message back
// to Active.
func (b *Broker) AbandonSubscriptionMessage(topic, sub, lockToken string) error {
	eng, err := b.existingEngine(subscriptionKey(topic, sub))
	if err != nil {
		return err
	}
	if err := eng.Abandon(lockToken); err != nil {
		return err
	}
	b.Events.Publish(events.Event{Kind: events.KindAbandoned, EntityType: "subscription", EntityName: subscriptionKey(topic, sub), Timestamp: time.Now().UTC()})
	return nil
}

// DeadLetterSubscriptionMessage moves a locked subscription message to
// its DLQ.
func (b *Broker) DeadLetterSubscriptionMessage(topic, sub, lockToken string, reason model.DeadLetterReason, description string) error {
	eng, err := b.existingEngine(subscriptionKey(topic, sub))
	if err != nil {
		return err
	}
	if err := eng.DeadLetter(lockToken, reason, description); err != nil {
		return err
	}
	b.Events.Publish(events.Event{
		Kind: events.KindDeadLettered, EntityType: "subscription", EntityName: subscriptionKey(topic, sub), Timestamp: time.Now().UTC(),
		Detail: map[string]interface{}{"reason": string(reason)},
	})
	return nil
}

// RenewSubscriptionMessageLock extends a locked subscription message's
// lock.
func (b *Broker) RenewSubscriptionMessageLock(topic, sub, lockToken string) error {
	eng, err := b.existingEngine(subscriptionKey(topic, sub))
	if err != nil {
		return err
	}
	return eng.RenewLock(lockToken)
}

// RecordAuditMutation forwards an admin mutation to the audit sink, if
// configured.
func (b *Broker) RecordAuditMutation(operation, entityType, entityName string, created bool) {
	if b.audit != nil {
		b.audit.RecordMutation(operation, entityType, entityName, created)
	}
}

// Logger exposes the broker's application logger to the transport layer.
func (b *Broker) Logger() *logging.Logger { return b.logger }
