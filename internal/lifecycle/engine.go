// Package lifecycle implements the message state machine (C4): schedule,
// deliver, lock, complete/abandon/dead-letter/auto-expire.
package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"github.com/localzure/brokerd/internal/brokererrors"
	"github.com/localzure/brokerd/internal/messagestore"
	"github.com/localzure/brokerd/internal/model"
)

// ReceiveMode selects PeekLock or ReceiveAndDelete semantics.
type ReceiveMode string

const (
	PeekLock        ReceiveMode = "peek_lock"
	ReceiveAndDelete ReceiveMode = "receive_and_delete"
)

// Clock abstracts wall-clock time for deterministic tests (spec's test
// tooling calls for an injectable clock, per SPEC_FULL.md's ambient
// stack).
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the production Clock.
var SystemClock Clock = systemClock{}

// Engine drives a single entity's message store through its states. One
// Engine per queue/subscription, matching the one-store-per-entity model.
type Engine struct {
	store        *messagestore.EntityStore
	clock        Clock
	lockDuration time.Duration
	maxDelivery  int
	deadLetterOnExpire bool
}

// New constructs an Engine bound to an entity's message store and its
// effective properties.
func New(store *messagestore.EntityStore, clock Clock, props model.EntityProperties) *Engine {
	if clock == nil {
		clock = SystemClock
	}
	return &Engine{
		store:              store,
		clock:              clock,
		lockDuration:       props.LockDuration,
		maxDelivery:        props.MaxDeliveryCount,
		deadLetterOnExpire: props.DeadLetteringOnExpire,
	}
}

// NextSequenceNumber allocates the next monotonic sequence number for
// this entity's message store.
func (e *Engine) NextSequenceNumber() int64 {
	return e.store.NextSequenceNumber()
}

// PeekDeadLetter returns up to n messages from this entity's dead-letter
// sub-queue, for $DeadLetterQueue receive operations.
func (e *Engine) PeekDeadLetter(n int) []*model.Message {
	return e.store.PeekDeadLetter(0, n)
}

// Send admits a new message, honoring scheduled-enqueue-time and
// duplicate detection. The caller (admin/broker façade) has already
// assigned a sequence number and dedup key.
func (e *Engine) Send(msg *model.Message, dedupKey string) (accepted bool) {
	now := e.clock.Now()
	if e.store.IsDuplicate(dedupKey, now) {
		return false
	}
	e.store.Enqueue(msg, now)
	return true
}

// Receive fetches up to n eligible messages. PeekLock mode locks each
// returned message; ReceiveAndDelete removes them immediately. Fetching
// from a session bucket requires sessionID to be the lock holder's
// session (enforced by the caller via the lock manager); engine itself
// is agnostic to session ownership beyond bucket selection.
func (e *Engine) Receive(mode ReceiveMode, sessionID string, n int, receiverID string) []*model.Message {
	now := e.clock.Now()
	var out []*model.Message
	for i := 0; i < n; i++ {
		var msg *model.Message
		if sessionID != "" {
			msg = e.store.PeekActiveForSession(sessionID)
		} else {
			msg = e.store.PeekActive()
		}
		if msg == nil {
			break
		}
		switch mode {
		case ReceiveAndDelete:
			e.store.RemoveFromActive(msg)
		default:
			msg.DeliveryCount++
			token := uuid.NewString()
			e.store.Lock(msg, token, now.Add(e.lockDuration), receiverID)
		}
		out = append(out, msg)
	}
	return out
}

// Complete finalizes a locked message.
func (e *Engine) Complete(lockToken string) error {
	return e.store.Complete(lockToken)
}

// Abandon releases a locked message back to Active, applying the
// max-delivery-count rule: if the message's delivery count has reached
// the entity's limit, it is dead-lettered instead of requeued.
func (e *Engine) Abandon(lockToken string) error {
	msg, err := e.store.Abandon(lockToken)
	if err != nil {
		return err
	}
	if e.maxDelivery > 0 && msg.DeliveryCount >= e.maxDelivery {
		e.store.RemoveFromActive(msg)
		e.store.DeadLetterActive(msg, model.ReasonMaxDeliveryCountExceeded, "maximum delivery count exceeded")
	}
	return nil
}

// DeadLetter moves a locked message to the DLQ with an explicit reason,
// defaulting to ProcessingError per spec §4.4.
func (e *Engine) DeadLetter(lockToken string, reason model.DeadLetterReason, description string) error {
	if reason == "" {
		reason = model.ReasonProcessingError
	}
	_, err := e.store.DeadLetter(lockToken, reason, description)
	return err
}

// RenewLock extends a message's lock without touching delivery count.
func (e *Engine) RenewLock(lockToken string) error {
	return e.store.RenewLock(lockToken, e.clock.Now().Add(e.lockDuration))
}

// SweepExpiredLocks is invoked by the janitor's periodic sweep: every lock
// past its deadline is treated as an implicit abandon, without
// incrementing delivery count again (spec §4.4: "as abandon, but
// delivery-count not incremented again"). Returns the number of locks
// reclaimed.
func (e *Engine) SweepExpiredLocks() int {
	now := e.clock.Now()
	tokens := e.store.ExpiredLocks(now)
	for _, token := range tokens {
		msg, err := e.store.Abandon(token)
		if err != nil {
			continue
		}
		if e.maxDelivery > 0 && msg.DeliveryCount >= e.maxDelivery {
			e.store.RemoveFromActive(msg)
			e.store.DeadLetterActive(msg, model.ReasonMaxDeliveryCountExceeded, "maximum delivery count exceeded")
		}
	}
	return len(tokens)
}

// SweepExpiredMessages dead-letters or removes Active messages whose TTL
// has elapsed, per the janitor's periodic pass (spec A6). Returns the
// number of messages swept.
func (e *Engine) SweepExpiredMessages() int {
	now := e.clock.Now()
	expired := e.store.ExpiredActive(now)
	for _, msg := range expired {
		if e.deadLetterOnExpire {
			e.store.DeadLetterActive(msg, model.ReasonTTLExpired, "message time-to-live elapsed")
		} else {
			e.store.RemoveFromActive(msg)
		}
	}
	return len(expired)
}

// PromoteScheduled moves due scheduled messages into the active queue.
// Returns the number promoted.
func (e *Engine) PromoteScheduled() int {
	return e.store.PromoteDue(e.clock.Now())
}

// LookupLocked resolves a lock token, surfacing MessageLockLost for
// unknown or already-released tokens. Expired-but-not-yet-swept tokens
// are treated the same way once the sweep above has run; callers that
// need strict immediacy should check LockedUntilUTC directly.
func (e *Engine) LookupLocked(lockToken string) (*model.Message, error) {
	msg, err := e.store.LookupLocked(lockToken)
	if err != nil {
		return nil, err
	}
	if !msg.LockedUntilUTC.After(e.clock.Now()) {
		return nil, brokererrors.MessageLockLost(msg.ID, lockToken)
	}
	return msg, nil
}
