// Package messagestore holds the per-entity message views: scheduled
// (time-ordered), active (FIFO, optionally session-bucketed), locked,
// and dead-lettered, plus the duplicate-detection window (C3).
package messagestore

import (
	"container/heap"
	"sync"
	"time"

	"github.com/localzure/brokerd/internal/brokererrors"
	"github.com/localzure/brokerd/internal/model"
)

// scheduledItem is one entry of the scheduled-message min-heap, ordered by
// ScheduledEnqueueTimeUTC.
type scheduledItem struct {
	msg   *model.Message
	index int
}

type scheduledHeap []*scheduledItem

func (h scheduledHeap) Len() int { return len(h) }
func (h scheduledHeap) Less(i, j int) bool {
	return h[i].msg.System.ScheduledEnqueueTimeUTC.Before(h[j].msg.System.ScheduledEnqueueTimeUTC)
}
func (h scheduledHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *scheduledHeap) Push(x interface{}) {
	item := x.(*scheduledItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *scheduledHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// dedupEntry records when a caller-supplied dedup key was last seen,
// for the duplicate-detection window.
type dedupEntry struct {
	seenAt time.Time
}

// EntityStore is the per-queue-or-subscription message store. Messages
// move Scheduled -> Active -> Locked -> {removed, Active (abandon),
// DeadLettered}. One instance guards its own mutex (spec §5: "the message
// store for a single entity is guarded by one mutex").
type EntityStore struct {
	mu sync.Mutex

	key string

	scheduled scheduledHeap
	// active holds FIFO order for session-less receives; a message
	// carrying a SessionID lives only in activeBySession, never here, so
	// a non-session receive can never observe a session-scoped message.
	active        []*model.Message
	activeBySession map[string][]*model.Message
	locked        map[string]*model.Message // keyed by LockToken
	deadLettered  []*model.Message

	nextSequence int64

	dedupWindow time.Duration
	dedup       map[string]dedupEntry
}

// NewEntityStore constructs an empty store for one queue/subscription,
// identified by key (e.g. "queue:orders" or "events/all").
func NewEntityStore(key string, dedupWindow time.Duration) *EntityStore {
	return &EntityStore{
		key:             key,
		locked:          make(map[string]*model.Message),
		activeBySession: make(map[string][]*model.Message),
		dedupWindow:     dedupWindow,
		dedup:           make(map[string]dedupEntry),
	}
}

// NextSequenceNumber returns a strictly increasing per-entity counter,
// starting at 1.
func (s *EntityStore) NextSequenceNumber() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSequence++
	return s.nextSequence
}

// IsDuplicate reports whether dedupKey was seen within the configured
// window, and records it as seen if not. A zero dedupWindow disables
// detection entirely.
func (s *EntityStore) IsDuplicate(dedupKey string, now time.Time) bool {
	if s.dedupWindow <= 0 || dedupKey == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredDedup(now)
	if entry, ok := s.dedup[dedupKey]; ok && now.Sub(entry.seenAt) < s.dedupWindow {
		return true
	}
	s.dedup[dedupKey] = dedupEntry{seenAt: now}
	return false
}

func (s *EntityStore) evictExpiredDedup(now time.Time) {
	for k, v := range s.dedup {
		if now.Sub(v.seenAt) >= s.dedupWindow {
			delete(s.dedup, k)
		}
	}
}

// Enqueue admits msg either into the scheduled heap (future
// ScheduledEnqueueTimeUTC) or directly into the active FIFO.
func (s *EntityStore) Enqueue(msg *model.Message, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.System.ScheduledEnqueueTimeUTC.After(now) {
		msg.State = model.StateScheduled
		heap.Push(&s.scheduled, &scheduledItem{msg: msg})
		return
	}
	s.admitActiveLocked(msg)
}

func (s *EntityStore) admitActiveLocked(msg *model.Message) {
	msg.State = model.StateActive
	if msg.System.SessionID != "" {
		s.activeBySession[msg.System.SessionID] = append(s.activeBySession[msg.System.SessionID], msg)
		return
	}
	s.active = append(s.active, msg)
}

// readmitActiveHeadLocked re-admits msg at the FIFO head of whichever
// list it belongs to (the entity-wide active list, or its session
// bucket), preserving sequence order relative to untouched messages.
// Used by Abandon and timer-driven lock-expiry release, never by a
// genuinely new Enqueue.
func (s *EntityStore) readmitActiveHeadLocked(msg *model.Message) {
	msg.State = model.StateActive
	if msg.System.SessionID != "" {
		s.activeBySession[msg.System.SessionID] = append([]*model.Message{msg}, s.activeBySession[msg.System.SessionID]...)
		return
	}
	s.active = append([]*model.Message{msg}, s.active...)
}

// PromoteDue moves scheduled messages whose time has arrived into the
// active FIFO; called by the janitor's periodic sweep (spec A6).
func (s *EntityStore) PromoteDue(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	promoted := 0
	for s.scheduled.Len() > 0 && !s.scheduled[0].msg.System.ScheduledEnqueueTimeUTC.After(now) {
		item := heap.Pop(&s.scheduled).(*scheduledItem)
		s.admitActiveLocked(item.msg)
		promoted++
	}
	return promoted
}

// PeekActive returns the next eligible active message for a non-session
// receive without removing it (PeekLock semantics are applied by the
// lifecycle engine, which then calls Lock).
func (s *EntityStore) PeekActive() *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.active) == 0 {
		return nil
	}
	return s.active[0]
}

// PeekActiveForSession returns the head message of a specific session's
// FIFO, or nil if the session has no active messages.
func (s *EntityStore) PeekActiveForSession(sessionID string) *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.activeBySession[sessionID]
	if len(bucket) == 0 {
		return nil
	}
	return bucket[0]
}

// AnySessionWithMessages returns an arbitrary session id that currently
// has at least one active message, used for "accept next available
// session" (spec §4.5).
func (s *EntityStore) AnySessionWithMessages() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sessionID, bucket := range s.activeBySession {
		if len(bucket) > 0 {
			return sessionID, true
		}
	}
	return "", false
}

// Lock removes msg from the active views and places it in the locked
// map under lockToken, for PeekLock receive mode.
func (s *EntityStore) Lock(msg *model.Message, lockToken string, lockedUntil time.Time, lockedBy string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeFromActiveLocked(msg)
	msg.State = model.StateLocked
	msg.LockToken = lockToken
	msg.LockedUntilUTC = lockedUntil
	msg.LockedBy = lockedBy
	s.locked[lockToken] = msg
}

// RemoveFromActive deletes msg from the active FIFO/session bucket
// without locking it, used by ReceiveAndDelete mode.
func (s *EntityStore) RemoveFromActive(msg *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeFromActiveLocked(msg)
	msg.State = model.StateRemoved
}

func (s *EntityStore) removeFromActiveLocked(msg *model.Message) {
	if msg.System.SessionID != "" {
		s.activeBySession[msg.System.SessionID] = removeMessage(s.activeBySession[msg.System.SessionID], msg)
		return
	}
	s.active = removeMessage(s.active, msg)
}

func removeMessage(list []*model.Message, target *model.Message) []*model.Message {
	out := list[:0]
	for _, m := range list {
		if m != target {
			out = append(out, m)
		}
	}
	return out
}

// LookupLocked resolves a lock token to its message, or MessageLockLost
// if the token is unknown (open-question decision 1 covers expiry too,
// applied by the lifecycle engine once it detects LockedUntilUTC has
// passed).
func (s *EntityStore) LookupLocked(lockToken string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.locked[lockToken]
	if !ok {
		return nil, brokererrors.MessageLockLost("", lockToken)
	}
	return msg, nil
}

// Complete permanently removes a locked message.
func (s *EntityStore) Complete(lockToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.locked[lockToken]
	if !ok {
		return brokererrors.MessageLockLost("", lockToken)
	}
	delete(s.locked, lockToken)
	msg.State = model.StateRemoved
	return nil
}

// Abandon releases a locked message back to Active without changing its
// delivery count (that is incremented at receive); the caller (lifecycle
// engine) decides whether this tips it into dead-lettering.
func (s *EntityStore) Abandon(lockToken string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.locked[lockToken]
	if !ok {
		return nil, brokererrors.MessageLockLost("", lockToken)
	}
	delete(s.locked, lockToken)
	msg.LockToken = ""
	msg.LockedBy = ""
	s.readmitActiveHeadLocked(msg)
	return msg, nil
}

// DeadLetter moves a locked message into the dead-letter FIFO.
func (s *EntityStore) DeadLetter(lockToken string, reason model.DeadLetterReason, description string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.locked[lockToken]
	if !ok {
		return nil, brokererrors.MessageLockLost("", lockToken)
	}
	delete(s.locked, lockToken)
	s.moveToDeadLetterLocked(msg, reason, description)
	return msg, nil
}

// DeadLetterActive moves an Active (not yet locked) message straight to
// the DLQ — used for TTL expiry and filter-evaluation failures, which
// can occur before any receiver has locked the message.
func (s *EntityStore) DeadLetterActive(msg *model.Message, reason model.DeadLetterReason, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeFromActiveLocked(msg)
	s.moveToDeadLetterLocked(msg, reason, description)
}

func (s *EntityStore) moveToDeadLetterLocked(msg *model.Message, reason model.DeadLetterReason, description string) {
	msg.State = model.StateDeadLettered
	msg.DeadLetterReason = reason
	msg.DeadLetterDesc = description
	msg.LockToken = ""
	msg.LockedBy = ""
	s.deadLettered = append(s.deadLettered, msg)
}

// RenewLock extends a locked message's expiry.
func (s *EntityStore) RenewLock(lockToken string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.locked[lockToken]
	if !ok {
		return brokererrors.MessageLockLost("", lockToken)
	}
	msg.LockedUntilUTC = until
	return nil
}

// ExpiredLocks returns the lock tokens whose LockedUntilUTC has passed
// as of now, used by the lock manager's expiry sweep.
func (s *EntityStore) ExpiredLocks(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []string
	for token, msg := range s.locked {
		if !msg.LockedUntilUTC.After(now) {
			expired = append(expired, token)
		}
	}
	return expired
}

// ExpiredActive returns Active messages whose TTL has elapsed, used by
// the janitor to drive TTL expiry / dead-lettering (spec A6). Scans both
// the session-less FIFO and every session bucket, since a session-scoped
// message is never held in the former.
func (s *EntityStore) ExpiredActive(now time.Time) []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []*model.Message
	deadline := func(m *model.Message) time.Time {
		return m.System.EnqueuedTimeUTC.Add(m.System.TimeToLive)
	}
	collect := func(list []*model.Message) {
		for _, m := range list {
			if m.System.TimeToLive > 0 && !deadline(m).After(now) {
				expired = append(expired, m)
			}
		}
	}
	collect(s.active)
	for _, bucket := range s.activeBySession {
		collect(bucket)
	}
	return expired
}

// PeekDeadLetter returns up to n dead-lettered messages starting at skip,
// for $DeadLetterQueue receive operations.
func (s *EntityStore) PeekDeadLetter(skip, n int) []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if skip >= len(s.deadLettered) {
		return nil
	}
	end := skip + n
	if end > len(s.deadLettered) {
		end = len(s.deadLettered)
	}
	return append([]*model.Message(nil), s.deadLettered[skip:end]...)
}

// Counters reports the entity's current runtime message counts, counting
// both the session-less FIFO and every session bucket as active.
func (s *EntityStore) Counters() model.RuntimeCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	var size int64
	count := int64(len(s.active))
	for _, m := range s.active {
		size += int64(len(m.Body))
	}
	for _, bucket := range s.activeBySession {
		count += int64(len(bucket))
		for _, m := range bucket {
			size += int64(len(m.Body))
		}
	}
	return model.RuntimeCounters{
		ActiveMessageCount:     count,
		DeadLetterMessageCount: int64(len(s.deadLettered)),
		ScheduledMessageCount:  int64(s.scheduled.Len()),
		SizeInBytes:            size,
	}
}
