// Package model defines the broker's core data model: queues, topics,
// subscriptions, rules, messages, and sessions, per spec §3.
package model

import (
	"sync/atomic"
	"time"

	"github.com/localzure/brokerd/internal/filter"
)

// EntityProperties holds the attributes shared by queues and subscriptions.
type EntityProperties struct {
	MaxSizeInBytes            int64
	DefaultMessageTimeToLive  time.Duration
	LockDuration              time.Duration
	RequiresSession           bool
	RequiresDuplicateDetection bool
	DuplicateDetectionWindow  time.Duration
	DeadLetteringOnExpire     bool
	MaxDeliveryCount          int
	EnableBatchedOperations   bool
	// DeadLetteringOnFilterError applies only to subscriptions.
	DeadLetteringOnFilterError bool
}

// DefaultEntityProperties returns the broker's default property set.
func DefaultEntityProperties() EntityProperties {
	return EntityProperties{
		MaxSizeInBytes:             1024 * 1024 * 1024,
		DefaultMessageTimeToLive:   14 * 24 * time.Hour,
		LockDuration:               30 * time.Second,
		RequiresSession:            false,
		RequiresDuplicateDetection: false,
		DuplicateDetectionWindow:   10 * time.Minute,
		DeadLetteringOnExpire:      false,
		MaxDeliveryCount:           10,
		EnableBatchedOperations:    true,
		DeadLetteringOnFilterError: true,
	}
}

// RuntimeCounters tracks the live counters the admin façade's GET exposes.
type RuntimeCounters struct {
	ActiveMessageCount      int64
	DeadLetterMessageCount  int64
	ScheduledMessageCount   int64
	SizeInBytes             int64
}

// Queue is a top-level message container. Identity = Name.
type Queue struct {
	Name       string
	Properties EntityProperties
	Counters   RuntimeCounters
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Topic owns an ordered set of subscriptions; it never stores messages
// past fan-out.
type Topic struct {
	Name              string
	Properties        EntityProperties
	Counters          RuntimeCounters
	CreatedAt         time.Time
	UpdatedAt         time.Time
	SubscriptionOrder []string // insertion order, for list enumeration

	// sequence is the topic's own publish-sequence counter; a topic
	// publication's subscription copies all inherit one sequence number
	// drawn from here, distinct from any single subscription's own
	// message-store counter.
	sequence int64
}

// NextSequenceNumber returns a strictly increasing per-topic counter,
// starting at 1, safe for concurrent publish calls.
func (t *Topic) NextSequenceNumber() int64 {
	return atomic.AddInt64(&t.sequence, 1)
}

// Subscription is identified by (TopicName, Name).
type Subscription struct {
	TopicName  string
	Name       string
	Properties EntityProperties
	Counters   RuntimeCounters
	CreatedAt  time.Time
	UpdatedAt  time.Time
	RuleOrder  []string // insertion order
}

// FilterKind tags a Rule's filter variant.
type FilterKind string

const (
	FilterTrue        FilterKind = "true"
	FilterSQL         FilterKind = "sql"
	FilterCorrelation FilterKind = "correlation"
)

// Rule is identified by (Subscription, Name). Holds a tagged filter
// variant; the default rule "$Default" has FilterTrue.
type Rule struct {
	SubscriptionKey string // topic/subscription
	Name            string
	Kind            FilterKind
	SQLExpression   string
	SQLAst          filter.Node
	Correlation     *filter.CorrelationFilter
	CreatedAt       time.Time
}

// UserPropertyValue is any of {string,int,float,bool,nil}.
type UserPropertyValue = interface{}

// SystemProperties holds a message's broker-managed metadata.
type SystemProperties struct {
	Label                  string
	CorrelationID          string
	ContentType            string
	To                     string
	ReplyTo                string
	SessionID              string
	PartitionKey           string
	TimeToLive             time.Duration
	ScheduledEnqueueTimeUTC time.Time
	SequenceNumber         int64
	EnqueuedTimeUTC        time.Time
}

// MessageState is the lifecycle state a Message currently occupies.
type MessageState string

const (
	StateScheduled    MessageState = "scheduled"
	StateActive       MessageState = "active"
	StateLocked       MessageState = "locked"
	StateDeadLettered MessageState = "dead_lettered"
	StateRemoved      MessageState = "removed"
)

// DeadLetterReason enumerates why a message landed in a DLQ.
type DeadLetterReason string

const (
	ReasonMaxDeliveryCountExceeded DeadLetterReason = "MaxDeliveryCountExceeded"
	ReasonTTLExpired               DeadLetterReason = "TTLExpired"
	ReasonFilterEvaluationError    DeadLetterReason = "FilterEvaluationError"
	ReasonProcessingError          DeadLetterReason = "ProcessingError"
)

// Message is the broker's unit of transfer.
type Message struct {
	ID               string
	Body             []byte
	System           SystemProperties
	UserProperties   map[string]UserPropertyValue
	State            MessageState
	DeliveryCount    int
	LockToken        string
	LockedUntilUTC   time.Time
	LockedBy         string
	DeadLetterReason DeadLetterReason
	DeadLetterDesc   string
}

// PropertyMap flattens a message's system + user properties into the
// evaluator's PropertyMap contract, used by SQL/correlation filters.
func (m *Message) PropertyMap() filter.PropertyMap {
	pm := filter.PropertyMap{
		"label":          m.System.Label,
		"correlation_id": m.System.CorrelationID,
		"content_type":   m.System.ContentType,
		"to":             m.System.To,
		"reply_to":       m.System.ReplyTo,
		"session_id":     m.System.SessionID,
		"partition_key":  m.System.PartitionKey,
		"message_id":     m.ID,
	}
	for k, v := range m.UserProperties {
		pm[k] = v
	}
	return pm
}

// Clone returns an independent copy of m with its own body/property maps,
// used by the dispatcher to produce per-subscription copies (spec §4.6).
func (m *Message) Clone() *Message {
	bodyCopy := make([]byte, len(m.Body))
	copy(bodyCopy, m.Body)
	propsCopy := make(map[string]UserPropertyValue, len(m.UserProperties))
	for k, v := range m.UserProperties {
		propsCopy[k] = v
	}
	clone := *m
	clone.Body = bodyCopy
	clone.UserProperties = propsCopy
	clone.State = StateActive
	clone.DeliveryCount = 0
	clone.LockToken = ""
	clone.LockedBy = ""
	return &clone
}

// Session represents a (entity, session-id) partition.
type Session struct {
	EntityKey      string
	SessionID      string
	State          []byte
	LockToken      string
	LockedUntilUTC time.Time
	LockedBy       string
}
