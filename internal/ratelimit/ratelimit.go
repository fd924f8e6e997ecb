// Package ratelimit implements per-entity token-bucket rate limiting for
// queues, topics, and subscriptions (C7).
package ratelimit

import (
	"sync"
	"time"

	"github.com/localzure/brokerd/internal/brokererrors"
)

const burstMultiplier = 2

// Default rates in tokens (messages) per second, per spec §4.7.
const (
	DefaultQueueRate        = 100.0
	DefaultTopicRate        = 1000.0
	DefaultSubscriptionRate = 100.0
)

// bucket is a single entity's token bucket.
type bucket struct {
	mu         sync.Mutex
	capacity   float64
	rate       float64
	tokens     float64
	lastUpdate time.Time
}

func newBucket(rate float64) *bucket {
	return &bucket{
		capacity:   rate * burstMultiplier,
		rate:       rate,
		tokens:     rate * burstMultiplier,
		lastUpdate: time.Now(),
	}
}

func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.capacity, b.tokens+elapsed*b.rate)
	b.lastUpdate = now
}



// consume attempts to take n tokens, returning the retry-after seconds
// (0 if granted) per spec §4.7's formula.
func (b *bucket) consume(n float64, now time.Time) (granted bool, retryAfterSeconds float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	if b.tokens >= n {
		b.tokens -= n
		return true, 0
	}
	needed := n - b.tokens
	return false, needed / b.rate
}

// entityClass distinguishes the three bucket maps so callers get the
// right default rate.
type entityClass int

const (
	classQueue entityClass = iota
	classTopic
	classSubscription
)

// Limiter holds one bucket map per entity class. One mutex guards all
// three maps during bucket lookup; each bucket has its own mutex for
// token accounting.
type Limiter struct {
	mu           sync.Mutex
	queues       map[string]*bucket
	topics       map[string]*bucket
	subscriptions map[string]*bucket
	customRates  map[string]float64
}

// New constructs an empty Limiter.
func New() *Limiter {
	return &Limiter{
		queues:        make(map[string]*bucket),
		topics:        make(map[string]*bucket),
		subscriptions: make(map[string]*bucket),
		customRates:   make(map[string]float64),
	}
}

// SetCustomRate overrides the default rate for a specific entity key
// (spec §4.7: "Custom rates may be configured per entity").
func (l *Limiter) SetCustomRate(key string, rate float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.customRates[key] = rate
}

func (l *Limiter) getBucket(class entityClass, key string, defaultRate float64) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.mapFor(class)
	if b, ok := m[key]; ok {
		return b
	}
	rate := defaultRate
	if custom, ok := l.customRates[key]; ok {
		rate = custom
	}
	b := newBucket(rate)
	m[key] = b
	return b
}

func (l *Limiter) mapFor(class entityClass) map[string]*bucket {
	switch class {
	case classQueue:
		return l.queues
	case classTopic:
		return l.topics
	default:
		return l.subscriptions
	}
}

func (l *Limiter) check(class entityClass, key string, defaultRate float64, count int) error {
	b := l.getBucket(class, key, defaultRate)
	granted, retryAfter := b.consume(float64(count), time.Now())
	if !granted {
		return brokererrors.RateLimitExceeded(key, retryAfter)
	}
	return nil
}

// CheckQueueRate enforces the rate limit for count messages against queueName.
func (l *Limiter) CheckQueueRate(queueName string, count int) error {
	return l.check(classQueue, queueName, DefaultQueueRate, count)
}

// CheckTopicRate enforces the rate limit for count messages against topicName.
func (l *Limiter) CheckTopicRate(topicName string, count int) error {
	return l.check(classTopic, topicName, DefaultTopicRate, count)
}

// CheckSubscriptionRate enforces the rate limit for a subscription key
// (topic/subscription).
func (l *Limiter) CheckSubscriptionRate(subscriptionKey string, count int) error {
	return l.check(classSubscription, subscriptionKey, DefaultSubscriptionRate, count)
}
