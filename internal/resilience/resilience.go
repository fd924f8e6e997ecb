// Package resilience provides the broker's timeout, retry, and circuit
// breaker primitives (C8), adapted from the platform's gobreaker/backoff
// wrapper to operate in terms of BrokerError and its IsTransient flag.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/localzure/brokerd/internal/brokererrors"
)

// WithTimeout wraps fn, raising OperationTimeout if it has not returned
// within the given bound (spec §4.8: "with-timeout(op-kind, seconds)").
func WithTimeout(ctx context.Context, opKind string, d time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return brokererrors.OperationTimeout(opKind, d.Seconds())
	}
}

// RetryConfig configures exponential-backoff retry.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Predicate decides whether err is retryable. Nil uses
	// DefaultRetryPredicate.
	Predicate func(error) bool
}

// DefaultRetryConfig mirrors the platform's defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
	}
}

// DefaultRetryPredicate retries OperationTimeout, ConnectionError, and any
// BrokerError marked IsTransient, per spec §4.8.
func DefaultRetryPredicate(err error) bool {
	be, ok := brokererrors.As(err)
	if !ok {
		return false
	}
	return be.IsTransient ||
		be.Code == brokererrors.CodeOperationTimeout ||
		be.Code == brokererrors.CodeConnectionError
}

// WithRetry retries fn while cfg.Predicate(err) holds, backing off
// exponentially up to MaxBackoff.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	predicate := cfg.Predicate
	if predicate == nil {
		predicate = DefaultRetryPredicate
	}

	bo := backoff.NewExponentialBackOff()
	if cfg.InitialBackoff > 0 {
		bo.InitialInterval = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		bo.MaxInterval = cfg.MaxBackoff
	}
	if cfg.Multiplier > 0 {
		bo.Multiplier = cfg.Multiplier
	}
	bo.MaxElapsedTime = 0

	withMax := backoff.WithMaxRetries(bo, uint64(cfg.MaxAttempts-1))
	withCtx := backoff.WithContext(withMax, ctx)

	return backoff.Retry(func() error {
		err := fn(ctx)
		if err != nil && !predicate(err) {
			return backoff.Permanent(err)
		}
		return err
	}, withCtx)
}

// State mirrors gobreaker's three-state model.
type State int

const (
	StateClosed State = State(gobreaker.StateClosed)
	StateOpen   State = State(gobreaker.StateOpen)
	StateHalfOpen State = State(gobreaker.StateHalfOpen)
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig configures a single named circuit breaker.
type BreakerConfig struct {
	Name              string
	FailureThreshold  uint32
	ResetTimeout      time.Duration
	HalfOpenMaxCalls  uint32
}

// CircuitBreaker wraps gobreaker, translating its open-state error into
// brokererrors.CircuitBreakerOpen.
type CircuitBreaker struct {
	name string
	gb   *gobreaker.CircuitBreaker[any]

	mu           sync.Mutex
	failureCount int
}

// NewCircuitBreaker constructs a breaker per spec §4.8's three-state model.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls == 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	cb := &CircuitBreaker{name: cfg.Name}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cb.mu.Lock()
			if to == gobreaker.StateClosed {
				cb.failureCount = 0
			}
			cb.mu.Unlock()
		},
	}
	cb.gb = gobreaker.NewCircuitBreaker[any](settings)
	return cb
}

// State reports the breaker's current state.
func (cb *CircuitBreaker) State() State { return State(cb.gb.State()) }

// Execute runs fn under circuit-breaker protection.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	_, err := cb.gb.Execute(func() (any, error) {
		callErr := fn()
		if callErr != nil {
			cb.mu.Lock()
			cb.failureCount++
			cb.mu.Unlock()
		}
		return nil, callErr
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			cb.mu.Lock()
			count := cb.failureCount
			cb.mu.Unlock()
			return brokererrors.CircuitBreakerOpen(cb.name, count)
		}
		return err
	}
	return nil
}

// Registry is a name-keyed breaker registry shared across the broker, per
// spec §4.8: "share no global state beyond a name-keyed breaker registry".
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry constructs an empty breaker registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker)}
}

// GetOrCreate returns the named breaker, creating it with cfg if absent.
func (r *Registry) GetOrCreate(cfg BreakerConfig) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[cfg.Name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(cfg)
	r.breakers[cfg.Name] = cb
	return cb
}
