package ratelimit

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// IngressLimiter throttles the HTTP transport as a whole, ahead of any
// per-entity token bucket — a cheap first line of defense against a
// client hammering the listener before a single request is routed to an
// entity.
type IngressLimiter struct {
	limiter *rate.Limiter
}

// NewIngressLimiter builds a limiter admitting requestsPerSecond steady
// state with the given burst.
func NewIngressLimiter(requestsPerSecond float64, burst int) *IngressLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 500
	}
	if burst <= 0 {
		burst = int(requestsPerSecond * 2)
	}
	return &IngressLimiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Allow reports whether a request may proceed right now.
func (l *IngressLimiter) Allow() bool { return l.limiter.Allow() }

// Middleware is a net/http middleware rejecting over-quota
// requests with 429 before they reach routing.
func (l *IngressLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// reservationDelay reports how long the caller would need to wait for n
// tokens, without reserving them — used for diagnostics.
func (l *IngressLimiter) reservationDelay(n int) time.Duration {
	r := l.limiter.ReserveN(time.Now(), n)
	defer r.Cancel()
	if !r.OK() {
		return time.Hour
	}
	return r.Delay()
}
