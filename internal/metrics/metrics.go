// Package metrics exposes brokerd's Prometheus collectors (spec A4).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds brokerd's collectors, separate from the default global
// registry so tests can construct a fresh instance per case.
var Registry = prometheus.NewRegistry()

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "brokerd",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brokerd",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "brokerd",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"method", "path"})

	messagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brokerd",
		Subsystem: "messages",
		Name:      "sent_total",
		Help:      "Total number of messages accepted by send/publish.",
	}, []string{"entity_type", "entity_name"})

	messagesDeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brokerd",
		Subsystem: "messages",
		Name:      "dead_lettered_total",
		Help:      "Total number of messages moved to a dead-letter queue.",
	}, []string{"entity_name", "reason"})

	activeMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "brokerd",
		Subsystem: "messages",
		Name:      "active",
		Help:      "Current active message count per entity.",
	}, []string{"entity_name"})

	rateLimitRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brokerd",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Total number of requests rejected by a rate limiter.",
	}, []string{"entity_name"})

	circuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "brokerd",
		Subsystem: "resilience",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open).",
	}, []string{"name"})

	filterEvalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "brokerd",
		Subsystem: "filter",
		Name:      "evaluation_duration_seconds",
		Help:      "Duration of a single SQL-filter evaluation.",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
	})
)

func init() {
	Registry.MustRegister(
		httpInFlight, httpRequests, httpDuration,
		messagesSent, messagesDeadLettered, activeMessageGauge,
		rateLimitRejections, circuitBreakerState, filterEvalDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveHTTPRequest records one request's outcome.
func ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, http.StatusText(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncInFlight/DecInFlight track concurrent request count.
func IncInFlight() { httpInFlight.Inc() }
func DecInFlight() { httpInFlight.Dec() }

// RecordSend counts one accepted send/publish.
func RecordSend(entityType, entityName string) {
	messagesSent.WithLabelValues(entityType, entityName).Inc()
}

// RecordDeadLetter counts one dead-lettered message.
func RecordDeadLetter(entityName, reason string) {
	messagesDeadLettered.WithLabelValues(entityName, reason).Inc()
}

// SetActiveMessages sets the current active-message gauge for an entity.
func SetActiveMessages(entityName string, count float64) {
	activeMessageGauge.WithLabelValues(entityName).Set(count)
}

// RecordRateLimitRejection counts one rate-limit rejection.
func RecordRateLimitRejection(entityName string) {
	rateLimitRejections.WithLabelValues(entityName).Inc()
}

// SetCircuitBreakerState publishes a breaker's numeric state.
func SetCircuitBreakerState(name string, state int) {
	circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// ObserveFilterEvaluation records one SQL-filter evaluation's duration.
func ObserveFilterEvaluation(d time.Duration) {
	filterEvalDuration.Observe(d.Seconds())
}

// Handler returns the HTTP handler exposing brokerd's metrics in the
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
