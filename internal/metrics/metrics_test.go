package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveHTTPRequestIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/queues", "OK"))
	ObserveHTTPRequest("GET", "/queues", 200, 5*time.Millisecond)
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/queues", "OK"))
	assert.Equal(t, before+1, after)
}

func TestRecordSendAndDeadLetter(t *testing.T) {
	before := testutil.ToFloat64(messagesSent.WithLabelValues("queue", "orders"))
	RecordSend("queue", "orders")
	assert.Equal(t, before+1, testutil.ToFloat64(messagesSent.WithLabelValues("queue", "orders")))

	RecordDeadLetter("orders", "MaxDeliveryCountExceeded")
	assert.Equal(t, float64(1), testutil.ToFloat64(messagesDeadLettered.WithLabelValues("orders", "MaxDeliveryCountExceeded")))
}

func TestSetActiveMessagesAndCircuitBreakerState(t *testing.T) {
	SetActiveMessages("orders", 42)
	assert.Equal(t, float64(42), testutil.ToFloat64(activeMessageGauge.WithLabelValues("orders")))

	SetCircuitBreakerState("downstream", 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(circuitBreakerState.WithLabelValues("downstream")))
}

func TestHandlerServesMetrics(t *testing.T) {
	RecordRateLimitRejection("orders")
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "brokerd_ratelimit_rejections_total")
}
