package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localzure/brokerd/internal/broker"
	"github.com/localzure/brokerd/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.New()
	b := broker.New(cfg, nil, nil)
	return New(b, nil)
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateGetDeleteQueueXMLLifecycle(t *testing.T) {
	s := newTestServer(t)

	createRec := doRequest(s, http.MethodPut, "/orders", nil)
	require.Equal(t, http.StatusCreated, createRec.Code)
	assert.Contains(t, createRec.Body.String(), "QueueDescription")

	getRec := doRequest(s, http.MethodGet, "/orders", nil)
	require.Equal(t, http.StatusOK, getRec.Code)
	assert.Contains(t, getRec.Body.String(), "<QueueName>orders</QueueName>")
}

func TestSendAndReceiveQueueMessageJSON(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, doRequest(s, http.MethodPut, "/orders", nil).Code)

	sendBody := []byte(`{"body":"hello","correlation_id":"abc","user_properties":{"priority":"high"}}`)
	sendRec := doRequest(s, http.MethodPost, "/orders/messages", sendBody)
	require.Equal(t, http.StatusCreated, sendRec.Code)

	recvRec := doRequest(s, http.MethodPost, "/orders/messages/head", nil)
	require.Equal(t, http.StatusOK, recvRec.Code)
	assert.Contains(t, recvRec.Body.String(), `"MessageId"`)
	assert.Contains(t, recvRec.Body.String(), `"LockToken"`)
}

func TestReceiveFromEmptyQueueReturnsNullBody(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, doRequest(s, http.MethodPut, "/empty", nil).Code)

	rec := doRequest(s, http.MethodPost, "/empty/messages/head", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}

func TestGetUnknownQueueReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "EntityNotFound")
}

func TestPublishAndReceiveFromSubscription(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, doRequest(s, http.MethodPut, "/topics/events", nil).Code)
	require.Equal(t, http.StatusCreated, doRequest(s, http.MethodPut, "/topics/events/subscriptions/all", nil).Code)

	pubRec := doRequest(s, http.MethodPost, "/topics/events/messages", []byte(`{"body":"payload"}`))
	require.Equal(t, http.StatusCreated, pubRec.Code)
	assert.Contains(t, pubRec.Header().Get("BrokerProperties"), "MessageId")

	recvRec := doRequest(s, http.MethodPost, "/topics/events/subscriptions/all/messages/head?numofmessages=1", nil)
	require.Equal(t, http.StatusOK, recvRec.Code)
	assert.Contains(t, recvRec.Body.String(), `"MessageId"`)
}

func TestHealthEndpointWithoutCheckerReturnsOK(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
