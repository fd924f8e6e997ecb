package httpapi

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarioS1PeekLockComplete exercises S1: send, PeekLock receive,
// complete, then an empty receive returns a null body.
func TestScenarioS1PeekLockComplete(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, doRequest(s, http.MethodPut, "/orders", nil).Code)

	require.Equal(t, http.StatusCreated,
		doRequest(s, http.MethodPost, "/orders/messages", []byte(`{"body":"A","label":"L"}`)).Code)

	recvRec := doRequest(s, http.MethodPost, "/orders/messages/head?mode=PeekLock", nil)
	require.Equal(t, http.StatusOK, recvRec.Code)
	var received receiveMessageResponse
	require.NoError(t, json.Unmarshal(recvRec.Body.Bytes(), &received))
	assert.Equal(t, "A", received.Body)
	assert.Equal(t, int64(1), received.SequenceNumber)
	require.NotNil(t, received.LockToken)
	assert.Equal(t, 1, received.DeliveryCount)

	completeRec := doRequest(s, http.MethodDelete, "/orders/messages/"+received.MessageId+"/"+*received.LockToken, nil)
	assert.Equal(t, http.StatusOK, completeRec.Code)

	emptyRec := doRequest(s, http.MethodPost, "/orders/messages/head", nil)
	assert.Equal(t, http.StatusOK, emptyRec.Code)
	assert.JSONEq(t, "null", emptyRec.Body.String())
}

// TestScenarioS2AbandonIncrementsThenDeadLetters exercises S2: repeated
// abandon increments DeliveryCount until MaxDeliveryCount is exceeded,
// at which point the message moves to $DeadLetterQueue.
func TestScenarioS2AbandonIncrementsThenDeadLetters(t *testing.T) {
	s := newTestServer(t)
	createBody := []byte(`<?xml version="1.0"?><entry xmlns="http://www.w3.org/2005/Atom"><content type="application/xml"><QueueDescription xmlns="http://schemas.microsoft.com/netservices/2010/10/servicebus/connect"><MaxDeliveryCount>3</MaxDeliveryCount><LockDuration>PT1S</LockDuration></QueueDescription></content></entry>`)
	require.Equal(t, http.StatusCreated, doRequest(s, http.MethodPut, "/orders", createBody).Code)

	require.Equal(t, http.StatusCreated, doRequest(s, http.MethodPost, "/orders/messages", []byte(`{"body":"A"}`)).Code)

	for want := 1; want <= 3; want++ {
		recvRec := doRequest(s, http.MethodPost, "/orders/messages/head", nil)
		require.Equal(t, http.StatusOK, recvRec.Code)
		var received receiveMessageResponse
		require.NoError(t, json.Unmarshal(recvRec.Body.Bytes(), &received))
		require.Equal(t, want, received.DeliveryCount)

		abandonRec := doRequest(s, http.MethodPut, "/orders/messages/"+received.MessageId+"/"+*received.LockToken+"/abandon", nil)
		require.Equal(t, http.StatusOK, abandonRec.Code)
	}

	mainRec := doRequest(s, http.MethodPost, "/orders/messages/head", nil)
	assert.Equal(t, http.StatusOK, mainRec.Code)
	assert.JSONEq(t, "null", mainRec.Body.String())

	dlqRec := doRequest(s, http.MethodPost, "/orders/$DeadLetterQueue/messages/head", nil)
	require.Equal(t, http.StatusOK, dlqRec.Code)
	var dead receiveMessageResponse
	require.NoError(t, json.Unmarshal(dlqRec.Body.Bytes(), &dead))
	assert.Equal(t, "A", dead.Body)
}

// TestScenarioS3FanOutWithSQLFilter exercises S3: "high" and "us" have
// their $Default rule replaced by an SQL filter, "all" keeps $Default,
// and each receives the correctly-filtered subset of four published
// messages.
func TestScenarioS3FanOutWithSQLFilter(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, doRequest(s, http.MethodPut, "/topics/events", nil).Code)
	for _, sub := range []string{"high", "us", "all"} {
		require.Equal(t, http.StatusCreated, doRequest(s, http.MethodPut, "/topics/events/subscriptions/"+sub, nil).Code)
	}

	createRule := func(sub, sql string) {
		del := doRequest(s, http.MethodDelete, "/topics/events/subscriptions/"+sub+"/rules/$Default", nil)
		require.Equal(t, http.StatusOK, del.Code, del.Body.String())
		body := []byte(`<?xml version="1.0"?><entry xmlns="http://www.w3.org/2005/Atom"><content type="application/xml"><RuleDescription xmlns="http://schemas.microsoft.com/netservices/2010/10/servicebus/connect"><Filter i:type="SqlFilter" xmlns:i="http://www.w3.org/2001/XMLSchema-instance"><SqlExpression>` + sql + `</SqlExpression></Filter></RuleDescription></content></entry>`)
		rec := doRequest(s, http.MethodPut, "/topics/events/subscriptions/"+sub+"/rules/r1", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	createRule("high", "priority = 'high'")
	createRule("us", "region = 'us'")

	publish := func(priority, region string) {
		body := []byte(`{"body":"m","user_properties":{"priority":"` + priority + `","region":"` + region + `"}}`)
		rec := doRequest(s, http.MethodPost, "/topics/events/messages", body)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	publish("high", "us")
	publish("low", "us")
	publish("high", "eu")
	publish("low", "eu")

	count := func(sub string) int {
		rec := doRequest(s, http.MethodPost, "/topics/events/subscriptions/"+sub+"/messages/head?numofmessages=10", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var out []receiveMessageResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return len(out)
	}
	assert.Equal(t, 2, count("high"))
	assert.Equal(t, 2, count("us"))
	assert.Equal(t, 4, count("all"))
}

// TestScenarioS4SessionFIFOOverHTTP exercises S4 end-to-end through the
// HTTP transport: a session-enabled queue refuses a sessionless receive,
// then accepting the session unlocks strict-FIFO delivery of that
// session's messages to the accepting caller only.
func TestScenarioS4SessionFIFOOverHTTP(t *testing.T) {
	s := newTestServer(t)
	createBody := []byte(`<?xml version="1.0"?><entry xmlns="http://www.w3.org/2005/Atom"><content type="application/xml"><QueueDescription xmlns="http://schemas.microsoft.com/netservices/2010/10/servicebus/connect"><RequiresSession>true</RequiresSession></QueueDescription></content></entry>`)
	require.Equal(t, http.StatusCreated, doRequest(s, http.MethodPut, "/sessioned", createBody).Code)

	require.Equal(t, http.StatusCreated,
		doRequest(s, http.MethodPost, "/sessioned/messages", []byte(`{"body":"A1","session_id":"SA"}`)).Code)
	require.Equal(t, http.StatusCreated,
		doRequest(s, http.MethodPost, "/sessioned/messages", []byte(`{"body":"A2","session_id":"SA"}`)).Code)

	blocked := doRequest(s, http.MethodPost, "/sessioned/messages/head", nil)
	assert.Equal(t, http.StatusBadRequest, blocked.Code)

	acceptRec := doRequest(s, http.MethodPost, "/sessioned/sessions/SA/acceptsession", nil)
	require.Equal(t, http.StatusOK, acceptRec.Code)

	recvRec := doRequest(s, http.MethodPost, "/sessioned/messages/head?session_id=SA", nil)
	require.Equal(t, http.StatusOK, recvRec.Code)
	var received receiveMessageResponse
	require.NoError(t, json.Unmarshal(recvRec.Body.Bytes(), &received))
	assert.Equal(t, "A1", received.Body)
}

// TestScenarioS5IdempotentPut exercises S5: a repeated PUT with the same
// body returns 200 (not 201) and the original properties are retained.
func TestScenarioS5IdempotentPut(t *testing.T) {
	s := newTestServer(t)
	first := doRequest(s, http.MethodPut, "/q1", nil)
	require.Equal(t, http.StatusCreated, first.Code)

	second := doRequest(s, http.MethodPut, "/q1", nil)
	require.Equal(t, http.StatusOK, second.Code)

	getRec := doRequest(s, http.MethodGet, "/q1", nil)
	require.Equal(t, http.StatusOK, getRec.Code)
	assert.Contains(t, getRec.Body.String(), "<QueueName>q1</QueueName>")
}

// TestScenarioS6FilterParserError exercises S6: an invalid SQL filter is
// rejected with InvalidQueryParameterValue and a position detail.
func TestScenarioS6FilterParserError(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, doRequest(s, http.MethodPut, "/topics/events", nil).Code)
	require.Equal(t, http.StatusCreated, doRequest(s, http.MethodPut, "/topics/events/subscriptions/all", nil).Code)

	body := []byte(`<?xml version="1.0"?><entry xmlns="http://www.w3.org/2005/Atom"><content type="application/xml"><RuleDescription xmlns="http://schemas.microsoft.com/netservices/2010/10/servicebus/connect"><Filter i:type="SqlFilter" xmlns:i="http://www.w3.org/2001/XMLSchema-instance"><SqlExpression>priority === 'high'</SqlExpression></Filter></RuleDescription></content></entry>`)
	rec := doRequest(s, http.MethodPut, "/topics/events/subscriptions/all/rules/bad", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "InvalidQueryParameterValue")
}
