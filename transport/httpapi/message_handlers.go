package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/localzure/brokerd/internal/brokererrors"
	"github.com/localzure/brokerd/internal/lifecycle"
	"github.com/localzure/brokerd/internal/metrics"
	"github.com/localzure/brokerd/internal/model"
)

// sendMessageRequest is the send-side JSON body (spec §6.2: snake_case).
type sendMessageRequest struct {
	Body                    string                 `json:"body"`
	SessionID               string                 `json:"session_id"`
	CorrelationID           string                 `json:"correlation_id"`
	ContentType             string                 `json:"content_type"`
	Label                   string                 `json:"label"`
	To                      string                 `json:"to"`
	ReplyTo                 string                 `json:"reply_to"`
	TimeToLive              int64                  `json:"time_to_live"`
	ScheduledEnqueueTimeUTC string                 `json:"scheduled_enqueue_time_utc"`
	UserProperties          map[string]interface{} `json:"user_properties"`
}

// receiveMessageResponse is the receive-side JSON shape (spec §6.2:
// PascalCase per DESIGN.md's open-question decision).
type receiveMessageResponse struct {
	MessageId      string                 `json:"MessageId"`
	Body           string                 `json:"Body"`
	LockToken      *string                `json:"LockToken"`
	DeliveryCount  int                    `json:"DeliveryCount"`
	LockedUntilUtc *string                `json:"LockedUntilUtc,omitempty"`
	EnqueuedTimeUtc string                `json:"EnqueuedTimeUtc"`
	SequenceNumber int64                  `json:"SequenceNumber"`
	SessionID      string                 `json:"SessionId,omitempty"`
	CorrelationID  string                 `json:"CorrelationId,omitempty"`
	Label          string                 `json:"Label,omitempty"`
	UserProperties map[string]interface{} `json:"UserProperties,omitempty"`
}

func messageToResponse(msg *model.Message) receiveMessageResponse {
	resp := receiveMessageResponse{
		MessageId:       msg.ID,
		Body:            string(msg.Body),
		DeliveryCount:   msg.DeliveryCount,
		EnqueuedTimeUtc: msg.System.EnqueuedTimeUTC.UTC().Format(time.RFC3339Nano),
		SequenceNumber:  msg.System.SequenceNumber,
		SessionID:       msg.System.SessionID,
		CorrelationID:   msg.System.CorrelationID,
		Label:           msg.System.Label,
		UserProperties:  msg.UserProperties,
	}
	if msg.LockToken != "" {
		resp.LockToken = &msg.LockToken
		until := msg.LockedUntilUTC.UTC().Format(time.RFC3339Nano)
		resp.LockedUntilUtc = &until
	}
	return resp
}

// parseSendRequest builds a model.Message from a raw JSON body (spec §6.2
// leaves user_properties open-ended: string/int/float/bool/null). A body
// that is not valid JSON, or whose user_properties is not a JSON object,
// is rejected as a whole with a ValidationError.
func parseSendRequest(raw []byte) (*model.Message, error) {
	var req sendMessageRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, brokererrors.ValidationError(map[string]interface{}{"body": "invalid JSON: " + err.Error()})
	}

	msg := &model.Message{
		Body: []byte(req.Body),
		System: model.SystemProperties{
			SessionID:     req.SessionID,
			CorrelationID: req.CorrelationID,
			ContentType:   req.ContentType,
			Label:         req.Label,
			To:            req.To,
			ReplyTo:       req.ReplyTo,
			TimeToLive:    time.Duration(req.TimeToLive) * time.Second,
		},
		UserProperties: make(map[string]model.UserPropertyValue, len(req.UserProperties)),
	}
	for k, v := range req.UserProperties {
		msg.UserProperties[k] = v
	}
	if req.ScheduledEnqueueTimeUTC != "" {
		if t, err := time.Parse(time.RFC3339, req.ScheduledEnqueueTimeUTC); err == nil {
			msg.System.ScheduledEnqueueTimeUTC = t
		}
	}

	// gjson walk over user_properties runs only after the strict decode
	// above succeeded and left user_properties empty, so it adds nothing
	// that decode did not already produce; a malformed user_properties
	// field never reaches it.
	if result := gjson.GetBytes(raw, "user_properties"); result.Exists() && result.IsObject() && len(msg.UserProperties) == 0 {
		result.ForEach(func(key, value gjson.Result) bool {
			msg.UserProperties[key.String()] = value.Value()
			return true
		})
	}
	return msg, nil
}

func (s *Server) sendQueueMessage(c *gin.Context) {
	name := c.Param("queue")
	raw, _ := io.ReadAll(c.Request.Body)
	msg, err := parseSendRequest(raw)
	if err != nil {
		writeError(c, err)
		return
	}
	dedupKey := c.GetHeader("BrokerProperties-MessageId")
	if err := s.broker.SendToQueue(c.Request.Context(), name, msg, dedupKey); err != nil {
		writeError(c, err)
		return
	}
	metrics.RecordSend("queue", name)
	c.Status(http.StatusCreated)
}

func (s *Server) receiveQueueMessage(c *gin.Context) {
	name := c.Param("queue")
	mode := lifecycle.PeekLock
	if c.Query("mode") == string(lifecycle.ReceiveAndDelete) {
		mode = lifecycle.ReceiveAndDelete
	}
	msgs, err := s.broker.ReceiveFromQueue(c.Request.Context(), name, mode, c.Query("session_id"), 1, c.ClientIP())
	if err != nil {
		writeError(c, err)
		return
	}
	if len(msgs) == 0 {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, messageToResponse(msgs[0]))
}

// acceptSessionRequest is the accept-session JSON body; lock_duration is
// in seconds and clamped to [lockmanager.MinLockDuration,
// lockmanager.MaxLockDuration] by the broker.
type acceptSessionRequest struct {
	LockDuration int64 `json:"lock_duration"`
}

// acceptSessionResponse echoes the granted lock expiry.
type acceptSessionResponse struct {
	SessionID      string `json:"SessionId"`
	LockedUntilUtc string `json:"LockedUntilUtc"`
}

func parseAcceptSessionLockDuration(c *gin.Context) time.Duration {
	var req acceptSessionRequest
	raw, _ := io.ReadAll(c.Request.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &req)
	}
	if req.LockDuration <= 0 {
		return 60 * time.Second
	}
	return time.Duration(req.LockDuration) * time.Second
}

// acceptQueueSession locks a session on a session-enabled queue for the
// calling receiver (identified by client IP, matching the identity used
// by receiveQueueMessage), per spec §4.4's "accept specific session".
func (s *Server) acceptQueueSession(c *gin.Context) {
	name, sessionID := c.Param("queue"), c.Param("session")
	until, err := s.broker.AcceptSession(name, sessionID, c.ClientIP(), parseAcceptSessionLockDuration(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, acceptSessionResponse{SessionID: sessionID, LockedUntilUtc: until.UTC().Format(time.RFC3339Nano)})
}

// acceptSubscriptionSession locks a session on a session-enabled
// subscription for the calling receiver.
func (s *Server) acceptSubscriptionSession(c *gin.Context) {
	topic, sub, sessionID := c.Param("topic"), c.Param("sub"), c.Param("session")
	until, err := s.broker.AcceptSubscriptionSession(topic, sub, sessionID, c.ClientIP(), parseAcceptSessionLockDuration(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, acceptSessionResponse{SessionID: sessionID, LockedUntilUtc: until.UTC().Format(time.RFC3339Nano)})
}

func (s *Server) receiveQueueDeadLetterMessage(c *gin.Context) {
	name := c.Param("queue")
	n, err := strconv.Atoi(c.Query("numofmessages"))
	if err != nil || n <= 0 {
		n = 1
	}
	msgs, err := s.broker.ReceiveFromQueueDeadLetter(name, n)
	if err != nil {
		writeError(c, err)
		return
	}
	if len(msgs) == 0 {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, messageToResponse(msgs[0]))
}

func (s *Server) completeQueueMessage(c *gin.Context) {
	name, lockToken := c.Param("queue"), c.Param("lockToken")
	if err := s.broker.CompleteQueueMessage(name, lockToken); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) abandonQueueMessage(c *gin.Context) {
	name, lockToken := c.Param("queue"), c.Param("lockToken")
	if err := s.broker.AbandonQueueMessage(name, lockToken); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) deadLetterQueueMessage(c *gin.Context) {
	name, lockToken := c.Param("queue"), c.Param("lockToken")
	reason := model.DeadLetterReason(c.Query("reason"))
	if reason == "" {
		reason = model.ReasonProcessingError
	}
	if err := s.broker.DeadLetterQueueMessage(name, lockToken, reason, c.Query("description")); err != nil {
		writeError(c, err)
		return
	}
	metrics.RecordDeadLetter(name, string(reason))
	c.Status(http.StatusOK)
}

func (s *Server) renewQueueMessageLock(c *gin.Context) {
	name, lockToken := c.Param("queue"), c.Param("lockToken")
	if err := s.broker.RenewQueueMessageLock(name, lockToken); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) publishTopicMessage(c *gin.Context) {
	topic := c.Param("topic")
	raw, _ := io.ReadAll(c.Request.Body)
	msg, err := parseSendRequest(raw)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.broker.PublishToTopic(c.Request.Context(), topic, msg); err != nil {
		writeError(c, err)
		return
	}
	metrics.RecordSend("topic", topic)
	props, _ := json.Marshal(map[string]string{"MessageId": msg.ID})
	c.Header("BrokerProperties", string(props))
	c.Status(http.StatusCreated)
}

func (s *Server) receiveSubscriptionMessages(c *gin.Context) {
	topic, sub := c.Param("topic"), c.Param("sub")
	n, err := strconv.Atoi(c.Query("numofmessages"))
	if err != nil || n <= 0 {
		n = 1
	}
	mode := lifecycle.PeekLock
	if c.Query("mode") == string(lifecycle.ReceiveAndDelete) {
		mode = lifecycle.ReceiveAndDelete
	}
	msgs, err := s.broker.ReceiveFromSubscription(c.Request.Context(), topic, sub, mode, c.Query("session_id"), n, c.ClientIP())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]receiveMessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageToResponse(m))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) completeSubscriptionMessage(c *gin.Context) {
	topic, sub, lockToken := c.Param("topic"), c.Param("sub"), c.Param("lockToken")
	if err := s.broker.CompleteSubscriptionMessage(topic, sub, lockToken); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
