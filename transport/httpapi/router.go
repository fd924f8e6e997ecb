// Package httpapi is the broker's gin-based HTTP transport: Atom/XML
// admin endpoints (spec §6.1) and JSON message endpoints (spec §6.2),
// grounded on applications/httpapi's handler/middleware/router split.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/localzure/brokerd/internal/broker"
	"github.com/localzure/brokerd/internal/health"
	"github.com/localzure/brokerd/internal/logging"
	"github.com/localzure/brokerd/internal/metrics"
	"github.com/localzure/brokerd/transport/wsevents"
)

// Server bundles the gin engine with the broker it dispatches into.
type Server struct {
	engine  *gin.Engine
	broker  *broker.Broker
	health  *health.Checker
	access  *logging.AccessLogger
}

// New builds a Server. checker may be nil, in which case /health runs no
// checks and answers 200 with an empty body.
func New(b *broker.Broker, checker *health.Checker) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{engine: engine, broker: b, health: checker, access: logging.NewAccessLogger()}
	s.routes()
	return s
}

// Handler returns the http.Handler to pass to http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.Use(correlationMiddleware(), accessLogMiddleware(s.access), metricsMiddleware(), ingressMiddleware(s.broker.Ingress))

	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.engine.GET("/health", s.getHealth)
	s.engine.GET("/events", gin.WrapH(wsevents.New(s.broker.Events)))

	// Admin: queues.
	s.engine.PUT("/:queue", s.createOrUpdateQueue)
	s.engine.GET("/:queue", s.getQueue)
	s.engine.DELETE("/:queue", s.deleteQueue)
	s.engine.GET("/$Resources/Queues", s.listQueues)

	// Admin: topics.
	s.engine.PUT("/topics/:topic", s.createOrUpdateTopic)
	s.engine.GET("/topics/:topic", s.getTopic)
	s.engine.DELETE("/topics/:topic", s.deleteTopic)

	// Admin: subscriptions.
	s.engine.PUT("/topics/:topic/subscriptions/:sub", s.createOrUpdateSubscription)
	s.engine.GET("/topics/:topic/subscriptions/:sub", s.getSubscription)
	s.engine.DELETE("/topics/:topic/subscriptions/:sub", s.deleteSubscription)

	// Admin: rules.
	s.engine.PUT("/topics/:topic/subscriptions/:sub/rules/:rule", s.createOrUpdateRule)
	s.engine.GET("/topics/:topic/subscriptions/:sub/rules/:rule", s.getRule)
	s.engine.DELETE("/topics/:topic/subscriptions/:sub/rules/:rule", s.deleteRule)

	// Messages: queue.
	s.engine.POST("/:queue/messages", s.sendQueueMessage)
	s.engine.POST("/:queue/messages/head", s.receiveQueueMessage)
	s.engine.POST("/:queue/sessions/:session/acceptsession", s.acceptQueueSession)
	s.engine.POST("/:queue/$DeadLetterQueue/messages/head", s.receiveQueueDeadLetterMessage)
	s.engine.DELETE("/:queue/messages/:id/:lockToken", s.completeQueueMessage)
	s.engine.PUT("/:queue/messages/:id/:lockToken/abandon", s.abandonQueueMessage)
	s.engine.PUT("/:queue/messages/:id/:lockToken/deadletter", s.deadLetterQueueMessage)
	s.engine.POST("/:queue/messages/:id/:lockToken/renewlock", s.renewQueueMessageLock)

	// Messages: topic/subscription.
	s.engine.POST("/topics/:topic/messages", s.publishTopicMessage)
	s.engine.POST("/topics/:topic/subscriptions/:sub/messages/head", s.receiveSubscriptionMessages)
	s.engine.POST("/topics/:topic/subscriptions/:sub/sessions/:session/acceptsession", s.acceptSubscriptionSession)
	s.engine.DELETE("/topics/:topic/subscriptions/:sub/messages/:id/:lockToken", s.completeSubscriptionMessage)
}

func (s *Server) getHealth(c *gin.Context) {
	if s.health == nil {
		c.Status(http.StatusOK)
		return
	}
	report := s.health.Check(c.Request.Context(), nil, "")
	status := http.StatusOK
	if report.Status != health.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
