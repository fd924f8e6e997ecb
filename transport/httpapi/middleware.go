package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/localzure/brokerd/internal/logging"
	"github.com/localzure/brokerd/internal/metrics"
	"github.com/localzure/brokerd/internal/ratelimit"
)

// correlationMiddleware assigns or propagates an X-Correlation-Id header,
// stashing it in the gin context for writeError's echo (spec §6.3).
func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Set(correlationIDContextKey, cid)
		c.Header("X-Correlation-Id", cid)
		c.Next()
	}
}

// accessLogMiddleware emits one zerolog line per request via the
// high-volume access logger, distinct from the application logger.
func accessLogMiddleware(access *logging.AccessLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if access != nil {
			access.Log(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start), correlationID(c))
		}
	}
}

// metricsMiddleware records the HTTP request counters/histograms/in-flight
// gauge from internal/metrics.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.IncInFlight()
		defer metrics.DecInFlight()
		start := time.Now()
		c.Next()
		metrics.ObserveHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

// ingressMiddleware applies the secondary request-wide token bucket
// (spec §4.7's ingress limiter), ahead of any per-entity rate check.
func ingressMiddleware(limiter *ratelimit.IngressLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(429, errorEnvelope{Error: errorBody{
				Code:    "QuotaExceeded",
				Message: "ingress rate limit exceeded",
			}})
			return
		}
		c.Next()
	}
}
