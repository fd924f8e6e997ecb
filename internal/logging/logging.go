// Package logging provides the broker's structured logging surface:
// a logrus-backed application logger, a zerolog access-log sub-logger
// tuned for high-volume per-request lines, and a zap audit sink for
// admin-façade mutations (create/update/delete), per the ambient stack
// expansion of the spec.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// ContextKey namespaces values carried on context.Context.
type ContextKey string

// CorrelationIDKey is the context key the transport layer stores the
// inbound correlation id under (spec §6.3: "echoed in
// details.correlation_id").
const CorrelationIDKey ContextKey = "correlation_id"

// Logger wraps logrus.Logger with broker-specific field conventions.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a Logger for component at the given level ("debug", "info",
// ...) and format ("json" or "text").
func New(component, level, format string) *Logger {
	base := logrus.New()
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	base.SetLevel(parsed)
	if format == "text" {
		base.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}
	base.SetOutput(os.Stdout)
	return &Logger{Logger: base, component: component}
}

// NewFromEnv builds a Logger using LOG_LEVEL/LOG_FORMAT, defaulting to
// info/json.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext attaches the request's correlation id, if present.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if cid, ok := ctx.Value(CorrelationIDKey).(string); ok && cid != "" {
		entry = entry.WithField("correlation_id", cid)
	}
	return entry
}

// WithEntity scopes a log entry to a queue/topic/subscription name.
func (l *Logger) WithEntity(entity string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"component": l.component, "entity": entity})
}

// AccessLogger emits one structured line per inbound HTTP request.
// zerolog is used here rather than logrus because its zero-allocation
// event builder matters at per-request volume, distinct from the
// low-frequency application log above.
type AccessLogger struct {
	zl zerolog.Logger
}

// NewAccessLogger builds an AccessLogger writing JSON lines to stdout.
func NewAccessLogger() *AccessLogger {
	return &AccessLogger{zl: zerolog.New(os.Stdout).With().Timestamp().Logger()}
}

// Log records one request/response pair.
func (a *AccessLogger) Log(method, path string, status int, duration time.Duration, correlationID string) {
	a.zl.Info().
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Dur("duration_ms", duration).
		Str("correlation_id", correlationID).
		Msg("request")
}

// AuditSink records admin-façade mutations (entity/rule create, update,
// delete) to a durable, structured trail. zap is used here for its typed
// field API, distinct in purpose from the free-form application logger.
type AuditSink struct {
	zap *zap.Logger
}

// NewAuditSink builds a production zap logger for audit events.
func NewAuditSink() (*AuditSink, error) {
	zl, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &AuditSink{zap: zl}, nil
}

// RecordMutation logs one admin mutation.
func (a *AuditSink) RecordMutation(operation, entityType, entityName string, created bool) {
	a.zap.Info("admin_mutation",
		zap.String("operation", operation),
		zap.String("entity_type", entityType),
		zap.String("entity_name", entityName),
		zap.Bool("created", created),
	)
}

// Sync flushes the underlying zap core; call on shutdown.
func (a *AuditSink) Sync() error { return a.zap.Sync() }
