// Package brokererrors defines the broker's typed error taxonomy: machine
// codes, HTTP status mapping, and structured details, matched to spec §7.
package brokererrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error code surfaced to clients.
type Code string

const (
	CodeEntityNotFound      Code = "EntityNotFound"
	CodeEntityAlreadyExists Code = "EntityAlreadyExists"
	CodeInvalidEntityName   Code = "InvalidEntityName"
	CodeInvalidOperation    Code = "InvalidOperation"
	CodeMessageNotFound     Code = "MessageNotFound"
	CodeMessageSizeExceeded Code = "MessageSizeExceeded"
	CodeMessageLockLost     Code = "MessageLockLost"
	CodeSessionNotFound     Code = "SessionNotFound"
	CodeSessionLockLost     Code = "SessionLockLost"
	CodeSessionAlreadyLocked Code = "SessionAlreadyLocked"
	CodeQuotaExceeded       Code = "QuotaExceeded"
	CodeOperationTimeout    Code = "OperationTimeout"
	CodeConnectionError     Code = "ConnectionError"
	CodeCircuitBreakerOpen  Code = "CircuitBreakerOpen"
	CodeSyntaxError         Code = "InvalidQueryParameterValue"
	CodeTypeError           Code = "InvalidQueryParameterValue"
	CodeUnknownFunction     Code = "InvalidQueryParameterValue"
	CodeValidationError     Code = "ValidationError"
	CodeResourceError       Code = "ResourceError"
	CodeEvaluationTimeout   Code = "EvaluationTimeout"
	CodeEvaluationError     Code = "EvaluationError"
	CodeInternal            Code = "InternalError"
)

// BrokerError is the single structured error type that crosses the core's
// internal boundaries unmodified; the transport layer maps it to the wire
// envelope in spec §6.3 using HTTPStatus().
type BrokerError struct {
	Code        Code
	Message     string
	Details     map[string]interface{}
	IsTransient bool
	cause       error
}

func (e *BrokerError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error { return e.cause }

// WithDetails returns a copy of e with the given key merged into Details.
func (e *BrokerError) WithDetails(key string, value interface{}) *BrokerError {
	out := *e
	out.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		out.Details[k] = v
	}
	out.Details[key] = value
	return &out
}

func newErr(code Code, message string) *BrokerError {
	return &BrokerError{Code: code, Message: message, Details: map[string]interface{}{}}
}

// Entity errors.

func EntityNotFound(name string) *BrokerError {
	return newErr(CodeEntityNotFound, fmt.Sprintf("entity %q not found", name)).WithDetails("entity_name", name)
}

func EntityAlreadyExists(name string) *BrokerError {
	return newErr(CodeEntityAlreadyExists, fmt.Sprintf("entity %q already exists", name)).WithDetails("entity_name", name)
}

func InvalidEntityName(name, reason string) *BrokerError {
	return newErr(CodeInvalidEntityName, reason).WithDetails("entity_name", name)
}

func InvalidOperation(operation, reason string) *BrokerError {
	return newErr(CodeInvalidOperation, reason).WithDetails("operation", operation)
}

// Message errors.

func MessageNotFound(id string) *BrokerError {
	return newErr(CodeMessageNotFound, fmt.Sprintf("message %q not found", id)).WithDetails("message_id", id)
}

func MessageSizeExceeded(actual, max int) *BrokerError {
	return newErr(CodeMessageSizeExceeded, "message body exceeds maximum size").
		WithDetails("actual_bytes", actual).WithDetails("max_bytes", max)
}

// MessageLockLost is raised uniformly for unknown-or-expired lock tokens
// per SPEC_FULL.md §9 open-question decision 1.
func MessageLockLost(messageID, lockToken string) *BrokerError {
	return newErr(CodeMessageLockLost, "lock token is invalid or has expired").
		WithDetails("message_id", messageID).WithDetails("lock_token", lockToken)
}

// Session errors.

func SessionNotFound(sessionID string) *BrokerError {
	return newErr(CodeSessionNotFound, fmt.Sprintf("session %q not found", sessionID)).WithDetails("session_id", sessionID)
}

func SessionLockLost(sessionID string) *BrokerError {
	return newErr(CodeSessionLockLost, "session lock is invalid or has expired").WithDetails("session_id", sessionID)
}

func SessionAlreadyLocked(sessionID string) *BrokerError {
	return newErr(CodeSessionAlreadyLocked, fmt.Sprintf("session %q is already locked", sessionID)).WithDetails("session_id", sessionID)
}

// Quota/limit errors.

func QuotaExceeded(quotaType string, current, max int) *BrokerError {
	return newErr(CodeQuotaExceeded, fmt.Sprintf("quota exceeded: %s", quotaType)).
		WithDetails("quota_type", quotaType).WithDetails("current_value", current).WithDetails("max_value", max)
}

func RateLimitExceeded(entityName string, retryAfterSeconds float64) *BrokerError {
	e := newErr(CodeQuotaExceeded, fmt.Sprintf("rate limit exceeded for %q", entityName)).
		WithDetails("quota_type", "rate_limit").WithDetails("entity_name", entityName).
		WithDetails("retry_after_seconds", retryAfterSeconds)
	e.IsTransient = true
	return e
}

// Operational errors.

func OperationTimeout(operation string, seconds float64) *BrokerError {
	e := newErr(CodeOperationTimeout, fmt.Sprintf("operation %q timed out", operation)).
		WithDetails("operation", operation).WithDetails("timeout_seconds", seconds)
	e.IsTransient = true
	return e
}

func ConnectionError(reason string) *BrokerError {
	e := newErr(CodeConnectionError, reason)
	e.IsTransient = true
	return e
}

func CircuitBreakerOpen(name string, failureCount int) *BrokerError {
	e := newErr(CodeCircuitBreakerOpen, fmt.Sprintf("circuit breaker %q is open", name)).
		WithDetails("name", name).WithDetails("failure_count", failureCount)
	e.IsTransient = true
	return e
}

// Filter engine errors.

func SyntaxError(line, column int, message, suggestion string) *BrokerError {
	e := newErr(CodeSyntaxError, message).
		WithDetails("position", map[string]int{"line": line, "column": column})
	if suggestion != "" {
		e = e.WithDetails("suggestion", suggestion)
	}
	return e
}

func TypeMismatch(expected, actual, message string) *BrokerError {
	return newErr(CodeTypeError, message).WithDetails("expected", expected).WithDetails("actual", actual)
}

func UnknownFunction(name, suggestion string) *BrokerError {
	e := newErr(CodeUnknownFunction, fmt.Sprintf("unknown function %q", name)).WithDetails("function", name)
	if suggestion != "" {
		e = e.WithDetails("suggestion", suggestion)
	}
	return e
}

func ValidationError(details map[string]interface{}) *BrokerError {
	e := newErr(CodeValidationError, "validation failed")
	for k, v := range details {
		e = e.WithDetails(k, v)
	}
	return e
}

func ResourceError(complexity, max float64) *BrokerError {
	return newErr(CodeResourceError, "filter complexity exceeds maximum").
		WithDetails("complexity", complexity).WithDetails("max_complexity", max)
}

func EvaluationTimeout(elapsedMs, limitMs int64) *BrokerError {
	return newErr(CodeEvaluationTimeout, "filter evaluation exceeded its deadline").
		WithDetails("elapsed_ms", elapsedMs).WithDetails("limit_ms", limitMs)
}

func EvaluationError(message string) *BrokerError {
	return newErr(CodeEvaluationError, message)
}

func Internal(message string, cause error) *BrokerError {
	e := newErr(CodeInternal, message)
	e.cause = cause
	return e
}

// As extracts a *BrokerError from err, matching the standard errors.As
// chaining convention used throughout the core.
func As(err error) (*BrokerError, bool) {
	var be *BrokerError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// WithCorrelationID returns a copy of e with details.correlation_id set,
// per spec §6.3 ("echoed in details.correlation_id").
func (e *BrokerError) WithCorrelationID(id string) *BrokerError {
	if id == "" {
		return e
	}
	return e.WithDetails("correlation_id", id)
}

// HTTPStatus maps a Code to the boundary's status code table (spec §6.4).
func HTTPStatus(code Code) int {
	switch code {
	case CodeEntityNotFound, CodeMessageNotFound, CodeSessionNotFound:
		return http.StatusNotFound
	case CodeEntityAlreadyExists, CodeSessionAlreadyLocked:
		return http.StatusConflict
	// CodeSyntaxError also covers CodeTypeError and CodeUnknownFunction,
	// which share its value.
	case CodeInvalidEntityName, CodeInvalidOperation, CodeSyntaxError, CodeValidationError:
		return http.StatusBadRequest
	case CodeMessageSizeExceeded:
		return http.StatusRequestEntityTooLarge
	case CodeMessageLockLost, CodeSessionLockLost:
		return http.StatusGone
	case CodeQuotaExceeded, CodeResourceError:
		return http.StatusInsufficientStorage
	case CodeOperationTimeout, CodeEvaluationTimeout:
		return http.StatusGatewayTimeout
	case CodeConnectionError, CodeCircuitBreakerOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPStatus is a convenience method mirroring the package-level function.
func (e *BrokerError) HTTPStatus() int { return HTTPStatus(e.Code) }
