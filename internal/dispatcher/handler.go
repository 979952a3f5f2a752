// Package dispatcher implements the agent's command handler registry:
// name-unique registration, concurrency-class pooling, deadline
// enforcement, panic recovery, and hot reload of scripted handlers.
package dispatcher

import (
	"context"
	"encoding/json"
	"time"
)

// Context keys for passing execution context to handlers.
type contextKey string

const (
	connectionIDKey  contextKey = "connection_id"
	correlationIDKey contextKey = "correlation_id"
)

// WithConnectionID returns a new context with the connection id attached.
func WithConnectionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connectionIDKey, id)
}

// ConnectionIDFromContext retrieves the connection id from the context, if present.
func ConnectionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(connectionIDKey).(string)
	return id, ok
}

// WithCorrelationID returns a new context with the correlation id attached.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext retrieves the correlation id from the context, if present.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationIDKey).(string)
	return id, ok
}

// ConcurrencyClass bounds how many instances of a handler's class may run
// at once. gui_exclusive handlers serialize against each other because the
// desktop has exactly one foreground window and one cursor.
type ConcurrencyClass string

const (
	ClassIOLight      ConcurrencyClass = "io_light"
	ClassGUIExclusive ConcurrencyClass = "gui_exclusive"
	ClassBlocking     ConcurrencyClass = "blocking"
)

// Handler is a single named command implementation. A handler is either a
// native Go function registered at startup, or a scripted handler loaded
// from the plugin directory and swapped in by the hot-reload watcher.
type Handler interface {
	// Name returns the unique command name this handler answers to.
	Name() string

	// RequiredCapability returns the capability tag a connection must carry
	// for this command to dispatch, or "" if no capability is required.
	RequiredCapability() string

	// ConcurrencyClass returns the pool this handler's executions are
	// bounded by.
	ConcurrencyClass() ConcurrencyClass

	// DefaultTimeout returns the deadline applied to Execute if the inbound
	// request didn't specify one.
	DefaultTimeout() time.Duration

	// Execute runs the handler with the given parameters and returns a
	// Response. Execute must never panic for control flow; a recovered
	// panic is normalized by the dispatcher into an "internal" error
	// response, not propagated as a Go error.
	Execute(ctx context.Context, params map[string]any) (Response, error)
}

// Response is the single fixed envelope shape every handler result is
// normalized into before being sent back across the wire.
type Response struct {
	Success   bool           `json:"success"`
	Timestamp time.Time      `json:"timestamp"`
	Error     *ResponseError `json:"error,omitempty"`
	Data      any            `json:"data,omitempty"`
	Message   string         `json:"message,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ResponseError carries a machine-readable error code alongside a
// human-readable message. Type names the Go error type (or "panic") for
// unexpected failures; Details carries handler-specific context such as
// both validation outcomes of a failed send_text.
type ResponseError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Type    string         `json:"type,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Success builds a successful Response carrying data.
func Success(data any) Response {
	return Response{
		Success:   true,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// SuccessWithMessage builds a successful Response carrying data and a
// human-readable message.
func SuccessWithMessage(data any, message string) Response {
	r := Success(data)
	r.Message = message
	return r
}

// Fail builds a failed Response with the given error code and message.
func Fail(code ErrorCode, message string) Response {
	return Response{
		Success:   false,
		Timestamp: time.Now(),
		Error: &ResponseError{
			Code:    string(code),
			Message: message,
		},
	}
}

// FailWithDetails builds a failed Response carrying handler-specific
// context alongside the code and message.
func FailWithDetails(code ErrorCode, message string, details map[string]any) Response {
	r := Fail(code, message)
	r.Error.Details = details
	return r
}

// Request is one inbound command as decoded from the wire: the symbolic
// name, its parameters, the optional client-chosen command id, and an
// optional per-command deadline overriding the handler's default.
type Request struct {
	Command   string
	Params    map[string]any
	CommandID string
	Timeout   time.Duration
}

// MarshalJSON implements custom JSON marshaling to guarantee the envelope
// shape is stable even as Response gains fields.
func (r Response) MarshalJSON() ([]byte, error) {
	type alias Response
	return json.Marshal(alias(r))
}

// BaseHandler provides a convenient embeddable base for simple handlers
// that don't need a required capability or a non-default concurrency
// class.
type BaseHandler struct {
	HandlerName string
	Capability  string
	Class       ConcurrencyClass
	Timeout     time.Duration
}

func (h *BaseHandler) Name() string                       { return h.HandlerName }
func (h *BaseHandler) RequiredCapability() string         { return h.Capability }
func (h *BaseHandler) ConcurrencyClass() ConcurrencyClass { return h.Class }
func (h *BaseHandler) DefaultTimeout() time.Duration {
	if h.Timeout <= 0 {
		return 10 * time.Second
	}
	return h.Timeout
}
