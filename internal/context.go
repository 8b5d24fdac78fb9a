package internal

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	ProtocolKey  contextKey = "protocol"
)

// RequestIDHeader carries a caller-supplied request id
const RequestIDHeader = "X-Request-ID"

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// NewRequestID returns a fresh request id of the form req_<24 hex chars>
func NewRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// GetProtocol returns the client protocol recorded for the request, or ""
func GetProtocol(ctx context.Context) string {
	if p, ok := ctx.Value(ProtocolKey).(string); ok {
		return p
	}
	return ""
}

// WithProtocol records which client protocol a request arrived on
func WithProtocol(ctx context.Context, protocol string) context.Context {
	return context.WithValue(ctx, ProtocolKey, protocol)
}
