package observability

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

type contextKey string

const (
	traceIDBytes = 16 // W3C trace id size
	spanIDBytes  = 8  // W3C span id size
)

const (
	// TraceIDKey holds the trace id.
	TraceIDKey contextKey = "trace_id"

	// SpanIDKey holds the span id.
	SpanIDKey contextKey = "span_id"

	// RequestIDKey holds the request id, taken from X-Request-Id when the caller sends one.
	RequestIDKey contextKey = "request_id"

	// ClientIDKey holds the rate limit identity of the caller.
	ClientIDKey contextKey = "client_id"

	// ProviderKey holds the provider id serving the current attempt.
	ProviderKey contextKey = "provider"

	// ModelKey holds the requested model.
	ModelKey contextKey = "model"
)

// WithTraceID injects trace ID into context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithSpanID injects span ID into context.
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, SpanIDKey, spanID)
}

// WithRequestID injects request ID into context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithClientID injects the caller identity into context.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ClientIDKey, clientID)
}

// WithProvider injects the provider id into context.
func WithProvider(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, ProviderKey, provider)
}

// WithModel injects model name into context.
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, ModelKey, model)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID extracts trace ID from context.
func GetTraceID(ctx context.Context) string { return stringValue(ctx, TraceIDKey) }

// GetSpanID extracts span ID from context.
func GetSpanID(ctx context.Context) string { return stringValue(ctx, SpanIDKey) }

// GetRequestID extracts request ID from context.
func GetRequestID(ctx context.Context) string { return stringValue(ctx, RequestIDKey) }

// GetClientID extracts the caller identity from context.
func GetClientID(ctx context.Context) string { return stringValue(ctx, ClientIDKey) }

// GetProvider extracts the provider id from context.
func GetProvider(ctx context.Context) string { return stringValue(ctx, ProviderKey) }

// GetModel extracts model name from context.
func GetModel(ctx context.Context) string { return stringValue(ctx, ModelKey) }

// GenerateTraceID returns 32 random hex chars.
func GenerateTraceID() string {
	return randomHex(traceIDBytes)
}

// GenerateSpanID returns 16 random hex chars.
func GenerateSpanID() string {
	return randomHex(spanIDBytes)
}

// GenerateRequestID generates a unique request identifier (UUID).
func GenerateRequestID() string {
	return uuid.NewString()
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		id := uuid.New()
		return hex.EncodeToString(id[:])[:2*n]
	}
	return hex.EncodeToString(buf)
}
