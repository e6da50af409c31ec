package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// BackendKey is the context key for the serving backend.
	BackendKey contextKey = "backend"

	// ModelKey is the context key for the requested model.
	ModelKey contextKey = "model"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithBackend adds the serving backend to the context.
func WithBackend(ctx context.Context, backend string) context.Context {
	return context.WithValue(ctx, BackendKey, backend)
}

// GetBackend retrieves the backend from the context.
func GetBackend(ctx context.Context) string {
	if backend, ok := ctx.Value(BackendKey).(string); ok {
		return backend
	}
	return ""
}

// WithModel adds the requested model to the context.
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, ModelKey, model)
}

// GetModel retrieves the model from the context.
func GetModel(ctx context.Context) string {
	if model, ok := ctx.Value(ModelKey).(string); ok {
		return model
	}
	return ""
}

// contextAttrs returns the request fields stored in ctx.
func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr
	if id := GetRequestID(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if backend := GetBackend(ctx); backend != "" {
		attrs = append(attrs, slog.String("backend", backend))
	}
	if model := GetModel(ctx); model != "" {
		attrs = append(attrs, slog.String("model", model))
	}
	return attrs
}
