package logging

import (
	"context"
	"testing"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithBackend(ctx, "chatgpt")
	ctx = WithModel(ctx, "gpt-4o")

	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q", got)
	}
	if got := GetBackend(ctx); got != "chatgpt" {
		t.Errorf("GetBackend() = %q", got)
	}
	if got := GetModel(ctx); got != "gpt-4o" {
		t.Errorf("GetModel() = %q", got)
	}
}

func TestContextKeys_Empty(t *testing.T) {
	ctx := context.Background()
	if GetRequestID(ctx) != "" || GetBackend(ctx) != "" || GetModel(ctx) != "" {
		t.Error("expected empty values")
	}
	if attrs := contextAttrs(ctx); len(attrs) != 0 {
		t.Errorf("expected no attrs, got %v", attrs)
	}
}

func TestContextOverwrite(t *testing.T) {
	ctx := WithRequestID(context.Background(), "first")
	ctx = WithRequestID(ctx, "second")

	if got := GetRequestID(ctx); got != "second" {
		t.Errorf("GetRequestID() = %q", got)
	}
}
