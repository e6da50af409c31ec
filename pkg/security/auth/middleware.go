package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// KeySource says where a key is read from.
type KeySource struct {
	Type   string // header, query
	Name   string // header name or query parameter
	Scheme string // "Bearer", optional
}

// DefaultSources accepts OpenAI-style bearer keys and X-API-Key.
var DefaultSources = []KeySource{
	{Type: "header", Name: "Authorization", Scheme: "Bearer"},
	{Type: "header", Name: "X-API-Key"},
}

// Middleware rejects requests without a valid relay key.
type Middleware struct {
	keys    *KeySet
	sources []KeySource
}

// NewMiddleware returns key middleware. Nil sources means DefaultSources.
func NewMiddleware(keys *KeySet, sources []KeySource) *Middleware {
	if sources == nil {
		sources = DefaultSources
	}
	return &Middleware{keys: keys, sources: sources}
}

// Handle wraps next. CORS preflight requests pass through.
func (m *Middleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		key, ok := m.extractKey(r)
		if !ok {
			slog.Warn("missing API key", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			writeUnauthorized(w, "Missing API key")
			return
		}

		client, err := m.keys.Validate(key)
		if err != nil {
			slog.Warn("rejected API key", "error", err, "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			writeUnauthorized(w, "Invalid API key")
			return
		}

		ctx := context.WithValue(r.Context(), clientKey, client)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) extractKey(r *http.Request) (string, bool) {
	for _, source := range m.sources {
		var value string
		switch source.Type {
		case "header":
			value = r.Header.Get(source.Name)
			if value != "" && source.Scheme != "" {
				prefix := source.Scheme + " "
				if len(value) <= len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
					continue
				}
				value = value[len(prefix):]
			}
		case "query":
			value = r.URL.Query().Get(source.Name)
		}
		if value = strings.TrimSpace(value); value != "" {
			return value, true
		}
	}
	return "", false
}

// writeUnauthorized answers in the OpenAI error shape clients expect.
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="webrelay"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"message": message,
			"type":    "authentication_error",
			"code":    "invalid_api_key",
		},
	})
}

type contextKey string

// #nosec G101 - context key, not a credential
const clientKey contextKey = "relay_client"

// ClientFromContext returns the authenticated client.
func ClientFromContext(ctx context.Context) (*ClientKey, bool) {
	c, ok := ctx.Value(clientKey).(*ClientKey)
	return c, ok
}
