package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddleware_Handle(t *testing.T) {
	keys := NewKeySet([]ClientKey{{Name: "laptop", Key: "relay-1"}})

	var gotClient string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := ClientFromContext(r.Context()); ok {
			gotClient = c.Name
		}
		w.WriteHeader(http.StatusOK)
	})
	handler := NewMiddleware(keys, nil).Handle(next)

	tests := []struct {
		name       string
		method     string
		setup      func(*http.Request)
		wantStatus int
		wantClient string
	}{
		{
			name:       "bearer",
			method:     http.MethodPost,
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer relay-1") },
			wantStatus: http.StatusOK,
			wantClient: "laptop",
		},
		{
			name:       "lower-case scheme",
			method:     http.MethodPost,
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "bearer relay-1") },
			wantStatus: http.StatusOK,
			wantClient: "laptop",
		},
		{
			name:       "x-api-key",
			method:     http.MethodGet,
			setup:      func(r *http.Request) { r.Header.Set("X-API-Key", "relay-1") },
			wantStatus: http.StatusOK,
			wantClient: "laptop",
		},
		{
			name:       "wrong key",
			method:     http.MethodPost,
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "basic scheme ignored",
			method:     http.MethodPost,
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Basic relay-1") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing",
			method:     http.MethodPost,
			setup:      func(*http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "preflight",
			method:     http.MethodOptions,
			setup:      func(*http.Request) {},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotClient = ""
			req := httptest.NewRequest(tt.method, "/v1/chat/completions", nil)
			tt.setup(req)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if gotClient != tt.wantClient {
				t.Errorf("client = %q, want %q", gotClient, tt.wantClient)
			}
			if w.Code == http.StatusUnauthorized && !strings.Contains(w.Body.String(), "authentication_error") {
				t.Errorf("unexpected error body: %s", w.Body.String())
			}
		})
	}
}

func TestMiddleware_QuerySource(t *testing.T) {
	keys := NewKeySet([]ClientKey{{Name: "ws", Key: "relay-ws"}})
	handler := NewMiddleware(keys, []KeySource{{Type: "query", Name: "api_key"}}).
		Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/chat/completions/ws?api_key=relay-ws", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
