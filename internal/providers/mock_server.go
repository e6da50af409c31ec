// Package providers holds test doubles shared by the backend adapter tests.
package providers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockServer is an httptest server impersonating a web chat backend.
// Routes are "METHOD /path" or "/path" (any method).
type MockServer struct {
	server *httptest.Server

	mu        sync.Mutex
	responses map[string]MockResponse
	handlers  map[string]http.HandlerFunc
	counts    map[string]int
	requests  []RecordedRequest
}

// MockResponse defines a canned response.
type MockResponse struct {
	StatusCode int
	Body       any
	Delay      time.Duration
	Headers    map[string]string

	// Stream is written chunk by chunk with a flush after each, verbatim.
	Stream []string
}

// RecordedRequest is a request the server received.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// NewMockServer creates and starts a mock server.
func NewMockServer() *MockServer {
	ms := &MockServer{
		responses: make(map[string]MockResponse),
		handlers:  make(map[string]http.HandlerFunc),
		counts:    make(map[string]int),
	}
	ms.server = httptest.NewServer(http.HandlerFunc(ms.handler))
	return ms
}

// URL returns the mock server's base URL.
func (ms *MockServer) URL() string {
	return ms.server.URL
}

// Close closes the mock server.
func (ms *MockServer) Close() {
	ms.server.Close()
}

// SetResponse registers a canned response for route.
func (ms *MockServer) SetResponse(route string, response MockResponse) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.responses[route] = response
}

// Handle registers a handler for route; it takes precedence over canned
// responses.
func (ms *MockServer) Handle(route string, h http.HandlerFunc) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.handlers[route] = h
}

// Count returns how many requests matched route.
func (ms *MockServer) Count(route string) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.counts[route]
}

// GetRequestCount returns the number of requests received.
func (ms *MockServer) GetRequestCount() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.requests)
}

// Requests returns the recorded requests in arrival order.
func (ms *MockServer) Requests() []RecordedRequest {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]RecordedRequest(nil), ms.requests...)
}

// LastRequest returns the most recent request matching route.
func (ms *MockServer) LastRequest(route string) (RecordedRequest, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	method, path := splitRoute(route)
	for i := len(ms.requests) - 1; i >= 0; i-- {
		r := ms.requests[i]
		if r.Path == path && (method == "" || r.Method == method) {
			return r, true
		}
	}
	return RecordedRequest{}, false
}

func splitRoute(route string) (method, path string) {
	if i := strings.IndexByte(route, ' '); i > 0 {
		return route[:i], route[i+1:]
	}
	return "", route
}

func (ms *MockServer) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(strings.NewReader(string(body)))

	exact := r.Method + " " + r.URL.Path

	ms.mu.Lock()
	ms.requests = append(ms.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   body,
	})
	route := ""
	for _, candidate := range []string{exact, r.URL.Path} {
		if _, ok := ms.handlers[candidate]; ok {
			route = candidate
			break
		}
		if _, ok := ms.responses[candidate]; ok {
			route = candidate
			break
		}
	}
	h := ms.handlers[route]
	response, ok := ms.responses[route]
	if route != "" {
		ms.counts[route]++
	}
	ms.mu.Unlock()

	if h != nil {
		h(w, r)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	if response.Delay > 0 {
		time.Sleep(response.Delay)
	}
	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}
	if response.StatusCode == 0 {
		response.StatusCode = http.StatusOK
	}

	if len(response.Stream) > 0 {
		ms.handleStream(w, response)
		return
	}

	if _, isString := response.Body.(string); !isString && response.Body != nil && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(response.StatusCode)

	switch v := response.Body.(type) {
	case nil:
	case string:
		_, _ = w.Write([]byte(v))
	case []byte:
		_, _ = w.Write(v)
	default:
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (ms *MockServer) handleStream(w http.ResponseWriter, response MockResponse) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/event-stream")
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(response.StatusCode)

	flusher, _ := w.(http.Flusher)
	for _, chunk := range response.Stream {
		_, _ = io.WriteString(w, chunk)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// SSE renders each payload as an SSE data event.
func SSE(payloads ...string) []string {
	out := make([]string, len(payloads))
	for i, p := range payloads {
		out[i] = "data: " + p + "\n\n"
	}
	return out
}

// NDJSON renders each payload as one line.
func NDJSON(payloads ...string) []string {
	out := make([]string, len(payloads))
	for i, p := range payloads {
		out[i] = p + "\n"
	}
	return out
}
