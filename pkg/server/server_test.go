package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	testhelpers "mercator-hq/webrelay/internal/providers"
	"mercator-hq/webrelay/pkg/config"
	"mercator-hq/webrelay/pkg/dispatcher"
	"mercator-hq/webrelay/pkg/files"
	"mercator-hq/webrelay/pkg/security/auth"
	"mercator-hq/webrelay/pkg/telemetry/health"
	"mercator-hq/webrelay/pkg/telemetry/metrics"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	adapter := testhelpers.NewMockAdapter("deepseek", "deepseek-chat")
	reg, err := dispatcher.NewRegistry(adapter)
	if err != nil {
		t.Fatal(err)
	}
	store, err := files.NewStore(t.TempDir(), "http://127.0.0.1:8080")
	if err != nil {
		t.Fatal(err)
	}
	checker := health.New(time.Second)
	checker.RegisterBackends(reg.Adapters())

	cfg := config.NewDefault().Telemetry.Metrics
	collector := metrics.NewCollector(&cfg, prometheus.NewRegistry())

	return Deps{
		Dispatcher:  dispatcher.New(reg, dispatcher.DefaultOptions()),
		Files:       store,
		Health:      checker,
		Metrics:     collector.Handler(),
		MetricsPath: "/metrics",
		Version:     "test",
	}
}

func do(t *testing.T, h http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

const chatBody = `{"model":"deepseek-chat","messages":[{"role":"user","content":"hi"}]}`

func TestServer_Routes(t *testing.T) {
	cfg := config.NewDefault().Proxy
	h := NewServer(&cfg, testDeps(t)).Handler()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"chat", http.MethodPost, "/v1/chat/completions", chatBody, http.StatusOK},
		{"chat alias", http.MethodPost, "/api/openai/v1/chat/completions", chatBody, http.StatusOK},
		{"models", http.MethodGet, "/v1/models", "", http.StatusOK},
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"ready", http.MethodGet, "/ready", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"missing file", http.MethodGet, "/files/abc.png", "", http.StatusNotFound},
		{"websocket disabled", http.MethodGet, "/v1/chat/completions/ws", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body, nil)
			if w.Code != tt.want {
				t.Errorf("%s %s = %d, want %d (body %s)", tt.method, tt.path, w.Code, tt.want, w.Body.String())
			}
			if w.Header().Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID")
			}
		})
	}
}

func TestServer_Auth(t *testing.T) {
	deps := testDeps(t)
	keys := auth.NewKeySet([]auth.ClientKey{{Name: "ci", Key: "sk-relay-test"}})
	deps.Auth = auth.NewMiddleware(keys, nil)

	cfg := config.NewDefault().Proxy
	h := NewServer(&cfg, deps).Handler()

	if w := do(t, h, http.MethodPost, "/v1/chat/completions", chatBody, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("without key: status = %d, want 401", w.Code)
	}

	header := http.Header{"Authorization": {"Bearer sk-relay-test"}}
	if w := do(t, h, http.MethodPost, "/v1/chat/completions", chatBody, header); w.Code != http.StatusOK {
		t.Errorf("with key: status = %d, want 200", w.Code)
	}

	if w := do(t, h, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Errorf("health should stay open, got %d", w.Code)
	}

	preflight := http.Header{
		"Origin":                        {"http://localhost:3000"},
		"Access-Control-Request-Method": {"POST"},
	}
	if w := do(t, h, http.MethodOptions, "/v1/chat/completions", "", preflight); w.Code != http.StatusNoContent {
		t.Errorf("preflight: status = %d, want 204", w.Code)
	}
}

func TestServer_StartStop(t *testing.T) {
	cfg := config.NewDefault().Proxy
	cfg.ListenAddress = "127.0.0.1:0"
	srv := NewServer(&cfg, testDeps(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + srv.Addr().String() + "/health")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	srv.Stop()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	if srv.IsRunning() {
		t.Error("server still reports running")
	}
}
