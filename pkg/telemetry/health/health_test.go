package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	testhelpers "mercator-hq/webrelay/internal/providers"
	"mercator-hq/webrelay/pkg/attachments"
	"mercator-hq/webrelay/pkg/credentials"
	"mercator-hq/webrelay/pkg/providers"
)

func TestChecker_Readiness(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name     string
		required map[string]CheckFunc
		optional map[string]CheckFunc
		want     string
	}{
		{name: "no checks", want: "ready"},
		{
			name:     "all healthy",
			required: map[string]CheckFunc{"store": ok},
			optional: map[string]CheckFunc{"a": ok, "b": ok},
			want:     "ready",
		},
		{
			name:     "one backend failing",
			required: map[string]CheckFunc{"store": ok},
			optional: map[string]CheckFunc{"a": ok, "b": down},
			want:     "degraded",
		},
		{
			name:     "every backend failing",
			required: map[string]CheckFunc{"store": ok},
			optional: map[string]CheckFunc{"a": down, "b": down},
			want:     "unhealthy",
		},
		{
			name:     "store failing",
			required: map[string]CheckFunc{"store": down},
			optional: map[string]CheckFunc{"a": ok},
			want:     "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			for name, check := range tt.required {
				c.RegisterCheck(name, check)
			}
			for name, check := range tt.optional {
				c.RegisterOptional(name, check)
			}

			status := c.CheckReadiness(context.Background())
			if status.Status != tt.want {
				t.Errorf("status = %q, want %q", status.Status, tt.want)
			}
			if want := len(tt.required) + len(tt.optional); len(status.Checks) != want {
				t.Errorf("expected %d results, got %d", want, len(status.Checks))
			}
			for name := range tt.optional {
				if !status.Checks[name].Optional {
					t.Errorf("%s not reported optional", name)
				}
			}
		})
	}
}

func TestChecker_CheckTimeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.RegisterCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	})

	status := c.CheckReadiness(context.Background())
	result := status.Checks["slow"]
	if result.Status != "unhealthy" || result.Message != "health check timeout" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestChecker_RegisterAndList(t *testing.T) {
	c := New(0)
	c.RegisterCheck("zeta", func(context.Context) error { return nil })
	c.RegisterCheck("alpha", func(context.Context) error { return nil })

	if got := c.ListChecks(); !reflect.DeepEqual(got, []string{"alpha", "zeta"}) {
		t.Errorf("ListChecks() = %v", got)
	}

	c.UnregisterCheck("zeta")
	if c.CheckCount() != 1 || c.GetCheck("zeta") != nil {
		t.Error("check not removed")
	}
}

func TestBackendCheck(t *testing.T) {
	adapter := testhelpers.NewMockAdapter("mock", "mock-1")
	check := BackendCheck(adapter)

	if err := check(context.Background()); err != nil {
		t.Fatalf("healthy adapter failed check: %v", err)
	}

	adapter.SetHealthy(false)
	if err := check(context.Background()); err == nil {
		t.Error("expected unhealthy adapter to fail")
	}
}

func TestBackendCheck_RefreshFailure(t *testing.T) {
	adapter := testhelpers.NewMockAdapter("mock", "mock-1")
	adapter.SetCredential(credentials.New("mock", func(context.Context) (credentials.Secret, error) {
		return credentials.Secret{}, errors.New("login rejected")
	}))

	// An expired credential that was never refreshed is fine.
	if err := BackendCheck(adapter)(context.Background()); err != nil {
		t.Fatalf("unexpected error before refresh: %v", err)
	}

	if _, err := adapter.Credential().Get(context.Background()); err == nil {
		t.Fatal("expected refresh to fail")
	}
	if err := BackendCheck(adapter)(context.Background()); err == nil {
		t.Error("expected failed refresh to fail the check")
	}
}

func TestStoreCheck(t *testing.T) {
	store := attachments.NewMemoryStore()
	if err := StoreCheck(store)(context.Background()); err != nil {
		t.Fatalf("StoreCheck() = %v", err)
	}
}

func TestRegisterBackends(t *testing.T) {
	c := New(time.Second)
	c.RegisterBackends([]providers.Adapter{
		testhelpers.NewMockAdapter("a", "m-a"),
		testhelpers.NewMockAdapter("b", "m-b"),
	})

	if got := c.ListChecks(); !reflect.DeepEqual(got, []string{"backend:a", "backend:b"}) {
		t.Errorf("ListChecks() = %v", got)
	}
}

func TestRegister_Endpoints(t *testing.T) {
	c := New(time.Second)
	down := testhelpers.NewMockAdapter("down", "m-down")
	down.SetHealthy(false)
	c.RegisterBackends([]providers.Adapter{
		testhelpers.NewMockAdapter("up", "m-up"),
		down,
	})

	mux := http.NewServeMux()
	Register(mux, c, "1.2.3", "abc123", "2026-01-01")

	tests := []struct {
		path       string
		method     string
		wantStatus int
	}{
		{"/health", http.MethodGet, http.StatusOK},
		{"/ready", http.MethodGet, http.StatusOK},
		{"/version", http.MethodGet, http.StatusOK},
		{"/health", http.MethodPost, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	var status HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Status != "degraded" {
		t.Errorf("expected degraded, got %q", status.Status)
	}
	if status.Checks["backend:down"].Status != "unhealthy" {
		t.Errorf("unexpected down result: %+v", status.Checks["backend:down"])
	}
}

func TestReadinessHandler_AllDown(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("attachments", func(context.Context) error { return errors.New("closed") })

	w := httptest.NewRecorder()
	c.ReadinessHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestVersionHandler(t *testing.T) {
	w := httptest.NewRecorder()
	VersionHandler("1.2.3", "abc123", "2026-01-01")(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info VersionInfo
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.Version != "1.2.3" || info.Commit != "abc123" || info.GoVersion == "" {
		t.Errorf("unexpected version info: %+v", info)
	}
}
