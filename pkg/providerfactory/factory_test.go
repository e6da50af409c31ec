package providerfactory

import (
	"context"
	"errors"
	"reflect"
	"testing"

	testhelpers "mercator-hq/webrelay/internal/providers"
	"mercator-hq/webrelay/pkg/config"
	"mercator-hq/webrelay/pkg/pow"
	"mercator-hq/webrelay/pkg/providers"
)

func testBackends() config.BackendsConfig {
	cfg := config.NewDefault()
	b := cfg.Backends
	b.ChatGPT.Enabled = true
	b.DeepSeek.Enabled = true
	b.DeepSeek.TokenSecret = "ds_token"
	b.HuggingChat.Enabled = true
	b.HuggingChat.CookieSecret = "hf_cookie"
	b.TheB.Enabled = true
	b.TheB.AccountsSecret = "theb_accounts"
	return b
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	pool := pow.NewPool(1)
	t.Cleanup(pool.Close)
	return Deps{
		Secrets: testhelpers.Secrets{},
		Pool:    pool,
		PoW:     config.PoWConfig{MaxAttempts: 10, ScreenSizes: []int{3000}},
		Kernel: pow.KernelFunc(func(context.Context, string, string, float64) (int64, bool, error) {
			return 0, false, nil
		}),
	}
}

func TestNewAdapter_AllBackends(t *testing.T) {
	backends := testBackends()
	deps := testDeps(t)

	for _, name := range Supported {
		t.Run(name, func(t *testing.T) {
			adapter, closer, err := NewAdapter(context.Background(), name, backends, deps)
			if err != nil {
				t.Fatalf("NewAdapter(%q) failed: %v", name, err)
			}
			defer closer()
			defer adapter.Close()

			if adapter.Name() != name {
				t.Errorf("expected adapter name %q, got %q", name, adapter.Name())
			}
			if len(adapter.Models()) == 0 {
				t.Error("adapter serves no models")
			}
			if adapter.Credential() == nil {
				t.Error("adapter has no credential")
			}
		})
	}
}

func TestNewAdapter_RestrictsModels(t *testing.T) {
	backends := testBackends()
	backends.DeepSeek.Models = []string{"deepseek-chat"}

	adapter, closer, err := NewAdapter(context.Background(), "deepseek", backends, testDeps(t))
	if err != nil {
		t.Fatal(err)
	}
	defer closer()
	defer adapter.Close()

	if got := adapter.Models(); !reflect.DeepEqual(got, []string{"deepseek-chat"}) {
		t.Errorf("models = %v", got)
	}
	if adapter.Supports("deepseek-reasoner") {
		t.Error("restricted model still supported")
	}
}

func TestNewAdapter_Unsupported(t *testing.T) {
	_, closer, err := NewAdapter(context.Background(), "bard", testBackends(), testDeps(t))
	closer()

	var cfgErr *providers.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestNewAdapter_RequiresPool(t *testing.T) {
	deps := testDeps(t)
	deps.Pool = nil

	for _, name := range []string{"chatgpt", "deepseek"} {
		_, _, err := NewAdapter(context.Background(), name, testBackends(), deps)
		var cfgErr *providers.ConfigError
		if !errors.As(err, &cfgErr) || cfgErr.Field != "pow" {
			t.Errorf("%s: expected pow ConfigError, got %v", name, err)
		}
	}
}

func TestNewAdapter_MissingWasmModule(t *testing.T) {
	backends := testBackends()
	backends.DeepSeek.WasmPath = t.TempDir() + "/missing.wasm"
	deps := testDeps(t)
	deps.Kernel = nil

	_, _, err := NewAdapter(context.Background(), "deepseek", backends, deps)
	var cfgErr *providers.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "wasm_path" {
		t.Fatalf("expected wasm_path ConfigError, got %v", err)
	}
}

func TestNewAdapter_MissingSecretName(t *testing.T) {
	backends := testBackends()
	backends.TheB.AccountsSecret = ""

	_, _, err := NewAdapter(context.Background(), "theb", backends, testDeps(t))
	if err == nil {
		t.Fatal("expected error for theb without accounts secret")
	}
}

func TestEnabled(t *testing.T) {
	backends := config.BackendsConfig{}
	backends.DeepSeek.Enabled = true
	backends.TheB.Enabled = true

	if got := Enabled(backends); !reflect.DeepEqual(got, []string{"deepseek", "theb"}) {
		t.Errorf("Enabled() = %v", got)
	}
}
