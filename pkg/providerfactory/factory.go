package providerfactory

import (
	"context"
	"fmt"
	"log/slog"

	"mercator-hq/webrelay/pkg/attachments"
	"mercator-hq/webrelay/pkg/config"
	"mercator-hq/webrelay/pkg/credentials"
	"mercator-hq/webrelay/pkg/pow"
	"mercator-hq/webrelay/pkg/providers"
	"mercator-hq/webrelay/pkg/providers/chatgpt"
	"mercator-hq/webrelay/pkg/providers/deepseek"
	"mercator-hq/webrelay/pkg/providers/huggingchat"
	"mercator-hq/webrelay/pkg/providers/theb"
)

// Deps are the shared services handed to every adapter.
type Deps struct {
	// Secrets resolves session tokens, cookie jars and account lists.
	Secrets providers.SecretSource

	// Attachments stores upload records for backends with a files API.
	Attachments       attachments.Store
	AttachmentOptions attachments.Options

	// Pool runs proof-of-work searches. Required when a backend that
	// solves challenges is enabled.
	Pool *pow.Pool

	// PoW configures the sentinel solver.
	PoW config.PoWConfig

	// Kernel overrides the DeepSeek hash module. When nil the module is
	// loaded from backends.deepseek.wasm_path.
	Kernel pow.Kernel

	// Observers receive credential and solver outcomes. Leave them nil
	// (not typed-nil pointers) when metrics are off.
	CredentialObserver credentials.Observer
	PoWObserver        pow.Observer

	Logger *slog.Logger
}

// Supported lists the backend identifiers the factory can build.
var Supported = []string{chatgpt.Name, deepseek.Name, huggingchat.Name, theb.Name}

// NewAdapter builds the named backend from its configuration section.
// The returned closer releases resources the adapter does not own (the
// wasm kernel); it is never nil.
//
// Example:
//
//	adapter, closer, err := NewAdapter(ctx, "chatgpt", cfg.Backends, deps)
//	if err != nil {
//	    return err
//	}
//	defer closer()
//	defer adapter.Close()
func NewAdapter(ctx context.Context, name string, cfg config.BackendsConfig, deps Deps) (providers.Adapter, func(), error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	noop := func() {}

	slog.Debug("creating adapter", "name", name)

	var (
		adapter providers.Adapter
		closer  = noop
		err     error
	)

	switch name {
	case chatgpt.Name:
		c := cfg.ChatGPT
		if deps.Pool == nil {
			return nil, noop, &providers.ConfigError{Provider: name, Field: "pow", Message: "a proof-of-work pool is required"}
		}
		sentinel := pow.NewSentinelSolver(deps.PoW.MaxAttempts, deps.PoW.ScreenSizes)
		sentinel.Observer = deps.PoWObserver
		sentinel.Logger = logger.With("component", "pow", "provider", name)

		adapter, err = chatgpt.New(chatgpt.Config{
			Provider:           providerConfig(name, c.BackendConfig),
			SessionTokenSecret: c.SessionTokenSecret,
			DeviceID:           c.DeviceID,
			Models:             c.Models,
		}, chatgpt.Deps{
			Secrets:            deps.Secrets,
			Solver:             deps.Pool.Bind(sentinel),
			Attachments:        deps.Attachments,
			AttachmentOptions:  deps.AttachmentOptions,
			CredentialObserver: deps.CredentialObserver,
			Logger:             logger,
		})

	case deepseek.Name:
		c := cfg.DeepSeek
		if deps.Pool == nil {
			return nil, noop, &providers.ConfigError{Provider: name, Field: "pow", Message: "a proof-of-work pool is required"}
		}
		kernel := deps.Kernel
		if kernel == nil {
			wk, kerr := pow.LoadWasmKernel(ctx, c.WasmPath)
			if kerr != nil {
				return nil, noop, &providers.ConfigError{Provider: name, Field: "wasm_path", Message: kerr.Error()}
			}
			kernel = wk
			closer = func() { _ = wk.Close(context.Background()) }
		}
		solver := pow.NewKernelSolver(kernel)
		solver.Observer = deps.PoWObserver
		solver.Logger = logger.With("component", "pow", "provider", name)

		adapter, err = deepseek.New(deepseek.Config{
			Provider:      providerConfig(name, c.BackendConfig),
			TokenSecret:   c.TokenSecret,
			CookiesSecret: c.CookiesSecret,
			AppVersion:    c.AppVersion,
			Models:        c.Models,
		}, deepseek.Deps{
			Secrets:            deps.Secrets,
			Solver:             deps.Pool.Bind(solver),
			CredentialObserver: deps.CredentialObserver,
			Logger:             logger,
		})

	case huggingchat.Name:
		c := cfg.HuggingChat
		adapter, err = huggingchat.New(huggingchat.Config{
			Provider:          providerConfig(name, c.BackendConfig),
			SessionSecret:     c.CookieSecret,
			KeepConversations: c.KeepConversations,
			WebSearch:         c.WebSearch,
			Models:            c.Models,
		}, huggingchat.Deps{
			Secrets:            deps.Secrets,
			CredentialObserver: deps.CredentialObserver,
			Logger:             logger,
		})

	case theb.Name:
		c := cfg.TheB
		adapter, err = theb.New(theb.Config{
			Provider:       providerConfig(name, c.BackendConfig),
			AccountsSecret: c.AccountsSecret,
			Models:         c.Models,
		}, theb.Deps{
			Secrets:            deps.Secrets,
			CredentialObserver: deps.CredentialObserver,
			Logger:             logger,
		})

	default:
		return nil, noop, &providers.ConfigError{
			Provider: name,
			Field:    "backends",
			Message:  fmt.Sprintf("unsupported backend %q (supported: %v)", name, Supported),
		}
	}

	if err != nil {
		closer()
		return nil, noop, fmt.Errorf("failed to create adapter %q: %w", name, err)
	}

	slog.Info("adapter created", "name", name, "models", adapter.Models())
	return adapter, closer, nil
}

// Enabled returns the names of the enabled backends in a stable order.
func Enabled(cfg config.BackendsConfig) []string {
	var names []string
	for _, b := range []struct {
		name    string
		enabled bool
	}{
		{chatgpt.Name, cfg.ChatGPT.Enabled},
		{deepseek.Name, cfg.DeepSeek.Enabled},
		{huggingchat.Name, cfg.HuggingChat.Enabled},
		{theb.Name, cfg.TheB.Enabled},
	} {
		if b.enabled {
			names = append(names, b.name)
		}
	}
	return names
}

func providerConfig(name string, b config.BackendConfig) providers.ProviderConfig {
	return providers.ProviderConfig{
		Name:      name,
		BaseURL:   b.BaseURL,
		Timeout:   b.Timeout,
		UserAgent: b.UserAgent,
	}
}
