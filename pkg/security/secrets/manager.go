package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"mercator-hq/webrelay/pkg/config"
)

// defaultCacheSize bounds the manager cache built from configuration. A
// relay resolves a handful of secrets per backend.
const defaultCacheSize = 64

// Manager resolves secrets from its providers in order, caching values.
// It satisfies providers.SecretSource.
type Manager struct {
	providers []Provider
	cache     *Cache

	mu        sync.RWMutex
	callbacks []func(name string)
}

// NewManager creates a manager. Providers are tried in order; the first
// that supports a name and returns a value wins.
func NewManager(providers []Provider, cacheConfig CacheConfig) *Manager {
	m := &Manager{
		providers: providers,
		cache:     NewCache(cacheConfig),
	}
	for _, p := range providers {
		if n, ok := p.(Notifier); ok {
			n.Notify(m.changed)
		}
	}
	return m
}

// NewFromConfig builds the standard chain: the secrets directory (when
// configured) ahead of the environment.
func NewFromConfig(cfg config.SecretsConfig) (*Manager, error) {
	var chain []Provider
	if cfg.Dir != "" {
		fp, err := NewFileProvider(cfg.Dir, cfg.Watch)
		if err != nil {
			return nil, fmt.Errorf("secrets directory: %w", err)
		}
		chain = append(chain, fp)
	}
	chain = append(chain, NewEnvProvider(cfg.EnvPrefix))

	return NewManager(chain, CacheConfig{
		Enabled: cfg.CacheTTL > 0,
		TTL:     cfg.CacheTTL,
		MaxSize: defaultCacheSize,
	}), nil
}

// GetSecret resolves name.
func (m *Manager) GetSecret(ctx context.Context, name string) (string, error) {
	if value, ok := m.cache.Get(name); ok {
		slog.Debug("secret cache hit", "name", redactSecretName(name))
		return value, nil
	}

	var lastErr error
	for _, provider := range m.providers {
		if !provider.Supports(name) {
			continue
		}

		value, err := provider.GetSecret(ctx, name)
		if err != nil {
			lastErr = err
			slog.Debug("provider failed to get secret",
				"provider", provider.Name(),
				"name", redactSecretName(name),
				"error", err,
			)
			continue
		}

		m.cache.Set(name, value)
		slog.Debug("secret retrieved",
			"provider", provider.Name(),
			"name", redactSecretName(name),
		)
		return value, nil
	}

	if lastErr != nil {
		return "", fmt.Errorf("failed to get secret %q: %w", name, lastErr)
	}
	return "", fmt.Errorf("secret not found: %q (no provider supports this secret)", name)
}

// OnChange registers fn to run when a watched secret changes.
func (m *Manager) OnChange(fn func(name string)) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, fn)
	m.mu.Unlock()
}

func (m *Manager) changed(name string) {
	m.cache.Delete(name)

	m.mu.RLock()
	callbacks := append([]func(string){}, m.callbacks...)
	m.mu.RUnlock()

	for _, fn := range callbacks {
		fn(name)
	}
}

// Refresh reloads refreshable providers and clears the cache.
func (m *Manager) Refresh(ctx context.Context) error {
	var errs []string
	for _, provider := range m.providers {
		refreshable, ok := provider.(Refreshable)
		if !ok {
			continue
		}
		if err := refreshable.Refresh(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", provider.Name(), err))
		}
	}
	m.cache.Clear()

	if len(errs) > 0 {
		return fmt.Errorf("failed to refresh some providers: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ListSecrets returns the union of secret names, sorted.
func (m *Manager) ListSecrets(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	for _, provider := range m.providers {
		names, err := provider.ListSecrets(ctx)
		if err != nil {
			slog.Warn("failed to list secrets from provider",
				"provider", provider.Name(),
				"error", err,
			)
			continue
		}
		for _, name := range names {
			seen[name] = true
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close closes providers that hold resources (watchers).
func (m *Manager) Close() error {
	var errs []error
	for _, provider := range m.providers {
		if c, ok := provider.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

func redactSecretName(name string) string {
	if len(name) <= 4 {
		return "***"
	}
	return name[:2] + "..." + name[len(name)-2:]
}
