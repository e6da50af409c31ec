package providerfactory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"mercator-hq/webrelay/pkg/config"
	"mercator-hq/webrelay/pkg/providers"
)

// Manager owns the set of configured adapters.
// It handles adapter lifecycle (creation, health reporting, shutdown).
//
// Manager is thread-safe and can be used concurrently.
type Manager struct {
	adapters map[string]providers.Adapter
	closers  map[string]func()
	mu       sync.RWMutex
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		adapters: make(map[string]providers.Adapter),
		closers:  make(map[string]func()),
	}
}

// Add registers an adapter. If one with the same name exists, it is
// replaced and the old one is closed.
func (m *Manager) Add(adapter providers.Adapter, closer func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := adapter.Name()
	if _, ok := m.adapters[name]; ok {
		slog.Warn("replacing existing adapter", "name", name)
		m.closeLocked(name)
	}

	m.adapters[name] = adapter
	if closer != nil {
		m.closers[name] = closer
	}

	slog.Info("adapter added to manager",
		"name", name,
		"total_adapters", len(m.adapters),
	)
}

// Remove closes and removes an adapter.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.adapters[name]; !ok {
		return fmt.Errorf("adapter %q not found", name)
	}
	m.closeLocked(name)

	slog.Info("adapter removed from manager",
		"name", name,
		"remaining_adapters", len(m.adapters),
	)
	return nil
}

func (m *Manager) closeLocked(name string) {
	if err := m.adapters[name].Close(); err != nil {
		slog.Error("error closing adapter", "name", name, "error", err)
	}
	if closer := m.closers[name]; closer != nil {
		closer()
	}
	delete(m.adapters, name)
	delete(m.closers, name)
}

// Get returns an adapter by name.
func (m *Manager) Get(name string) (providers.Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	adapter, ok := m.adapters[name]
	if !ok {
		return nil, fmt.Errorf("adapter %q not found", name)
	}
	return adapter, nil
}

// Adapters returns every adapter, ordered by name.
func (m *Manager) Adapters() []providers.Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]providers.Adapter, 0, len(m.adapters))
	for _, name := range m.namesLocked() {
		out = append(out, m.adapters[name])
	}
	return out
}

// Names returns the adapter names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.namesLocked()
}

func (m *Manager) namesLocked() []string {
	names := make([]string, 0, len(m.adapters))
	for name := range m.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of adapters.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.adapters)
}

// LoadFromConfig builds every enabled backend. Errors are collected and
// returned as a single error; adapters that were built stay registered.
func (m *Manager) LoadFromConfig(ctx context.Context, cfg config.BackendsConfig, deps Deps) error {
	names := Enabled(cfg)
	var failed int

	for _, name := range names {
		adapter, closer, err := NewAdapter(ctx, name, cfg, deps)
		if err != nil {
			failed++
			slog.Error("failed to load adapter", "name", name, "error", err)
			continue
		}
		m.Add(adapter, closer)
	}

	if failed > 0 {
		return fmt.Errorf("failed to load %d adapter(s)", failed)
	}
	slog.Info("all adapters loaded successfully", "count", len(names))
	return nil
}

// Close closes every adapter.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.namesLocked() {
		m.closeLocked(name)
	}

	slog.Info("adapter manager closed")
	return nil
}

type healthReporter interface {
	GetHealth() providers.ProviderHealth
}

// GetHealthSummary returns a summary of adapter health and credential
// state.
func (m *Manager) GetHealthSummary() HealthSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := HealthSummary{
		Total:   len(m.adapters),
		Details: make(map[string]AdapterHealth, len(m.adapters)),
	}

	for name, adapter := range m.adapters {
		h := AdapterHealth{
			Healthy:    adapter.IsHealthy(),
			Models:     adapter.Models(),
			Credential: adapter.Credential().State().String(),
			Refreshes:  adapter.Credential().Refreshes(),
		}
		if hr, ok := adapter.(healthReporter); ok {
			ph := hr.GetHealth()
			h.ConsecutiveFailures = ph.ConsecutiveFailures
			h.TotalRequests = ph.TotalRequests
			h.FailedRequests = ph.FailedRequests
			if ph.LastError != nil {
				h.LastError = ph.LastError.Error()
			}
		}
		summary.Details[name] = h
		if h.Healthy {
			summary.Healthy++
		}
	}

	summary.Unhealthy = summary.Total - summary.Healthy
	return summary
}

// HealthSummary provides an overview of adapter health.
type HealthSummary struct {
	// Total is the total number of adapters
	Total int `json:"total"`

	// Healthy is the number of healthy adapters
	Healthy int `json:"healthy"`

	// Unhealthy is the number of unhealthy adapters
	Unhealthy int `json:"unhealthy"`

	// Details contains per-adapter health information
	Details map[string]AdapterHealth `json:"details"`
}

// AdapterHealth is the health of one adapter.
type AdapterHealth struct {
	Healthy             bool     `json:"healthy"`
	Models              []string `json:"models"`
	Credential          string   `json:"credential"`
	Refreshes           int      `json:"refreshes"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
	TotalRequests       int64    `json:"total_requests"`
	FailedRequests      int64    `json:"failed_requests"`
	LastError           string   `json:"last_error,omitempty"`
}
