package config

import (
	"fmt"
	"sync"
)

var (
	globalMu  sync.RWMutex
	global    *Config
	setupOnce sync.Once
)

// Initialize loads configuration from path (with environment overrides) and
// installs it as the process-wide configuration. Only the first call loads;
// later calls return nil without touching the installed value.
func Initialize(path string) error {
	var err error
	setupOnce.Do(func() {
		var cfg *Config
		cfg, err = LoadConfigWithEnvOverrides(path)
		if err == nil {
			SetConfig(cfg)
		}
	})
	return err
}

// GetConfig returns the process-wide configuration, or nil before Initialize.
func GetConfig() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// SetConfig replaces the process-wide configuration. Intended for tests and
// for commands that build configuration from flags.
func SetConfig(cfg *Config) {
	globalMu.Lock()
	global = cfg
	globalMu.Unlock()
}

// ReloadConfig re-reads path and swaps the configuration in only when it
// loads and validates.
func ReloadConfig(path string) error {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	SetConfig(cfg)
	return nil
}

// MustGetConfig is GetConfig that panics when nothing is installed.
func MustGetConfig() *Config {
	cfg := GetConfig()
	if cfg == nil {
		panic("configuration not initialized: call Initialize first")
	}
	return cfg
}
