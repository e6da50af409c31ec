package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of configuration override variables.
const EnvPrefix = "RELAY_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// Environment variables are not consulted; use LoadConfigWithEnvOverrides
// for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML and applies defaults without validating.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention RELAY_SECTION_FIELD (e.g., RELAY_PROXY_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// An empty path loads defaults only, so the relay can run from the
// environment alone.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = NewDefault()
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		cfg, err = Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Proxy overrides
	envString("PROXY_LISTEN_ADDRESS", &cfg.Proxy.ListenAddress)
	envDuration("PROXY_READ_TIMEOUT", &cfg.Proxy.ReadTimeout)
	envDuration("PROXY_WRITE_TIMEOUT", &cfg.Proxy.WriteTimeout)
	envDuration("PROXY_IDLE_TIMEOUT", &cfg.Proxy.IdleTimeout)
	envInt("PROXY_MAX_HEADER_BYTES", &cfg.Proxy.MaxHeaderBytes)
	envBool("PROXY_WEBSOCKET_ENABLED", &cfg.Proxy.WebSocket.Enabled)
	envBool("PROXY_AUTH_ENABLED", &cfg.Proxy.Auth.Enabled)
	envString("PROXY_AUTH_KEYS_SECRET", &cfg.Proxy.Auth.KeysSecret)

	// Backend overrides
	applyBackendEnvOverrides("CHATGPT", &cfg.Backends.ChatGPT.BackendConfig)
	applyBackendEnvOverrides("DEEPSEEK", &cfg.Backends.DeepSeek.BackendConfig)
	applyBackendEnvOverrides("HUGGINGCHAT", &cfg.Backends.HuggingChat.BackendConfig)
	applyBackendEnvOverrides("THEB", &cfg.Backends.TheB.BackendConfig)
	envString("BACKENDS_CHATGPT_SESSION_TOKEN_SECRET", &cfg.Backends.ChatGPT.SessionTokenSecret)
	envString("BACKENDS_DEEPSEEK_TOKEN_SECRET", &cfg.Backends.DeepSeek.TokenSecret)
	envString("BACKENDS_DEEPSEEK_COOKIES_SECRET", &cfg.Backends.DeepSeek.CookiesSecret)
	envString("BACKENDS_DEEPSEEK_WASM_PATH", &cfg.Backends.DeepSeek.WasmPath)
	envString("BACKENDS_HUGGINGCHAT_COOKIE_SECRET", &cfg.Backends.HuggingChat.CookieSecret)
	envString("BACKENDS_THEB_ACCOUNTS_SECRET", &cfg.Backends.TheB.AccountsSecret)

	// Dispatch overrides
	envInt("DISPATCH_AUTH_RETRY_BUDGET", &cfg.Dispatch.AuthRetryBudget)
	envInt("DISPATCH_TRANSIENT_RETRIES", &cfg.Dispatch.TransientRetries)
	envDuration("DISPATCH_RETRY_INTERVAL", &cfg.Dispatch.RetryInterval)

	// PoW overrides
	envInt("POW_WORKERS", &cfg.PoW.Workers)
	envInt("POW_MAX_ATTEMPTS", &cfg.PoW.MaxAttempts)

	// Attachment overrides
	envString("ATTACHMENTS_DRIVER", &cfg.Attachments.Driver)
	envString("ATTACHMENTS_PATH", &cfg.Attachments.Path)
	envString("ATTACHMENTS_FALLBACK_POLICY", &cfg.Attachments.FallbackPolicy)
	envBool("ATTACHMENTS_RETENTION_ENABLED", &cfg.Attachments.Retention.Enabled)
	envInt("ATTACHMENTS_RETENTION_DAYS", &cfg.Attachments.Retention.Days)
	envString("ATTACHMENTS_RETENTION_SCHEDULE", &cfg.Attachments.Retention.Schedule)

	// Files overrides
	envString("FILES_DIR", &cfg.Files.Dir)
	envString("FILES_BASE_URL", &cfg.Files.BaseURL)

	// Secrets overrides
	envString("SECRETS_DIR", &cfg.Secrets.Dir)
	envBool("SECRETS_WATCH", &cfg.Secrets.Watch)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envFloat("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)
}

// applyBackendEnvOverrides applies RELAY_BACKENDS_<NAME>_<FIELD> overrides.
func applyBackendEnvOverrides(name string, b *BackendConfig) {
	prefix := "BACKENDS_" + name + "_"
	envBool(prefix+"ENABLED", &b.Enabled)
	envString(prefix+"BASE_URL", &b.BaseURL)
	envDuration(prefix+"TIMEOUT", &b.Timeout)
	envString(prefix+"USER_AGENT", &b.UserAgent)
	if val := os.Getenv(EnvPrefix + prefix + "MODELS"); val != "" {
		var models []string
		for _, m := range strings.Split(val, ",") {
			if m = strings.TrimSpace(m); m != "" {
				models = append(models, m)
			}
		}
		b.Models = models
	}
}

func envString(key string, dst *string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
