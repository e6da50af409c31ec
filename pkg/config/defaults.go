package config

import (
	"runtime"
	"time"
)

// Default values for configuration fields.
const (
	// Proxy defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576  // 1MB
	DefaultMaxBodyBytes    = 33554432 // 32MB

	// CORS defaults
	DefaultCORSEnabled = true
	DefaultCORSMaxAge  = 3600

	// WebSocket defaults
	DefaultWebSocketBufferSize   = 4096
	DefaultWebSocketPingInterval = 30 * time.Second

	// Backend defaults
	DefaultBackendTimeout    = 30 * time.Second
	DefaultUserAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	DefaultChatGPTBaseURL    = "https://chatgpt.com"
	DefaultDeepSeekBaseURL   = "https://chat.deepseek.com"
	DefaultDeepSeekVersion   = "20241129.1"
	DefaultHuggingChatURL    = "https://huggingface.co/chat"
	DefaultTheBBaseURL       = "https://beta.theb.ai/api"
	DefaultDeepSeekWasmPath  = "data/sha3_wasm_bg.wasm"

	// Dispatch defaults
	DefaultAuthRetryBudget  = 3
	DefaultTransientRetries = 1
	DefaultRetryInterval    = 500 * time.Millisecond
	DefaultRetryJitter      = 0.5

	// PoW defaults
	DefaultPoWMaxAttempts = 100000

	// Attachment defaults
	DefaultAttachmentsDriver       = "sqlite"
	DefaultAttachmentsPath         = "data/attachments.db"
	DefaultAttachmentsBusyTimeout  = 5 * time.Second
	DefaultAttachmentsFallback     = "ace_upload"
	DefaultAttachmentsPollAttempts = 5
	DefaultAttachmentsPollInterval = 500 * time.Millisecond
	DefaultRetentionDays           = 30
	DefaultRetentionSchedule       = "0 3 * * *"

	// Files defaults
	DefaultFilesDir = "data/files"

	// Secrets defaults
	DefaultSecretsEnvPrefix = "RELAY_SECRET_"
	DefaultSecretsCacheTTL  = 5 * time.Minute

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "webrelay"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingServiceName = "webrelay"
	DefaultTracingTimeout     = 10 * time.Second
)

// DefaultScreenSizes are the screen values folded into sentinel configs.
var DefaultScreenSizes = []int{3000, 4000, 6000}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Proxy defaults
	if cfg.Proxy.ListenAddress == "" {
		cfg.Proxy.ListenAddress = DefaultListenAddress
	}
	if cfg.Proxy.ReadTimeout == 0 {
		cfg.Proxy.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Proxy.IdleTimeout == 0 {
		cfg.Proxy.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Proxy.ShutdownTimeout == 0 {
		cfg.Proxy.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Proxy.MaxHeaderBytes == 0 {
		cfg.Proxy.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Proxy.MaxBodyBytes == 0 {
		cfg.Proxy.MaxBodyBytes = DefaultMaxBodyBytes
	}
	applyCORSDefaults(&cfg.Proxy.CORS)

	ws := &cfg.Proxy.WebSocket
	if ws.ReadBufferSize == 0 {
		ws.ReadBufferSize = DefaultWebSocketBufferSize
	}
	if ws.WriteBufferSize == 0 {
		ws.WriteBufferSize = DefaultWebSocketBufferSize
	}
	if ws.PingInterval == 0 {
		ws.PingInterval = DefaultWebSocketPingInterval
	}

	// Backend defaults
	applyBackendDefaults(&cfg.Backends.ChatGPT.BackendConfig, DefaultChatGPTBaseURL)
	applyBackendDefaults(&cfg.Backends.DeepSeek.BackendConfig, DefaultDeepSeekBaseURL)
	applyBackendDefaults(&cfg.Backends.HuggingChat.BackendConfig, DefaultHuggingChatURL)
	applyBackendDefaults(&cfg.Backends.TheB.BackendConfig, DefaultTheBBaseURL)
	if cfg.Backends.DeepSeek.AppVersion == "" {
		cfg.Backends.DeepSeek.AppVersion = DefaultDeepSeekVersion
	}
	if cfg.Backends.DeepSeek.WasmPath == "" {
		cfg.Backends.DeepSeek.WasmPath = DefaultDeepSeekWasmPath
	}

	// Dispatch defaults
	if cfg.Dispatch.AuthRetryBudget == 0 {
		cfg.Dispatch.AuthRetryBudget = DefaultAuthRetryBudget
	}
	if cfg.Dispatch.TransientRetries == 0 {
		cfg.Dispatch.TransientRetries = DefaultTransientRetries
	}
	if cfg.Dispatch.RetryInterval == 0 {
		cfg.Dispatch.RetryInterval = DefaultRetryInterval
	}
	if cfg.Dispatch.RetryJitter == 0 {
		cfg.Dispatch.RetryJitter = DefaultRetryJitter
	}

	// PoW defaults
	if cfg.PoW.Workers == 0 {
		cfg.PoW.Workers = runtime.NumCPU()
	}
	if cfg.PoW.MaxAttempts == 0 {
		cfg.PoW.MaxAttempts = DefaultPoWMaxAttempts
	}
	if len(cfg.PoW.ScreenSizes) == 0 {
		cfg.PoW.ScreenSizes = append([]int(nil), DefaultScreenSizes...)
	}

	// Attachment defaults
	att := &cfg.Attachments
	if att.Driver == "" {
		att.Driver = DefaultAttachmentsDriver
	}
	if att.Path == "" {
		att.Path = DefaultAttachmentsPath
	}
	if att.BusyTimeout == 0 {
		att.BusyTimeout = DefaultAttachmentsBusyTimeout
	}
	if att.FallbackPolicy == "" {
		att.FallbackPolicy = DefaultAttachmentsFallback
	}
	if att.PollAttempts == 0 {
		att.PollAttempts = DefaultAttachmentsPollAttempts
	}
	if att.PollInterval == 0 {
		att.PollInterval = DefaultAttachmentsPollInterval
	}
	if att.Retention.Days == 0 {
		att.Retention.Days = DefaultRetentionDays
	}
	if att.Retention.Schedule == "" {
		att.Retention.Schedule = DefaultRetentionSchedule
	}

	if cfg.Files.Dir == "" {
		cfg.Files.Dir = DefaultFilesDir
	}

	if cfg.Secrets.EnvPrefix == "" {
		cfg.Secrets.EnvPrefix = DefaultSecretsEnvPrefix
	}
	if cfg.Secrets.CacheTTL == 0 {
		cfg.Secrets.CacheTTL = DefaultSecretsCacheTTL
	}

	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyBackendDefaults(b *BackendConfig, baseURL string) {
	if b.BaseURL == "" {
		b.BaseURL = baseURL
	}
	if b.Timeout == 0 {
		b.Timeout = DefaultBackendTimeout
	}
	if b.UserAgent == "" {
		b.UserAgent = DefaultUserAgent
	}
}

// applyCORSDefaults applies default values to CORS configuration.
func applyCORSDefaults(cors *CORSConfig) {
	if !cors.Enabled {
		// An untouched section means the user did not opt out.
		hasAnyConfig := len(cors.AllowedOrigins) > 0 ||
			len(cors.AllowedMethods) > 0 ||
			len(cors.AllowedHeaders) > 0 ||
			len(cors.ExposedHeaders) > 0 ||
			cors.MaxAge > 0
		if !hasAnyConfig {
			cors.Enabled = DefaultCORSEnabled
		}
	}
	if len(cors.AllowedOrigins) == 0 {
		cors.AllowedOrigins = []string{"*"}
	}
	if len(cors.AllowedMethods) == 0 {
		cors.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(cors.AllowedHeaders) == 0 {
		cors.AllowedHeaders = []string{"Authorization", "Content-Type", "X-Request-ID"}
	}
	if len(cors.ExposedHeaders) == 0 {
		cors.ExposedHeaders = []string{"X-Request-ID"}
	}
	if cors.MaxAge == 0 {
		cors.MaxAge = DefaultCORSMaxAge
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLoggingLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLoggingFormat
	}
	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
		// Metrics default to on unless the section was configured.
		t.Metrics.Enabled = true
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(t.Metrics.RequestDurationBuckets) == 0 {
		t.Metrics.RequestDurationBuckets = []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
	}
	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if t.Tracing.Endpoint == "" {
		t.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingServiceName
	}
	if t.Tracing.Timeout == 0 {
		t.Tracing.Timeout = DefaultTracingTimeout
	}
}

// NewDefault returns a configuration with every default applied.
func NewDefault() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
