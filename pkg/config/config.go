package config

import "time"

// Config is the root configuration structure for the relay.
// It contains the front-end server settings, one section per web backend,
// the dispatch retry policy, proof-of-work and attachment settings, the
// secret sources and telemetry.
type Config struct {
	// Proxy contains HTTP front-end configuration including listen address,
	// timeouts, CORS and the websocket endpoint.
	Proxy ProxyConfig `yaml:"proxy"`

	// Backends contains one section per supported web chat backend.
	Backends BackendsConfig `yaml:"backends"`

	// Dispatch contains the per-request retry policy.
	Dispatch DispatchConfig `yaml:"dispatch"`

	// PoW contains proof-of-work solver settings.
	PoW PoWConfig `yaml:"pow"`

	// Attachments contains attachment cache and record store settings.
	Attachments AttachmentsConfig `yaml:"attachments"`

	// Files contains settings for generated files served back to clients.
	Files FilesConfig `yaml:"files"`

	// Secrets contains the sources for long-lived backend secrets
	// (session tokens, cookie jars, API keys).
	Secrets SecretsConfig `yaml:"secrets"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ProxyConfig contains configuration for the HTTP front-end.
type ProxyConfig struct {
	// ListenAddress is the address and port to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. Streaming completions can run for minutes, so zero (no
	// timeout) is the default.
	// Default: 0
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits the size of a chat completion request body.
	// Inline images count against this limit.
	// Default: 33554432 (32MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// CORS contains Cross-Origin Resource Sharing configuration.
	CORS CORSConfig `yaml:"cors"`

	// WebSocket contains configuration for the websocket streaming endpoint.
	WebSocket WebSocketConfig `yaml:"websocket"`

	// Auth optionally requires clients to present a relay API key.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig configures client authentication on the completion and file
// endpoints. Health, readiness and metrics stay open.
type AuthConfig struct {
	// Enabled requires a key on every client request.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// KeysSecret names the secret holding the accepted keys, one per line,
	// optionally as "name:key".
	KeysSecret string `yaml:"keys_secret"`
}

// CORSConfig contains CORS (Cross-Origin Resource Sharing) configuration.
type CORSConfig struct {
	// Enabled controls whether CORS is enabled.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// AllowedOrigins is a list of allowed origins for CORS requests.
	// Default: ["*"]
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AllowedMethods is a list of allowed HTTP methods for CORS requests.
	// Default: ["GET", "POST", "OPTIONS"]
	AllowedMethods []string `yaml:"allowed_methods"`

	// AllowedHeaders is a list of allowed HTTP headers for CORS requests.
	// Default: ["Authorization", "Content-Type", "X-Request-ID"]
	AllowedHeaders []string `yaml:"allowed_headers"`

	// ExposedHeaders is a list of headers that are exposed to the client.
	// Default: ["X-Request-ID"]
	ExposedHeaders []string `yaml:"exposed_headers"`

	// MaxAge is the maximum age (in seconds) for preflight request cache.
	// Default: 3600 (1 hour)
	MaxAge int `yaml:"max_age"`

	// AllowCredentials controls whether credentials are allowed in CORS requests.
	// Default: false
	AllowCredentials bool `yaml:"allow_credentials"`
}

// WebSocketConfig configures the websocket variant of the completion endpoint.
type WebSocketConfig struct {
	// Enabled exposes /v1/chat/completions/ws.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// ReadBufferSize and WriteBufferSize size the upgrader buffers.
	// Default: 4096
	ReadBufferSize  int `yaml:"read_buffer_size"`
	WriteBufferSize int `yaml:"write_buffer_size"`

	// PingInterval is how often the server pings idle clients.
	// Default: 30s
	PingInterval time.Duration `yaml:"ping_interval"`
}

// BackendsConfig holds one section per adapter. The adapter set is closed:
// a backend is only registered when its section is enabled.
type BackendsConfig struct {
	ChatGPT     ChatGPTConfig     `yaml:"chatgpt"`
	DeepSeek    DeepSeekConfig    `yaml:"deepseek"`
	HuggingChat HuggingChatConfig `yaml:"huggingchat"`
	TheB        TheBConfig        `yaml:"theb"`
}

// BackendConfig contains the settings shared by every web backend.
type BackendConfig struct {
	// Enabled registers the backend with the dispatcher.
	Enabled bool `yaml:"enabled"`

	// BaseURL is the origin of the backend's web application.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds auxiliary calls (credential refresh, challenge fetch,
	// uploads, session management). The completion call itself is unbounded.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// UserAgent is sent on every call and folded into proof-of-work inputs.
	UserAgent string `yaml:"user_agent"`

	// Models restricts the canonical model IDs this backend serves.
	// Empty means every model the adapter knows.
	Models []string `yaml:"models"`
}

// ChatGPTConfig configures the ChatGPT web adapter.
type ChatGPTConfig struct {
	BackendConfig `yaml:",inline"`

	// SessionTokenSecret names the secret holding the
	// __Secure-next-auth.session-token cookie. Empty runs anonymously.
	SessionTokenSecret string `yaml:"session_token_secret"`

	// DeviceID is sent as Oai-Device-Id. A random UUID is used when empty.
	DeviceID string `yaml:"device_id"`
}

// DeepSeekConfig configures the DeepSeek web adapter.
type DeepSeekConfig struct {
	BackendConfig `yaml:",inline"`

	// TokenSecret names the secret holding the bearer token.
	TokenSecret string `yaml:"token_secret"`

	// CookiesSecret names the secret holding the cookie jar obtained by an
	// external CAPTCHA step. Either a JSON object or a "k=v; k2=v2" string.
	CookiesSecret string `yaml:"cookies_secret"`

	// AppVersion is sent as x-app-version.
	AppVersion string `yaml:"app_version"`

	// WasmPath is the path to the backend's proof-of-work hash module.
	WasmPath string `yaml:"wasm_path"`
}

// HuggingChatConfig configures the HuggingChat adapter.
type HuggingChatConfig struct {
	BackendConfig `yaml:",inline"`

	// CookieSecret names the secret holding the hf-chat cookie.
	CookieSecret string `yaml:"cookie_secret"`

	// KeepConversations leaves the per-request conversations in the
	// account history instead of deleting them when the stream closes.
	// Default: false
	KeepConversations bool `yaml:"keep_conversations"`

	// WebSearch enables the backend's web search tool.
	// Default: false
	WebSearch bool `yaml:"web_search"`
}

// TheBConfig configures the TheB.AI adapter.
type TheBConfig struct {
	BackendConfig `yaml:",inline"`

	// AccountsSecret names the secret holding a JSON list of
	// {"api_key": ..., "organization_id": ...} accounts. Accounts are rotated
	// when the current one runs out of balance or is rejected.
	AccountsSecret string `yaml:"accounts_secret"`
}

// DispatchConfig contains the retry policy applied per logical request.
type DispatchConfig struct {
	// AuthRetryBudget is the number of credential refreshes one request may
	// trigger before it fails with auth_exhausted.
	// Default: 3
	AuthRetryBudget int `yaml:"auth_retry_budget"`

	// TransientRetries is the number of retries after a 5xx or network failure.
	// Default: 1
	TransientRetries int `yaml:"transient_retries"`

	// RetryInterval is the base delay before a transient retry.
	// Default: 500ms
	RetryInterval time.Duration `yaml:"retry_interval"`

	// RetryJitter is the randomization factor applied to RetryInterval (0.0 to 1.0).
	// Default: 0.5
	RetryJitter float64 `yaml:"retry_jitter"`
}

// PoWConfig contains proof-of-work solver settings.
type PoWConfig struct {
	// Workers is the number of goroutines dedicated to solving.
	// Default: number of CPUs
	Workers int `yaml:"workers"`

	// MaxAttempts bounds the sentinel nonce search.
	// Default: 100000
	MaxAttempts int `yaml:"max_attempts"`

	// ScreenSizes are the candidate screen values folded into sentinel configs.
	// Default: [3000, 4000, 6000]
	ScreenSizes []int `yaml:"screen_sizes"`
}

// AttachmentsConfig contains attachment cache settings.
type AttachmentsConfig struct {
	// Driver selects the record store.
	// Options: "sqlite" (pure Go), "sqlite3" (cgo), "memory"
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// Path is the SQLite database file.
	// Default: "data/attachments.db"
	Path string `yaml:"path"`

	// BusyTimeout is the SQLite busy timeout.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// FallbackPolicy decides what happens to content whose mime type the
	// backend does not advertise.
	// Options: "ace_upload" (upload with empty mime), "as_file" (upload as a
	// generic file), "reject" (fail with attachment_failure)
	// Default: "ace_upload"
	FallbackPolicy string `yaml:"fallback_policy"`

	// PollAttempts bounds the token-count poll after an upload.
	// Default: 5
	PollAttempts int `yaml:"poll_attempts"`

	// PollInterval is the initial delay between token-count polls.
	// Default: 500ms
	PollInterval time.Duration `yaml:"poll_interval"`

	// Retention controls pruning of unused records and generated files.
	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig controls the retention scheduler.
type RetentionConfig struct {
	// Enabled turns on scheduled pruning.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Days is how long an unused record or generated file is kept.
	// Default: 30
	Days int `yaml:"days"`

	// Schedule is a standard cron expression.
	// Default: "0 3 * * *"
	Schedule string `yaml:"schedule"`
}

// FilesConfig contains settings for generated files.
type FilesConfig struct {
	// Dir is where generated or downloaded attachments are written.
	// Default: "data/files"
	Dir string `yaml:"dir"`

	// BaseURL prefixes file references emitted in the stream. Empty emits
	// server-relative references ("/files/<name>").
	BaseURL string `yaml:"base_url"`
}

// SecretsConfig contains the secret sources.
type SecretsConfig struct {
	// EnvPrefix is prepended to upper-cased secret names when reading the
	// environment.
	// Default: "RELAY_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`

	// Dir is an optional directory with one file per secret.
	Dir string `yaml:"dir"`

	// Watch reloads secrets from Dir when files change.
	// Default: false
	Watch bool `yaml:"watch"`

	// CacheTTL bounds how long a resolved secret is reused.
	// Default: 5m
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// Redact masks credential material (tokens, cookies, keys) in log fields.
	// Default: true
	Redact bool `yaml:"redact"`

	// RedactPatterns contains additional redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "webrelay"
	Namespace string `yaml:"namespace"`

	// RequestDurationBuckets defines histogram buckets for request duration (seconds).
	// Default: [0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120]
	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP/gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "webrelay"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS for the OTLP connection.
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}
