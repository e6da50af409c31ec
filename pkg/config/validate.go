package config

import (
	"fmt"
	"net/url"
	"strings"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "proxy.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateProxy(&cfg.Proxy)...)
	errs = append(errs, validateBackend("backends.chatgpt", &cfg.Backends.ChatGPT.BackendConfig)...)
	errs = append(errs, validateBackend("backends.deepseek", &cfg.Backends.DeepSeek.BackendConfig)...)
	errs = append(errs, validateBackend("backends.huggingchat", &cfg.Backends.HuggingChat.BackendConfig)...)
	errs = append(errs, validateBackend("backends.theb", &cfg.Backends.TheB.BackendConfig)...)
	errs = append(errs, validateBackendSecrets(&cfg.Backends)...)
	errs = append(errs, validateDispatch(&cfg.Dispatch)...)
	errs = append(errs, validatePoW(&cfg.PoW)...)
	errs = append(errs, validateAttachments(&cfg.Attachments)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateProxy(cfg *ProxyConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "proxy.listen_address",
			Message: "listen address is required",
		})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "proxy.read_timeout", Message: "read timeout must be positive"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "proxy.write_timeout", Message: "write timeout must be non-negative"})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{Field: "proxy.idle_timeout", Message: "idle timeout must be positive"})
	}
	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{Field: "proxy.max_header_bytes", Message: "max header bytes must be non-negative"})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{Field: "proxy.max_body_bytes", Message: "max body bytes must be non-negative"})
	}
	if cfg.Auth.Enabled && cfg.Auth.KeysSecret == "" {
		errs = append(errs, FieldError{Field: "proxy.auth.keys_secret", Message: "keys secret is required when auth is enabled"})
	}

	return errs
}

func validateBackend(field string, b *BackendConfig) []FieldError {
	if !b.Enabled {
		return nil
	}
	var errs []FieldError

	u, err := url.Parse(b.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, FieldError{
			Field:   field + ".base_url",
			Message: fmt.Sprintf("invalid URL %q", b.BaseURL),
		})
	}
	if b.Timeout < 0 {
		errs = append(errs, FieldError{Field: field + ".timeout", Message: "timeout must be positive"})
	}

	return errs
}

func validateBackendSecrets(b *BackendsConfig) []FieldError {
	var errs []FieldError

	if b.DeepSeek.Enabled && b.DeepSeek.TokenSecret == "" {
		errs = append(errs, FieldError{
			Field:   "backends.deepseek.token_secret",
			Message: "token secret is required when the backend is enabled",
		})
	}
	if b.HuggingChat.Enabled && b.HuggingChat.CookieSecret == "" {
		errs = append(errs, FieldError{
			Field:   "backends.huggingchat.cookie_secret",
			Message: "cookie secret is required when the backend is enabled",
		})
	}
	if b.TheB.Enabled && b.TheB.AccountsSecret == "" {
		errs = append(errs, FieldError{
			Field:   "backends.theb.accounts_secret",
			Message: "accounts secret is required when the backend is enabled",
		})
	}

	return errs
}

func validateDispatch(cfg *DispatchConfig) []FieldError {
	var errs []FieldError

	if cfg.AuthRetryBudget < 0 {
		errs = append(errs, FieldError{Field: "dispatch.auth_retry_budget", Message: "must be non-negative"})
	}
	if cfg.TransientRetries < 0 {
		errs = append(errs, FieldError{Field: "dispatch.transient_retries", Message: "must be non-negative"})
	}
	if cfg.RetryJitter < 0 || cfg.RetryJitter > 1 {
		errs = append(errs, FieldError{Field: "dispatch.retry_jitter", Message: "must be between 0.0 and 1.0"})
	}

	return errs
}

func validatePoW(cfg *PoWConfig) []FieldError {
	var errs []FieldError

	if cfg.Workers < 1 {
		errs = append(errs, FieldError{Field: "pow.workers", Message: "at least one worker is required"})
	}
	if cfg.MaxAttempts < 1 {
		errs = append(errs, FieldError{Field: "pow.max_attempts", Message: "must be positive"})
	}

	return errs
}

func validateAttachments(cfg *AttachmentsConfig) []FieldError {
	var errs []FieldError

	switch cfg.Driver {
	case "sqlite", "sqlite3":
		if cfg.Path == "" {
			errs = append(errs, FieldError{Field: "attachments.path", Message: "path is required for sqlite drivers"})
		}
	case "memory":
	default:
		errs = append(errs, FieldError{
			Field:   "attachments.driver",
			Message: fmt.Sprintf("unknown driver %q (must be sqlite, sqlite3, or memory)", cfg.Driver),
		})
	}

	switch cfg.FallbackPolicy {
	case "ace_upload", "as_file", "reject":
	default:
		errs = append(errs, FieldError{
			Field:   "attachments.fallback_policy",
			Message: fmt.Sprintf("unknown policy %q (must be ace_upload, as_file, or reject)", cfg.FallbackPolicy),
		})
	}

	if cfg.PollAttempts < 0 {
		errs = append(errs, FieldError{Field: "attachments.poll_attempts", Message: "must be non-negative"})
	}
	if cfg.Retention.Enabled && cfg.Retention.Days < 1 {
		errs = append(errs, FieldError{Field: "attachments.retention.days", Message: "must be at least 1"})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q", cfg.Logging.Level),
		})
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "path must start with /"})
	}

	switch cfg.Tracing.Sampler {
	case "always", "never", "ratio":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0.0 and 1.0"})
	}

	return errs
}
