package config

import (
	"strings"
	"testing"
)

func TestValidate_DefaultConfig(t *testing.T) {
	if err := Validate(NewDefault()); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "empty listen address",
			mutate: func(c *Config) { c.Proxy.ListenAddress = "" },
			field:  "proxy.listen_address",
		},
		{
			name:   "auth without keys secret",
			mutate: func(c *Config) { c.Proxy.Auth.Enabled = true },
			field:  "proxy.auth.keys_secret",
		},
		{
			name: "enabled backend with bad URL",
			mutate: func(c *Config) {
				c.Backends.ChatGPT.Enabled = true
				c.Backends.ChatGPT.BaseURL = "not a url"
			},
			field: "backends.chatgpt.base_url",
		},
		{
			name: "huggingchat without cookie",
			mutate: func(c *Config) {
				c.Backends.HuggingChat.Enabled = true
			},
			field: "backends.huggingchat.cookie_secret",
		},
		{
			name:   "negative auth budget",
			mutate: func(c *Config) { c.Dispatch.AuthRetryBudget = -1 },
			field:  "dispatch.auth_retry_budget",
		},
		{
			name:   "jitter out of range",
			mutate: func(c *Config) { c.Dispatch.RetryJitter = 1.5 },
			field:  "dispatch.retry_jitter",
		},
		{
			name:   "unknown fallback policy",
			mutate: func(c *Config) { c.Attachments.FallbackPolicy = "drop" },
			field:  "attachments.fallback_policy",
		},
		{
			name:   "sqlite without path",
			mutate: func(c *Config) { c.Attachments.Path = "" },
			field:  "attachments.path",
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Telemetry.Logging.Level = "verbose" },
			field:  "telemetry.logging.level",
		},
		{
			name:   "bad sampler",
			mutate: func(c *Config) { c.Telemetry.Tracing.Sampler = "sometimes" },
			field:  "telemetry.tracing.sampler",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			verr, ok := err.(ValidationError)
			if !ok {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %q, got %v", tt.field, verr.Errors)
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	single := ValidationError{Errors: []FieldError{{Field: "a", Message: "bad"}}}
	if single.Error() != "configuration validation failed: a: bad" {
		t.Errorf("unexpected message %q", single.Error())
	}

	multi := ValidationError{Errors: []FieldError{{Field: "a", Message: "bad"}, {Field: "b", Message: "worse"}}}
	if !strings.Contains(multi.Error(), "2 errors") {
		t.Errorf("unexpected message %q", multi.Error())
	}
}
