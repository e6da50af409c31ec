package logging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"mercator-hq/webrelay/pkg/config"
)

// Redactor masks credential material in log output: values of sensitive
// keys are cut to a short prefix, and known token shapes are replaced
// inside any string.
type Redactor struct {
	patterns []*redactPattern
}

type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Built-in pattern names.
const (
	PatternBearerToken = "bearer_token"
	PatternAPIKey      = "api_key"
	PatternJWT         = "jwt"
	PatternCookie      = "cookie_pair"
)

var defaultPatterns = []struct {
	name        string
	regex       string
	replacement string
}{
	{PatternBearerToken, `Bearer\s+[a-zA-Z0-9\-._~+/]+=*`, "Bearer ***"},
	{PatternJWT, `eyJ[a-zA-Z0-9_-]{8,}\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]*`, "jwt-***"},
	{PatternAPIKey, `sk-[a-zA-Z0-9_-]{8,}`, "sk-***"},
	// Session cookies of the supported backends.
	{PatternCookie, `(__Secure-next-auth\.session-token|cf_clearance|hf-chat|ds_session_id)=[^;\s]+`, "$1=***"},
}

var sensitiveKeys = []string{
	"token", "secret", "password", "passwd",
	"authorization", "cookie", "session",
	"api_key", "apikey", "private_key",
}

// NewRedactor returns a redactor with the built-in patterns plus extra.
func NewRedactor(extra []config.RedactPattern) (*Redactor, error) {
	r := &Redactor{}
	for _, p := range defaultPatterns {
		r.patterns = append(r.patterns, &redactPattern{
			name:        p.name,
			regex:       regexp.MustCompile(p.regex),
			replacement: p.replacement,
		})
	}

	for _, p := range extra {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redact pattern %q: %w", p.Name, err)
		}
		r.patterns = append(r.patterns, &redactPattern{
			name:        p.Name,
			regex:       regex,
			replacement: p.Replacement,
		})
	}

	return r, nil
}

// RedactString replaces every known token shape in value.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

// RedactAttr redacts one attribute, descending into groups.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()

	if v.Kind() == slog.KindGroup {
		attrs := v.Group()
		out := make([]any, len(attrs))
		for i, ga := range attrs {
			out[i] = r.RedactAttr(ga)
		}
		return slog.Group(a.Key, out...)
	}

	switch v.Kind() {
	case slog.KindString:
		if IsSensitiveKey(a.Key) {
			return slog.String(a.Key, RedactAPIKey(v.String()))
		}
		return slog.String(a.Key, r.RedactString(v.String()))
	case slog.KindAny:
		if IsSensitiveKey(a.Key) {
			return slog.String(a.Key, "***")
		}
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

// IsSensitiveKey reports whether a field name suggests credential material.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// RedactAPIKey keeps the first four characters of a secret.
func RedactAPIKey(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:4] + "***"
}
