package logging

import (
	"log/slog"
	"testing"

	"mercator-hq/webrelay/pkg/config"
)

func TestRedactor_RedactString(t *testing.T) {
	r, err := NewRedactor(nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bearer", "Authorization: Bearer abc.def-ghi", "Authorization: Bearer ***"},
		{"jwt", "token eyJhbGciOiJSUzI1NiJ9.eyJzdWIiOiIxIn0.c2ln", "token jwt-***"},
		{"api key", "key sk-abcdef123456", "key sk-***"},
		{"session cookie", "__Secure-next-auth.session-token=eyJx; path=/", "__Secure-next-auth.session-token=***; path=/"},
		{"deepseek cookie", "cf_clearance=abc; ds_session_id=xyz", "cf_clearance=***; ds_session_id=***"},
		{"plain", "hello world", "hello world"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.RedactString(tt.input); got != tt.want {
				t.Errorf("RedactString(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRedactor_CustomPatterns(t *testing.T) {
	r, err := NewRedactor([]config.RedactPattern{
		{Name: "org", Pattern: `org-[0-9]+`, Replacement: "org-***"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := r.RedactString("balance for org-42"); got != "balance for org-***" {
		t.Errorf("got %q", got)
	}
}

func TestRedactor_RedactAttr(t *testing.T) {
	r, _ := NewRedactor(nil)

	tests := []struct {
		name string
		attr slog.Attr
		want string
	}{
		{"sensitive string", slog.String("access_token", "abcdefghijkl"), "abcd***"},
		{"short secret", slog.String("secret", "abc"), "***"},
		{"sensitive any", slog.Any("cookies", map[string]string{"a": "b"}), "***"},
		{"plain string", slog.String("backend", "theb"), "theb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.RedactAttr(tt.attr).Value.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if got := r.RedactAttr(slog.Int("token_count", 5)); got.Value.Int64() != 5 {
		t.Errorf("numeric value altered: %v", got)
	}
}

func TestIsSensitiveKey(t *testing.T) {
	for key, want := range map[string]bool{
		"authorization":  true,
		"Cookie":         true,
		"session_token":  true,
		"api_key":        true,
		"backend":        false,
		"model":          false,
		"remote_file_id": false,
	} {
		if got := IsSensitiveKey(key); got != want {
			t.Errorf("IsSensitiveKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestRedactAPIKey(t *testing.T) {
	tests := map[string]string{
		"":             "",
		"short":        "***",
		"sk-123456789": "sk-1***",
	}
	for in, want := range tests {
		if got := RedactAPIKey(in); got != want {
			t.Errorf("RedactAPIKey(%q) = %q, want %q", in, got, want)
		}
	}
}
