package secrets

import (
	"context"
	"reflect"
	"testing"
)

func TestEnvProvider_GetSecret(t *testing.T) {
	t.Setenv("RELAY_SECRET_CHATGPT_SESSION", "session-value")
	t.Setenv("RELAY_SECRET_DS_TOKEN", "bearer-value")

	p := NewEnvProvider("RELAY_SECRET_")

	tests := []struct {
		name    string
		secret  string
		want    string
		wantErr bool
	}{
		{"hyphenated", "chatgpt-session", "session-value", false},
		{"dotted", "chatgpt.session", "session-value", false},
		{"underscored", "ds_token", "bearer-value", false},
		{"missing", "theb-accounts", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.GetSecret(context.Background(), tt.secret)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("GetSecret() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnvProvider_ListSecrets(t *testing.T) {
	t.Setenv("WEBRELAY_TEST_SECRET_HF_CHAT", "a")
	t.Setenv("WEBRELAY_TEST_SECRET_THEB_ACCOUNTS", "b")

	p := NewEnvProvider("WEBRELAY_TEST_SECRET_")
	got, err := p.ListSecrets(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"hf-chat", "theb-accounts"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ListSecrets() = %v, want %v", got, want)
	}
}
