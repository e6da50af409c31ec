package secrets

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
)

// EnvProvider reads secrets from environment variables.
//
// The variable name is the prefix followed by the upper-cased secret name
// with '-' and '.' replaced by '_':
//
//	chatgpt-session  ->  RELAY_SECRET_CHATGPT_SESSION
type EnvProvider struct {
	Prefix string
}

// NewEnvProvider returns an environment provider using prefix.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{Prefix: prefix}
}

// GetSecret returns the variable's value. An empty variable is not found.
func (p *EnvProvider) GetSecret(_ context.Context, name string) (string, error) {
	envVar := p.secretNameToEnvVar(name)

	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("secret not found in environment: %s (env var: %s)", name, envVar)
	}
	return value, nil
}

// ListSecrets returns the names of prefixed variables, converted back to
// secret form (lower case, '_' as '-').
func (p *EnvProvider) ListSecrets(_ context.Context) ([]string, error) {
	var secrets []string
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, p.Prefix) {
			continue
		}
		name, _, ok := strings.Cut(env, "=")
		if !ok || name == p.Prefix {
			continue
		}
		secrets = append(secrets, p.envVarToSecretName(name))
	}
	sort.Strings(secrets)
	return secrets, nil
}

func (p *EnvProvider) Name() string {
	return "env"
}

// Supports always reports true so the environment acts as the fallback.
func (p *EnvProvider) Supports(string) bool {
	return true
}

func (p *EnvProvider) secretNameToEnvVar(name string) string {
	r := strings.NewReplacer("-", "_", ".", "_")
	return p.Prefix + strings.ToUpper(r.Replace(name))
}

func (p *EnvProvider) envVarToSecretName(envVar string) string {
	name := strings.TrimPrefix(envVar, p.Prefix)
	return strings.ToLower(strings.ReplaceAll(name, "_", "-"))
}
