package secrets

import "context"

// Provider retrieves secrets from one source.
type Provider interface {
	// GetSecret retrieves a secret by name.
	GetSecret(ctx context.Context, name string) (string, error)

	// ListSecrets returns the secret names available from this provider.
	// Values are never included.
	ListSecrets(ctx context.Context) ([]string, error)

	// Name returns the provider name (env, file).
	Name() string

	// Supports reports whether the provider can resolve name.
	Supports(name string) bool
}

// Refreshable is a provider that can drop what it has cached.
type Refreshable interface {
	Provider

	// Refresh discards cached values so the next read hits the source.
	Refresh(ctx context.Context) error
}

// Notifier is a provider that reports changed secrets. The callback
// receives the secret name.
type Notifier interface {
	Notify(fn func(name string))
}
