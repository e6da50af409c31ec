package providers

import (
	"net/http"
	"time"
)

// ProviderHealth tracks the passive health of a backend, derived from the
// outcome of real requests.
type ProviderHealth struct {
	// IsHealthy indicates whether the provider is currently healthy
	IsHealthy bool

	// LastCheck is the timestamp of the last recorded outcome
	LastCheck time.Time

	// LastError is the most recent error encountered (nil if healthy)
	LastError error

	// ConsecutiveFailures counts sequential failed requests
	ConsecutiveFailures int

	// LastSuccessfulRequest is the timestamp of the last successful request
	LastSuccessfulRequest time.Time

	// TotalRequests is the total number of requests sent to this provider
	TotalRequests int64

	// FailedRequests is the total number of failed requests
	FailedRequests int64
}

// ProviderConfig contains the HTTP settings shared by every adapter.
type ProviderConfig struct {
	// Name is the provider identifier (e.g., "chatgpt", "deepseek")
	Name string

	// BaseURL is the backend origin
	BaseURL string

	// Timeout bounds auxiliary calls. Completion calls are not bounded.
	Timeout time.Duration

	// UserAgent is sent on every request
	UserAgent string

	// DefaultHeaders are added to every request unless overridden
	DefaultHeaders http.Header

	// MaxIdleConns is the maximum number of idle connections in the pool
	MaxIdleConns int

	// MaxIdleConnsPerHost is the maximum idle connections per host
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long an idle connection remains in the pool
	IdleConnTimeout time.Duration

	// Transport overrides the HTTP transport (tests)
	Transport http.RoundTripper
}

// Health thresholds.
const (
	unhealthyAfter    = 3
	maxErrorBodyBytes = 64 << 10
)
