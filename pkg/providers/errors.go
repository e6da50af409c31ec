package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"mercator-hq/webrelay/pkg/canonical"
)

// ModelNotSupportedError is returned when no adapter, or not the selected
// adapter, serves the requested model.
type ModelNotSupportedError struct {
	// Provider is empty when no adapter claims the model at all.
	Provider string

	// Model is the requested canonical model identifier
	Model string
}

// Error implements the error interface.
func (e *ModelNotSupportedError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("model %q is not supported", e.Model)
	}
	return fmt.Sprintf("provider %q does not support model %q", e.Provider, e.Model)
}

// AuthError reports that the backend rejected the current credential
// (HTTP 401/403 or an equivalent in-body code). The credential should be
// marked expired and refreshed before the next attempt.
type AuthError struct {
	// Provider is the name of the provider that rejected authentication
	Provider string

	// StatusCode is the HTTP status code (0 if signalled in the body)
	StatusCode int

	// Message is the error message from the provider
	Message string

	// Generation is the credential generation that was rejected. Zero means
	// unknown; the dispatcher then uses the generation of the raw request.
	Generation uint64
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("provider %q authentication failed (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// AuthExhaustedError is returned once a request has used its whole
// credential refresh budget.
type AuthExhaustedError struct {
	Provider string

	// Refreshes is the number of refreshes performed for the request.
	Refreshes int

	// Last is the final authentication error.
	Last error
}

// Error implements the error interface.
func (e *AuthExhaustedError) Error() string {
	return fmt.Sprintf("provider %q: authentication failed after %d credential refreshes: %v", e.Provider, e.Refreshes, e.Last)
}

// Unwrap returns the last authentication error.
func (e *AuthExhaustedError) Unwrap() error {
	return e.Last
}

// ChallengeUnsolvedError reports a proof-of-work search that found no
// answer. It is informational: adapters send a fallback answer and let the
// backend decide.
type ChallengeUnsolvedError struct {
	Provider  string
	Algorithm string
}

// Error implements the error interface.
func (e *ChallengeUnsolvedError) Error() string {
	return fmt.Sprintf("provider %q: %s challenge not solved within budget", e.Provider, e.Algorithm)
}

// UpstreamError is a non-retryable backend rejection. Detail carries the
// backend's own message verbatim.
type UpstreamError struct {
	// Provider is the name of the provider that returned the error
	Provider string

	// StatusCode is the HTTP status code (0 if signalled in the body)
	StatusCode int

	// Detail is the backend's error body or message
	Detail string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %q error (status %d): %s", e.Provider, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("provider %q error: %s", e.Provider, e.Detail)
}

// TransientError is a failure worth one retry: 5xx responses, connection
// errors and timeouts on auxiliary calls.
type TransientError struct {
	// Provider is the name of the provider
	Provider string

	// StatusCode is the HTTP status code (0 for network failures)
	StatusCode int

	// Message describes the failure
	Message string

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %q transient failure (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("provider %q transient failure: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("provider %q transient failure: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *TransientError) Unwrap() error {
	return e.Cause
}

// AttachmentError reports that an attachment could not be uploaded,
// verified or fetched.
type AttachmentError struct {
	Provider string

	// Op is the step that failed (e.g. "request_slot", "put", "confirm").
	Op string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *AttachmentError) Error() string {
	return fmt.Sprintf("provider %q attachment %s failed: %v", e.Provider, e.Op, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *AttachmentError) Unwrap() error {
	return e.Cause
}

// ParseError represents a response parsing failure.
type ParseError struct {
	// Provider is the name of the provider that returned the malformed response
	Provider string

	// RawResponse is the raw response body that failed to parse
	RawResponse string

	// Cause is the underlying parse error
	Cause error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("provider %q response parse error: %v", e.Provider, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// ConfigError represents a configuration error.
type ConfigError struct {
	// Provider is the name of the provider with invalid configuration
	Provider string

	// Field is the name of the invalid configuration field
	Field string

	// Message describes the configuration error
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %q configuration error for field %q: %s", e.Provider, e.Field, e.Message)
}

// Kind maps an error to its stable kind string.
func Kind(err error) canonical.ErrorKind {
	var (
		modelErr     *ModelNotSupportedError
		authErr      *AuthError
		exhaustedErr *AuthExhaustedError
		challengeErr *ChallengeUnsolvedError
		upstreamErr  *UpstreamError
		transientErr *TransientError
		attachErr    *AttachmentError
		parseErr     *ParseError
	)

	switch {
	case errors.As(err, &modelErr):
		return canonical.ErrModelNotSupported
	case errors.As(err, &exhaustedErr):
		return canonical.ErrAuthExhausted
	case errors.As(err, &attachErr):
		return canonical.ErrAttachmentFailure
	case errors.As(err, &authErr):
		return canonical.ErrAuthExpired
	case errors.As(err, &challengeErr):
		return canonical.ErrChallengeUnsolved
	case errors.As(err, &upstreamErr):
		return canonical.ErrUpstream
	case errors.As(err, &parseErr):
		return canonical.ErrStreamParseAnomaly
	case errors.As(err, &transientErr),
		errors.Is(err, context.DeadlineExceeded):
		return canonical.ErrTransientUpstream
	}
	return canonical.ErrUpstream
}

// StatusCode returns the HTTP status a front-end should answer with for err.
func StatusCode(err error) int {
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) && upstreamErr.StatusCode >= 400 && upstreamErr.StatusCode < 500 {
		return upstreamErr.StatusCode
	}

	switch Kind(err) {
	case canonical.ErrModelNotSupported:
		return http.StatusNotFound
	case canonical.ErrAuthExpired, canonical.ErrAuthExhausted:
		return http.StatusUnauthorized
	case canonical.ErrAttachmentFailure:
		return http.StatusUnprocessableEntity
	case canonical.ErrTransientUpstream:
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

// IsAuth reports whether err asks for a credential refresh.
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// StampGeneration records gen on the AuthError inside err, unless one is
// already recorded. It returns err unchanged.
func StampGeneration(err error, gen uint64) error {
	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.Generation == 0 {
		authErr.Generation = gen
	}
	return err
}

// AuthGeneration returns the credential generation recorded on err.
func AuthGeneration(err error) uint64 {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Generation
	}
	return 0
}

// IsTransient reports whether err is worth a retry.
func IsTransient(err error) bool {
	var transientErr *TransientError
	return errors.As(err, &transientErr)
}
