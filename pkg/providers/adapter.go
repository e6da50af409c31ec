package providers

import (
	"context"
	"io"
	"net/http"
	"sort"

	"mercator-hq/webrelay/pkg/canonical"
	"mercator-hq/webrelay/pkg/credentials"
	"mercator-hq/webrelay/pkg/stream"
)

// Adapter is the contract every web backend implements. The set of adapters
// is closed and built from configuration at startup.
//
// A logical request runs Prepare then Execute. Prepare performs ensure-ready
// work (credential check, attachment resolution, proof-of-work) and builds
// the backend envelope; Execute performs the completion call. Either may
// return an *AuthError, in which case the dispatcher marks the credential
// expired and runs both again.
type Adapter interface {
	// Name returns the backend identifier (e.g. "chatgpt").
	Name() string

	// Models returns the canonical model IDs this adapter serves.
	Models() []string

	// Supports reports whether the adapter serves model.
	Supports(model string) bool

	// Prepare readies the backend and builds the raw request for req.
	Prepare(ctx context.Context, req *canonical.Request) (*RawRequest, error)

	// Execute performs the completion call and returns the open stream.
	Execute(ctx context.Context, raw *RawRequest) (*RawStream, error)

	// Credential returns the adapter's session credential.
	Credential() *credentials.Credential

	// IsHealthy reports passive backend health.
	IsHealthy() bool

	// Close releases resources held by the adapter.
	Close() error
}

// RawRequest is a prepared backend call. It is valid for one attempt.
type RawRequest struct {
	// Model is the backend's model identifier.
	Model string

	// Method, URL, Header and Body describe the completion call.
	Method string
	URL    string
	Header http.Header
	Body   any

	// Generation is the credential generation the request was built with.
	// An auth failure invalidates exactly this generation.
	Generation uint64

	// State carries adapter-specific data from Prepare to Execute.
	State any

	// release undoes side effects of Prepare (e.g. a created chat session)
	// when the request is never executed or its execution fails.
	release func()
}

// OnRelease registers cleanup for a request that does not reach a stream.
func (r *RawRequest) OnRelease(fn func()) {
	prev := r.release
	r.release = func() {
		fn()
		if prev != nil {
			prev()
		}
	}
}

// Release runs and clears the registered cleanup.
func (r *RawRequest) Release() {
	if r != nil && r.release != nil {
		fn := r.release
		r.release = nil
		fn()
	}
}

// TakeRelease hands the cleanup to the caller (typically to run when the
// stream closes) and clears it from the request.
func (r *RawRequest) TakeRelease() func() {
	fn := r.release
	r.release = nil
	return fn
}

// RawStream is an open completion response together with everything the
// normalizer needs to interpret it.
type RawStream struct {
	Body    io.ReadCloser
	Framing stream.Framing
	Decoder stream.Decoder

	// Fetcher resolves generated files; nil when the backend produces none.
	Fetcher stream.Fetcher

	// RequireEnd makes a body without an explicit end marker a failure.
	RequireEnd bool

	// OnClose runs after the body is closed.
	OnClose func()
}

// ModelMap maps canonical model IDs to backend model IDs.
type ModelMap map[string]string

// Resolve returns the backend ID for model.
func (m ModelMap) Resolve(provider, model string) (string, error) {
	if id, ok := m[model]; ok {
		return id, nil
	}
	return "", &ModelNotSupportedError{Provider: provider, Model: model}
}

// Restrict keeps only the listed canonical IDs. An empty list keeps all.
func (m ModelMap) Restrict(models []string) ModelMap {
	if len(models) == 0 {
		return m
	}
	out := make(ModelMap, len(models))
	for _, id := range models {
		if backendID, ok := m[id]; ok {
			out[id] = backendID
		}
	}
	return out
}

// IDs returns the canonical model IDs in sorted order.
func (m ModelMap) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SecretSource resolves long-lived secrets (session tokens, cookie jars) by
// name.
type SecretSource interface {
	GetSecret(ctx context.Context, name string) (string, error)
}
