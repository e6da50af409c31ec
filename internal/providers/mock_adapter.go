package providers

import (
	"context"
	"io"
	"strings"
	"sync"

	"mercator-hq/webrelay/pkg/canonical"
	"mercator-hq/webrelay/pkg/credentials"
	"mercator-hq/webrelay/pkg/providers"
	"mercator-hq/webrelay/pkg/stream"
)

// MockAdapter is a scripted providers.Adapter. Its stream is SSE where every
// data payload is incremental text.
type MockAdapter struct {
	name    string
	models  []string
	cred    *credentials.Credential
	healthy bool

	// Answer is streamed as one SSE event per element, then [DONE].
	Answer []string

	// PrepareErr and ExecuteErr are consulted with the 1-based call number.
	// A non-nil result fails that call.
	PrepareErr func(call int) error
	ExecuteErr func(call int) error

	// Body overrides the streamed body.
	Body func() io.ReadCloser

	mu       sync.Mutex
	prepares int
	executes int
	released int
	closed   int
}

// NewMockAdapter returns a healthy adapter serving models with a Fresh
// credential.
func NewMockAdapter(name string, models ...string) *MockAdapter {
	return &MockAdapter{
		name:    name,
		models:  models,
		healthy: true,
		cred: credentials.New(name,
			credentials.Static(credentials.Secret{Token: name + "-token"}),
			credentials.WithInitial(credentials.Secret{Token: name + "-token"})),
		Answer: []string{"mock ", "response"},
	}
}

// SetHealthy sets the reported health.
func (m *MockAdapter) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

// SetCredential replaces the credential.
func (m *MockAdapter) SetCredential(c *credentials.Credential) {
	m.cred = c
}

func (m *MockAdapter) Name() string     { return m.name }
func (m *MockAdapter) Models() []string { return m.models }

func (m *MockAdapter) Supports(model string) bool {
	for _, id := range m.models {
		if id == model {
			return true
		}
	}
	return false
}

func (m *MockAdapter) Credential() *credentials.Credential { return m.cred }

func (m *MockAdapter) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

// Prepare takes the credential and returns a request stamped with its
// generation.
func (m *MockAdapter) Prepare(ctx context.Context, req *canonical.Request) (*providers.RawRequest, error) {
	m.mu.Lock()
	m.prepares++
	call := m.prepares
	m.mu.Unlock()

	if !m.Supports(req.Model) {
		return nil, &providers.ModelNotSupportedError{Provider: m.name, Model: req.Model}
	}

	secret, err := m.cred.Get(ctx)
	if err != nil {
		return nil, &providers.AuthError{Provider: m.name, Message: err.Error()}
	}

	if m.PrepareErr != nil {
		if err := m.PrepareErr(call); err != nil {
			return nil, providers.StampGeneration(err, secret.Generation)
		}
	}

	raw := &providers.RawRequest{Model: req.Model, Generation: secret.Generation}
	raw.OnRelease(func() {
		m.mu.Lock()
		m.released++
		m.mu.Unlock()
	})
	return raw, nil
}

// Execute fails as scripted or opens the answer stream.
func (m *MockAdapter) Execute(_ context.Context, raw *providers.RawRequest) (*providers.RawStream, error) {
	m.mu.Lock()
	m.executes++
	call := m.executes
	m.mu.Unlock()

	if m.ExecuteErr != nil {
		if err := m.ExecuteErr(call); err != nil {
			return nil, providers.StampGeneration(err, raw.Generation)
		}
	}

	var body io.ReadCloser
	if m.Body != nil {
		body = m.Body()
	} else {
		var b strings.Builder
		for _, s := range SSE(m.Answer...) {
			b.WriteString(s)
		}
		b.WriteString("data: [DONE]\n\n")
		body = io.NopCloser(strings.NewReader(b.String()))
	}

	return &providers.RawStream{
		Body:    body,
		Framing: stream.FramingSSE,
		Decoder: stream.DecoderFunc(func(line stream.Line) ([]stream.Event, error) {
			return []stream.Event{stream.TextEvent(string(line.Data), stream.Incremental)}, nil
		}),
		OnClose: raw.TakeRelease(),
	}, nil
}

// Prepares returns how many times Prepare ran.
func (m *MockAdapter) Prepares() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prepares
}

// Executes returns how many upstream calls were made.
func (m *MockAdapter) Executes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executes
}

// Released returns how many prepared requests were cleaned up.
func (m *MockAdapter) Released() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// Closed returns how many times Close ran.
func (m *MockAdapter) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ReadCounter wraps a body and counts Read calls.
type ReadCounter struct {
	R io.Reader

	mu     sync.Mutex
	reads  int
	closed bool
}

func (c *ReadCounter) Read(p []byte) (int, error) {
	c.mu.Lock()
	c.reads++
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}
	return c.R.Read(p)
}

func (c *ReadCounter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Reads returns the number of Read calls.
func (c *ReadCounter) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// IsClosed reports whether Close ran.
func (c *ReadCounter) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
