package providers

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"mercator-hq/webrelay/pkg/canonical"
	"mercator-hq/webrelay/pkg/providers"
	"mercator-hq/webrelay/pkg/stream"
)

// TestConfig returns a provider configuration pointing at baseURL with short
// timeouts.
func TestConfig(name, baseURL string) providers.ProviderConfig {
	return providers.ProviderConfig{
		Name:      name,
		BaseURL:   baseURL,
		Timeout:   5 * time.Second,
		UserAgent: "webrelay-test",
	}
}

// Secrets is an in-memory secret source.
type Secrets map[string]string

// GetSecret implements providers.SecretSource.
func (s Secrets) GetSecret(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", errors.New("secret not found: " + name)
	}
	return v, nil
}

// MemorySink keeps saved attachments in memory and returns "mem://<name>".
type MemorySink struct {
	Saved map[string][]byte
}

// Save implements stream.Sink.
func (m *MemorySink) Save(_ context.Context, name, _ string, data []byte) (string, error) {
	if m.Saved == nil {
		m.Saved = make(map[string][]byte)
	}
	m.Saved[name] = data
	return "mem://" + name, nil
}

// TextRequest builds a single-turn canonical request.
func TextRequest(model, text string) *canonical.Request {
	return &canonical.Request{
		Model:    model,
		Messages: []canonical.Message{canonical.NewMessage(canonical.RoleUser, canonical.Text(text))},
		Stream:   true,
	}
}

// Drain runs raw through a normalizer and returns the concatenated text and
// the terminal delta.
func Drain(t *testing.T, backend string, raw *providers.RawStream, sink stream.Sink) (string, canonical.Delta) {
	t.Helper()

	n := stream.New(raw.Body, stream.Options{
		Backend:    backend,
		Framing:    raw.Framing,
		Decoder:    raw.Decoder,
		Fetcher:    raw.Fetcher,
		Sink:       sink,
		RequireEnd: raw.RequireEnd,
		OnClose:    raw.OnClose,
	})
	defer n.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		text     string
		terminal canonical.Delta
	)
	for {
		d, err := n.Next(ctx)
		if errors.Is(err, io.EOF) {
			return text, terminal
		}
		if err != nil {
			t.Fatalf("stream failed: %v", err)
		}
		if d.IsTerminal() {
			terminal = d
			continue
		}
		text += d.Content()
	}
}
