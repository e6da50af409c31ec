package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTPProvider is the base implementation for web backend adapters. It owns
// the pooled HTTP client, classifies responses into the error taxonomy and
// tracks passive health.
//
// It never retries on its own: retry policy belongs to the dispatcher, which
// sees the whole request pipeline.
type HTTPProvider struct {
	// config contains the provider configuration
	config ProviderConfig

	// client is the HTTP client with connection pooling. It has no overall
	// timeout so streaming bodies are not cut off.
	client *http.Client

	// health tracks the provider's health status
	health ProviderHealth

	// healthMu protects concurrent access to health status
	healthMu sync.RWMutex
}

// NewHTTPProvider creates a new base HTTP provider with connection pooling.
func NewHTTPProvider(config ProviderConfig) *HTTPProvider {
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 100
	}
	if config.MaxIdleConnsPerHost == 0 {
		config.MaxIdleConnsPerHost = 10
	}
	if config.IdleConnTimeout == 0 {
		config.IdleConnTimeout = 90 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	transport := config.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        config.MaxIdleConns,
			MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
			IdleConnTimeout:     config.IdleConnTimeout,
			ForceAttemptHTTP2:   true,
		}
	}

	return &HTTPProvider{
		config: config,
		client: &http.Client{Transport: transport},
		health: ProviderHealth{
			IsHealthy:             true,
			LastCheck:             time.Now(),
			LastSuccessfulRequest: time.Now(),
		},
	}
}

// Name returns the provider's configured name.
func (p *HTTPProvider) Name() string {
	return p.config.Name
}

// Config returns the provider's configuration.
func (p *HTTPProvider) Config() ProviderConfig {
	return p.config
}

// URL joins path onto the configured base URL.
func (p *HTTPProvider) URL(path string) string {
	return strings.TrimRight(p.config.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// IsHealthy returns the current health status.
func (p *HTTPProvider) IsHealthy() bool {
	p.healthMu.RLock()
	defer p.healthMu.RUnlock()
	return p.health.IsHealthy
}

// GetHealth returns detailed health information.
func (p *HTTPProvider) GetHealth() ProviderHealth {
	p.healthMu.RLock()
	defer p.healthMu.RUnlock()
	return p.health
}

// record updates health after a request outcome. Authentication and
// client-side rejections say nothing about backend availability and are not
// counted against health.
func (p *HTTPProvider) record(err error) {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()

	p.health.TotalRequests++
	p.health.LastCheck = time.Now()

	if err == nil || !IsTransient(err) {
		if err != nil {
			p.health.FailedRequests++
		}
		p.health.IsHealthy = true
		p.health.ConsecutiveFailures = 0
		p.health.LastError = nil
		p.health.LastSuccessfulRequest = time.Now()
		return
	}

	p.health.FailedRequests++
	p.health.ConsecutiveFailures++
	p.health.LastError = err
	if p.health.ConsecutiveFailures >= unhealthyAfter && p.health.IsHealthy {
		p.health.IsHealthy = false
		slog.Warn("provider marked unhealthy",
			"provider", p.config.Name,
			"consecutive_failures", p.health.ConsecutiveFailures,
			"error", err,
		)
	}
}

// NewRequest builds a request against the backend. body may be nil, []byte,
// io.Reader, or any value that is encoded as JSON.
func (p *HTTPProvider) NewRequest(ctx context.Context, method, url string, body any, headers http.Header) (*http.Request, error) {
	var (
		reader io.Reader
		isJSON bool
	)
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	case io.Reader:
		reader = b
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
		isJSON = true
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}
	for key, values := range p.config.DefaultHeaders {
		req.Header[key] = append([]string(nil), values...)
	}
	for key, values := range headers {
		req.Header[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}
	if isJSON && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// Do sends req once and classifies the outcome. On success the caller owns
// the response body. On failure the body has been consumed and closed.
func (p *HTTPProvider) Do(req *http.Request) (*http.Response, error) {
	slog.Debug("sending request to provider",
		"provider", p.config.Name,
		"method", req.Method,
		"url", req.URL.Redacted(),
	)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			// Caller went away; not a backend failure.
			return nil, ctxErr
		}
		terr := &TransientError{Provider: p.config.Name, Message: "request failed", Cause: err}
		p.record(terr)
		return nil, terr
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.record(nil)
		return resp, nil
	}

	err = p.classify(resp)
	p.record(err)
	return nil, err
}

// classify reads the error body and maps the status code.
func (p *HTTPProvider) classify(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	resp.Body.Close()
	detail := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Provider: p.config.Name, StatusCode: resp.StatusCode, Message: detail}
	case resp.StatusCode >= 500:
		slog.Warn("provider returned server error",
			"provider", p.config.Name,
			"status", resp.StatusCode,
		)
		return &TransientError{Provider: p.config.Name, StatusCode: resp.StatusCode, Message: detail}
	default:
		return &UpstreamError{Provider: p.config.Name, StatusCode: resp.StatusCode, Detail: detail}
	}
}

// DoStream performs the completion call. The request is bounded only by
// ctx, never by the auxiliary timeout.
func (p *HTTPProvider) DoStream(ctx context.Context, method, url string, body any, headers http.Header) (*http.Response, error) {
	req, err := p.NewRequest(ctx, method, url, body, headers)
	if err != nil {
		return nil, err
	}
	return p.Do(req)
}

// DoBytes performs an auxiliary call bounded by the configured timeout and
// returns the whole response body.
func (p *HTTPProvider) DoBytes(ctx context.Context, method, url string, body any, headers http.Header) ([]byte, http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req, err := p.NewRequest(ctx, method, url, body, headers)
	if err != nil {
		return nil, nil, err
	}
	resp, err := p.Do(req)
	if err != nil {
		return nil, nil, p.timeoutAware(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, p.timeoutAware(ctx, &TransientError{
			Provider: p.config.Name,
			Message:  "failed to read response",
			Cause:    err,
		})
	}
	return data, resp.Header, nil
}

// DoJSON performs an auxiliary call and decodes a JSON response into
// respBody (which may be nil).
func (p *HTTPProvider) DoJSON(ctx context.Context, method, url string, reqBody, respBody any, headers http.Header) error {
	data, _, err := p.DoBytes(ctx, method, url, reqBody, headers)
	if err != nil {
		return err
	}

	if respBody != nil && len(data) > 0 {
		if err := json.Unmarshal(data, respBody); err != nil {
			return &ParseError{
				Provider:    p.config.Name,
				RawResponse: truncate(string(data), 512),
				Cause:       fmt.Errorf("failed to unmarshal response: %w", err),
			}
		}
	}
	return nil
}

// timeoutAware turns an expired auxiliary deadline into a TransientError.
func (p *HTTPProvider) timeoutAware(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !IsTransient(err) {
		return &TransientError{
			Provider: p.config.Name,
			Message:  fmt.Sprintf("request timeout after %s", p.config.Timeout),
			Cause:    err,
		}
	}
	return err
}

// Close releases idle connections.
func (p *HTTPProvider) Close() error {
	p.client.CloseIdleConnections()
	slog.Debug("provider closed", "provider", p.config.Name)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
