package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"mercator-hq/webrelay/pkg/canonical"
)

// maxPartBytes bounds a fetched image or file.
const maxPartBytes = 32 << 20

// PartContent returns the bytes and mime type behind an image or file part.
// Inline parts are returned as is, data: URIs are decoded and http(s) URIs
// are fetched with the provider's client (without backend credentials).
// Failures are reported as *AttachmentError with Op "fetch".
func (p *HTTPProvider) PartContent(ctx context.Context, part canonical.Part) ([]byte, string, error) {
	if part.Inline() {
		return part.Data(), part.MIME(), nil
	}

	uri := part.URI()
	if strings.HasPrefix(uri, "data:") {
		data, mimeType, err := DecodeDataURI(uri)
		if err != nil {
			return nil, "", &AttachmentError{Provider: p.config.Name, Op: "fetch", Cause: err}
		}
		if mimeType == "" {
			mimeType = part.MIME()
		}
		return data, mimeType, nil
	}

	u, err := url.Parse(uri)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", &AttachmentError{
			Provider: p.config.Name,
			Op:       "fetch",
			Cause:    fmt.Errorf("unsupported attachment uri %q", truncate(uri, 64)),
		}
	}

	data, mimeType, err := p.fetchURL(ctx, u.String())
	if err != nil {
		return nil, "", &AttachmentError{Provider: p.config.Name, Op: "fetch", Cause: err}
	}
	if mimeType == "" {
		mimeType = part.MIME()
	}
	return data, mimeType, nil
}

func (p *HTTPProvider) fetchURL(ctx context.Context, rawURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: status %d", req.URL.Redacted(), resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPartBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxPartBytes {
		return nil, "", fmt.Errorf("attachment exceeds %d bytes", maxPartBytes)
	}

	mimeType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return data, mimeType, nil
}

// DecodeDataURI decodes an RFC 2397 data URI.
func DecodeDataURI(uri string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, "", fmt.Errorf("not a data uri")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data uri")
	}

	isBase64 := strings.HasSuffix(meta, ";base64")
	meta = strings.TrimSuffix(meta, ";base64")
	mimeType, _, _ := strings.Cut(meta, ";")

	if !isBase64 {
		text, err := url.PathUnescape(payload)
		if err != nil {
			return nil, "", fmt.Errorf("malformed data uri: %w", err)
		}
		return []byte(text), mimeType, nil
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some clients strip padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, "", fmt.Errorf("malformed base64 payload: %w", err)
		}
	}
	return data, mimeType, nil
}
