package proxy

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"mercator-hq/webrelay/pkg/canonical"
	"mercator-hq/webrelay/pkg/providers"
	"mercator-hq/webrelay/pkg/proxy/types"
)

const (
	// DefaultMaxBodyBytes bounds a request body when the server sets no
	// limit. Inline images count against it.
	DefaultMaxBodyBytes = 32 << 20

	// RequestIDHeader is the HTTP header for request ID propagation.
	RequestIDHeader = "X-Request-ID"
)

// ParseChatCompletionRequest decodes and validates a request body of at
// most maxBytes (DefaultMaxBodyBytes when zero).
func ParseChatCompletionRequest(r *http.Request, maxBytes int64) (*types.ChatCompletionRequest, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, &RequestError{
			Message: fmt.Sprintf("request body exceeds maximum size of %d bytes", maxBytes),
			Code:    types.CodeRequestTooLarge,
			Param:   "body",
			Status:  http.StatusRequestEntityTooLarge,
		}
	}

	return DecodeChatCompletionRequest(body)
}

// DecodeChatCompletionRequest decodes and validates a JSON request. The
// websocket endpoint receives requests as messages rather than bodies.
func DecodeChatCompletionRequest(body []byte) (*types.ChatCompletionRequest, error) {
	var req types.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &RequestError{
			Message: fmt.Sprintf("invalid JSON: %v", err),
			Code:    types.CodeInvalidJSON,
			Param:   "body",
		}
	}

	if err := req.Validate(); err != nil {
		var valErr *types.ValidationError
		if errors.As(err, &valErr) {
			return nil, &RequestError{
				Message: valErr.Message,
				Code:    types.CodeInvalidValue,
				Param:   valErr.Field,
			}
		}
		return nil, err
	}

	return &req, nil
}

// ToCanonical converts a validated request. data: URIs are decoded here so
// a malformed payload is rejected before any backend is contacted; http(s)
// image URLs are left for the adapter to fetch.
func ToCanonical(req *types.ChatCompletionRequest) (*canonical.Request, error) {
	out := &canonical.Request{
		Model:       req.Model,
		Messages:    make([]canonical.Message, 0, len(req.Messages)),
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}

	for i, msg := range req.Messages {
		parts, err := convertContent(msg.Content)
		if err != nil {
			return nil, &RequestError{
				Message: err.Error(),
				Code:    types.CodeInvalidValue,
				Param:   "messages[" + strconv.Itoa(i) + "].content",
			}
		}
		out.Messages = append(out.Messages, canonical.NewMessage(canonical.Role(msg.Role), parts...))
	}

	return out, nil
}

func convertContent(c types.MessageContent) ([]canonical.Part, error) {
	if c.Parts == nil {
		return []canonical.Part{canonical.Text(c.Text)}, nil
	}

	parts := make([]canonical.Part, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case "text":
			parts = append(parts, canonical.Text(p.Text))

		case "image_url":
			uri := p.ImageURL.URL
			if !strings.HasPrefix(uri, "data:") {
				parts = append(parts, canonical.ImageURL(uri, ""))
				continue
			}
			data, mimeType, err := providers.DecodeDataURI(uri)
			if err != nil {
				return nil, fmt.Errorf("image_url: %w", err)
			}
			parts = append(parts, canonical.ImageBytes(data, mimeType))

		case "image":
			data, err := decodeBase64(p.Source.Data)
			if err != nil {
				return nil, fmt.Errorf("image source: %w", err)
			}
			parts = append(parts, canonical.ImageBytes(data, p.Source.MediaType))

		case "file":
			data, mimeType, err := decodeFileData(p.File.FileData)
			if err != nil {
				return nil, fmt.Errorf("file: %w", err)
			}
			parts = append(parts, canonical.File(p.File.Filename, data, mimeType))
		}
	}
	return parts, nil
}

func decodeFileData(s string) ([]byte, string, error) {
	if strings.HasPrefix(s, "data:") {
		return providers.DecodeDataURI(s)
	}
	data, err := decodeBase64(s)
	return data, "", err
}

func decodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("malformed base64 payload: %w", err)
	}
	return data, nil
}

// RequestError is a request parsing or validation error.
type RequestError struct {
	Message string
	Code    string
	Param   string

	// Status overrides 400.
	Status int
}

func (e *RequestError) Error() string {
	return e.Message
}

// ToErrorResponse converts e to an OpenAI-compatible error response.
func (e *RequestError) ToErrorResponse() *types.ErrorResponse {
	resp := types.NewInvalidRequestError(e.Message, e.Param, e.Code)
	resp.Error.Status = e.Status
	return resp
}
