package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// ChatCompletionRequest is an OpenAI-compatible chat completion request.
// Sampling fields the web backends cannot honor are accepted and ignored so
// stock SDKs work unchanged.
type ChatCompletionRequest struct {
	// Model selects the backend; each model id belongs to exactly one.
	Model string `json:"model"`

	// Messages is the conversation history.
	Messages []Message `json:"messages"`

	// Stream selects SSE chunks instead of one aggregated response.
	Stream bool `json:"stream,omitempty"`

	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	User             string   `json:"user,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	// Role is "system", "user", "assistant" or "tool".
	Role string `json:"role"`

	// Content is a string or a list of parts.
	Content MessageContent `json:"content"`

	Name string `json:"name,omitempty"`
}

// MessageContent holds either plain text or multimodal parts.
type MessageContent struct {
	Text  string
	Parts []ContentPart

	// set is false when the field was absent or null.
	set bool
}

// TextContent returns string content.
func TextContent(s string) MessageContent {
	return MessageContent{Text: s, set: true}
}

// PartsContent returns multimodal content.
func PartsContent(parts ...ContentPart) MessageContent {
	return MessageContent{Parts: parts, set: true}
}

// IsZero reports whether content was absent.
func (c MessageContent) IsZero() bool { return !c.set }

// UnmarshalJSON accepts a string, a list of parts or null.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*c = MessageContent{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = TextContent(s)
		return nil
	case len(data) > 0 && data[0] == '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = PartsContent(parts...)
		return nil
	}
	return errors.New("content must be a string or an array of parts")
}

// MarshalJSON writes the string form when there are no parts.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if !c.set {
		return []byte("null"), nil
	}
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// ContentPart is one element of multimodal content. Both the OpenAI
// ("image_url", "file") and Anthropic ("image" with a base64 source) shapes
// are accepted.
type ContentPart struct {
	// Type is "text", "image_url", "image" or "file".
	Type string `json:"type"`

	Text     string       `json:"text,omitempty"`
	ImageURL *ImageURL    `json:"image_url,omitempty"`
	Source   *ImageSource `json:"source,omitempty"`
	File     *FileData    `json:"file,omitempty"`
}

// ImageURL references an image by URL. data: URLs carry the bytes inline.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ImageSource is an inline base64 image.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// FileData is an inline file. FileData is a data: URL or bare base64.
type FileData struct {
	Filename string `json:"filename,omitempty"`
	FileData string `json:"file_data"`
}

// Validate checks required fields and parameter ranges.
func (r *ChatCompletionRequest) Validate() error {
	if r.Model == "" {
		return &ValidationError{Field: "model", Message: "model is required"}
	}
	if len(r.Messages) == 0 {
		return &ValidationError{Field: "messages", Message: "messages must contain at least one message"}
	}
	if r.Temperature != nil && (*r.Temperature < 0.0 || *r.Temperature > 2.0) {
		return &ValidationError{Field: "temperature", Message: "temperature must be between 0.0 and 2.0"}
	}
	if r.TopP != nil && (*r.TopP < 0.0 || *r.TopP > 1.0) {
		return &ValidationError{Field: "top_p", Message: "top_p must be between 0.0 and 1.0"}
	}
	if r.MaxTokens != nil && *r.MaxTokens < 1 {
		return &ValidationError{Field: "max_tokens", Message: "max_tokens must be greater than 0"}
	}

	for i, msg := range r.Messages {
		field := "messages[" + strconv.Itoa(i) + "]"
		switch msg.Role {
		case "system", "user", "assistant", "tool":
		case "":
			return &ValidationError{Field: field + ".role", Message: "message role is required"}
		default:
			return &ValidationError{Field: field + ".role", Message: "unknown role " + strconv.Quote(msg.Role)}
		}
		if msg.Content.IsZero() {
			return &ValidationError{Field: field + ".content", Message: "message content is required"}
		}
		for j, part := range msg.Content.Parts {
			if err := part.validate(field + ".content[" + strconv.Itoa(j) + "]"); err != nil {
				return err
			}
		}
	}

	return nil
}

func (p ContentPart) validate(field string) error {
	switch p.Type {
	case "text":
		return nil
	case "image_url":
		if p.ImageURL == nil || p.ImageURL.URL == "" {
			return &ValidationError{Field: field + ".image_url", Message: "image_url.url is required"}
		}
	case "image":
		if p.Source == nil || p.Source.Data == "" {
			return &ValidationError{Field: field + ".source", Message: "image source data is required"}
		}
	case "file":
		if p.File == nil || p.File.FileData == "" {
			return &ValidationError{Field: field + ".file", Message: "file.file_data is required"}
		}
	default:
		return &ValidationError{Field: field + ".type", Message: "unsupported content part type " + strconv.Quote(p.Type)}
	}
	return nil
}

// ValidationError is a request validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
