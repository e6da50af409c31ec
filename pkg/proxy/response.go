package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"mercator-hq/webrelay/pkg/canonical"
	"mercator-hq/webrelay/pkg/dispatcher"
	"mercator-hq/webrelay/pkg/proxy/types"
	"mercator-hq/webrelay/pkg/tokens"
)

// RoleAssistant is the role of every generated message.
const RoleAssistant = "assistant"

// NewCompletionID returns a fresh "chatcmpl-" identifier.
func NewCompletionID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "chatcmpl-" + id[:29]
}

// ChunkFormatter builds the chunks of one streamed completion. All chunks
// share the ID, model and creation time.
type ChunkFormatter struct {
	ID      string
	Model   string
	Created int64
}

// NewChunkFormatter returns a formatter with a fresh completion ID.
func NewChunkFormatter(model string) *ChunkFormatter {
	return &ChunkFormatter{
		ID:      NewCompletionID(),
		Model:   model,
		Created: time.Now().Unix(),
	}
}

// Role returns the opening chunk that carries only the assistant role.
func (f *ChunkFormatter) Role() *types.ChatCompletionStreamChunk {
	return f.chunk(types.Delta{Role: RoleAssistant}, nil)
}

// Content returns a content chunk.
func (f *ChunkFormatter) Content(s string) *types.ChatCompletionStreamChunk {
	return f.chunk(types.Delta{Content: s}, nil)
}

// Finish returns the closing chunk with an empty delta.
func (f *ChunkFormatter) Finish(reason string) *types.ChatCompletionStreamChunk {
	if reason == "" {
		reason = canonical.FinishReasonStop
	}
	return f.chunk(types.Delta{}, &reason)
}

func (f *ChunkFormatter) chunk(delta types.Delta, finish *string) *types.ChatCompletionStreamChunk {
	return &types.ChatCompletionStreamChunk{
		ID:      f.ID,
		Object:  types.ObjectCompletionChunk,
		Created: f.Created,
		Model:   f.Model,
		Choices: []types.StreamChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finish,
		}},
	}
}

// FormatCompletion converts an aggregated answer. usage is an estimate.
func FormatCompletion(c *dispatcher.Completion, usage tokens.Usage) *types.ChatCompletionResponse {
	finish := c.FinishReason
	if finish == "" {
		finish = canonical.FinishReasonStop
	}
	return &types.ChatCompletionResponse{
		ID:      NewCompletionID(),
		Object:  types.ObjectCompletion,
		Created: time.Now().Unix(),
		Model:   c.Model,
		Choices: []types.Choice{{
			Index: 0,
			Message: types.ResponseMessage{
				Role:    RoleAssistant,
				Content: c.Content,
			},
			FinishReason: finish,
		}},
		Usage: types.Usage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		},
	}
}

// FormatModels builds the /v1/models listing. owner maps a model to the
// backend serving it.
func FormatModels(models []string, owner func(string) string) *types.ModelList {
	created := time.Now().Unix()
	list := &types.ModelList{
		Object: types.ObjectList,
		Data:   make([]types.Model, 0, len(models)),
	}
	for _, id := range models {
		list.Data = append(list.Data, types.Model{
			ID:      id,
			Object:  types.ObjectModel,
			Created: created,
			OwnedBy: owner(id),
		})
	}
	return list
}

// WriteJSONResponse writes a JSON response to the HTTP response writer.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON response: %w", err)
	}

	return nil
}

// WriteErrorResponse writes an OpenAI-compatible error response with the
// status its type maps to.
func WriteErrorResponse(w http.ResponseWriter, errResp *types.ErrorResponse) error {
	return WriteJSONResponse(w, errResp.Error.HTTPStatusCode(), errResp)
}

// SetSSEHeaders prepares w for an event stream.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteSSEChunk writes a single chunk in Server-Sent Events format:
//
//	data: {"id":"chatcmpl-123","object":"chat.completion.chunk",...}
func WriteSSEChunk(w http.ResponseWriter, chunk *types.ChatCompletionStreamChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE chunk: %w", err)
	}
	return writeSSE(w, data)
}

// WriteSSEDone writes the final "[DONE]" marker.
func WriteSSEDone(w http.ResponseWriter) error {
	return writeSSE(w, []byte("[DONE]"))
}

// WriteSSEError writes an error event. Once the status line is sent this
// is the only way to report a failure.
func WriteSSEError(w http.ResponseWriter, errResp *types.ErrorResponse) error {
	data, err := json.Marshal(errResp)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE error: %w", err)
	}
	return writeSSE(w, data)
}

func writeSSE(w http.ResponseWriter, data []byte) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write SSE event: %w", err)
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
