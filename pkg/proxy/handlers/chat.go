package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"mercator-hq/webrelay/pkg/canonical"
	"mercator-hq/webrelay/pkg/dispatcher"
	"mercator-hq/webrelay/pkg/proxy"
	"mercator-hq/webrelay/pkg/proxy/types"
	"mercator-hq/webrelay/pkg/telemetry/logging"
	"mercator-hq/webrelay/pkg/tokens"
)

// ChatHandler serves POST /v1/chat/completions. It answers with an
// aggregated chat.completion object, or an SSE stream when the request sets
// stream.
type ChatHandler struct {
	Dispatcher *dispatcher.Dispatcher

	// MaxBodyBytes bounds the request body; zero uses
	// proxy.DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// Tokens fills the usage block of aggregated responses.
	Tokens *tokens.Estimator
}

// NewChatHandler creates a chat completion handler.
func NewChatHandler(d *dispatcher.Dispatcher, maxBodyBytes int64) *ChatHandler {
	return &ChatHandler{Dispatcher: d, MaxBodyBytes: maxBodyBytes, Tokens: tokens.NewEstimator(nil)}
}

// ServeHTTP implements the http.Handler interface.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		errResp := types.NewInvalidRequestError("method not allowed, use POST", "", types.CodeMethodNotAllowed)
		errResp.Error.Status = http.StatusMethodNotAllowed
		writeError(ctx, w, errResp)
		return
	}

	req, err := proxy.ParseChatCompletionRequest(r, h.MaxBodyBytes)
	if err != nil {
		slog.WarnContext(ctx, "failed to parse request", "error", err)
		writeError(ctx, w, proxy.HandleError(err))
		return
	}

	creq, err := proxy.ToCanonical(req)
	if err != nil {
		slog.WarnContext(ctx, "failed to convert request", "error", err)
		writeError(ctx, w, proxy.HandleError(err))
		return
	}

	ctx = logging.WithModel(ctx, req.Model)
	s := h.Dispatcher.Dispatch(ctx, creq)
	defer s.Close()
	if backend := s.Backend(); backend != "" {
		ctx = logging.WithBackend(ctx, backend)
	}

	slog.InfoContext(ctx, "processing chat completion request",
		"stream", req.Stream,
		"messages", len(creq.Messages),
	)

	if req.Stream {
		streamCompletion(ctx, w, s, req.Model)
		return
	}

	completion, err := dispatcher.Collect(ctx, s)
	if err != nil {
		slog.WarnContext(ctx, "chat completion failed", "error", err)
		writeError(ctx, w, proxy.HandleError(err))
		return
	}

	var usage tokens.Usage
	if h.Tokens != nil {
		usage = h.Tokens.Estimate(creq, completion.Content)
	}
	if err := proxy.WriteJSONResponse(w, http.StatusOK, proxy.FormatCompletion(completion, usage)); err != nil {
		slog.ErrorContext(ctx, "failed to write response", "error", err)
		return
	}
	slog.InfoContext(ctx, "chat completion successful", "content_length", len(completion.Content))
}

// streamCompletion writes s as SSE. The first delta is read before the
// status line so a request that fails before producing output (unknown
// model, exhausted credentials) gets a proper HTTP error.
func streamCompletion(ctx context.Context, w http.ResponseWriter, s *dispatcher.Stream, model string) {
	first, err := s.Next(ctx)
	if err != nil {
		writeError(ctx, w, proxy.HandleError(err))
		return
	}
	if first.Kind == canonical.DeltaError {
		slog.WarnContext(ctx, "chat completion failed",
			"kind", first.ErrKind,
			"status", first.Status,
			"error", first.Message,
		)
		writeError(ctx, w, proxy.FailureResponse(first))
		return
	}

	proxy.SetSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	f := proxy.NewChunkFormatter(model)
	sse := sseSink{w: w}
	n, err := pump(ctx, s, first, f, sse)
	if err != nil {
		// The client went away; the deferred Close releases the upstream.
		slog.WarnContext(ctx, "client disconnected during streaming", "error", err, "chunks", n)
		return
	}
	if err := proxy.WriteSSEDone(w); err != nil {
		slog.WarnContext(ctx, "failed to write SSE done marker", "error", err)
		return
	}
	slog.InfoContext(ctx, "streaming chat completion finished", "chunks", n)
}

// chunkSink receives the rendered stream. SSE and websocket transports
// differ only in framing.
type chunkSink interface {
	Chunk(*types.ChatCompletionStreamChunk) error
	Error(*types.ErrorResponse) error
}

type sseSink struct {
	w http.ResponseWriter
}

func (s sseSink) Chunk(c *types.ChatCompletionStreamChunk) error { return proxy.WriteSSEChunk(s.w, c) }
func (s sseSink) Error(e *types.ErrorResponse) error             { return proxy.WriteSSEError(s.w, e) }

// pump renders the stream starting at first: a role chunk, one chunk per
// non-empty content delta, then a finish chunk or an error object. It
// returns the number of chunks written and the first write error.
func pump(ctx context.Context, s *dispatcher.Stream, first canonical.Delta, f *proxy.ChunkFormatter, sink chunkSink) (int, error) {
	if err := sink.Chunk(f.Role()); err != nil {
		return 0, err
	}
	n := 1

	d := first
	for {
		switch d.Kind {
		case canonical.DeltaText, canonical.DeltaAttachment:
			if content := d.Content(); content != "" {
				if err := sink.Chunk(f.Content(content)); err != nil {
					return n, err
				}
				n++
			}

		case canonical.DeltaDone:
			if err := sink.Chunk(f.Finish(d.FinishReason)); err != nil {
				return n, err
			}
			return n + 1, nil

		case canonical.DeltaError:
			slog.WarnContext(ctx, "stream failed after start",
				"kind", d.ErrKind,
				"error", d.Message,
			)
			return n, sink.Error(proxy.FailureResponse(d))
		}

		var err error
		d, err = s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, sink.Error(proxy.HandleError(err))
		}
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, errResp *types.ErrorResponse) {
	if err := proxy.WriteErrorResponse(w, errResp); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}
