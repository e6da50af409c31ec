package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/webrelay/pkg/canonical"
	"mercator-hq/webrelay/pkg/providers"
	"mercator-hq/webrelay/pkg/stream"
	"mercator-hq/webrelay/pkg/telemetry/tracing"
)

// Stream is the lazy delta sequence of one dispatched request. It yields
// zero or more text/attachment deltas, exactly one terminal delta, and then
// io.EOF. Next must not be called concurrently; Close may be.
type Stream struct {
	d       *Dispatcher
	ctx     context.Context
	req     *canonical.Request
	adapter providers.Adapter
	started time.Time
	span    trace.Span

	opened bool
	done   bool

	mu     sync.Mutex
	norm   *stream.Normalizer
	closed bool

	finishOnce sync.Once
}

// Backend returns the name of the serving backend, or "" for an unknown
// model.
func (s *Stream) Backend() string {
	if s.adapter == nil {
		return ""
	}
	return s.adapter.Name()
}

// Next returns the next delta.
func (s *Stream) Next(ctx context.Context) (canonical.Delta, error) {
	if s.done || s.isClosed() {
		return canonical.Delta{}, io.EOF
	}

	if !s.opened {
		s.opened = true
		if d, terminal := s.open(); terminal {
			return d, nil
		}
	}

	if s.isClosed() {
		s.done = true
		return canonical.Delta{}, io.EOF
	}

	d, err := s.norm.Next(ctx)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.finish("cancelled", err)
		}
		s.done = true
		return canonical.Delta{}, err
	}
	if d.IsTerminal() {
		s.done = true
		s.finishDelta(d)
	}
	return d, nil
}

// open resolves the adapter and opens the upstream stream. It returns a
// terminal delta when the request fails before any output.
func (s *Stream) open() (canonical.Delta, bool) {
	ctx, span := tracing.Start(s.ctx, "dispatch",
		attribute.String(tracing.AttrModel, s.req.Model),
		attribute.String(tracing.AttrBackend, s.Backend()),
	)
	s.span = span

	if s.adapter == nil {
		err := &providers.ModelNotSupportedError{Model: s.req.Model}
		d := canonical.Failure(canonical.ErrModelNotSupported, providers.StatusCode(err), err.Error())
		s.done = true
		s.finishDelta(d)
		return d, true
	}

	raw, err := s.d.open(ctx, s.adapter, s.req)
	if err != nil {
		d := canonical.Failure(providers.Kind(err), providers.StatusCode(err), err.Error())
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			d = canonical.Failure(canonical.ErrTransientUpstream, 0, ctxErr.Error())
		}
		s.d.log.Warn("request failed before streaming",
			"backend", s.adapter.Name(),
			"model", s.req.Model,
			"kind", d.ErrKind,
			"error", err,
		)
		s.done = true
		s.finishDelta(d)
		return d, true
	}

	norm := stream.New(raw.Body, stream.Options{
		Backend:    s.adapter.Name(),
		Framing:    raw.Framing,
		Decoder:    raw.Decoder,
		Fetcher:    raw.Fetcher,
		Sink:       s.d.opts.Sink,
		RequireEnd: raw.RequireEnd,
		OnClose:    raw.OnClose,
		OnAnomaly:  s.d.anomalyHook(s.adapter.Name()),
		Logger:     s.d.log,
	})

	s.mu.Lock()
	s.norm = norm
	closed := s.closed
	s.mu.Unlock()
	if closed {
		norm.Close()
	}
	return canonical.Delta{}, false
}

func (s *Stream) finishDelta(d canonical.Delta) {
	if d.Kind == canonical.DeltaError {
		s.finish(string(d.ErrKind), fmt.Errorf("%s: %s", d.ErrKind, d.Message))
		return
	}
	s.finish("ok", nil)
}

// finish ends the span and reports the outcome, once per stream.
func (s *Stream) finish(outcome string, err error) {
	s.finishOnce.Do(func() {
		if err != nil {
			s.span.SetAttributes(attribute.String(tracing.AttrErrorKind, outcome))
		}
		tracing.End(s.span, err)
		s.d.observe(s.Backend(), s.req.Model, outcome, s.started)
	})
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the stream and releases the upstream connection. It is safe
// to call at any time and more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	norm := s.norm
	s.mu.Unlock()

	if norm == nil {
		return nil
	}
	// Abandoned before the terminal delta.
	s.finish("cancelled", nil)
	return norm.Close()
}

// Completion is an aggregated, non-streaming answer.
type Completion struct {
	Model        string
	Backend      string
	Content      string
	FinishReason string
}

// FailureError is the terminal error delta of a stream as an error.
type FailureError struct {
	Kind    canonical.ErrorKind
	Status  int
	Message string
}

// Error implements the error interface.
func (e *FailureError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Collect drains s into a Completion. A terminal error delta is returned as
// a *FailureError. The stream is closed on return.
func Collect(ctx context.Context, s *Stream) (*Completion, error) {
	defer s.Close()

	var content strings.Builder
	for {
		d, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, &FailureError{Kind: canonical.ErrTransientUpstream, Message: "stream closed before completion"}
			}
			return nil, err
		}

		switch d.Kind {
		case canonical.DeltaText, canonical.DeltaAttachment:
			content.WriteString(d.Content())
		case canonical.DeltaDone:
			return &Completion{
				Model:        s.req.Model,
				Backend:      s.Backend(),
				Content:      content.String(),
				FinishReason: d.FinishReason,
			}, nil
		case canonical.DeltaError:
			return nil, &FailureError{Kind: d.ErrKind, Status: d.Status, Message: d.Message}
		}
	}
}
