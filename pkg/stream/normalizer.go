package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"mercator-hq/webrelay/pkg/canonical"
)

// Options configures a Normalizer.
type Options struct {
	// Backend names the source in logs.
	Backend string

	// Framing selects the line filter.
	Framing Framing

	// Decoder maps lines to events. Required.
	Decoder Decoder

	// Fetcher and Sink resolve EventFile events. Without them a file event
	// fails the stream with attachment_failure.
	Fetcher Fetcher
	Sink    Sink

	// RequireEnd makes a body that ends without an end event or [DONE]
	// marker a transient failure instead of a natural end.
	RequireEnd bool

	// OnAnomaly is called for every line the decoder rejects.
	OnAnomaly func(err error)

	// OnClose runs once when the stream is closed, after the body.
	OnClose func()

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Normalizer produces canonical deltas from a backend body.
type Normalizer struct {
	body  io.ReadCloser
	lines *LineReader
	opts  Options
	log   *slog.Logger

	// emitted holds, per channel, the length of cumulative text already
	// delivered.
	emitted map[string]int
	files   map[string]bool
	pending []canonical.Delta

	finished  bool
	anomalies int

	closeOnce sync.Once
	closeErr  error
}

// New returns a Normalizer reading body. The Normalizer owns body and
// closes it when the stream terminates or Close is called.
func New(body io.ReadCloser, opts Options) *Normalizer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		body:    body,
		lines:   NewLineReader(body, opts.Framing),
		opts:    opts,
		log:     logger.With("component", "stream", "backend", opts.Backend),
		emitted: make(map[string]int),
		files:   make(map[string]bool),
	}
}

// Next returns the next delta. After the terminal delta has been returned,
// Next returns io.EOF. If ctx is cancelled the stream is closed and ctx.Err()
// is returned.
func (n *Normalizer) Next(ctx context.Context) (canonical.Delta, error) {
	for {
		if len(n.pending) > 0 {
			d := n.pending[0]
			n.pending = n.pending[1:]
			if d.IsTerminal() {
				n.pending = nil
				n.finished = true
				n.Close()
			}
			return d, nil
		}

		if n.finished {
			return canonical.Delta{}, io.EOF
		}

		if err := ctx.Err(); err != nil {
			n.finished = true
			n.Close()
			return canonical.Delta{}, err
		}

		line, err := n.lines.Next()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				n.finished = true
				n.Close()
				return canonical.Delta{}, ctxErr
			}
			n.pending = append(n.pending, n.endOfBody(err))
			continue
		}

		if line.Done {
			n.pending = append(n.pending, canonical.Done(canonical.FinishReasonStop))
			continue
		}

		events, err := n.opts.Decoder.Decode(line)
		if err != nil {
			n.anomalies++
			n.log.Warn("skipping unparseable stream line",
				"error", err,
				"event", line.Event,
				"line", truncate(string(line.Data), 200),
			)
			if n.opts.OnAnomaly != nil {
				n.opts.OnAnomaly(err)
			}
			continue
		}

		for _, ev := range events {
			n.apply(ctx, ev)
			if len(n.pending) > 0 && n.pending[len(n.pending)-1].IsTerminal() {
				break
			}
		}
	}
}

// endOfBody converts the end of the body into a terminal delta.
func (n *Normalizer) endOfBody(err error) canonical.Delta {
	if errors.Is(err, io.EOF) {
		if n.opts.RequireEnd {
			return canonical.Failure(canonical.ErrTransientUpstream, 0, "stream ended before completion")
		}
		return canonical.Done(canonical.FinishReasonStop)
	}
	n.log.Warn("stream read failed", "error", err)
	return canonical.Failure(canonical.ErrTransientUpstream, 0, fmt.Sprintf("stream read failed: %v", err))
}

// apply converts one event into zero or more pending deltas.
func (n *Normalizer) apply(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventText:
		if text := n.textDelta(ev); text != "" {
			n.pending = append(n.pending, canonical.TextDelta(text))
		}

	case EventFile:
		if n.files[ev.File.ID] {
			return
		}
		n.files[ev.File.ID] = true
		n.pending = append(n.pending, n.attachment(ctx, ev.File))

	case EventEnd:
		n.pending = append(n.pending, canonical.Done(ev.FinishReason))

	case EventError:
		kind := ev.ErrKind
		if kind == "" {
			kind = canonical.ErrUpstream
		}
		n.pending = append(n.pending, canonical.Failure(kind, ev.Status, ev.Message))
	}
}

// textDelta applies the cumulative or incremental rule.
func (n *Normalizer) textDelta(ev Event) string {
	if ev.Mode == Incremental {
		if ev.Channel != "" {
			n.emitted[ev.Channel] += len(ev.Text)
		}
		return ev.Text
	}

	prev := n.emitted[ev.Channel]
	if len(ev.Text) <= prev {
		return ""
	}
	n.emitted[ev.Channel] = len(ev.Text)
	return ev.Text[prev:]
}

// attachment fetches and stores a file, returning the delta to emit.
func (n *Normalizer) attachment(ctx context.Context, ref FileRef) canonical.Delta {
	if n.opts.Fetcher == nil || n.opts.Sink == nil {
		return canonical.Failure(canonical.ErrAttachmentFailure, 0, "backend produced a file but no fetcher is configured")
	}

	att, err := n.opts.Fetcher.Fetch(ctx, ref)
	if err != nil {
		n.log.Error("failed to fetch generated file", "file_id", ref.ID, "error", err)
		return canonical.Failure(canonical.ErrAttachmentFailure, 0, fmt.Sprintf("fetch file %s: %v", ref.ID, err))
	}

	name := att.Name
	if name == "" {
		name = ref.Name
	}
	mime := att.MIME
	if mime == "" {
		mime = ref.MIME
	}

	url, err := n.opts.Sink.Save(ctx, name, mime, att.Data)
	if err != nil {
		n.log.Error("failed to store generated file", "file_id", ref.ID, "error", err)
		return canonical.Failure(canonical.ErrAttachmentFailure, 0, fmt.Sprintf("store file %s: %v", ref.ID, err))
	}

	return canonical.AttachmentDelta(MarkdownRef(name, mime, url))
}

// Anomalies returns the number of lines the decoder rejected.
func (n *Normalizer) Anomalies() int {
	return n.anomalies
}

// Close releases the body and runs the OnClose hook. It is safe to call more
// than once and from another goroutine than the one calling Next.
func (n *Normalizer) Close() error {
	n.closeOnce.Do(func() {
		n.closeErr = n.body.Close()
		if n.opts.OnClose != nil {
			n.opts.OnClose()
		}
	})
	return n.closeErr
}

// MarkdownRef renders a file address as markdown: an image embed for images,
// a link otherwise.
func MarkdownRef(name, mime, url string) string {
	if name == "" {
		name = "file"
	}
	if strings.HasPrefix(mime, "image/") {
		return fmt.Sprintf("\n![%s](%s)\n", name, url)
	}
	return fmt.Sprintf("\n[%s](%s)\n", name, url)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
