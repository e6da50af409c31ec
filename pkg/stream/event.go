package stream

import (
	"context"

	"mercator-hq/webrelay/pkg/canonical"
)

// EventKind classifies a decoded backend event.
type EventKind int

const (
	// EventText carries assistant text.
	EventText EventKind = iota
	// EventFile announces a generated file the backend produced.
	EventFile
	// EventEnd is the backend's explicit end-of-answer event.
	EventEnd
	// EventError is an error the backend reported inside the stream.
	EventError
)

// TextMode tells the normalizer how to interpret EventText payloads.
type TextMode int

const (
	// Incremental text is new content to append.
	Incremental TextMode = iota
	// Cumulative text is the full content so far.
	Cumulative
)

// FileRef identifies a backend-side file announced in the stream.
type FileRef struct {
	ID   string
	Name string
	MIME string
}

// Event is the normalized form of one backend stream event.
type Event struct {
	Kind EventKind

	// Text and Mode apply to EventText. Channel separates independent
	// cumulative texts (for example consecutive assistant messages).
	// Incremental text on a named channel counts toward that channel's
	// cumulative length.
	Text    string
	Mode    TextMode
	Channel string

	// File applies to EventFile.
	File FileRef

	// FinishReason applies to EventEnd.
	FinishReason string

	// ErrKind, Status and Message apply to EventError.
	ErrKind canonical.ErrorKind
	Status  int
	Message string
}

// TextEvent returns an EventText.
func TextEvent(text string, mode TextMode) Event {
	return Event{Kind: EventText, Text: text, Mode: mode}
}

// EndEvent returns an EventEnd.
func EndEvent(reason string) Event {
	return Event{Kind: EventEnd, FinishReason: reason}
}

// ErrorEvent returns an upstream EventError.
func ErrorEvent(message string) Event {
	return Event{Kind: EventError, ErrKind: canonical.ErrUpstream, Message: message}
}

// Decoder maps one line of a backend stream to events. A returned error marks
// the line as unparseable; the normalizer logs it and moves on.
type Decoder interface {
	Decode(line Line) ([]Event, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(line Line) ([]Event, error)

// Decode calls f(line).
func (f DecoderFunc) Decode(line Line) ([]Event, error) {
	return f(line)
}

// Attachment is the content of a fetched backend file.
type Attachment struct {
	Name string
	MIME string
	Data []byte
}

// Fetcher retrieves the bytes behind a FileRef. Adapters provide one per
// stream because file URLs are usually scoped to the conversation.
type Fetcher interface {
	Fetch(ctx context.Context, ref FileRef) (*Attachment, error)
}

// Sink stores fetched attachments and returns the address clients use to
// retrieve them.
type Sink interface {
	Save(ctx context.Context, name, mime string, data []byte) (string, error)
}
