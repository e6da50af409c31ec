package chatgpt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"mercator-hq/webrelay/pkg/stream"
)

const textPath = "/message/content/parts/0"

// Decoder understands both conversation stream encodings: whole message
// snapshots (cumulative text per message id) and the delta encoding, where
// an initial "add" carries the message and later operations append to
// parts/0. Operations without "p"/"o" reuse the previous ones.
//
// A Decoder holds per-stream state and must not be shared.
type Decoder struct {
	path    string
	op      string
	role    string
	channel string
}

// NewDecoder returns a decoder for one stream.
func NewDecoder() *Decoder {
	return &Decoder{}
}

type streamEvent struct {
	Message *streamMessage  `json:"message"`
	Error   json.RawMessage `json:"error"`
	Type    string          `json:"type"`

	P *string         `json:"p"`
	O string          `json:"o"`
	V json.RawMessage `json:"v"`
}

type streamMessage struct {
	ID     string `json:"id"`
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	Content struct {
		ContentType string            `json:"content_type"`
		Parts       []json.RawMessage `json:"parts"`
	} `json:"content"`
	Status string `json:"status"`
}

type operation struct {
	P string          `json:"p"`
	O string          `json:"o"`
	V json.RawMessage `json:"v"`
}

// Decode implements stream.Decoder.
func (d *Decoder) Decode(line stream.Line) ([]stream.Event, error) {
	data := bytes.TrimSpace(line.Data)
	if len(data) == 0 {
		return nil, nil
	}
	switch data[0] {
	case '"':
		// Encoding announcement ("v1").
		return nil, nil
	case '{':
	default:
		return nil, fmt.Errorf("unexpected payload")
	}

	var ev streamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}

	if msg := errorText(ev.Error); msg != "" {
		return []stream.Event{stream.ErrorEvent(msg)}, nil
	}
	if ev.Message != nil {
		return d.message(ev.Message), nil
	}
	if ev.V == nil {
		// Metadata events (title, moderation, stream completion).
		return nil, nil
	}

	if ev.P != nil {
		d.path, d.op = *ev.P, ev.O
	} else if ev.O != "" {
		d.op = ev.O
	}
	return d.apply(d.path, d.op, ev.V)
}

func (d *Decoder) apply(path, op string, v json.RawMessage) ([]stream.Event, error) {
	switch {
	case op == "patch":
		var ops []operation
		if err := json.Unmarshal(v, &ops); err != nil {
			return nil, fmt.Errorf("patch: %w", err)
		}
		var events []stream.Event
		for _, o := range ops {
			evs, err := d.apply(o.P, o.O, o.V)
			if err != nil {
				return nil, err
			}
			events = append(events, evs...)
		}
		return events, nil

	case path == "" && op == "add":
		var wrapper struct {
			Message *streamMessage `json:"message"`
		}
		if err := json.Unmarshal(v, &wrapper); err != nil {
			return nil, fmt.Errorf("add: %w", err)
		}
		if wrapper.Message == nil {
			return nil, nil
		}
		return d.message(wrapper.Message), nil

	case path == textPath && op == "append":
		if d.role != "assistant" {
			return nil, nil
		}
		var text string
		if err := json.Unmarshal(v, &text); err != nil {
			return nil, fmt.Errorf("append: %w", err)
		}
		return []stream.Event{{
			Kind:    stream.EventText,
			Text:    text,
			Mode:    stream.Incremental,
			Channel: d.channel,
		}}, nil
	}
	return nil, nil
}

// message converts a message snapshot. Echoes of user and system messages
// are ignored; only assistant text is surfaced, while images may also come
// from tool messages.
func (d *Decoder) message(m *streamMessage) []stream.Event {
	d.role = m.Author.Role
	d.channel = m.ID

	if d.role == "user" || d.role == "system" {
		return nil
	}

	var (
		events   []stream.Event
		textSeen bool
	)
	for _, raw := range m.Content.Parts {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}

		switch raw[0] {
		case '"':
			if textSeen || d.role != "assistant" {
				continue
			}
			if ct := m.Content.ContentType; ct != "text" && ct != "multimodal_text" {
				continue
			}
			var text string
			if json.Unmarshal(raw, &text) != nil {
				continue
			}
			textSeen = true
			events = append(events, stream.Event{
				Kind:    stream.EventText,
				Text:    text,
				Mode:    stream.Cumulative,
				Channel: m.ID,
			})

		case '{':
			var p struct {
				ContentType  string `json:"content_type"`
				AssetPointer string `json:"asset_pointer"`
			}
			if json.Unmarshal(raw, &p) != nil || p.ContentType != "image_asset_pointer" {
				continue
			}
			if id := assetID(p.AssetPointer); id != "" {
				events = append(events, stream.Event{Kind: stream.EventFile, File: stream.FileRef{ID: id}})
			}
		}
	}
	return events
}

// assetID extracts the file id from a file-service:// or sediment:// pointer.
func assetID(pointer string) string {
	for _, scheme := range []string{assetScheme, "sediment://"} {
		if id, ok := strings.CutPrefix(pointer, scheme); ok {
			return id
		}
	}
	return ""
}

func errorText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}
