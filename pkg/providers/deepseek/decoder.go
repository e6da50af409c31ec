package deepseek

import (
	"bytes"
	"encoding/json"
	"fmt"

	"mercator-hq/webrelay/pkg/stream"
)

// Stream paths of the path/value encoding.
const (
	pathContent         = "response/content"
	pathThinking        = "response/thinking_content"
	pathStatus          = "response/status"
	pathFragments       = "response/fragments"
	pathFragmentContent = "response/fragments/-1/content"
)

// fragmentResponse is the fragment type carrying the answer; other types
// (THINK, SEARCH) are not surfaced.
const fragmentResponse = "RESPONSE"

// Decoder reads the completion stream. Two encodings exist: the OpenAI-like
// choices/delta form and the path/value form, where a value without a path
// continues the last path seen. Thinking content is never emitted.
type Decoder struct {
	path     string
	fragment string
}

// NewDecoder returns a decoder for one stream.
func NewDecoder() *Decoder {
	return &Decoder{}
}

type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Type    string `json:"type"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`

	P *string         `json:"p"`
	O string          `json:"o"`
	V json.RawMessage `json:"v"`

	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

type fragment struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Decode implements stream.Decoder.
func (d *Decoder) Decode(line stream.Line) ([]stream.Event, error) {
	if line.Event == "finish" || line.Event == "close" {
		return []stream.Event{stream.EndEvent("stop")}, nil
	}

	data := bytes.TrimSpace(line.Data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] != '{' {
		return nil, fmt.Errorf("unexpected payload")
	}

	var c chunk
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}

	switch {
	case c.Type == "error":
		return []stream.Event{stream.ErrorEvent(c.Content)}, nil
	case c.Code != 0:
		return []stream.Event{stream.ErrorEvent(fmt.Sprintf("code %d: %s", c.Code, c.Msg))}, nil
	case len(c.Choices) > 0:
		return d.choices(&c), nil
	case c.V != nil:
		if c.P != nil {
			d.path = *c.P
		}
		return d.value(d.path, c.O, c.V)
	}
	return nil, nil
}

func (d *Decoder) choices(c *chunk) []stream.Event {
	var events []stream.Event
	for _, ch := range c.Choices {
		if ch.Delta.Content != "" && ch.Delta.Type != "thinking" {
			events = append(events, stream.TextEvent(ch.Delta.Content, stream.Incremental))
		}
		if ch.FinishReason != nil && *ch.FinishReason != "" {
			events = append(events, stream.EndEvent(*ch.FinishReason))
		}
	}
	return events
}

func (d *Decoder) value(path, op string, v json.RawMessage) ([]stream.Event, error) {
	switch path {
	case pathContent:
		return textValue(v)

	case pathFragmentContent:
		if d.fragment != fragmentResponse {
			return nil, nil
		}
		return textValue(v)

	case pathFragments:
		var frags []fragment
		if err := json.Unmarshal(v, &frags); err != nil {
			return nil, fmt.Errorf("fragments: %w", err)
		}
		return d.fragments(frags), nil

	case pathStatus:
		var status string
		if err := json.Unmarshal(v, &status); err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
		if status == "FINISHED" {
			return []stream.Event{stream.EndEvent("stop")}, nil
		}
		return nil, nil

	case pathThinking:
		return nil, nil

	case "":
		// Initial snapshot: {"v":{"response":{...}}}.
		if len(v) == 0 || v[0] != '{' {
			return nil, nil
		}
		var snap struct {
			Response struct {
				Content   string     `json:"content"`
				Fragments []fragment `json:"fragments"`
			} `json:"response"`
		}
		if err := json.Unmarshal(v, &snap); err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		events := d.fragments(snap.Response.Fragments)
		if snap.Response.Content != "" {
			events = append(events, stream.TextEvent(snap.Response.Content, stream.Incremental))
		}
		return events, nil
	}
	return nil, nil
}

func (d *Decoder) fragments(frags []fragment) []stream.Event {
	var events []stream.Event
	for _, f := range frags {
		d.fragment = f.Type
		if f.Type == fragmentResponse && f.Content != "" {
			events = append(events, stream.TextEvent(f.Content, stream.Incremental))
		}
	}
	return events
}

func textValue(v json.RawMessage) ([]stream.Event, error) {
	var text string
	if err := json.Unmarshal(v, &text); err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}
	if text == "" {
		return nil, nil
	}
	return []stream.Event{stream.TextEvent(text, stream.Incremental)}, nil
}
