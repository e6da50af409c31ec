package theb

import (
	"encoding/json"

	"mercator-hq/webrelay/pkg/stream"
)

type chunk struct {
	ID   string `json:"id"`
	Type int    `json:"type"`
	Args struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"args"`

	// Error payloads.
	Error  *json.RawMessage `json:"error"`
	Detail string           `json:"detail"`
}

// Decoder maps conversation events to cumulative text. Each event carries
// the full answer so far in args.content.
type Decoder struct{}

// NewDecoder returns a decoder for one stream.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode implements stream.Decoder.
func (d *Decoder) Decode(line stream.Line) ([]stream.Event, error) {
	if line.Event == "end" {
		return []stream.Event{stream.EndEvent("stop")}, nil
	}

	var c chunk
	if err := json.Unmarshal(line.Data, &c); err != nil {
		return nil, err
	}

	if c.Error != nil || c.Detail != "" {
		msg := c.Detail
		if msg == "" {
			msg = string(*c.Error)
		}
		return []stream.Event{stream.ErrorEvent(msg)}, nil
	}
	if c.Args.Content == "" {
		return nil, nil
	}
	return []stream.Event{stream.TextEvent(c.Args.Content, stream.Cumulative)}, nil
}
