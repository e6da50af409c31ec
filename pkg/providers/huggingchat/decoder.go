package huggingchat

import (
	"encoding/json"
	"strings"

	"mercator-hq/webrelay/pkg/stream"
)

// update is one line of the answer stream.
type update struct {
	Type    string `json:"type"`
	Token   string `json:"token"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Name    string `json:"name"`
	SHA     string `json:"sha"`
	MIME    string `json:"mime"`
}

// Decoder maps answer stream updates to events. Tokens are incremental and
// padded with NUL characters, which are stripped.
type Decoder struct{}

// NewDecoder returns a decoder for one stream.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode implements stream.Decoder.
func (d *Decoder) Decode(line stream.Line) ([]stream.Event, error) {
	var u update
	if err := json.Unmarshal(line.Data, &u); err != nil {
		return nil, err
	}

	switch u.Type {
	case "stream":
		text := strings.ReplaceAll(u.Token, "\x00", "")
		if text == "" {
			return nil, nil
		}
		return []stream.Event{stream.TextEvent(text, stream.Incremental)}, nil

	case "file":
		if u.SHA == "" {
			return nil, nil
		}
		return []stream.Event{{
			Kind: stream.EventFile,
			File: stream.FileRef{ID: u.SHA, Name: u.Name, MIME: u.MIME},
		}}, nil

	case "finalAnswer":
		return []stream.Event{stream.EndEvent("stop")}, nil

	case "status":
		if u.Status == "error" {
			msg := u.Message
			if msg == "" {
				msg = "backend reported an error"
			}
			return []stream.Event{stream.ErrorEvent(msg)}, nil
		}
	}

	// title, tool, webSearch, keep-alive statuses.
	return nil, nil
}
