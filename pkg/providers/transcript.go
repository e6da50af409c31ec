package providers

import (
	"encoding/json"
	"errors"

	"mercator-hq/webrelay/pkg/canonical"
)

var errTextOnly = errors.New("backend accepts text content only")

type turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transcript renders a conversation for backends that accept a single
// prompt string. A lone user turn is sent as its text. Longer histories are
// sent as a JSON list of {"role","content"} objects. System messages are
// dropped unless withSystem is set (some backends take the system prompt
// separately).
func Transcript(msgs []canonical.Message, withSystem bool) string {
	turns := make([]turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == canonical.RoleSystem && !withSystem {
			continue
		}
		turns = append(turns, turn{Role: string(m.Role), Content: m.TextContent()})
	}

	switch {
	case len(turns) == 0:
		return ""
	case len(turns) == 1 && turns[0].Role == string(canonical.RoleUser):
		return turns[0].Content
	}

	data, err := json.Marshal(turns)
	if err != nil {
		// Strings always marshal.
		return turns[len(turns)-1].Content
	}
	return string(data)
}

// TextOnly returns an *AttachmentError if any message carries a non-text
// part.
func TextOnly(provider string, msgs []canonical.Message) error {
	for _, m := range msgs {
		if m.HasAttachments() {
			return &AttachmentError{
				Provider: provider,
				Op:       "resolve",
				Cause:    errTextOnly,
			}
		}
	}
	return nil
}
