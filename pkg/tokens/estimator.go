// Package tokens estimates token counts for usage reporting. Web backends
// never report usage, so the relay fills the usage block of aggregated
// responses with character-based estimates.
package tokens

import (
	"sort"
	"strings"
	"unicode/utf8"

	"mercator-hq/webrelay/pkg/canonical"
)

// ImageTokens is charged for every image part.
const ImageTokens = 1000

// Per-message and per-conversation formatting overhead.
const (
	messageOverhead      = 3
	conversationOverhead = 3
)

// DefaultRatios are characters per token by model prefix. "default" applies
// when no prefix matches.
var DefaultRatios = map[string]float64{
	"gpt":      4.0,
	"deepseek": 3.3,
	"default":  4.0,
}

// Usage is an estimated token usage.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Estimator implements character-based token estimation. It is safe for
// concurrent use; the ratio table is read-only after construction.
type Estimator struct {
	ratios   map[string]float64
	prefixes []string
}

// NewEstimator creates an estimator. Nil ratios uses DefaultRatios.
func NewEstimator(ratios map[string]float64) *Estimator {
	if ratios == nil {
		ratios = DefaultRatios
	}
	e := &Estimator{ratios: ratios}
	for p := range ratios {
		if p != "default" {
			e.prefixes = append(e.prefixes, p)
		}
	}
	// longest prefix wins
	sort.Slice(e.prefixes, func(i, j int) bool { return len(e.prefixes[i]) > len(e.prefixes[j]) })
	return e
}

// EstimateText estimates tokens for a single string. Non-empty text is at
// least one token.
func (e *Estimator) EstimateText(text, model string) int {
	if text == "" {
		return 0
	}
	n := float64(utf8.RuneCountInString(text)) / e.charsPerToken(model)
	if n < 1 {
		return 1
	}
	return int(n + 0.5)
}

// EstimateMessages estimates the prompt tokens of a conversation, including
// formatting overhead.
func (e *Estimator) EstimateMessages(messages []canonical.Message, model string) int {
	if len(messages) == 0 {
		return 0
	}
	total := conversationOverhead
	for _, m := range messages {
		total += 1 + messageOverhead // role
		for _, p := range m.Parts {
			switch p.Kind() {
			case canonical.PartText:
				total += e.EstimateText(p.Text(), model)
			case canonical.PartImage:
				total += ImageTokens
			case canonical.PartFile:
				total += e.EstimateText(p.Name(), model)
				if strings.HasPrefix(p.MIME(), "text/") && p.Inline() {
					total += e.EstimateText(string(p.Data()), model)
				}
			}
		}
	}
	return total
}

// Estimate returns the usage of a request answered with completion.
func (e *Estimator) Estimate(req *canonical.Request, completion string) Usage {
	u := Usage{
		PromptTokens:     e.EstimateMessages(req.Messages, req.Model),
		CompletionTokens: e.EstimateText(completion, req.Model),
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

func (e *Estimator) charsPerToken(model string) float64 {
	if r, ok := e.ratios[model]; ok && r > 0 {
		return r
	}
	for _, p := range e.prefixes {
		if strings.HasPrefix(model, p) && e.ratios[p] > 0 {
			return e.ratios[p]
		}
	}
	if r, ok := e.ratios["default"]; ok && r > 0 {
		return r
	}
	return 4.0
}
