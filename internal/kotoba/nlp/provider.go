package nlp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/bdobrica/kotoba/internal/kotoba/intents"
)

// ErrRateLimit is returned when the caller or the upstream API is throttled.
var ErrRateLimit = errors.New("nlp: rate limit exceeded")

// ErrBudgetExceeded is returned when the user's daily token budget is spent.
var ErrBudgetExceeded = errors.New("nlp: daily token budget exceeded")

// ErrMalformedOutput is returned when the model reply cannot be read as a
// ClassifyResponse.
var ErrMalformedOutput = errors.New("nlp: malformed response from model")

// IntentSummary describes one intent to the model.
type IntentSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// ClassifyRequest is the input to one model classification call.
type ClassifyRequest struct {
	// Message is the normalized user utterance.
	Message string
	// Intents is the catalogue the model must choose from.
	Intents []IntentSummary
	// UserID is carried for rate limiting and tracing only; it is not sent to
	// the model.
	UserID string
}

// ClassifyResponse is the structured reply expected from a Provider.
type ClassifyResponse struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Slots      map[string]string `json:"slots,omitempty"`
	// Usage is nil when the provider does not report token counts.
	Usage *TokenUsage `json:"-"`
}

// TokenUsage carries the token counts reported for one call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
	LatencyMS        int64
}

// Provider classifies an utterance with a remote model. Implementations must
// be safe for concurrent use.
type Provider interface {
	Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error)
}

// SummarizeTable builds the intent catalogue for a model prompt from table.
// At most three templates per intent are included as examples.
func SummarizeTable(table *intents.Table) []IntentSummary {
	if table == nil {
		return nil
	}
	defs := table.Definitions()
	out := make([]IntentSummary, 0, len(defs))
	for _, d := range defs {
		s := IntentSummary{Name: d.Name, Description: d.Description}
		for i, tpl := range d.Templates {
			if i == 3 {
				break
			}
			s.Examples = append(s.Examples, tpl.Raw)
		}
		out = append(out, s)
	}
	return out
}

// systemPrompt renders the instructions shared by every provider.
func systemPrompt(catalogue []IntentSummary) string {
	var b strings.Builder
	b.WriteString("You classify short user commands into exactly one intent from the catalogue below.\n")
	b.WriteString("Reply with a single JSON object and nothing else:\n")
	b.WriteString(`{"intent": "<name or unknown>", "confidence": <0..1>, "slots": {"<slot>": "<value>"}}`)
	b.WriteString("\nUse the slot names shown in braces in the examples. Use \"unknown\" when nothing fits.\n\nCatalogue:\n")
	for _, s := range catalogue {
		fmt.Fprintf(&b, "- %s", s.Name)
		if s.Description != "" {
			fmt.Fprintf(&b, ": %s", s.Description)
		}
		if len(s.Examples) > 0 {
			fmt.Fprintf(&b, " (e.g. %s)", strings.Join(s.Examples, "; "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// parseResponse decodes a model reply, tolerating a surrounding code fence.
func parseResponse(content string) (*ClassifyResponse, error) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrMalformedOutput)
	}

	var resp ClassifyResponse
	if err := sonic.UnmarshalString(s, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if resp.Intent == "" {
		return nil, fmt.Errorf("%w: missing intent", ErrMalformedOutput)
	}
	return &resp, nil
}
