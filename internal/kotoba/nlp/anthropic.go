package nlp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicProvider classifies utterances with the Anthropic messages API.
type AnthropicProvider struct {
	cfg    Config
	client anthropic.Client
}

var _ Provider = (*AnthropicProvider)(nil)

// NewAnthropic returns a Provider backed by the Anthropic API.
func NewAnthropic(cfg Config) *AnthropicProvider {
	cfg = cfg.withDefaults(defaultAnthropicModel)
	opts := []option.RequestOption{option.WithRequestTimeout(cfg.Timeout)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{cfg: cfg, client: anthropic.NewClient(opts...)}
}

// Classify implements Provider.
func (p *AnthropicProvider) Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error) {
	start := time.Now()
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.cfg.Model),
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: anthropic.Float(0),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt(req.Intents)}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Message)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %v", ErrRateLimit, err)
		}
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	out, err := parseResponse(text.String())
	if err != nil {
		return nil, err
	}
	in, outTok := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	out.Usage = &TokenUsage{
		PromptTokens:     in,
		CompletionTokens: outTok,
		TotalTokens:      in + outTok,
		Model:            string(resp.Model),
		LatencyMS:        time.Since(start).Milliseconds(),
	}
	return out, nil
}
