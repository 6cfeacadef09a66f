package nlp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultTimeout     = 30 * time.Second
	defaultMaxTokens   = 256
)

// Config configures a model-backed Provider.
type Config struct {
	APIKey string
	// BaseURL overrides the API endpoint, e.g. for a local OpenAI-compatible
	// server. Empty uses the vendor default.
	BaseURL string
	Model   string
	// Timeout bounds a single request. Defaults to 30s.
	Timeout time.Duration
	// MaxTokens caps the completion length. Defaults to 256.
	MaxTokens int64
}

func (c Config) withDefaults(model string) Config {
	if c.Model == "" {
		c.Model = model
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	return c
}

// OpenAIProvider classifies utterances with the OpenAI chat completions API.
type OpenAIProvider struct {
	cfg    Config
	client openai.Client
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAI returns a Provider backed by the OpenAI (or compatible) API.
func NewOpenAI(cfg Config) *OpenAIProvider {
	cfg = cfg.withDefaults(defaultOpenAIModel)
	opts := []option.RequestOption{option.WithRequestTimeout(cfg.Timeout)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIProvider{cfg: cfg, client: openai.NewClient(opts...)}
}

// Classify implements Provider.
func (p *OpenAIProvider) Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error) {
	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(req.Intents)),
			openai.UserMessage(req.Message),
		},
		Temperature:         openai.Float(0),
		MaxCompletionTokens: openai.Int(p.cfg.MaxTokens),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %v", ErrRateLimit, err)
		}
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrMalformedOutput)
	}

	out, err := parseResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	out.Usage = &TokenUsage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
		Model:            resp.Model,
		LatencyMS:        time.Since(start).Milliseconds(),
	}
	return out, nil
}
