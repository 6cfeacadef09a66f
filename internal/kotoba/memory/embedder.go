package memory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	// Embed returns nil with no error when embedding is not available.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NoopEmbedder returns nil vectors, which turns embedding similarity off.
type NoopEmbedder struct{}

// Embed implements Embedder.
func (NoopEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, nil }

var _ Embedder = NoopEmbedder{}

const (
	defaultEmbeddingModel   = "text-embedding-3-small"
	defaultEmbeddingTimeout = 30 * time.Second
)

// OpenAIEmbedderConfig configures the OpenAI embedding provider.
type OpenAIEmbedderConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint for compatible servers.
	BaseURL string
	// Model defaults to text-embedding-3-small.
	Model   string
	Timeout time.Duration
}

// OpenAIEmbedder implements Embedder with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	model  string
	client openai.Client
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder returns an embedder safe for concurrent use.
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	if cfg.Model == "" {
		cfg.Model = defaultEmbeddingModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultEmbeddingTimeout
	}
	opts := []option.RequestOption{option.WithRequestTimeout(cfg.Timeout)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIEmbedder{model: cfg.Model, client: openai.NewClient(opts...)}
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("embedder openai: rate limit: %w", err)
		}
		return nil, fmt.Errorf("embedder openai: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedder openai: no embedding data returned")
	}
	src := resp.Data[0].Embedding
	out := make([]float32, len(src))
	for i, v := range src {
		out[i] = float32(v)
	}
	return out, nil
}

// CachingEmbedder memoizes another Embedder. Entries are write-once, so a
// stored message always embeds to the same vector.
type CachingEmbedder struct {
	next Embedder
	max  int

	mu    sync.Mutex
	cache map[uint64][]float32
}

var _ Embedder = (*CachingEmbedder)(nil)

// NewCachingEmbedder caches up to size vectors; the cache is dropped
// wholesale when full.
func NewCachingEmbedder(next Embedder, size int) *CachingEmbedder {
	if size <= 0 {
		size = 1024
	}
	return &CachingEmbedder{next: next, max: size, cache: make(map[uint64][]float32)}
}

// Embed implements Embedder.
func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := xxhash.Sum64String(text)
	c.mu.Lock()
	v, ok := c.cache[key]
	c.mu.Unlock()
	if ok {
		return v, nil
	}

	v, err := c.next.Embed(ctx, text)
	if err != nil || v == nil {
		return v, err
	}

	c.mu.Lock()
	if len(c.cache) >= c.max {
		clear(c.cache)
	}
	c.cache[key] = v
	c.mu.Unlock()
	return v, nil
}
