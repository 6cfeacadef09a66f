package memory

import (
	"context"
	"log/slog"
	"math"

	"github.com/bdobrica/kotoba/internal/kotoba/textnorm"
)

// SimilarityStrategy scores how alike two messages are, in [0,1].
type SimilarityStrategy interface {
	Similarity(ctx context.Context, a, b string) float64
}

// words returns the distinct normalized tokens of s.
func words(s string) map[string]struct{} {
	toks := textnorm.Tokens(textnorm.Normalize(s))
	set := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		set[t] = struct{}{}
	}
	return set
}

// tokenOverlap is the share of the query's distinct words found in text.
func tokenOverlap(query map[string]struct{}, text string) float64 {
	if len(query) == 0 {
		return 0
	}
	other := words(text)
	common := 0
	for w := range query {
		if _, ok := other[w]; ok {
			common++
		}
	}
	return float64(common) / float64(len(query))
}

// TokenOverlap is the default strategy: Jaccard similarity of the two word
// sets.
type TokenOverlap struct{}

var _ SimilarityStrategy = TokenOverlap{}

// Similarity implements SimilarityStrategy.
func (TokenOverlap) Similarity(_ context.Context, a, b string) float64 {
	wa, wb := words(a), words(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(wa)+len(wb)-inter)
}

// EmbeddingSimilarity compares messages by the cosine similarity of their
// embeddings. Negative cosines count as 0. A nil vector or an embedding
// error also yields 0, so a NoopEmbedder disables this signal.
type EmbeddingSimilarity struct {
	Embedder Embedder
	Logger   *slog.Logger
}

var _ SimilarityStrategy = (*EmbeddingSimilarity)(nil)

// NewEmbeddingSimilarity returns a strategy backed by e. If logger is nil,
// the default slog logger is used.
func NewEmbeddingSimilarity(e Embedder, logger *slog.Logger) *EmbeddingSimilarity {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingSimilarity{Embedder: e, Logger: logger}
}

// Similarity implements SimilarityStrategy.
func (s *EmbeddingSimilarity) Similarity(ctx context.Context, a, b string) float64 {
	va, err := s.Embedder.Embed(ctx, a)
	if err != nil {
		s.Logger.Warn("memory: embedding failed", "err", err)
		return 0
	}
	if va == nil {
		return 0
	}
	vb, err := s.Embedder.Embed(ctx, b)
	if err != nil {
		s.Logger.Warn("memory: embedding failed", "err", err)
		return 0
	}
	return math.Max(CosineSimilarity(va, vb), 0)
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when the lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
