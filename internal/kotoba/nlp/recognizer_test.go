package nlp

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdobrica/kotoba/internal/kotoba/intents"
)

type stubProvider struct {
	resp  *ClassifyResponse
	err   error
	calls atomic.Int32
	last  ClassifyRequest
}

func (s *stubProvider) Classify(_ context.Context, req ClassifyRequest) (*ClassifyResponse, error) {
	s.calls.Add(1)
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.resp
	return &cp, nil
}

func TestRecognizer_HeuristicWithoutProvider(t *testing.T) {
	r := NewRecognizer()
	res := r.Score(context.Background(), intents.Default(), "go to settings", Context{})
	assert.Equal(t, "navigate", res.Intent)
	assert.Equal(t, Heuristic, res.Provenance)
	assert.False(t, r.HasProvider())
}

func TestRecognizer_ProviderNotCalledOnHeuristicHit(t *testing.T) {
	p := &stubProvider{resp: &ClassifyResponse{Intent: "search", Confidence: 1}}
	r := NewRecognizer(WithProvider(p, nil, nil))
	res := r.Score(context.Background(), intents.Default(), "turn on wifi", Context{})
	assert.Equal(t, "control", res.Intent)
	assert.Zero(t, p.calls.Load())
}

func TestRecognizer_ModelDerivedFallback(t *testing.T) {
	p := &stubProvider{resp: &ClassifyResponse{
		Intent:     "play_media",
		Confidence: 0.72,
		Slots:      map[string]string{"media": "jazz"},
		Usage:      &TokenUsage{TotalTokens: 120},
	}}
	budget := NewTokenBudget(1000)
	r := NewRecognizer(WithProvider(p, NewRateLimiter(5, time.Minute), budget))

	res := r.Score(context.Background(), intents.Default(), "i fancy some jazz", Context{UserID: "u1"})
	require.Equal(t, "play_media", res.Intent)
	assert.Equal(t, ModelDerived, res.Provenance)
	assert.InDelta(t, 0.72, res.Confidence, 1e-9)
	assert.Equal(t, "jazz", res.Slots["media"])
	assert.Equal(t, 880, budget.Remaining("u1"))
	assert.NotEmpty(t, p.last.Intents)
	assert.Equal(t, "i fancy some jazz", p.last.Message)
}

func TestRecognizer_ModelAnswersRejected(t *testing.T) {
	tests := []struct {
		name string
		resp *ClassifyResponse
	}{
		{"intent not in table", &ClassifyResponse{Intent: "launch_rocket", Confidence: 0.99}},
		{"confidence too low", &ClassifyResponse{Intent: "search", Confidence: 0.2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecognizer(WithProvider(&stubProvider{resp: tt.resp}, nil, nil))
			res := r.Score(context.Background(), intents.Default(), "gibberish words", Context{})
			assert.Equal(t, intents.Unknown, res.Intent)
			assert.Zero(t, res.Confidence)
		})
	}
}

func TestRecognizer_ProviderErrorDegrades(t *testing.T) {
	p := &stubProvider{err: errors.New("connection refused")}
	r := NewRecognizer(WithProvider(p, nil, nil))
	res := r.Score(context.Background(), intents.Default(), "gibberish words", Context{})
	assert.Equal(t, intents.Unknown, res.Intent)
	assert.Equal(t, Heuristic, res.Provenance)
}

func TestRecognizer_RateLimited(t *testing.T) {
	p := &stubProvider{resp: &ClassifyResponse{Intent: "search", Confidence: 0.9}}
	r := NewRecognizer(WithProvider(p, NewRateLimiter(1, time.Minute), nil))
	ctx := context.Background()

	first := r.Score(ctx, intents.Default(), "gibberish", Context{UserID: "u"})
	second := r.Score(ctx, intents.Default(), "gibberish", Context{UserID: "u"})
	assert.Equal(t, "search", first.Intent)
	assert.Equal(t, intents.Unknown, second.Intent)
	assert.EqualValues(t, 1, p.calls.Load())
}

type aliasMap map[string]string

func (m aliasMap) Resolve(u string) (string, bool) {
	v, ok := m[u]
	return v, ok
}

func TestRecognizer_AliasMatchesWholeUtterance(t *testing.T) {
	p := &stubProvider{resp: &ClassifyResponse{Intent: "search", Confidence: 1}}
	r := NewRecognizer(
		WithAliases(aliasMap{"assist": "help", "beam": "teleport"}),
		WithProvider(p, nil, nil),
	)
	table := intents.Default()
	help, _ := table.Lookup("help")

	res := r.Score(context.Background(), table, "assist", Context{})
	assert.Equal(t, "help", res.Intent)
	assert.Equal(t, Heuristic, res.Provenance)
	assert.InDelta(t, AliasConfidence*help.BaseWeight, res.Confidence, 1e-9)
	assert.Zero(t, p.calls.Load(), "alias hit skips the model")

	boosted := r.Score(context.Background(), table, "assist", Context{SessionTags: []string{"help"}})
	assert.Greater(t, boosted.Confidence, res.Confidence)

	// Aliases owned by intents outside the table fall through to the model.
	res = r.Score(context.Background(), table, "beam", Context{})
	assert.Equal(t, "search", res.Intent)
	assert.Equal(t, ModelDerived, res.Provenance)

	// Templates win over aliases.
	res = r.Score(context.Background(), table, "go to settings", Context{})
	assert.Equal(t, "navigate", res.Intent)
	assert.NotEmpty(t, res.Template)
}

func TestParseResponse(t *testing.T) {
	resp, err := parseResponse("```json\n{\"intent\":\"search\",\"confidence\":0.7,\"slots\":{\"query\":\"cats\"}}\n```")
	require.NoError(t, err)
	assert.Equal(t, "search", resp.Intent)
	assert.Equal(t, "cats", resp.Slots["query"])

	for _, bad := range []string{"", "not json", `{"confidence":0.5}`} {
		_, err := parseResponse(bad)
		assert.ErrorIs(t, err, ErrMalformedOutput, bad)
	}
}

func TestSystemPromptListsCatalogue(t *testing.T) {
	prompt := systemPrompt(SummarizeTable(intents.Default()))
	assert.Contains(t, prompt, "- navigate: Navigate to a specific screen")
	assert.Contains(t, prompt, "go to the {screen}")
}
