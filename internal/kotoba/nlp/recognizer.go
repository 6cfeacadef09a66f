package nlp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bdobrica/kotoba/common/trace"
	"github.com/bdobrica/kotoba/internal/kotoba/intents"
)

// Recognizer scores utterances with the pattern table and, when configured,
// asks a Provider about utterances the table cannot place.
type Recognizer struct {
	aliases       Aliases
	provider      Provider
	limiter       *RateLimiter
	budget        *TokenBudget
	minConfidence float64
	logger        *slog.Logger
}

// AliasConfidence is the confidence of a whole-utterance alias match before
// the intent's BaseWeight is applied.
const AliasConfidence = 0.95

// Aliases maps a whole utterance such as "sos" or "google" to the intent that
// owns it.
type Aliases interface {
	Resolve(utterance string) (intent string, ok bool)
}

// RecognizerOption configures a Recognizer.
type RecognizerOption func(*Recognizer)

// WithProvider enables the model fallback. limiter and budget may be nil.
func WithProvider(p Provider, limiter *RateLimiter, budget *TokenBudget) RecognizerOption {
	return func(r *Recognizer) {
		r.provider = p
		r.limiter = limiter
		r.budget = budget
	}
}

// WithAliases lets utterances that no template matches resolve through a
// command alias.
func WithAliases(a Aliases) RecognizerOption {
	return func(r *Recognizer) { r.aliases = a }
}

// WithLogger sets the logger; nil keeps slog.Default().
func WithLogger(l *slog.Logger) RecognizerOption {
	return func(r *Recognizer) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRecognizer builds a Recognizer. Without WithProvider it is purely
// heuristic.
func NewRecognizer(opts ...RecognizerOption) *Recognizer {
	r := &Recognizer{minConfidence: MidConfidenceThreshold, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// HasProvider reports whether the model fallback is enabled.
func (r *Recognizer) HasProvider() bool { return r.provider != nil }

// Score classifies text against table. If no template matches, the whole
// utterance is tried as a command alias, then the provider is consulted when
// configured; any provider failure degrades to the heuristic result.
func (r *Recognizer) Score(ctx context.Context, table *intents.Table, text string, cctx Context) RecognitionResult {
	res := Classify(text, table, cctx)
	if res.Intent != intents.Unknown || table == nil || text == "" {
		return res
	}
	if alias, ok := r.matchAlias(table, text, cctx); ok {
		return alias
	}
	if r.provider == nil {
		return res
	}

	model, err := r.askModel(ctx, table, text, cctx.UserID)
	if err != nil {
		log := trace.Logger(ctx, r.logger)
		switch {
		case errors.Is(err, ErrRateLimit), errors.Is(err, ErrBudgetExceeded):
			log.Info("model fallback skipped", "user_id", cctx.UserID, "reason", err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// Turn abandoned by the caller.
		default:
			log.Warn("model fallback failed", "user_id", cctx.UserID, "err", err)
		}
		return res
	}
	return model
}

// matchAlias resolves an utterance that equals a command alias. The owning
// intent must be in table.
func (r *Recognizer) matchAlias(table *intents.Table, text string, cctx Context) (RecognitionResult, bool) {
	if r.aliases == nil {
		return RecognitionResult{}, false
	}
	name, ok := r.aliases.Resolve(text)
	if !ok {
		return RecognitionResult{}, false
	}
	def, ok := table.Lookup(name)
	if !ok {
		return RecognitionResult{}, false
	}
	conf := AliasConfidence * def.BaseWeight
	if hasAnyTag(def.Context, cctx.SessionTags) {
		conf *= contextBoost
	}
	return RecognitionResult{
		Intent:     name,
		Score:      AliasConfidence,
		Confidence: clamp01(conf),
		Provenance: Heuristic,
	}, true
}

func (r *Recognizer) askModel(ctx context.Context, table *intents.Table, text, userID string) (RecognitionResult, error) {
	unknown := RecognitionResult{Intent: intents.Unknown, Provenance: ModelDerived}
	if r.limiter != nil && !r.limiter.Allow(userID) {
		return unknown, ErrRateLimit
	}
	if r.budget != nil && !r.budget.Allow(userID) {
		return unknown, ErrBudgetExceeded
	}

	resp, err := r.provider.Classify(ctx, ClassifyRequest{
		Message: text,
		Intents: SummarizeTable(table),
		UserID:  userID,
	})
	if err != nil {
		return unknown, err
	}
	if resp.Usage != nil && r.budget != nil {
		r.budget.RecordUsage(userID, resp.Usage.TotalTokens)
	}

	// The model may only pick intents the table knows about.
	if _, ok := table.Lookup(resp.Intent); !ok {
		return unknown, nil
	}
	conf := clamp01(resp.Confidence)
	if conf < r.minConfidence {
		return unknown, nil
	}
	return RecognitionResult{
		Intent:     resp.Intent,
		Slots:      resp.Slots,
		Confidence: conf,
		Provenance: ModelDerived,
	}, nil
}
