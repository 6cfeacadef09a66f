package nlp

import (
	"maps"
	"slices"

	"github.com/bdobrica/kotoba/internal/kotoba/intents"
	"github.com/bdobrica/kotoba/internal/kotoba/textnorm"
)

// Scoring constants for template matches.
const (
	baseMatchScore  = 1.0
	fullSpanBonus   = 0.5
	perLiteralBonus = 0.1
	contextBoost    = 1.2
)

// Confidence thresholds shared by the resolver and the model fallback.
const (
	// HighConfidenceThreshold is the confidence above which a result is taken
	// as is and the resolver does not intervene.
	HighConfidenceThreshold = 0.8

	// MidConfidenceThreshold is the floor below which a model-derived result
	// is treated as no match.
	MidConfidenceThreshold = 0.5
)

// Classify scores text against every template in table and returns the best
// match. text should already be normalized. The result depends only on the
// arguments: identical inputs always produce identical results.
//
// Confidence is the score relative to an unboosted whole-input match of the
// same template, so an exact literal-only utterance scores at least the
// intent's BaseWeight. It is clamped to [0,1].
func Classify(text string, table *intents.Table, cctx Context) RecognitionResult {
	unknown := RecognitionResult{Intent: intents.Unknown, Provenance: Heuristic}
	if table == nil {
		return unknown
	}
	words := textnorm.Tokens(text)
	if len(words) == 0 {
		return unknown
	}

	best := unknown
	found := false
	for _, def := range table.Definitions() {
		boost := 1.0
		if hasAnyTag(def.Context, cctx.SessionTags) {
			boost = contextBoost
		}
		for _, tpl := range def.Templates {
			m, ok := tpl.Match(words)
			if !ok {
				continue
			}
			raw := baseMatchScore + perLiteralBonus*float64(tpl.Literals())
			if m.Full {
				raw += fullSpanBonus
			}
			score := raw * boost * def.BaseWeight
			// Strictly greater: earlier declarations win ties.
			if found && score <= best.Score {
				continue
			}
			found = true
			ratio := 1.0
			if !m.Full {
				ratio = raw / (raw + fullSpanBonus)
			}
			best = RecognitionResult{
				Intent:     def.Name,
				Score:      score,
				Template:   tpl.Raw,
				Slots:      bindSlots(tpl.Params, m.Slots),
				Confidence: clamp01(ratio * boost * def.BaseWeight),
				Provenance: Heuristic,
			}
		}
	}
	return best
}

func bindSlots(params, slots map[string]string) map[string]string {
	out := make(map[string]string, len(params)+len(slots))
	maps.Copy(out, params)
	maps.Copy(out, slots)
	return out
}

func hasAnyTag(tags, session []string) bool {
	for _, t := range tags {
		if slices.Contains(session, t) {
			return true
		}
	}
	return false
}
