package nlp

import "github.com/bdobrica/kotoba/internal/kotoba/intents"

// Relations reports whether two intents are declared related.
// *intents.Table satisfies it.
type Relations interface {
	Related(a, b string) bool
}

var _ Relations = (*intents.Table)(nil)

// Resolver raises the confidence of low-confidence results using recent
// history and the user's learned success rate. It never lowers confidence.
type Resolver struct {
	// PassThrough is the confidence above which results are returned unchanged.
	PassThrough float64
	// RelatedBoost is added when the intent is related to the most recent one.
	RelatedBoost float64
	// PreferenceBoost is added when the user's success rate exceeds PreferenceMin.
	PreferenceBoost float64
	PreferenceMin   float64
}

// DefaultResolver returns the resolver with the documented defaults.
func DefaultResolver() Resolver {
	return Resolver{
		PassThrough:     HighConfidenceThreshold,
		RelatedBoost:    0.2,
		PreferenceBoost: 0.1,
		PreferenceMin:   0.7,
	}
}

// Resolve applies the boosts to r. successRate is the user's learned rate for
// r.Intent (0 when unknown); rel may be nil.
func (res Resolver) Resolve(r RecognitionResult, cctx Context, rel Relations, successRate float64) RecognitionResult {
	out := r.Clone()
	out.Confidence = clamp01(out.Confidence)
	if out.Intent == intents.Unknown || out.Confidence > res.PassThrough {
		return out
	}

	boosted := out.Confidence
	if last := cctx.MostRecent(); last != "" && rel != nil && rel.Related(out.Intent, last) {
		boosted += res.RelatedBoost
	}
	if successRate > res.PreferenceMin {
		boosted += res.PreferenceBoost
	}
	if boosted > out.Confidence {
		out.Confidence = clamp01(boosted)
	}
	return out
}
