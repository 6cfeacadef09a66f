// Package nlp turns a normalized utterance into a RecognitionResult.
//
// The heuristic path (Classify, Extract, Resolver) is pure and needs no
// network. An optional Provider may be consulted when the pattern table has
// no answer; its results are tagged ModelDerived so callers and tests can
// tell the two apart.
package nlp

import "maps"

// Provenance records where a recognition came from.
type Provenance string

const (
	// Heuristic results come from pattern scoring.
	Heuristic Provenance = "heuristic"
	// ModelDerived results come from a remote Provider.
	ModelDerived Provenance = "model"
)

// Context is the caller-supplied state a turn is classified against.
type Context struct {
	UserID string
	// RecentIntents is ordered oldest first; the last element is the most
	// recent intent.
	RecentIntents []string
	// SessionTags are matched against intent context tags for the boost.
	SessionTags []string
}

// MostRecent returns the last entry of RecentIntents, or "".
func (c Context) MostRecent() string {
	if len(c.RecentIntents) == 0 {
		return ""
	}
	return c.RecentIntents[len(c.RecentIntents)-1]
}

// RecognitionResult is the outcome of classifying one utterance.
type RecognitionResult struct {
	Intent     string            `json:"intent"`
	Score      float64           `json:"score"`
	Template   string            `json:"template,omitempty"`
	Slots      map[string]string `json:"slots,omitempty"`
	Entities   map[string]string `json:"entities,omitempty"`
	Confidence float64           `json:"confidence"`
	Provenance Provenance        `json:"provenance"`
}

// Clone returns a deep copy of r.
func (r RecognitionResult) Clone() RecognitionResult {
	r.Slots = maps.Clone(r.Slots)
	r.Entities = maps.Clone(r.Entities)
	return r
}

// Params returns the parameters a command is invoked with: entities with
// slot bindings layered on top.
func (r RecognitionResult) Params() map[string]string {
	out := make(map[string]string, len(r.Slots)+len(r.Entities))
	maps.Copy(out, r.Entities)
	maps.Copy(out, r.Slots)
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
