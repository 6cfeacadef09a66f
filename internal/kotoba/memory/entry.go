// Package memory keeps a bounded, relevance-ranked history of each user's
// executed turns.
//
// Entries are written once at the end of a successful turn and ranked per
// query by token overlap, a pluggable similarity strategy and recency. When a
// user's store is full the entry with the lowest importance weighted by age
// is evicted.
package memory

import (
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bdobrica/kotoba/internal/kotoba/textnorm"
)

// Entry is one remembered turn. Entries are never modified after they are
// stored.
type Entry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Message    string    `json:"message"`
	Response   string    `json:"response,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Importance float64   `json:"importance"`
	Tags       []string  `json:"tags,omitempty"`
	Compressed bool      `json:"compressed,omitempty"`
}

// Clone returns a copy of e that shares no slices with it.
func (e Entry) Clone() Entry {
	e.Tags = slices.Clone(e.Tags)
	return e
}

// IntentTagPrefix marks the tag recording which intent a turn resolved to.
const IntentTagPrefix = "intent:"

// IntentTag returns the tag recording intent.
func IntentTag(intent string) string { return IntentTagPrefix + intent }

// Intent returns the intent recorded in e's tags, or "".
func (e Entry) Intent() string {
	for _, t := range e.Tags {
		if name, ok := strings.CutPrefix(t, IntentTagPrefix); ok {
			return name
		}
	}
	return ""
}

// retention is the eviction score: importance scaled by exp(-age/window).
func (e Entry) retention(now time.Time, window time.Duration) float64 {
	age := max(now.Sub(e.Timestamp), 0)
	return e.Importance * math.Exp(-float64(age)/float64(window))
}

// Metadata describes a turn for importance scoring.
type Metadata struct {
	Urgent   bool
	Complex  bool
	Negative bool
}

var (
	urgentWords   = []string{"urgent", "asap", "emergency", "critical", "immediately"}
	negativeWords = []string{"bad", "terrible", "awful", "hate", "dislike", "frustrated", "angry"}
	positiveWords = []string{"good", "great", "excellent", "amazing", "wonderful", "love"}
	technical     = []string{"algorithm", "function", "database", "api", "framework"}
)

// Analyze derives Metadata from a message with simple keyword heuristics.
func Analyze(message string) Metadata {
	tokens := textnorm.Tokens(textnorm.Normalize(message))
	has := func(words []string) int {
		n := 0
		for _, w := range words {
			if slices.Contains(tokens, w) {
				n++
			}
		}
		return n
	}
	return Metadata{
		Urgent:   has(urgentWords) > 0,
		Complex:  len(tokens) > 50 || has(technical) > 0 || strings.ContainsAny(message, "{}[]"),
		Negative: has(negativeWords) > has(positiveWords),
	}
}

// Importance scores how worth retaining a turn is, in [0,1].
func (m Metadata) Importance() float64 {
	v := 0.5
	if m.Urgent {
		v += 0.3
	}
	if m.Complex {
		v += 0.2
	}
	if m.Negative {
		v += 0.1
	}
	return math.Min(v, 1)
}

// Tags returns the descriptive tags for m.
func (m Metadata) Tags() []string {
	var tags []string
	if m.Urgent {
		tags = append(tags, "urgent")
	}
	if m.Complex {
		tags = append(tags, "complex")
	}
	if m.Negative {
		tags = append(tags, "negative")
	}
	return tags
}

// Elision joins the head and tail of a compressed text.
const Elision = " [...] "

// MinCompressThreshold is the smallest compression threshold at which keeping
// keep runes on each side still shortens every text over the threshold.
func MinCompressThreshold(keep int) int {
	return 2*keep + utf8.RuneCountInString(Elision)
}

// compressText keeps the first and last keep runes of s. Text that would not
// get shorter is returned unchanged.
func compressText(s string, keep int) (string, bool) {
	if keep <= 0 || utf8.RuneCountInString(s) <= MinCompressThreshold(keep) {
		return s, false
	}
	r := []rune(s)
	return string(r[:keep]) + Elision + string(r[len(r)-keep:]), true
}
