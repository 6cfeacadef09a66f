// Package textnorm normalizes raw utterances before intent matching.
//
// Normalize is pure and deterministic: the same input always yields the same
// output, and it never fails. Sanitize is the checked entry point used by the
// pipeline when the input encoding is untrusted.
package textnorm

import (
	"errors"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrMalformedInput is returned by Sanitize when the input is not valid UTF-8.
var ErrMalformedInput = errors.New("textnorm: malformed input encoding")

// fillers are stripped as whole words. Multi-word fillers are matched as
// consecutive tokens.
var fillers = [][]string{
	{"you", "know"},
	{"um"},
	{"uh"},
	{"like"},
	{"actually"},
	{"basically"},
	{"literally"},
}

// contractions expand a single lowercased token. Ambiguous "'s" forms
// expand to "is".
var contractions = map[string]string{
	"don't":     "do not",
	"can't":     "cannot",
	"won't":     "will not",
	"isn't":     "is not",
	"aren't":    "are not",
	"wasn't":    "was not",
	"weren't":   "were not",
	"hasn't":    "has not",
	"haven't":   "have not",
	"hadn't":    "had not",
	"doesn't":   "does not",
	"didn't":    "did not",
	"wouldn't":  "would not",
	"couldn't":  "could not",
	"shouldn't": "should not",
	"i'm":       "i am",
	"you're":    "you are",
	"he's":      "he is",
	"she's":     "she is",
	"it's":      "it is",
	"we're":     "we are",
	"they're":   "they are",
	"i'll":      "i will",
	"you'll":    "you will",
	"he'll":     "he will",
	"she'll":    "she will",
	"it'll":     "it will",
	"we'll":     "we will",
	"they'll":   "they will",
	"i've":      "i have",
	"you've":    "you have",
	"we've":     "we have",
	"they've":   "they have",
	"i'd":       "i would",
	"you'd":     "you would",
	"he'd":      "he would",
	"she'd":     "she would",
	"it'd":      "it would",
	"we'd":      "we would",
	"they'd":    "they would",
}

// Normalize lowercases raw, expands contractions, strips filler words and
// collapses whitespace. Empty input yields empty output.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(strings.ReplaceAll(raw, "’", "'"))
	words := strings.Fields(lower)

	expanded := make([]string, 0, len(words))
	for _, w := range words {
		if exp, ok := contractions[w]; ok {
			expanded = append(expanded, strings.Fields(exp)...)
			continue
		}
		expanded = append(expanded, w)
	}

	out := make([]string, 0, len(expanded))
	for i := 0; i < len(expanded); {
		if n := fillerAt(expanded, i); n > 0 {
			i += n
			continue
		}
		out = append(out, expanded[i])
		i++
	}
	return strings.Join(out, " ")
}

// fillerAt returns the number of tokens consumed by a filler starting at i,
// or 0 if none matches.
func fillerAt(words []string, i int) int {
	return phraseAt(words, i, fillers, func(w string) string { return w })
}

// phraseAt returns the length of the first phrase that matches words at i
// once each word is passed through key, or 0.
func phraseAt(words []string, i int, phrases [][]string, key func(string) string) int {
	for _, f := range phrases {
		if len(f) == 0 || i+len(f) > len(words) {
			continue
		}
		match := true
		for j, tok := range f {
			if key(words[i+j]) != tok {
				match = false
				break
			}
		}
		if match {
			return len(f)
		}
	}
	return 0
}

// StripWakeWords removes every whole-word occurrence of the wake phrases
// from raw, ignoring case and surrounding punctuation. Longer phrases are
// tried first. raw is returned untouched when nothing matches.
func StripWakeWords(raw string, wake []string) string {
	if raw == "" || len(wake) == 0 {
		return raw
	}
	phrases := make([][]string, 0, len(wake))
	for _, w := range wake {
		var phrase []string
		for _, f := range strings.Fields(w) {
			if k := wakeKey(f); k != "" {
				phrase = append(phrase, k)
			}
		}
		if len(phrase) > 0 {
			phrases = append(phrases, phrase)
		}
	}
	slices.SortStableFunc(phrases, func(a, b []string) int { return len(b) - len(a) })

	words := strings.Fields(raw)
	out := make([]string, 0, len(words))
	stripped := false
	for i := 0; i < len(words); {
		if n := phraseAt(words, i, phrases, wakeKey); n > 0 {
			i += n
			stripped = true
			continue
		}
		out = append(out, words[i])
		i++
	}
	if !stripped {
		return raw
	}
	return strings.Join(out, " ")
}

func wakeKey(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, "’", "'"))
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) && r != '\''
	})
}

// Sanitize validates the encoding of raw and strips control characters.
// On malformed input it returns "" and ErrMalformedInput; callers treat the
// turn as empty.
func Sanitize(raw string) (string, error) {
	if !utf8.ValidString(raw) {
		return "", ErrMalformedInput
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw), nil
}

// Tokens splits s on whitespace and trims surrounding punctuation from each
// token. Tokens that are pure punctuation are dropped.
func Tokens(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		t := strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) && r != '$' && r != '\''
		})
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
