package intents

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bdobrica/kotoba/internal/kotoba/textnorm"
)

// ErrInvalidTemplate is returned when a pattern template cannot be compiled.
var ErrInvalidTemplate = errors.New("intents: invalid template")

var slotNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type tokenKind uint8

const (
	literalToken tokenKind = iota
	slotToken
)

type token struct {
	kind tokenKind
	text string // literal text, or slot name
}

// Template is a compiled `literal {slot} literal` pattern. The zero value is
// not usable; build one with Compile.
type Template struct {
	// Raw is the template as written by the author.
	Raw string
	// Params are static parameters bound whenever this template matches,
	// e.g. action=on for "turn on {device}". Slot values override them.
	Params map[string]string

	tokens   []token
	literals int
	slots    []string
}

// Compile parses raw into a Template. Literals are lowercased so they match
// normalized input; each {slot} must be a whole whitespace-separated token.
func Compile(raw string) (Template, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return Template{}, fmt.Errorf("%w: empty template", ErrInvalidTemplate)
	}

	t := Template{Raw: raw}
	seen := make(map[string]bool)
	for _, f := range fields {
		if strings.HasPrefix(f, "{") || strings.HasSuffix(f, "}") {
			if !strings.HasPrefix(f, "{") || !strings.HasSuffix(f, "}") || len(f) < 3 {
				return Template{}, fmt.Errorf("%w: unbalanced slot %q in %q", ErrInvalidTemplate, f, raw)
			}
			name := f[1 : len(f)-1]
			if !slotNameRe.MatchString(name) {
				return Template{}, fmt.Errorf("%w: bad slot name %q in %q", ErrInvalidTemplate, name, raw)
			}
			if seen[name] {
				return Template{}, fmt.Errorf("%w: duplicate slot %q in %q", ErrInvalidTemplate, name, raw)
			}
			seen[name] = true
			t.tokens = append(t.tokens, token{kind: slotToken, text: name})
			t.slots = append(t.slots, name)
			continue
		}
		if strings.ContainsAny(f, "{}") {
			return Template{}, fmt.Errorf("%w: stray brace in %q", ErrInvalidTemplate, raw)
		}
		t.tokens = append(t.tokens, token{kind: literalToken, text: strings.ToLower(f)})
		t.literals++
	}
	return t, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// package-level tables.
func MustCompile(raw string) Template {
	t, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// Literals returns the number of literal tokens in the template.
func (t Template) Literals() int { return t.literals }

// Slots returns the slot names in declaration order.
func (t Template) Slots() []string { return append([]string(nil), t.slots...) }

// LiteralOnly reports whether the template has no slots.
func (t Template) LiteralOnly() bool { return len(t.slots) == 0 }

// Lead returns the first token when it is a literal, or "".
func (t Template) Lead() string {
	if len(t.tokens) == 0 || t.tokens[0].kind != literalToken {
		return ""
	}
	return t.tokens[0].text
}

// Match is the outcome of matching a Template against a token list.
type Match struct {
	Slots map[string]string
	// Start and End delimit the matched token span [Start, End).
	Start, End int
	// Full is true when the span covers the entire input.
	Full bool
}

// Match tries the template against words (already normalized and
// tokenized). An anchored whole-input match is preferred; otherwise the
// leftmost contiguous match is returned. Slots absorb one or more tokens,
// longest first.
func (t Template) Match(words []string) (Match, bool) {
	if len(t.tokens) == 0 || len(words) == 0 {
		return Match{}, false
	}
	bind := make([]span, len(t.tokens))
	if _, ok := t.run(words, 0, true, bind); ok {
		return t.build(words, bind, 0, len(words)), true
	}
	for start := 0; start < len(words); start++ {
		if end, ok := t.run(words, start, false, bind); ok {
			return t.build(words, bind, start, end), true
		}
	}
	return Match{}, false
}

// MatchText tokenizes s and matches it.
func (t Template) MatchText(s string) (Match, bool) {
	return t.Match(textnorm.Tokens(s))
}

type span struct{ from, to int }

// run matches every template token starting at words[start]. When anchored
// the match must consume the rest of the input.
func (t Template) run(words []string, start int, anchored bool, bind []span) (int, bool) {
	end := -1
	var rec func(ti, wi int) bool
	rec = func(ti, wi int) bool {
		if ti == len(t.tokens) {
			if anchored && wi != len(words) {
				return false
			}
			end = wi
			return true
		}
		return t.step(words, ti, wi, bind, rec)
	}
	if rec(0, start) {
		return end, true
	}
	return 0, false
}

func (t Template) step(words []string, ti, wi int, bind []span, next func(ti, wi int) bool) bool {
	if wi >= len(words) {
		return false
	}
	tok := t.tokens[ti]
	if tok.kind == literalToken {
		if words[wi] != tok.text {
			return false
		}
		bind[ti] = span{wi, wi + 1}
		return next(ti+1, wi+1)
	}
	// Leave at least one word per remaining slot or literal.
	maxTake := len(words) - wi - (len(t.tokens) - ti - 1)
	for k := maxTake; k >= 1; k-- {
		bind[ti] = span{wi, wi + k}
		if next(ti+1, wi+k) {
			return true
		}
	}
	return false
}

func (t Template) build(words []string, bind []span, start, end int) Match {
	m := Match{
		Slots: make(map[string]string, len(t.slots)),
		Start: start,
		End:   end,
		Full:  start == 0 && end == len(words),
	}
	for i, tok := range t.tokens {
		if tok.kind == slotToken {
			m.Slots[tok.text] = strings.Join(words[bind[i].from:bind[i].to], " ")
		}
	}
	return m
}
