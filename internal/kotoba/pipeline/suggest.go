package pipeline

import (
	"slices"

	"github.com/bdobrica/kotoba/internal/kotoba/intents"
	"github.com/bdobrica/kotoba/internal/kotoba/textnorm"
)

// MaxSuggestions bounds the commands offered for an unmatched turn.
const MaxSuggestions = 3

// suggest proposes templates for text that matched no intent: first those
// whose leading word appears in text, in table order, then the usual phrasing
// of the user's most recent intent.
func suggest(table *intents.Table, text string, recent []string) []string {
	if table == nil {
		return nil
	}
	var out []string
	add := func(s string) bool {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
		return len(out) >= MaxSuggestions
	}

	words := textnorm.Tokens(text)
	if len(words) > 0 {
		for _, def := range table.Definitions() {
			for _, tpl := range def.Templates {
				if lead := tpl.Lead(); lead != "" && slices.Contains(words, lead) && add(tpl.Raw) {
					return out
				}
			}
		}
	}

	for i := len(recent) - 1; i >= 0; i-- {
		def, ok := table.Lookup(recent[i])
		if !ok || len(def.Templates) == 0 {
			continue
		}
		add(def.Templates[0].Raw)
		break
	}
	return out
}
