package nlp

import (
	"maps"
	"regexp"
)

// EntityType names one of the built-in recognizers.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityLocation     EntityType = "location"
	EntityTime         EntityType = "time"
	EntityDate         EntityType = "date"
	EntityNumber       EntityType = "number"
	EntityCurrency     EntityType = "currency"
	EntityOrganization EntityType = "organization"
)

// Entity is a typed value found in the raw utterance. Start and End are byte
// offsets of Value in the input.
type Entity struct {
	Type  EntityType `json:"type"`
	Value string     `json:"value"`
	Start int        `json:"start"`
	End   int        `json:"end"`
}

// recognizer finds the first value of one entity type. Each pattern must have
// exactly one capture group holding the value.
type recognizer struct {
	typ      EntityType
	patterns []*regexp.Regexp
}

const properNoun = `([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`

// recognizers run in this order; each is independent of the others.
var recognizers = []recognizer{
	{EntityPerson, []*regexp.Regexp{
		regexp.MustCompile(`\b(?i:call|text|message|contact)\s+` + properNoun),
		regexp.MustCompile(`\b(?i:to|with)\s+` + properNoun),
	}},
	{EntityLocation, []*regexp.Regexp{
		regexp.MustCompile(`\b(?i:in|at|to|from)\s+` + properNoun),
		regexp.MustCompile(`\b(?i:go to|navigate to|travel to)\s+` + properNoun),
	}},
	{EntityTime, []*regexp.Regexp{
		regexp.MustCompile(`\b(?i:at|around|about)\s+(\d{1,2}:\d{2})`),
		regexp.MustCompile(`\b(?i:at|around|about)\s+(\d{1,2})\s*(?i:am|pm)`),
		regexp.MustCompile(`\b(?i:in|after)\s+(\d+)\s*(?i:minutes?|hours?|days?)`),
	}},
	{EntityDate, []*regexp.Regexp{
		regexp.MustCompile(`\b(?i:on|at)\s+(\d{1,2}/\d{1,2}/\d{4})`),
		regexp.MustCompile(`\b(?i:on|at)\s+(\d{1,2}/\d{1,2})`),
		regexp.MustCompile(`(?i)\b(today|tomorrow|yesterday)\b`),
	}},
	{EntityNumber, []*regexp.Regexp{
		regexp.MustCompile(`(\d+(?:\.\d+)?)`),
	}},
	{EntityCurrency, []*regexp.Regexp{
		regexp.MustCompile(`\$(\d+(?:\.\d{2})?)`),
		regexp.MustCompile(`(\d+(?:\.\d{2})?)\s*(?i:dollars?)`),
	}},
	{EntityOrganization, []*regexp.Regexp{
		regexp.MustCompile(`\b(?i:at|for|with)\s+` + properNoun),
	}},
}

// Recognize runs every recognizer against raw (case preserved) and returns
// at most one entity per type, in recognizer order. A type with no match is
// simply absent.
func Recognize(raw string) []Entity {
	var out []Entity
	for _, r := range recognizers {
		if e, ok := r.find(raw); ok {
			out = append(out, e)
		}
	}
	return out
}

func (r recognizer) find(raw string) (Entity, bool) {
	for _, re := range r.patterns {
		loc := re.FindStringSubmatchIndex(raw)
		if loc == nil || len(loc) < 4 || loc[2] < 0 {
			continue
		}
		return Entity{Type: r.typ, Value: raw[loc[2]:loc[3]], Start: loc[2], End: loc[3]}, true
	}
	return Entity{}, false
}

// Extract merges pattern-bound slots with recognizer output. Slots win when
// both produce a value under the same name.
func Extract(raw string, slots map[string]string) map[string]string {
	found := Recognize(raw)
	out := make(map[string]string, len(slots)+len(found))
	for _, e := range found {
		out[string(e.Type)] = e.Value
	}
	maps.Copy(out, slots)
	return out
}
