package pipeline

import (
	"cmp"
	"context"
	"slices"

	"github.com/bdobrica/kotoba/internal/kotoba/learning"
	"github.com/bdobrica/kotoba/internal/kotoba/memory"
)

// TopUsage bounds each most-used list in Stats.
const TopUsage = 5

// Usage counts how often one intent or template was used.
type Usage struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Stats summarizes a user's command history. Turn counts cover the turns
// still held in memory; template counts cover the whole learning profile.
type Stats struct {
	TotalCommands     int     `json:"total_commands"`
	AverageConfidence float64 `json:"average_confidence"`
	MostUsedIntents   []Usage `json:"most_used_intents"`
	MostUsedTemplates []Usage `json:"most_used_templates"`
}

// Stats reports the user's command statistics.
func (e *Engine) Stats(ctx context.Context, user string) (Stats, error) {
	entries, err := e.memory.Recent(ctx, user, 0)
	if err != nil {
		return Stats{}, err
	}
	profile, err := e.learning.Profile(ctx, user)
	if err != nil {
		return Stats{}, err
	}
	return summarize(entries, profile), nil
}

func summarize(entries []memory.Entry, profile learning.Profile) Stats {
	var st Stats
	intents := make(map[string]int)
	var sum float64
	for _, e := range entries {
		name := e.Intent()
		if name == "" {
			continue
		}
		intents[name]++
		sum += e.Confidence
		st.TotalCommands++
	}
	if st.TotalCommands > 0 {
		st.AverageConfidence = sum / float64(st.TotalCommands)
	}
	st.MostUsedIntents = topUsage(intents)
	st.MostUsedTemplates = topUsage(profile.PatternUsage)
	return st
}

// topUsage orders counts by count descending, then name.
func topUsage(counts map[string]int) []Usage {
	out := make([]Usage, 0, len(counts))
	for name, n := range counts {
		out = append(out, Usage{Name: name, Count: n})
	}
	slices.SortFunc(out, func(a, b Usage) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if len(out) > TopUsage {
		out = out[:TopUsage]
	}
	return out
}
