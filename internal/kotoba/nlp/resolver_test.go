package nlp

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bdobrica/kotoba/internal/kotoba/intents"
)

func TestResolve_HighConfidencePassesThrough(t *testing.T) {
	r := RecognitionResult{Intent: "search", Confidence: 0.85}
	got := DefaultResolver().Resolve(r, Context{RecentIntents: []string{"navigate"}}, intents.Default(), 0.99)
	assert.Equal(t, 0.85, got.Confidence)
}

func TestResolve_Boosts(t *testing.T) {
	table := intents.Default()
	res := DefaultResolver()
	tests := []struct {
		name   string
		recent []string
		rate   float64
		want   float64
	}{
		{"no history", nil, 0, 0.5},
		{"related recent", []string{"help", "navigate"}, 0, 0.7},
		{"related but not most recent", []string{"navigate", "help"}, 0, 0.5},
		{"preference only", nil, 0.71, 0.6},
		{"preference at threshold", nil, 0.7, 0.5},
		{"both", []string{"navigate"}, 0.9, 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := RecognitionResult{Intent: "search", Confidence: 0.5}
			got := res.Resolve(r, Context{RecentIntents: tt.recent}, table, tt.rate)
			assert.InDelta(t, tt.want, got.Confidence, 1e-9)
		})
	}
}

func TestResolve_ClampsToOne(t *testing.T) {
	r := RecognitionResult{Intent: "search", Confidence: 0.8}
	got := DefaultResolver().Resolve(r, Context{RecentIntents: []string{"navigate"}}, intents.Default(), 1)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestResolve_UnknownUntouched(t *testing.T) {
	r := RecognitionResult{Intent: intents.Unknown}
	got := DefaultResolver().Resolve(r, Context{RecentIntents: []string{"navigate"}}, intents.Default(), 1)
	assert.Zero(t, got.Confidence)
}

func TestResolve_NeverDecreases(t *testing.T) {
	table := intents.Default()
	res := DefaultResolver()
	names := append(table.Names(), "not_in_table")
	for _, intent := range names {
		for _, recent := range names {
			for _, conf := range []float64{-0.3, 0, 0.1, 0.49, 0.5, 0.79, 0.8, 0.81, 1, 1.4} {
				for _, rate := range []float64{0, 0.5, 0.71, 1} {
					r := RecognitionResult{Intent: intent, Confidence: conf}
					got := res.Resolve(r, Context{RecentIntents: []string{recent}}, table, rate)
					msg := fmt.Sprintf("intent=%s recent=%s conf=%v rate=%v", intent, recent, conf, rate)
					assert.GreaterOrEqual(t, got.Confidence, clamp01(conf), msg)
					assert.GreaterOrEqual(t, got.Confidence, 0.0, msg)
					assert.LessOrEqual(t, got.Confidence, 1.0, msg)
				}
			}
		}
	}
}

func TestResolve_DoesNotMutateInput(t *testing.T) {
	r := RecognitionResult{Intent: "search", Confidence: 0.5, Slots: map[string]string{"query": "x"}}
	got := DefaultResolver().Resolve(r, Context{RecentIntents: []string{"navigate"}}, intents.Default(), 0)
	got.Slots["query"] = "y"
	assert.Equal(t, 0.5, r.Confidence)
	assert.Equal(t, "x", r.Slots["query"])
}
