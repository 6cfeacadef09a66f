package nlp

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdobrica/kotoba/internal/kotoba/intents"
	"github.com/bdobrica/kotoba/internal/kotoba/textnorm"
)

func TestClassify_LiteralOnlyTemplatesMeetBaseWeight(t *testing.T) {
	table := intents.Default()
	for _, def := range table.Definitions() {
		for _, tpl := range def.Templates {
			if !tpl.LiteralOnly() {
				continue
			}
			t.Run(tpl.Raw, func(t *testing.T) {
				res := Classify(textnorm.Normalize(tpl.Raw), table, Context{})
				require.Equal(t, def.Name, res.Intent)
				assert.GreaterOrEqual(t, res.Confidence, def.BaseWeight)
				assert.LessOrEqual(t, res.Confidence, 1.0)
			})
		}
	}
}

func TestClassify_SlotBinding(t *testing.T) {
	table := intents.Default()
	tests := []struct {
		input  string
		intent string
		slots  map[string]string
	}{
		{"go to settings", "navigate", map[string]string{"screen": "settings"}},
		{"turn on wifi", "control", map[string]string{"device": "wifi", "action": "on"}},
		{"search for cheap flights", "search", map[string]string{"query": "cheap flights"}},
		{"play music", "play_media", map[string]string{"media": "music"}},
		{"remind me to buy milk", "create_task", map[string]string{"task": "buy milk"}},
		{"set volume to 11", "change_settings", map[string]string{"setting": "volume", "value": "11"}},
		{"help me", "help", map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			res := Classify(textnorm.Normalize(tt.input), table, Context{})
			assert.Equal(t, tt.intent, res.Intent)
			assert.Equal(t, tt.slots, res.Slots)
			assert.Equal(t, Heuristic, res.Provenance)
		})
	}
}

func TestClassify_Unknown(t *testing.T) {
	table := intents.Default()
	for _, in := range []string{"", "purple elephants dance quietly", "   "} {
		res := Classify(in, table, Context{})
		assert.Equal(t, intents.Unknown, res.Intent)
		assert.Zero(t, res.Confidence)
		assert.Empty(t, res.Template)
	}
	res := Classify("anything", nil, Context{})
	assert.Equal(t, intents.Unknown, res.Intent)
}

func TestClassify_ScoreFormula(t *testing.T) {
	table, err := intents.New([]intents.Definition{{
		Name:       "navigate",
		BaseWeight: 0.5,
		Context:    []string{"ui"},
		Templates:  []intents.Template{intents.MustCompile("go to {screen}")},
	}})
	require.NoError(t, err)

	full := Classify("go to settings", table, Context{})
	assert.InDelta(t, (1.0+0.5+0.2)*0.5, full.Score, 1e-9)
	assert.InDelta(t, 0.5, full.Confidence, 1e-9)

	partial := Classify("please go to settings", table, Context{})
	assert.InDelta(t, (1.0+0.2)*0.5, partial.Score, 1e-9)
	assert.Less(t, partial.Confidence, full.Confidence)

	boosted := Classify("go to settings", table, Context{SessionTags: []string{"ui"}})
	assert.InDelta(t, full.Score*1.2, boosted.Score, 1e-9)
	assert.InDelta(t, 0.6, boosted.Confidence, 1e-9)
}

func TestClassify_TiesGoToDeclarationOrder(t *testing.T) {
	table, err := intents.New([]intents.Definition{
		{Name: "first", BaseWeight: 0.7, Templates: []intents.Template{intents.MustCompile("open {thing}")}},
		{Name: "second", BaseWeight: 0.7, Templates: []intents.Template{intents.MustCompile("open {item}")}},
	})
	require.NoError(t, err)
	res := Classify("open the door", table, Context{})
	assert.Equal(t, "first", res.Intent)
}

func TestClassify_ConfidenceClamped(t *testing.T) {
	table, err := intents.New([]intents.Definition{{
		Name: "sos", BaseWeight: 1, Context: []string{"urgent"},
		Templates: []intents.Template{intents.MustCompile("sos")},
	}})
	require.NoError(t, err)
	res := Classify("sos", table, Context{SessionTags: []string{"urgent"}})
	assert.Equal(t, 1.0, res.Confidence)
}

func TestClassify_Idempotent(t *testing.T) {
	table := intents.Default()
	cctx := Context{UserID: "u1", RecentIntents: []string{"search"}, SessionTags: []string{"ui"}}
	inputs := []string{"go to the settings", "text alice see you soon", "what is the weather", "nothing matches here at all"}
	for _, in := range inputs {
		a := Classify(in, table, cctx)
		b := Classify(in, table, cctx)
		if diff := cmp.Diff(a, b); diff != "" {
			t.Errorf("Classify(%q) not idempotent (-first +second):\n%s", in, diff)
		}
	}
}
