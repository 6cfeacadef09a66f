package intents

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	tpl, err := Compile("Go to {screen}")
	require.NoError(t, err)
	assert.Equal(t, 2, tpl.Literals())
	assert.Equal(t, []string{"screen"}, tpl.Slots())
	assert.False(t, tpl.LiteralOnly())
	assert.Equal(t, "go", tpl.Lead())
	assert.Empty(t, MustCompile("{device} off").Lead())

	bad := []string{"", "go to {screen", "go to screen}", "go {} now", "go {Screen}", "{a} and {a}", "go{x}"}
	for _, raw := range bad {
		_, err := Compile(raw)
		assert.Truef(t, errors.Is(err, ErrInvalidTemplate), "Compile(%q) err = %v", raw, err)
	}
}

func TestTemplateMatch(t *testing.T) {
	tests := []struct {
		name     string
		template string
		input    string
		ok       bool
		full     bool
		slots    map[string]string
	}{
		{"full slot", "go to {screen}", "go to settings", true, true, map[string]string{"screen": "settings"}},
		{"slot absorbs many", "go to {screen}", "go to the settings page", true, true, map[string]string{"screen": "the settings page"}},
		{"slot needs a token", "go to {screen}", "go to", false, false, nil},
		{"substring", "go to {screen}", "please go to settings", true, false, map[string]string{"screen": "settings"}},
		{"interior slot", "send {message} to {recipient}", "send hello there to bob", true, true,
			map[string]string{"message": "hello there", "recipient": "bob"}},
		{"literal only", "play music", "play music", true, true, map[string]string{}},
		{"literal prefix", "play music", "play music loudly", true, false, map[string]string{}},
		{"out of order", "turn on {device}", "on turn wifi", false, false, nil},
		{"punctuation trimmed", "what is {topic}", "what is love?", true, true, map[string]string{"topic": "love"}},
		{"trailing literal", "how does {topic} work", "how does dns work", true, true, map[string]string{"topic": "dns"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := MustCompile(tt.template).MatchText(tt.input)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.full, m.Full)
			assert.Equal(t, tt.slots, m.Slots)
		})
	}
}

func TestNew_Validation(t *testing.T) {
	good := Definition{Name: "a", BaseWeight: 0.5, Templates: []Template{MustCompile("a")}}

	_, err := New([]Definition{good, good})
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = New([]Definition{{Name: "b", BaseWeight: 0.5}})
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = New([]Definition{{Name: "c", BaseWeight: 1.5, Templates: []Template{MustCompile("c")}}})
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = New([]Definition{{Name: Unknown, BaseWeight: 0.5, Templates: []Template{MustCompile("x")}}})
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	rel := good
	rel.Related = []string{"missing"}
	_, err = New([]Definition{rel})
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestDefaultTable(t *testing.T) {
	tbl := Default()
	want := []string{"navigate", "search", "send_message", "play_media", "control",
		"get_information", "create_task", "change_settings", "help", "emergency"}
	assert.Equal(t, want, tbl.Names())

	assert.True(t, tbl.Related("navigate", "search"))
	assert.True(t, tbl.Related("search", "navigate"), "relations are symmetric")
	assert.True(t, tbl.Related("get_information", "navigate"))
	assert.True(t, tbl.Related("control", "play_media"))
	assert.False(t, tbl.Related("help", "emergency"))

	ctl, ok := tbl.Lookup("control")
	require.True(t, ok)
	assert.Equal(t, "on", ctl.Templates[0].Params["action"])
	assert.InDelta(t, 0.8, ctl.BaseWeight, 1e-9)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("intents: ["))
	assert.Error(t, err)

	_, err = Parse([]byte("intents: []"))
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = Parse([]byte("intents:\n  - name: x\n    weight: 0.5\n    patterns: ['go {bad']\n"))
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

const tinyTable = `intents:
  - name: greet
    weight: 0.5
    patterns: [hello]
`

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tinyTable), 0o644))

	initial, err := LoadFile(path)
	require.NoError(t, err)
	src := NewSource(initial)

	w := NewWatcher(path, src, nil)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher a moment to register before writing.
	time.Sleep(50 * time.Millisecond)
	updated := strings.Replace(tinyTable, "greet", "salute", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		_, ok := src.Table().Lookup("salute")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	w.Stop()
	w.Stop()
	require.NoError(t, <-done)
}

func TestWatcher_BadFileKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tinyTable), 0o644))
	initial, err := LoadFile(path)
	require.NoError(t, err)
	src := NewSource(initial)

	require.NoError(t, os.WriteFile(path, []byte("intents: ["), 0o644))
	w := NewWatcher(path, src, nil)
	assert.False(t, w.Reload())
	assert.Same(t, initial, src.Table())
}
