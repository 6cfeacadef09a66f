package textnorm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "   \t\n ", ""},
		{"lowercase and collapse", "  Go   TO\tSettings ", "go to settings"},
		{"fillers", "um go to uh settings", "go to settings"},
		{"multi word filler", "you know play some jazz", "play some jazz"},
		{"contraction", "I'm sure it's fine", "i am sure it is fine"},
		{"curly apostrophe", "don’t stop", "do not stop"},
		{"filler word inside token kept", "unlike likely", "unlike likely"},
		{"combined", "Um, basically I can't find it", "um, i cannot find it"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	in := "Literally TURN on the   wifi, you know"
	first := Normalize(in)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Normalize(in))
	}
	assert.Equal(t, "turn on the wifi,", first)
}

func TestSanitize(t *testing.T) {
	got, err := Sanitize("play\x00 music")
	require.NoError(t, err)
	assert.Equal(t, "play music", got)

	got, err = Sanitize("bad \xff\xfe bytes")
	assert.True(t, errors.Is(err, ErrMalformedInput))
	assert.Empty(t, got)
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "$20"}, Tokens("hello, world! $20."))
	assert.Empty(t, Tokens(" ... "))
}

func TestStripWakeWords(t *testing.T) {
	wake := []string{"kotoba", "Hey Kotoba"}
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"leading phrase", "Hey Kotoba, go to settings", "go to settings"},
		{"longer phrase first", "hey kotoba turn on wifi", "turn on wifi"},
		{"single word anywhere", "turn on wifi kotoba", "turn on wifi"},
		{"every occurrence", "kotoba play jazz KOTOBA", "play jazz"},
		{"inside a word kept", "kotobasan go home", "kotobasan go home"},
		{"no match untouched", "  go   home ", "  go   home "},
		{"only wake word", "hey kotoba!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripWakeWords(tt.in, wake))
		})
	}

	assert.Equal(t, "hey kotoba", StripWakeWords("hey kotoba", nil))
	assert.Equal(t, "go home", StripWakeWords("go home", []string{"", "  "}))
}
