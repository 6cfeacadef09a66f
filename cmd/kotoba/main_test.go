package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("KOTOBA_STORE_BACKEND", "memory")
	var out, logs bytes.Buffer
	root := newRootCmd(&logs)
	root.SetOut(&out)
	root.SetErr(&logs)
	root.SetIn(strings.NewReader(stdin))
	args = append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env"))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))
}

func TestSay_Arguments(t *testing.T) {
	out, err := execute(t, "", "say", "go", "to", "settings", "--user", "alice")
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, sonic.UnmarshalString(strings.TrimSpace(out), &res))
	assert.Equal(t, true, res["success"])
	recognition, ok := res["recognition"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "navigate", recognition["intent"])
}

func TestSay_Stdin(t *testing.T) {
	out, err := execute(t, "turn on wifi\n\nxyzzy plugh\n", "say")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var first, second map[string]any
	require.NoError(t, sonic.UnmarshalString(lines[0], &first))
	require.NoError(t, sonic.UnmarshalString(lines[1], &second))
	assert.Equal(t, true, first["success"])
	assert.Equal(t, false, second["success"])
	assert.Equal(t, "NoIntentMatched", second["error_kind"])
}

func TestConfig_RedactsSecrets(t *testing.T) {
	t.Setenv("KOTOBA_MODEL_PROVIDER", "openai")
	t.Setenv("KOTOBA_MODEL_API_KEY", "sk-very-secret-key")
	out, err := execute(t, "", "config")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-very-secret-key")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, "backend: memory")
}

func TestConfig_ReportsInvalid(t *testing.T) {
	t.Setenv("KOTOBA_MEMORY_CAPACITY", "0")
	out, err := execute(t, "", "config")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory.capacity")
	assert.Contains(t, out, "capacity: 0")
}

func TestIntents(t *testing.T) {
	out, err := execute(t, "", "intents")
	require.NoError(t, err)
	assert.Contains(t, out, "INTENT")
	assert.Contains(t, out, "navigate")
	assert.Contains(t, out, "go to {screen}")
}

func TestMemory_ShowAndClear(t *testing.T) {
	out, err := execute(t, "", "memory", "show", "--user", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, `"user": "bob"`)
	assert.Contains(t, out, `"total_commands": 0`)

	out, err = execute(t, "", "memory", "clear", "--user", "bob")
	require.NoError(t, err)
	assert.Equal(t, "cleared 0 entries for bob\n", out)
}

func TestLoadErrorFailsCommand(t *testing.T) {
	_, err := execute(t, "", "intents", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
