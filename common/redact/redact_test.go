package redact_test

import (
	"testing"

	"github.com/bdobrica/kotoba/common/redact"
)

func TestString(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		secrets []string
		want    string
	}{
		{"single", "Bearer sk-live-12345 sent", []string{"sk-live-12345"}, "Bearer [REDACTED] sent"},
		{"short ignored", "id=abc", []string{"abc"}, "id=abc"},
		{"several", "key=aaaa1 tok=bbbb2", []string{"aaaa1", "bbbb2"}, "key=[REDACTED] tok=[REDACTED]"},
		{"no secrets", "plain", nil, "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redact.String(tt.in, tt.secrets...); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMap(t *testing.T) {
	m := map[string]any{
		"homeserver": "https://matrix.example.org",
		"model": map[string]any{
			"provider": "openai",
			"api_key":  "sk-abc",
		},
		"matrix": map[string]any{
			"access_token": "syt_123",
			"rooms":        []any{"!a:example.org"},
		},
		"empty_token": "",
		"capacity":    100,
	}
	out := redact.Map(m)

	if out["homeserver"] != "https://matrix.example.org" {
		t.Errorf("homeserver redacted: %v", out["homeserver"])
	}
	model := out["model"].(map[string]any)
	if model["api_key"] != redact.Placeholder || model["provider"] != "openai" {
		t.Errorf("unexpected model section %v", model)
	}
	if out["matrix"].(map[string]any)["access_token"] != redact.Placeholder {
		t.Errorf("access token not redacted")
	}
	if out["empty_token"] != "" {
		t.Errorf("empty values stay empty, got %v", out["empty_token"])
	}
	if out["capacity"] != 100 {
		t.Errorf("non-string value changed: %v", out["capacity"])
	}
	if m["model"].(map[string]any)["api_key"] != "sk-abc" {
		t.Error("Map modified its input")
	}
}

func TestSensitiveKey(t *testing.T) {
	for key, want := range map[string]bool{
		"APIKey":       true,
		"access_token": true,
		"password":     true,
		"keep_chars":   false,
		"top_k":        false,
		"model":        false,
	} {
		if got := redact.SensitiveKey(key); got != want {
			t.Errorf("SensitiveKey(%q) = %v, want %v", key, got, want)
		}
	}
}
