// Package redact strips credentials from values before they are logged,
// printed or posted to a room.
//
// API keys and Matrix access tokens must never reach a log line or the
// operator audit room. Redaction works on string forms only, so call sites
// still have to avoid logging secrets in the first place.
package redact

import (
	"strings"
)

// Placeholder replaces every redacted value.
const Placeholder = "[REDACTED]"

// minSecretLen is the shortest value String will replace.
const minSecretLen = 4

// String replaces every occurrence of each secret in s with Placeholder.
// Secrets shorter than four characters are ignored.
func String(s string, secrets ...string) string {
	for _, v := range secrets {
		if len(v) < minSecretLen {
			continue
		}
		s = strings.ReplaceAll(s, v, Placeholder)
	}
	return s
}

// Map returns a copy of m in which non-empty string values under sensitive
// keys are replaced by Placeholder. Nested maps are redacted recursively; m is
// never modified.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			out[k] = Map(val)
		case string:
			if val != "" && SensitiveKey(k) {
				out[k] = Placeholder
			} else {
				out[k] = val
			}
		default:
			out[k] = v
		}
	}
	return out
}

// SensitiveKey reports whether a field name suggests it holds a secret.
func SensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "passwd", "token", "secret", "api_key", "apikey", "credential"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
