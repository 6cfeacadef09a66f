// Package environment overlays configuration values from environment
// variables.
//
// Every helper takes a pointer to the current value and replaces it only when
// the variable is set to a non-empty string, so callers can load defaults and
// files first and let the environment win. Values that fail to parse leave the
// destination unchanged and return an error naming the variable.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Lookup reads variables that share a name prefix such as "KOTOBA_".
type Lookup struct {
	Prefix string
}

// Name returns the full variable name for key.
func (l Lookup) Name(key string) string { return l.Prefix + key }

func (l Lookup) get(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(l.Name(key)))
	return v, v != ""
}

// String overlays dst with the variable's value.
func (l Lookup) String(key string, dst *string) {
	if v, ok := l.get(key); ok {
		*dst = v
	}
}

// Bool overlays dst. Accepted values are those of strconv.ParseBool.
func (l Lookup) Bool(key string, dst *bool) error {
	v, ok := l.get(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %q is not a boolean", l.Name(key), v)
	}
	*dst = b
	return nil
}

// Int overlays dst with a decimal integer.
func (l Lookup) Int(key string, dst *int) error {
	v, ok := l.get(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %q is not an integer", l.Name(key), v)
	}
	*dst = n
	return nil
}

// Float overlays dst with a floating point number.
func (l Lookup) Float(key string, dst *float64) error {
	v, ok := l.get(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %q is not a number", l.Name(key), v)
	}
	*dst = f
	return nil
}

// Duration overlays dst with a time.Duration such as "30s" or "24h".
func (l Lookup) Duration(key string, dst *time.Duration) error {
	v, ok := l.get(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %q is not a duration", l.Name(key), v)
	}
	*dst = d
	return nil
}

// Strings overlays dst with a comma-separated list. Elements are trimmed and
// empty elements dropped; a list with no elements leaves dst unchanged.
func (l Lookup) Strings(key string, dst *[]string) {
	v, ok := l.get(key)
	if !ok {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
