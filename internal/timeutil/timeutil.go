// Package timeutil parses the human-entered duration strings that appear
// throughout the gate's YAML configuration.
package timeutil

import (
	"strings"
	"time"
)

// Parse parses a duration string. Empty input is not an error; it parses to
// zero so optional config fields can stay unset.
func Parse(value string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	return time.ParseDuration(value)
}

// ParseDurationOrDefault parses value and falls back to def on empty or
// invalid input.
func ParseDurationOrDefault(value string, def time.Duration) time.Duration {
	if strings.TrimSpace(value) == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
