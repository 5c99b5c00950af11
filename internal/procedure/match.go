package procedure

import (
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchTool reports whether a governed-tool pattern matches a tool name.
// Patterns use glob syntax: "get-*" matches any tool starting with "get-",
// "*-dataset" any tool ending in "-dataset". A pattern without wildcards is
// an exact match.
func MatchTool(pattern, name string) bool {
	if pattern == "" || name == "" {
		return false
	}
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == name
	}
	ok, err := doublestar.Match(pattern, name)
	if err != nil {
		return false
	}
	return ok
}

// ExpandPatterns resolves a set of tool patterns against a catalogue of known
// tool names and returns the sorted set of concrete matches. Literal pattern
// entries are kept even when absent from the catalogue, so a procedure can
// name tools the server does not currently expose without losing them.
func ExpandPatterns(patterns, catalogue []string) []string {
	set := make(map[string]struct{})
	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[") {
			set[pattern] = struct{}{}
			continue
		}
		for _, name := range catalogue {
			if MatchTool(pattern, name) {
				set[name] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
