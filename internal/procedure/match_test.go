package procedure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchTool(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		tool    string
		want    bool
	}{
		{name: "exact match", pattern: "create-dataset", tool: "create-dataset", want: true},
		{name: "exact mismatch", pattern: "create-dataset", tool: "delete-dataset", want: false},
		{name: "prefix wildcard", pattern: "get-*", tool: "get-datasets", want: true},
		{name: "prefix wildcard deep", pattern: "get-*", tool: "get-dataset-rows", want: true},
		{name: "prefix wildcard miss", pattern: "get-*", tool: "create-dataset", want: false},
		{name: "suffix wildcard", pattern: "*-dataset", tool: "create-dataset", want: true},
		{name: "suffix wildcard miss", pattern: "*-dataset", tool: "upload-dataset-rows", want: false},
		{name: "middle wildcard", pattern: "get-*-rows", tool: "get-dataset-rows", want: true},
		{name: "empty pattern", pattern: "", tool: "get-datasets", want: false},
		{name: "empty tool", pattern: "get-*", tool: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTool(tt.pattern, tt.tool))
		})
	}
}

func TestExpandPatterns(t *testing.T) {
	catalogue := []string{
		"get-datasets",
		"get-dataset",
		"get-dataset-rows",
		"create-dataset",
		"delete-dataset",
		"upload-dataset-rows",
		"run-agent",
	}

	t.Run("wildcards expand against the catalogue", func(t *testing.T) {
		got := ExpandPatterns([]string{"get-*"}, catalogue)
		assert.Equal(t, []string{"get-dataset", "get-dataset-rows", "get-datasets"}, got)
	})

	t.Run("suffix wildcard", func(t *testing.T) {
		got := ExpandPatterns([]string{"*-dataset"}, catalogue)
		assert.Equal(t, []string{"create-dataset", "delete-dataset", "get-dataset"}, got)
	})

	t.Run("literals survive even off-catalogue", func(t *testing.T) {
		got := ExpandPatterns([]string{"migrate-dataset"}, catalogue)
		assert.Equal(t, []string{"migrate-dataset"}, got)
	})

	t.Run("mixed, deduplicated, sorted", func(t *testing.T) {
		got := ExpandPatterns([]string{"get-dataset", "get-*", "run-agent"}, catalogue)
		assert.Equal(t, []string{"get-dataset", "get-dataset-rows", "get-datasets", "run-agent"}, got)
	})

	t.Run("empty patterns", func(t *testing.T) {
		assert.Empty(t, ExpandPatterns(nil, catalogue))
	})
}
