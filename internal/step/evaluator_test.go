package step

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqualityEvaluator(t *testing.T) {
	scope := map[string]any{
		"context": map[string]any{
			"environment": "staging",
			"rows":        42,
		},
		"steps": map[string]any{
			"create": map[string]any{"status": "success"},
		},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"path equality", "context.environment==staging", true},
		{"path inequality", "context.environment==production", false},
		{"negated path", "context.environment!=production", true},
		{"numeric value", "context.rows==42", true},
		{"nested step output", "steps.create.status==success", true},
		{"unresolvable path compares as literal", "context.missing==context.missing", true},
		{"literal comparison", "yes==yes", true},
		{"whitespace tolerated", "  context.environment ==  staging ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EqualityEvaluator{}.Evaluate(tt.expr, scope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEqualityEvaluator_Errors(t *testing.T) {
	got, err := EqualityEvaluator{}.Evaluate("context.environment > 3", nil)
	assert.Error(t, err)
	assert.False(t, got)

	got, err = EqualityEvaluator{}.Evaluate("", nil)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEqualityEvaluator_NilScope(t *testing.T) {
	got, err := EqualityEvaluator{}.Evaluate("a.b==a.b", nil)
	require.NoError(t, err)
	assert.True(t, got)
}
