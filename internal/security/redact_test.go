package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactArguments(t *testing.T) {
	args := map[string]any{
		"dataset":     "sales",
		"api_key":     "sk-123",
		"Bearer":      "abc",
		"secret_name": "prod-db-password-ref",
		"nested": map[string]any{
			"password": "hunter2",
			"rows":     3,
		},
	}

	got := RedactArguments(args)

	assert.Equal(t, "sales", got["dataset"])
	assert.Equal(t, "***", got["api_key"])
	assert.Equal(t, "***", got["Bearer"])
	// Names of secrets are not secrets.
	assert.Equal(t, "prod-db-password-ref", got["secret_name"])

	nested := got["nested"].(map[string]any)
	assert.Equal(t, "***", nested["password"])
	assert.Equal(t, 3, nested["rows"])

	// The input is never mutated.
	assert.Equal(t, "sk-123", args["api_key"])
	assert.Equal(t, "hunter2", args["nested"].(map[string]any)["password"])
}

func TestRedactArguments_Nil(t *testing.T) {
	assert.Nil(t, RedactArguments(nil))
}
