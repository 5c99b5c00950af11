package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderBytes(t *testing.T) {
	t.Setenv("POP_BACKEND_URL", "http://backend:9090/tools")

	out, err := RenderBytes("pop.yaml", []byte(`
governance:
  backend_url: {{ env "POP_BACKEND_URL" }}
  dataset: {{ envOr "POP_DATASET" "governance-procedures" }}
`))
	require.NoError(t, err)
	assert.Contains(t, string(out), "backend_url: http://backend:9090/tools")
	assert.Contains(t, string(out), "dataset: governance-procedures")
}

func TestRenderBytes_MissingEnvFailsWhole(t *testing.T) {
	_, err := RenderBytes("pop.yaml", []byte(`a: {{ env "POP_DEFINITELY_UNSET_VAR" }}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POP_DEFINITELY_UNSET_VAR")
}

func TestRenderBytes_ParseError(t *testing.T) {
	_, err := RenderBytes("pop.yaml", []byte(`a: {{ env `))
	assert.Error(t, err)
}

func TestRenderBytes_PlainYAMLPassesThrough(t *testing.T) {
	raw := []byte("server:\n  name: pop-mcp-server\n")
	out, err := RenderBytes("", raw)
	require.NoError(t, err)
	assert.Equal(t, string(raw), string(out))
}
