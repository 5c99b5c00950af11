package invoke

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/procgov/pop-mcp-server/internal/executil"
)

// Shell invokes a tool by running a templated command. If the command prints
// a JSON object it becomes the structured result; other output is wrapped
// under an "output" key.
type Shell struct {
	// Command is the command to execute.
	Command string
	// Args are optional command arguments.
	Args []string
	// Env adds environment variables.
	Env map[string]string
}

// Invoke implements Invoker.
func (s Shell) Invoke(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	output, _, err := executil.RunCommand(ctx, s.Command, s.Args, s.Env, executil.TemplateData{
		Args:     args,
		ToolName: tool,
	})
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(output)
	var parsed map[string]any
	if json.Unmarshal([]byte(trimmed), &parsed) == nil && parsed != nil {
		return parsed, nil
	}
	return map[string]any{"output": trimmed}, nil
}
