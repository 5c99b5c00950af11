package procedure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procgov/pop-mcp-server/internal/constants"
)

func TestParseRow_FullDefinition(t *testing.T) {
	row := map[string]any{
		"definition": map[string]any{
			"id":      "PROC-EXPORT-DATA-V1",
			"name":    "Export dataset",
			"version": "2",
			"purpose": "Controlled export of dataset rows",
			"triggers": map[string]any{
				"tools":      []any{"get-dataset-rows", "get-dataset-output"},
				"operations": []any{"read"},
			},
			"metadata": map[string]any{
				"priority": "high",
				"tags":     []any{"export"},
			},
			"constraints": map[string]any{
				"allowedDatasets": []any{"sales-2026"},
			},
			"steps": []any{
				map[string]any{
					"id":       "confirm",
					"type":     "information",
					"content":  "Exports are audited.",
					"required": true,
				},
				map[string]any{
					"id":              "export",
					"type":            "tool",
					"toolName":        "get-dataset-rows",
					"retryable":       true,
					"maxRetries":      float64(5),
					"validationRules": []any{"dataset"},
				},
			},
		},
	}

	proc, err := ParseRow(row)
	require.NoError(t, err)

	assert.Equal(t, "PROC-EXPORT-DATA-V1", proc.ID)
	assert.Equal(t, "Export dataset", proc.Name)
	assert.Equal(t, "2", proc.Version)
	assert.True(t, proc.Active)
	assert.Equal(t, []string{"get-dataset-rows", "get-dataset-output"}, proc.Triggers.Tools)
	assert.Equal(t, []string{"read"}, proc.Triggers.Operations)
	assert.Equal(t, constants.PriorityHigh, proc.Metadata.Priority)
	assert.Equal(t, []string{"sales-2026"}, proc.Constraints.AllowedDatasets)

	require.Len(t, proc.Steps, 2)
	info := proc.Steps[0]
	assert.Equal(t, constants.StepInformation, info.Type)
	require.NotNil(t, info.Information)
	assert.Equal(t, "Exports are audited.", info.Information.Content)

	tool := proc.Steps[1]
	assert.Equal(t, constants.StepTool, tool.Type)
	require.NotNil(t, tool.Tool)
	assert.Equal(t, "get-dataset-rows", tool.Tool.ToolName)
	assert.True(t, tool.Retryable)
	assert.Equal(t, 5, tool.MaxRetries)
	require.Len(t, tool.Tool.ValidationRules, 1)
	assert.Equal(t, ValidationRule{Field: "dataset", Kind: RuleRequiredParam}, tool.Tool.ValidationRules[0])
}

func TestParseRow_DefinitionAsJSONString(t *testing.T) {
	row := map[string]any{
		"definition": `{"id":"PROC-X","steps":[{"toolName":"create-dataset"}]}`,
	}
	proc, err := ParseRow(row)
	require.NoError(t, err)
	assert.Equal(t, "PROC-X", proc.ID)
	require.Len(t, proc.Steps, 1)
	assert.Equal(t, constants.StepTool, proc.Steps[0].Type)
}

func TestParseRow_Defaults(t *testing.T) {
	proc, err := ParseRow(map[string]any{
		"id": "PROC-MIN",
		"steps": []any{
			map[string]any{"toolName": "create-dataset"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "PROC-MIN", proc.Name, "name defaults to id")
	assert.Equal(t, "1", proc.Version)
	assert.True(t, proc.Active)
	assert.Equal(t, constants.PriorityNormal, proc.Metadata.Priority)

	st := proc.Steps[0]
	assert.Equal(t, "step-1", st.ID)
	assert.True(t, st.Required)
	assert.False(t, st.Retryable)
	assert.Equal(t, 0, st.MaxRetries)
}

func TestParseRow_LegacyTriggerArray(t *testing.T) {
	proc, err := ParseRow(map[string]any{
		"id":       "PROC-LEGACY",
		"triggers": []any{"create-dataset", "upload-dataset-rows"},
		"steps":    []any{map[string]any{"toolName": "create-dataset"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"create-dataset", "upload-dataset-rows"}, proc.Triggers.Tools)
}

func TestParseRow_StepTypeInference(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want string
	}{
		{
			name: "question plus options is a quiz",
			raw:  map[string]any{"question": "Why?", "options": []any{"a", "b"}},
			want: constants.StepQuiz,
		},
		{
			name: "approvers imply approval",
			raw:  map[string]any{"approvers": []any{"lead"}},
			want: constants.StepApproval,
		},
		{
			name: "waitType implies wait",
			raw:  map[string]any{"waitType": "duration", "duration": "1s"},
			want: constants.StepWait,
		},
		{
			name: "bare duration implies wait",
			raw:  map[string]any{"duration": float64(1500)},
			want: constants.StepWait,
		},
		{
			name: "content implies information",
			raw:  map[string]any{"content": "read me"},
			want: constants.StepInformation,
		},
		{
			name: "tool name falls back to tool",
			raw:  map[string]any{"toolName": "create-dataset"},
			want: constants.StepTool,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc, err := ParseRow(map[string]any{
				"id":    "PROC-INFER",
				"steps": []any{tt.raw},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, proc.Steps[0].Type)
		})
	}
}

func TestParseRow_LegacyDurationMilliseconds(t *testing.T) {
	proc, err := ParseRow(map[string]any{
		"id": "PROC-WAIT",
		"steps": []any{
			map[string]any{"id": "w", "type": "wait", "duration": float64(1500)},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, proc.Steps[0].Wait)
	assert.Equal(t, 1500*time.Millisecond, proc.Steps[0].Wait.Duration)
	assert.Equal(t, WaitDuration, proc.Steps[0].Wait.WaitType)
}

func TestParseRow_Errors(t *testing.T) {
	tests := []struct {
		name string
		row  map[string]any
	}{
		{name: "missing id", row: map[string]any{"steps": []any{map[string]any{"toolName": "x"}}}},
		{name: "no steps", row: map[string]any{"id": "P"}},
		{name: "tool step without toolName", row: map[string]any{"id": "P", "steps": []any{map[string]any{"type": "tool"}}}},
		{name: "duplicate step ids", row: map[string]any{"id": "P", "steps": []any{
			map[string]any{"id": "s", "toolName": "a"},
			map[string]any{"id": "s", "toolName": "b"},
		}}},
		{name: "bad definition json", row: map[string]any{"definition": "{not json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRow(tt.row)
			assert.Error(t, err)
		})
	}
}

func TestParseRows_CollectsFailures(t *testing.T) {
	rows := []map[string]any{
		{"id": "PROC-A", "steps": []any{map[string]any{"toolName": "a"}}},
		{"id": ""},
		{"id": "PROC-A", "steps": []any{map[string]any{"toolName": "dup"}}},
		{"id": "PROC-B", "steps": []any{map[string]any{"toolName": "b"}}},
	}

	procs, errs := ParseRows(rows)
	require.Len(t, procs, 2)
	assert.Equal(t, "PROC-A", procs[0].ID)
	assert.Equal(t, "PROC-B", procs[1].ID)
	assert.Len(t, errs, 2, "one malformed row and one duplicate id")
}
