package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/procgov/pop-mcp-server/internal/gate"
	"github.com/procgov/pop-mcp-server/internal/procedure"
	"github.com/procgov/pop-mcp-server/internal/protocol"
)

// addRunTools registers the gate-served run-management tools.
func (b Builder) addRunTools(server *mcp.Server) {
	runIDSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"runId": map[string]any{"type": "string", "description": "Active run identifier"},
		},
		"required": []any{"runId"},
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start-procedure",
		Description: "Start a run of the named procedure and return its run id",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"procedureId": map[string]any{"type": "string", "description": "Procedure identifier"},
			},
			"required": []any{"procedureId"},
		},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input map[string]any) (*mcp.CallToolResult, protocol.GateResponse, error) {
		procedureID, _ := input["procedureId"].(string)
		state, err := b.Gate.StartProcedure(ctx, procedureID)
		if err != nil {
			return nil, errorResponse(err), nil
		}
		return nil, stateResponse(state), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list-procedures",
		Description: "List the currently active procedures",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ map[string]any) (*mcp.CallToolResult, protocol.GateResponse, error) {
		procs, err := b.Gate.ListProcedures(ctx)
		if err != nil {
			return nil, errorResponse(err), nil
		}
		summaries := make([]any, 0, len(procs))
		for _, p := range procs {
			summaries = append(summaries, procedureSummary(p))
		}
		return nil, protocol.GateResponse{
			Status:   protocol.StatusSuccess,
			Decision: protocol.DecisionAllow,
			Result:   map[string]any{"procedures": summaries},
		}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "resume-procedure",
		Description: "Re-attach to an active run and return its current step",
		InputSchema: runIDSchema,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input map[string]any) (*mcp.CallToolResult, protocol.GateResponse, error) {
		runID, _ := input["runId"].(string)
		state, err := b.Gate.ResumeProcedure(ctx, runID)
		if err != nil {
			return nil, errorResponse(err), nil
		}
		return nil, stateResponse(state), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get-procedure-status",
		Description: "Report a run's status, completed steps, and current step",
		InputSchema: runIDSchema,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input map[string]any) (*mcp.CallToolResult, protocol.GateResponse, error) {
		runID, _ := input["runId"].(string)
		state, err := b.Gate.Status(ctx, runID)
		if err != nil {
			return nil, errorResponse(err), nil
		}
		return nil, stateResponse(state), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "execute-step",
		Description: "Execute the run's current step and advance on success",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"runId":  map[string]any{"type": "string", "description": "Active run identifier"},
				"values": map[string]any{"type": "object", "description": "Step input values"},
			},
			"required": []any{"runId"},
		},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input map[string]any) (*mcp.CallToolResult, protocol.GateResponse, error) {
		runID, _ := input["runId"].(string)
		values, _ := input["values"].(map[string]any)
		outcome, err := b.Gate.ExecuteStep(ctx, runID, values)
		if err != nil {
			return nil, errorResponse(err), nil
		}
		result, err := toMap(outcome)
		if err != nil {
			return nil, errorResponse(err), nil
		}
		return nil, protocol.GateResponse{
			Status:   protocol.StatusSuccess,
			Decision: protocol.DecisionAllow,
			RunID:    runID,
			Result:   result,
		}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "complete-procedure",
		Description: "Finish a run once all required steps are done",
		InputSchema: runIDSchema,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input map[string]any) (*mcp.CallToolResult, protocol.GateResponse, error) {
		runID, _ := input["runId"].(string)
		state, err := b.Gate.CompleteProcedure(ctx, runID)
		if err != nil {
			return nil, errorResponse(err), nil
		}
		return nil, stateResponse(state), nil
	})
}

func stateResponse(state gate.RunState) protocol.GateResponse {
	result, err := toMap(state)
	if err != nil {
		return errorResponse(err)
	}
	if state.CurrentStep != nil {
		result["currentStep"] = stepSummary(*state.CurrentStep)
	}
	return protocol.GateResponse{
		Status:   protocol.StatusSuccess,
		Decision: protocol.DecisionAllow,
		RunID:    state.Run.ID,
		Result:   result,
	}
}

func errorResponse(err error) protocol.GateResponse {
	return protocol.GateResponse{
		Status:   protocol.StatusError,
		Decision: protocol.DecisionError,
		Reason:   err.Error(),
	}
}

func procedureSummary(p *procedure.Procedure) map[string]any {
	return map[string]any{
		"id":       p.ID,
		"name":     p.Name,
		"version":  p.Version,
		"purpose":  p.Purpose,
		"priority": p.Metadata.Priority,
		"steps":    len(p.Steps),
	}
}

func stepSummary(st procedure.Step) map[string]any {
	return map[string]any{
		"id":          st.ID,
		"name":        st.Name,
		"type":        st.Type,
		"description": st.Description,
		"required":    st.Required,
	}
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return out, nil
}
