// Package gate is the request gate: every inbound tool call passes through
// Check before the tool executes. Write operations require an active
// procedure run; calls bound to a run are validated against the run's
// procedure and current step.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/procgov/pop-mcp-server/internal/audit"
	"github.com/procgov/pop-mcp-server/internal/authz"
	"github.com/procgov/pop-mcp-server/internal/constants"
	"github.com/procgov/pop-mcp-server/internal/invoke"
	"github.com/procgov/pop-mcp-server/internal/procedure"
	"github.com/procgov/pop-mcp-server/internal/protocol"
	"github.com/procgov/pop-mcp-server/internal/run"
	"github.com/procgov/pop-mcp-server/internal/security"
	"github.com/procgov/pop-mcp-server/internal/step"
	"github.com/procgov/pop-mcp-server/internal/templates"
)

// MissingGovernance describes a write operation with no governing procedure.
type MissingGovernance struct {
	// Tool is the requested tool.
	Tool string
	// Operation is the classified operation.
	Operation string
	// Context carries redacted call arguments.
	Context map[string]any
}

// MissingGovernanceHook is notified when no procedure governs a requested
// write operation. The collaborator decides what happens next; the gate
// depends on nothing it returns.
type MissingGovernanceHook func(ctx context.Context, mg MissingGovernance)

// Config holds enforcement settings.
type Config struct {
	// Enabled toggles the gate entirely.
	Enabled bool
	// Strict blocks ungoverned writes instead of allowing them with a warning.
	Strict bool
	// RequireForWrite demands a run for write operations.
	RequireForWrite bool
	// RequireForRead demands a run for read operations too.
	RequireForRead bool
}

// Decision is the gate's verdict on one tool call.
type Decision struct {
	// Allowed reports whether the tool may execute.
	Allowed bool
	// Reason explains the verdict.
	Reason string
	// RunID is the run that authorized the call, if any.
	RunID string
	// Denial is the structured payload for blocked calls.
	Denial *protocol.Denial
	// GovernedTools is the run's expanded governed set, for introspection.
	GovernedTools []string
}

// Gate wires the classifier, validator, stores, and audit log into the
// request path. Construct once at process start and pass by reference.
type Gate struct {
	Classifier *authz.Classifier
	Validator  *authz.Validator
	Runs       *run.Registry
	Procedures *procedure.Store
	Executor   *step.Executor
	Audit      audit.Recorder
	Hook       MissingGovernanceHook
	Templates  templates.Renderer
	Logger     *slog.Logger
	Cfg        Config

	outputsMu  sync.Mutex
	runOutputs map[string]map[string]map[string]any
}

// Check gates one inbound tool call. It returns the verdict and the
// arguments with the reserved keys stripped; the stripped map is what must
// reach the underlying tool.
func (g *Gate) Check(ctx context.Context, tool string, args map[string]any) (Decision, map[string]any) {
	runID, sysOp, cleaned := splitReservedArgs(args)

	if !g.Cfg.Enabled {
		return Decision{Allowed: true, Reason: "enforcement disabled"}, cleaned
	}

	// The bypass flag is honored only when the call chain itself is marked
	// internal. Callers cannot grant it to themselves.
	if sysOp && invoke.IsSystemOperation(ctx) {
		g.record(audit.Entry{
			Type:    audit.TypeAuthorization,
			Tool:    tool,
			Result:  protocol.DecisionAllow,
			Message: "system operation",
		})
		return Decision{Allowed: true, Reason: "system operation"}, cleaned
	}

	operation := g.Classifier.Classify(tool)

	if runID != "" {
		return g.checkWithRun(ctx, runID, tool, operation, cleaned), cleaned
	}

	if operation == constants.OpRead && !g.Cfg.RequireForRead {
		return Decision{Allowed: true, Reason: "read operation"}, cleaned
	}
	if operation == constants.OpWrite && !g.Cfg.RequireForWrite {
		return Decision{Allowed: true, Reason: "write enforcement disabled"}, cleaned
	}

	return g.checkUngoverned(ctx, tool, operation, cleaned), cleaned
}

func (g *Gate) checkWithRun(ctx context.Context, runID, tool, operation string, args map[string]any) Decision {
	result := g.Validator.Validate(ctx, runID, tool, operation, args)
	if !result.Allowed {
		return Decision{
			Allowed: false,
			Reason:  result.Reason,
			RunID:   runID,
			Denial: &protocol.Denial{
				Error:  result.Violation.Type,
				Reason: result.Reason,
				RunID:  runID,
			},
		}
	}

	g.record(audit.Entry{
		Type:     audit.TypeAuthorization,
		Tool:     tool,
		RunID:    runID,
		Result:   protocol.DecisionAllow,
		Metadata: map[string]any{"operation": operation},
	})
	return Decision{Allowed: true, RunID: runID, GovernedTools: result.GovernedTools}
}

func (g *Gate) checkUngoverned(ctx context.Context, tool, operation string, args map[string]any) Decision {
	reqCtx := procedure.Context{Tool: tool, Operation: operation}
	// A call made on behalf of a registered agent also matches procedures
	// triggered by the agent's tags.
	if name, ok := args["agent"].(string); ok && name != "" {
		if agent, found := g.Procedures.FindAgent(ctx, name); found {
			reqCtx.Tags = agent.Tags
		}
	}
	applicable := g.Procedures.FindApplicable(ctx, reqCtx)
	if len(applicable) > 0 {
		proc := applicable[0]
		reason := g.render("gate.procedure_required", map[string]any{
			"Tool":      tool,
			"Procedure": proc.Name,
		}, fmt.Sprintf("tool %s requires procedure %s: start it and retry with the run id", tool, proc.Name))

		g.record(audit.Entry{
			Type:        audit.TypeAuthorization,
			Tool:        tool,
			ProcedureID: proc.ID,
			Result:      protocol.DecisionDeny,
			Message:     reason,
		})
		return Decision{
			Allowed: false,
			Reason:  reason,
			Denial: &protocol.Denial{
				Error:         protocol.ErrProcedureRequired,
				ProcedureID:   proc.ID,
				ProcedureName: proc.Name,
				Reason:        reason,
			},
		}
	}

	// No governance exists for this write. Report it and let the hook decide
	// what to do about the gap; the gate itself only blocks in strict mode.
	if g.Hook != nil {
		mg := MissingGovernance{Tool: tool, Operation: operation, Context: security.RedactArguments(args)}
		go g.Hook(context.WithoutCancel(ctx), mg)
	}

	if g.Cfg.Strict {
		reason := g.render("gate.no_governance_strict", map[string]any{"Tool": tool},
			fmt.Sprintf("no procedure governs %s and strict enforcement is on", tool))
		g.record(audit.Entry{
			Type:    audit.TypeAuthorization,
			Tool:    tool,
			Result:  protocol.DecisionDeny,
			Message: reason,
		})
		return Decision{
			Allowed: false,
			Reason:  reason,
			Denial:  &protocol.Denial{Error: protocol.ErrProcedureRequired, Reason: reason},
		}
	}

	g.record(audit.Entry{
		Type:     audit.TypeAuthorization,
		Tool:     tool,
		Result:   protocol.DecisionAllow,
		Severity: audit.SeverityWarning,
		Message:  "write operation has no governing procedure",
	})
	if g.Logger != nil {
		g.Logger.Warn("ungoverned write allowed", "tool", tool, "operation", operation)
	}
	return Decision{Allowed: true, Reason: "no governing procedure"}
}

func (g *Gate) record(entry audit.Entry) {
	if g.Audit != nil {
		g.Audit.Record(entry)
	}
}

func (g *Gate) render(key string, data map[string]any, fallback string) string {
	if g.Templates == nil {
		return fallback
	}
	rendered, err := g.Templates.Render(key, data)
	if err != nil {
		return fallback
	}
	return rendered
}

// splitReservedArgs extracts and removes the reserved keys. The returned map
// is a copy; the caller's map is left untouched.
func splitReservedArgs(args map[string]any) (runID string, sysOp bool, cleaned map[string]any) {
	cleaned = make(map[string]any, len(args))
	for key, value := range args {
		switch key {
		case protocol.ArgRunID:
			if s, ok := value.(string); ok {
				runID = strings.TrimSpace(s)
			}
		case protocol.ArgSystemOperation:
			if b, ok := value.(bool); ok {
				sysOp = b
			}
		default:
			cleaned[key] = value
		}
	}
	return runID, sysOp, cleaned
}
