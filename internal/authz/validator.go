// Package authz holds the security core of the gate: the operation
// classifier and the run-authorization validator. A run id is authority only
// for the tools its procedure declares, at the step the run has reached.
package authz

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/procgov/pop-mcp-server/internal/audit"
	"github.com/procgov/pop-mcp-server/internal/constants"
	"github.com/procgov/pop-mcp-server/internal/procedure"
	"github.com/procgov/pop-mcp-server/internal/run"
)

// Result is the outcome of a validation.
type Result struct {
	// Allowed reports whether the call may proceed.
	Allowed bool
	// Reason explains a denial.
	Reason string
	// Violation is set on every denial.
	Violation *audit.Violation
	// GovernedTools is the expanded governed-tool set, for introspection.
	GovernedTools []string
}

// Validator cross-references a run, its procedure, and the requested tool.
type Validator struct {
	// Runs is the run registry.
	Runs *run.Registry
	// Procedures is the procedure store.
	Procedures *procedure.Store
	// Audit records every denial synchronously with the decision.
	Audit audit.Recorder
	// Catalogue returns the known tool names wildcards expand against.
	Catalogue func() []string
	// Logger is used for decision logging.
	Logger *slog.Logger
}

// Validate decides whether runID authorizes a call to tool. The checks run
// strictly in order and short-circuit on the first failure; every deny path
// records a security violation before returning.
func (v *Validator) Validate(ctx context.Context, runID, tool, operation string, args map[string]any) Result {
	// 1. The run must exist and be inside its validity window.
	active, err := v.Runs.Resume(runID)
	if err != nil {
		return v.deny(audit.Violation{
			Type:          constants.ViolationExpiredRun,
			AttemptedTool: tool,
			RunID:         runID,
			Message:       fmt.Sprintf("run %s is unknown or expired", runID),
		})
	}

	// 2. The owning procedure must still be loadable.
	proc, ok := v.Procedures.Get(ctx, active.ProcedureID)
	if !ok {
		return v.deny(audit.Violation{
			Type:          constants.ViolationInvalidStep,
			AttemptedTool: tool,
			RunID:         runID,
			ProcedureID:   active.ProcedureID,
			Message:       fmt.Sprintf("procedure %s not found for run %s", active.ProcedureID, runID),
		})
	}

	// 3. Governed-tool set: triggers plus step tools, wildcards expanded.
	governed := procedure.ExpandPatterns(proc.GovernedPatterns(), v.catalogue())

	// Run-management tools are always permitted for an active run.
	if constants.IsRunManagementTool(tool) {
		return Result{Allowed: true, GovernedTools: governed}
	}

	// 4. Anti-replay: a run id is authority only for tools its procedure
	// actually declares.
	if !contains(governed, tool) {
		return v.deny(audit.Violation{
			Type:          constants.ViolationRunHijack,
			AttemptedTool: tool,
			RunID:         runID,
			ProcedureID:   proc.ID,
			Message:       fmt.Sprintf("run %s (procedure %s) does not govern tool %s", runID, proc.ID, tool),
		})
	}

	// 5. Progressive authorization: the current step's whitelist, when it
	// declares one, further narrows the governed set.
	stepTools := v.currentStepTools(proc, active)
	if len(stepTools) > 0 && !contains(stepTools, tool) {
		return v.deny(audit.Violation{
			Type:          constants.ViolationInvalidStep,
			AttemptedTool: tool,
			RunID:         runID,
			ProcedureID:   proc.ID,
			Message:       fmt.Sprintf("tool %s is not permitted at step %d of run %s", tool, active.CurrentStepIndex, runID),
		})
	}

	// 6. Procedure-level write constraints.
	if operation == constants.OpWrite {
		if reason, ok := v.checkWriteConstraints(proc, args); !ok {
			return v.deny(audit.Violation{
				Type:          constants.ViolationUnauthorizedTool,
				AttemptedTool: tool,
				RunID:         runID,
				ProcedureID:   proc.ID,
				Message:       reason,
			})
		}
	}

	if v.Logger != nil {
		v.Logger.Debug("authorization granted", "run_id", runID, "tool", tool, "procedure_id", proc.ID)
	}
	return Result{Allowed: true, GovernedTools: governed}
}

func (v *Validator) currentStepTools(proc *procedure.Procedure, active run.Run) []string {
	if active.CurrentStepIndex < 0 || active.CurrentStepIndex >= len(proc.Steps) {
		return nil
	}
	declared := proc.Steps[active.CurrentStepIndex].DeclaredTools()
	if len(declared) == 0 {
		return nil
	}
	return procedure.ExpandPatterns(declared, v.catalogue())
}

func (v *Validator) checkWriteConstraints(proc *procedure.Procedure, args map[string]any) (string, bool) {
	allowed := proc.Constraints.AllowedDatasets
	if len(allowed) == 0 {
		return "", true
	}
	target, _ := args["dataset"].(string)
	if target == "" {
		target, _ = args["datasetName"].(string)
	}
	if target == "" {
		return "", true
	}
	if contains(allowed, target) {
		return "", true
	}
	return fmt.Sprintf("dataset %s is not in the procedure's allow-list", target), false
}

func (v *Validator) deny(violation audit.Violation) Result {
	if v.Audit != nil {
		v.Audit.RecordViolation(violation)
	}
	return Result{
		Allowed:   false,
		Reason:    violation.Message,
		Violation: &violation,
	}
}

func (v *Validator) catalogue() []string {
	if v.Catalogue == nil {
		return nil
	}
	return v.Catalogue()
}

func contains(items []string, value string) bool {
	for _, item := range items {
		if item == value {
			return true
		}
	}
	return false
}
