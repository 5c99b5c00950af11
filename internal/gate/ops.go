package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/procgov/pop-mcp-server/internal/audit"
	"github.com/procgov/pop-mcp-server/internal/constants"
	"github.com/procgov/pop-mcp-server/internal/maputil"
	"github.com/procgov/pop-mcp-server/internal/procedure"
	"github.com/procgov/pop-mcp-server/internal/run"
	"github.com/procgov/pop-mcp-server/internal/step"
)

// RunState is the answer to the run-management operations: the run itself
// plus the procedure context a caller needs to continue it.
type RunState struct {
	Run           run.Run              `json:"run"`
	Procedure     *procedure.Procedure `json:"-"`
	ProcedureName string               `json:"procedureName"`
	TotalSteps    int                  `json:"totalSteps"`
	CurrentStep   *procedure.Step      `json:"-"`
}

// StepOutcome reports one execute-step call.
type StepOutcome struct {
	Run       run.Run        `json:"run"`
	StepID    string         `json:"stepId"`
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Attempts  int            `json:"attempts"`
	Completed bool           `json:"completed"`
}

// StartProcedure creates a run for the named procedure.
func (g *Gate) StartProcedure(ctx context.Context, procedureID string) (RunState, error) {
	proc, ok := g.Procedures.Get(ctx, procedureID)
	if !ok {
		return RunState{}, fmt.Errorf("procedure %s not found", procedureID)
	}
	if !proc.Active || !proc.ValidAt(time.Now()) {
		return RunState{}, fmt.Errorf("procedure %s is not active", procedureID)
	}

	r, err := g.Runs.Start(procedureID)
	if err != nil {
		return RunState{}, err
	}

	g.record(audit.Entry{
		Type:        audit.TypeRun,
		ProcedureID: procedureID,
		RunID:       r.ID,
		Result:      "started",
		Metadata:    map[string]any{"procedureName": proc.Name, "totalSteps": len(proc.Steps)},
	})
	return g.runState(r, proc), nil
}

// ListProcedures returns the currently applicable procedures.
func (g *Gate) ListProcedures(ctx context.Context) ([]*procedure.Procedure, error) {
	procs, err := g.Procedures.Load(ctx, false)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	applicable := make([]*procedure.Procedure, 0, len(procs))
	for _, p := range procs {
		if p.ValidAt(now) {
			applicable = append(applicable, p)
		}
	}
	return applicable, nil
}

// ResumeProcedure re-attaches to an active run.
func (g *Gate) ResumeProcedure(ctx context.Context, runID string) (RunState, error) {
	r, err := g.Runs.Resume(runID)
	if err != nil {
		return RunState{}, err
	}
	proc, ok := g.Procedures.Get(ctx, r.ProcedureID)
	if !ok {
		return RunState{}, fmt.Errorf("procedure %s for run %s is no longer available", r.ProcedureID, runID)
	}
	return g.runState(r, proc), nil
}

// Status reports a run without the active-only restriction of resume.
func (g *Gate) Status(ctx context.Context, runID string) (RunState, error) {
	r, ok := g.Runs.Get(runID)
	if !ok {
		return RunState{}, run.ErrNotFound
	}
	state := RunState{Run: r, TotalSteps: r.CurrentStepIndex}
	if proc, found := g.Procedures.Get(ctx, r.ProcedureID); found {
		state = g.runState(r, proc)
	}
	return state, nil
}

// ExecuteStep runs the run's current step and advances on success. Values
// are caller-supplied inputs the step may validate or interpolate.
func (g *Gate) ExecuteStep(ctx context.Context, runID string, values map[string]any) (StepOutcome, error) {
	r, err := g.Runs.Resume(runID)
	if err != nil {
		return StepOutcome{}, err
	}
	proc, ok := g.Procedures.Get(ctx, r.ProcedureID)
	if !ok {
		return StepOutcome{}, fmt.Errorf("procedure %s for run %s is no longer available", r.ProcedureID, runID)
	}
	if r.CurrentStepIndex >= len(proc.Steps) {
		completed, err := g.Runs.Complete(runID)
		if err != nil {
			return StepOutcome{}, err
		}
		return StepOutcome{Run: completed, Status: constants.StepSuccess, Message: "all steps already completed", Completed: true}, nil
	}

	current := proc.Steps[r.CurrentStepIndex]
	result := g.Executor.Execute(ctx, current, step.Context{
		RunID:       runID,
		ProcedureID: proc.ID,
		Values:      values,
		StepOutputs: g.outputsFor(runID),
	})

	g.record(audit.Entry{
		Type:        audit.TypeStep,
		ProcedureID: proc.ID,
		RunID:       runID,
		Result:      result.Status,
		Message:     result.Message,
		Metadata:    map[string]any{"stepId": current.ID, "attempts": result.Attempts},
	})

	outcome := StepOutcome{
		StepID:   current.ID,
		Status:   result.Status,
		Message:  result.Message,
		Output:   result.Output,
		Attempts: result.Attempts,
	}

	switch {
	case result.Status == constants.StepFailure && current.Required:
		failed, failErr := g.Runs.Fail(runID, result.Message)
		if failErr != nil {
			return StepOutcome{}, failErr
		}
		outcome.Run = failed
		return outcome, nil
	default:
		if result.Status == constants.StepSuccess {
			g.saveOutput(runID, current.ID, result.Output)
		}
		// A run only ever advances past a step that resolved to success or
		// skipped. An optional step that failed is recorded as skipped so the
		// run can proceed; the outcome still reports the failure to the caller.
		recorded := result.Status
		if recorded == constants.StepFailure {
			recorded = constants.StepSkipped
		}
		advanced, advErr := g.Runs.Advance(runID, current.ID, recorded)
		if advErr != nil {
			return StepOutcome{}, advErr
		}
		outcome.Run = advanced
		if advanced.CurrentStepIndex >= len(proc.Steps) {
			completed, compErr := g.Runs.Complete(runID)
			if compErr != nil {
				return StepOutcome{}, compErr
			}
			g.clearOutputs(runID)
			g.record(audit.Entry{
				Type:        audit.TypeRun,
				ProcedureID: proc.ID,
				RunID:       runID,
				Result:      "completed",
			})
			outcome.Run = completed
			outcome.Completed = true
		}
		return outcome, nil
	}
}

// CompleteProcedure finishes a run explicitly. Remaining required steps
// block completion.
func (g *Gate) CompleteProcedure(ctx context.Context, runID string) (RunState, error) {
	r, err := g.Runs.Resume(runID)
	if err != nil {
		return RunState{}, err
	}
	proc, ok := g.Procedures.Get(ctx, r.ProcedureID)
	if ok {
		for i := r.CurrentStepIndex; i < len(proc.Steps); i++ {
			if proc.Steps[i].Required {
				return RunState{}, fmt.Errorf("run %s has incomplete required step %s", runID, proc.Steps[i].ID)
			}
		}
	}

	completed, err := g.Runs.Complete(runID)
	if err != nil {
		return RunState{}, err
	}
	g.clearOutputs(runID)
	g.record(audit.Entry{
		Type:        audit.TypeRun,
		ProcedureID: completed.ProcedureID,
		RunID:       runID,
		Result:      "completed",
	})
	state := RunState{Run: completed}
	if proc != nil {
		state = g.runState(completed, proc)
	}
	return state, nil
}

func (g *Gate) runState(r run.Run, proc *procedure.Procedure) RunState {
	state := RunState{
		Run:           r,
		Procedure:     proc,
		ProcedureName: proc.Name,
		TotalSteps:    len(proc.Steps),
	}
	if r.CurrentStepIndex < len(proc.Steps) {
		st := proc.Steps[r.CurrentStepIndex]
		state.CurrentStep = &st
	}
	return state
}

func (g *Gate) outputsFor(runID string) map[string]map[string]any {
	g.outputsMu.Lock()
	defer g.outputsMu.Unlock()
	return maputil.Clone(g.runOutputs[runID])
}

func (g *Gate) saveOutput(runID, stepID string, output map[string]any) {
	if len(output) == 0 {
		return
	}
	g.outputsMu.Lock()
	defer g.outputsMu.Unlock()
	if g.runOutputs == nil {
		g.runOutputs = map[string]map[string]map[string]any{}
	}
	perRun, ok := g.runOutputs[runID]
	if !ok {
		perRun = map[string]map[string]any{}
		g.runOutputs[runID] = perRun
	}
	perRun[stepID] = output
}

func (g *Gate) clearOutputs(runID string) {
	g.outputsMu.Lock()
	defer g.outputsMu.Unlock()
	delete(g.runOutputs, runID)
}
