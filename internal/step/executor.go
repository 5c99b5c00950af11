// Package step executes procedure steps: tool invocations with retry and
// backoff, and interactive quiz/approval/wait/information steps that suspend
// until an external actor fulfils them.
package step

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/procgov/pop-mcp-server/internal/constants"
	"github.com/procgov/pop-mcp-server/internal/invoke"
	"github.com/procgov/pop-mcp-server/internal/maputil"
	"github.com/procgov/pop-mcp-server/internal/procedure"
	"github.com/procgov/pop-mcp-server/internal/protocol"
)

// Result is the outcome of executing one step.
type Result struct {
	// Status is success, failure, or skipped.
	Status string
	// Message carries the failure reason or a short outcome note.
	Message string
	// Output holds the step's structured result.
	Output map[string]any
	// Attempts counts how many times the step body ran.
	Attempts int
	// TimedOut distinguishes a timeout from a functional failure.
	TimedOut bool
}

// Context is the run-scoped state a step executes against.
type Context struct {
	// RunID is the owning run.
	RunID string
	// ProcedureID is the owning procedure.
	ProcedureID string
	// Values holds request-level context values.
	Values map[string]any
	// StepOutputs maps completed step ids to their outputs.
	StepOutputs map[string]map[string]any
}

// RetryPolicy bounds retries of retryable steps.
type RetryPolicy struct {
	// InitialDelay is the first backoff interval.
	InitialDelay time.Duration
	// MaxDelay caps the backoff interval.
	MaxDelay time.Duration
	// Multiplier grows the interval between attempts.
	Multiplier float64
	// MaxAttempts caps attempts for retryable steps that declare no limit
	// of their own. Zero falls back to the built-in default.
	MaxAttempts int
}

// defaultMaxAttempts bounds retryable steps when neither the step nor the
// policy declares a limit.
const defaultMaxAttempts = 3

// Callbacks are invoked opportunistically around step resolution. A callback
// failure never masks the step's own result.
type Callbacks struct {
	OnSuccess func(st procedure.Step, res Result)
	OnFailure func(st procedure.Step, res Result)
	OnTimeout func(st procedure.Step, res Result)
}

// AutoResolver short-circuits interactive steps without an external actor.
// Production deployments leave it nil and rely on the fulfilment webhook.
type AutoResolver func(st procedure.Step) (protocol.Fulfilment, bool)

// AutoApprove resolves every interactive step positively. Used when
// enforcement is not strict and in tests.
func AutoApprove(st procedure.Step) (protocol.Fulfilment, bool) {
	f := protocol.Fulfilment{Actor: "auto", Acknowledged: true, Decision: "approve"}
	if st.Quiz != nil {
		f.Answer = st.Quiz.CorrectAnswer
	}
	return f, true
}

// Executor runs one step to completion, failure, or skip.
type Executor struct {
	// Invoker executes tool steps.
	Invoker invoke.Invoker
	// Pending suspends interactive steps awaiting fulfilment.
	Pending *PendingStore
	// Notifier announces suspended steps. Optional.
	Notifier Notifier
	// Eval evaluates skip and wait conditions.
	Eval Evaluator
	// Retry bounds retry backoff for retryable steps.
	Retry RetryPolicy
	// Auto, when set, resolves interactive steps without suspension.
	Auto AutoResolver
	// Callbacks observe step resolution.
	Callbacks Callbacks
	// Logger records step progress.
	Logger *slog.Logger
}

// Execute runs st against runCtx. Skip conditions are evaluated before any
// side effect; a matching condition returns a skipped result immediately.
func (e *Executor) Execute(ctx context.Context, st procedure.Step, runCtx Context) Result {
	scope := map[string]any{
		"context": runCtx.Values,
		"steps":   toAnyMap(runCtx.StepOutputs),
	}
	for _, cond := range st.SkipConditions {
		ok, err := e.evaluator().Evaluate(cond, scope)
		if err != nil {
			if e.Logger != nil {
				e.Logger.Warn("skip condition rejected", "step_id", st.ID, "condition", cond, "error", err)
			}
			continue
		}
		if ok {
			return Result{Status: constants.StepSkipped, Message: fmt.Sprintf("skip condition %q matched", cond)}
		}
	}

	stepCtx := ctx
	var cancel context.CancelFunc
	if st.Timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, st.Timeout)
		defer cancel()
	}

	res := e.dispatch(stepCtx, st, runCtx, scope)
	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) && res.Status != constants.StepSuccess {
		res.Status = constants.StepFailure
		res.TimedOut = true
		if res.Message == "" {
			res.Message = "step timeout"
		}
	}

	e.fireCallbacks(st, res)
	return res
}

func (e *Executor) dispatch(ctx context.Context, st procedure.Step, runCtx Context, scope map[string]any) Result {
	switch st.Type {
	case constants.StepTool:
		return e.executeToolWithRetry(ctx, st, runCtx)
	case constants.StepQuiz:
		return e.executeQuiz(ctx, st, runCtx)
	case constants.StepApproval:
		return e.executeApproval(ctx, st, runCtx)
	case constants.StepWait:
		return e.executeWait(ctx, st, scope)
	case constants.StepInformation:
		return e.executeInformation(ctx, st, runCtx)
	default:
		return Result{Status: constants.StepFailure, Message: fmt.Sprintf("unknown step type %q", st.Type)}
	}
}

// executeToolWithRetry retries transient tool failures with exponential
// backoff and jitter. Non-retryable steps run exactly once; a retryable step
// runs at most its own MaxRetries, falling back to the policy's MaxAttempts
// when it declares none.
func (e *Executor) executeToolWithRetry(ctx context.Context, st procedure.Step, runCtx Context) Result {
	maxAttempts := 1
	if st.Retryable {
		switch {
		case st.MaxRetries > 0:
			maxAttempts = st.MaxRetries
		case e.Retry.MaxAttempts > 0:
			maxAttempts = e.Retry.MaxAttempts
		default:
			maxAttempts = defaultMaxAttempts
		}
	}

	policy := backoff.NewExponentialBackOff()
	if e.Retry.InitialDelay > 0 {
		policy.InitialInterval = e.Retry.InitialDelay
	}
	if e.Retry.MaxDelay > 0 {
		policy.MaxInterval = e.Retry.MaxDelay
	}
	if e.Retry.Multiplier > 0 {
		policy.Multiplier = e.Retry.Multiplier
	}
	policy.RandomizationFactor = 0.3
	policy.MaxElapsedTime = 0

	var attempts int
	var output map[string]any
	operation := func() error {
		attempts++
		out, err := e.executeTool(ctx, st, runCtx)
		if err != nil {
			if e.Logger != nil {
				e.Logger.Warn("tool step attempt failed", "step_id", st.ID, "attempt", attempts, "error", err)
			}
			return err
		}
		output = out
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxAttempts-1)), ctx))
	if err != nil {
		e.compensate(ctx, st, runCtx)
		return Result{Status: constants.StepFailure, Message: err.Error(), Attempts: attempts}
	}
	return Result{Status: constants.StepSuccess, Output: output, Attempts: attempts}
}

func (e *Executor) executeTool(ctx context.Context, st procedure.Step, runCtx Context) (map[string]any, error) {
	if e.Invoker == nil {
		return nil, backoff.Permanent(errors.New("no tool invoker configured"))
	}
	tool := st.Tool

	args := maputil.Clone(tool.Parameters)
	for _, rule := range tool.ValidationRules {
		if rule.Kind != procedure.RuleRequiredParam {
			continue
		}
		if _, ok := args[rule.Field]; !ok {
			if value, ok := runCtx.Values[rule.Field]; ok {
				args[rule.Field] = value
				continue
			}
			return nil, backoff.Permanent(fmt.Errorf("missing required parameter %q", rule.Field))
		}
	}

	output, err := e.Invoker.Invoke(ctx, tool.ToolName, args)
	if err != nil {
		return nil, err
	}

	for _, rule := range tool.ValidationRules {
		if rule.Kind != procedure.RuleRequiredOutput {
			continue
		}
		if _, ok := output[rule.Field]; !ok {
			return nil, fmt.Errorf("tool %s output missing field %q", tool.ToolName, rule.Field)
		}
	}
	return output, nil
}

// compensate invokes the step's compensating tool after a final failure.
// Compensation errors are logged, never surfaced.
func (e *Executor) compensate(ctx context.Context, st procedure.Step, runCtx Context) {
	if st.Tool == nil || st.Tool.Compensation == "" || e.Invoker == nil {
		return
	}
	if _, err := e.Invoker.Invoke(ctx, st.Tool.Compensation, map[string]any{
		"runId":  runCtx.RunID,
		"stepId": st.ID,
	}); err != nil && e.Logger != nil {
		e.Logger.Error("compensation failed", "step_id", st.ID, "tool", st.Tool.Compensation, "error", err)
	}
}

func (e *Executor) executeQuiz(ctx context.Context, st procedure.Step, runCtx Context) Result {
	quiz := st.Quiz
	attemptsAllowed := quiz.AllowedAttempts
	if attemptsAllowed <= 0 {
		attemptsAllowed = 1
	}

	if e.Auto != nil {
		f, ok := e.Auto(st)
		if !ok {
			return Result{Status: constants.StepFailure, Message: "quiz not resolved"}
		}
		return e.gradeQuiz(quiz, f, 1)
	}

	ch, err := e.suspend(ctx, st, runCtx, Prompt{
		RunID:   runCtx.RunID,
		StepID:  st.ID,
		Kind:    constants.StepQuiz,
		Title:   st.Name,
		Body:    quiz.Question,
		Options: quiz.Options,
	})
	if err != nil {
		return Result{Status: constants.StepFailure, Message: err.Error()}
	}
	defer e.Pending.Cancel(runCtx.RunID, st.ID)

	for attempt := 1; ; attempt++ {
		select {
		case f, ok := <-ch:
			if !ok {
				return Result{Status: constants.StepFailure, Message: "quiz cancelled"}
			}
			res := e.gradeQuiz(quiz, f, attempt)
			if res.Status == constants.StepSuccess || attempt >= attemptsAllowed {
				return res
			}
		case <-ctx.Done():
			return Result{Status: constants.StepFailure, Message: "quiz timed out awaiting answer", TimedOut: true, Attempts: attempt - 1}
		}
	}
}

func (e *Executor) gradeQuiz(quiz *procedure.QuizStep, f protocol.Fulfilment, attempt int) Result {
	if strings.EqualFold(strings.TrimSpace(f.Answer), strings.TrimSpace(quiz.CorrectAnswer)) {
		return Result{
			Status:   constants.StepSuccess,
			Output:   map[string]any{"answer": f.Answer, "actor": f.Actor, "passed": true},
			Attempts: attempt,
		}
	}
	return Result{
		Status:   constants.StepFailure,
		Message:  fmt.Sprintf("wrong answer %q", f.Answer),
		Output:   map[string]any{"answer": f.Answer, "actor": f.Actor, "passed": false},
		Attempts: attempt,
	}
}

func (e *Executor) executeApproval(ctx context.Context, st procedure.Step, runCtx Context) Result {
	approval := st.Approval
	needed := 1
	switch approval.ApprovalType {
	case procedure.ApprovalAll:
		needed = len(approval.Approvers)
	case procedure.ApprovalQuorum:
		needed = approval.MinimumApprovals
	}
	if needed < 1 {
		needed = 1
	}

	if e.Auto != nil {
		f, ok := e.Auto(st)
		if !ok || !isApproveDecision(f.Decision) {
			return Result{Status: constants.StepFailure, Message: "approval denied"}
		}
		return Result{
			Status: constants.StepSuccess,
			Output: map[string]any{"approved": true, "approvals": needed, "actors": []string{f.Actor}},
		}
	}

	ch, err := e.suspend(ctx, st, runCtx, Prompt{
		RunID:   runCtx.RunID,
		StepID:  st.ID,
		Kind:    constants.StepApproval,
		Title:   st.Name,
		Body:    st.Description,
		Options: approval.Approvers,
	})
	if err != nil {
		return Result{Status: constants.StepFailure, Message: err.Error()}
	}
	defer e.Pending.Cancel(runCtx.RunID, st.ID)

	approvals := 0
	var actors []string
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return Result{Status: constants.StepFailure, Message: "approval cancelled"}
			}
			if !isApproveDecision(f.Decision) {
				return Result{
					Status:  constants.StepFailure,
					Message: fmt.Sprintf("denied by %s: %s", f.Actor, f.Comment),
					Output:  map[string]any{"approved": false, "deniedBy": f.Actor},
				}
			}
			approvals++
			actors = append(actors, f.Actor)
			if approvals >= needed {
				return Result{
					Status: constants.StepSuccess,
					Output: map[string]any{"approved": true, "approvals": approvals, "actors": actors},
				}
			}
		case <-ctx.Done():
			return Result{Status: constants.StepFailure, Message: "approval timed out", TimedOut: true}
		}
	}
}

func (e *Executor) executeWait(ctx context.Context, st procedure.Step, scope map[string]any) Result {
	wait := st.Wait
	if wait.WaitType == procedure.WaitCondition && wait.Condition != "" {
		interval := wait.CheckInterval
		if interval <= 0 {
			interval = 5 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			ok, err := e.evaluator().Evaluate(wait.Condition, scope)
			if err != nil {
				return Result{Status: constants.StepFailure, Message: err.Error()}
			}
			if ok {
				return Result{Status: constants.StepSuccess, Output: map[string]any{"waited": true, "condition": wait.Condition}}
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return Result{Status: constants.StepFailure, Message: "condition wait timed out", TimedOut: true}
			}
		}
	}

	select {
	case <-time.After(wait.Duration):
		return Result{Status: constants.StepSuccess, Output: map[string]any{"waited": true, "duration": wait.Duration.String()}}
	case <-ctx.Done():
		return Result{Status: constants.StepFailure, Message: "wait interrupted", TimedOut: true}
	}
}

func (e *Executor) executeInformation(ctx context.Context, st procedure.Step, runCtx Context) Result {
	info := st.Information
	output := map[string]any{"content": info.Content, "format": info.Format}

	if !info.AcknowledgmentRequired {
		output["acknowledged"] = false
		return Result{Status: constants.StepSuccess, Output: output}
	}

	if e.Auto != nil {
		if f, ok := e.Auto(st); ok && f.Acknowledged {
			output["acknowledged"] = true
			output["actor"] = f.Actor
			return Result{Status: constants.StepSuccess, Output: output}
		}
		return Result{Status: constants.StepFailure, Message: "acknowledgment not given"}
	}

	ch, err := e.suspend(ctx, st, runCtx, Prompt{
		RunID:  runCtx.RunID,
		StepID: st.ID,
		Kind:   constants.StepInformation,
		Title:  st.Name,
		Body:   info.Content,
	})
	if err != nil {
		return Result{Status: constants.StepFailure, Message: err.Error()}
	}
	defer e.Pending.Cancel(runCtx.RunID, st.ID)

	select {
	case f, ok := <-ch:
		if !ok || !f.Acknowledged {
			return Result{Status: constants.StepFailure, Message: "acknowledgment refused"}
		}
		output["acknowledged"] = true
		output["actor"] = f.Actor
		return Result{Status: constants.StepSuccess, Output: output}
	case <-ctx.Done():
		return Result{Status: constants.StepFailure, Message: "acknowledgment timed out", TimedOut: true}
	}
}

// suspend registers the step on the pending store and announces it.
func (e *Executor) suspend(ctx context.Context, st procedure.Step, runCtx Context, prompt Prompt) (<-chan protocol.Fulfilment, error) {
	if e.Pending == nil {
		return nil, errors.New("no pending store configured for interactive steps")
	}
	ch, err := e.Pending.Register(runCtx.RunID, st.ID, st.Type)
	if err != nil {
		return nil, err
	}
	if e.Notifier != nil {
		if err := e.Notifier.Notify(ctx, prompt); err != nil && e.Logger != nil {
			e.Logger.Warn("step notification failed", "run_id", runCtx.RunID, "step_id", st.ID, "error", err)
		}
	}
	return ch, nil
}

func (e *Executor) fireCallbacks(st procedure.Step, res Result) {
	var cb func(procedure.Step, Result)
	switch {
	case res.TimedOut && e.Callbacks.OnTimeout != nil:
		cb = e.Callbacks.OnTimeout
	case res.Status == constants.StepFailure && e.Callbacks.OnFailure != nil:
		cb = e.Callbacks.OnFailure
	case res.Status != constants.StepFailure && e.Callbacks.OnSuccess != nil:
		cb = e.Callbacks.OnSuccess
	}
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && e.Logger != nil {
			e.Logger.Error("step callback panicked", "step_id", st.ID, "panic", r)
		}
	}()
	cb(st, res)
}

func (e *Executor) evaluator() Evaluator {
	if e.Eval != nil {
		return e.Eval
	}
	return EqualityEvaluator{}
}

func isApproveDecision(decision string) bool {
	switch strings.ToLower(strings.TrimSpace(decision)) {
	case "approve", "approved", protocol.DecisionAllow:
		return true
	default:
		return false
	}
}

func toAnyMap(in map[string]map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
