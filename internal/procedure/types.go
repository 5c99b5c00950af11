package procedure

import (
	"time"

	"github.com/procgov/pop-mcp-server/internal/constants"
)

// Procedure is a declarative multi-step workflow governing tool calls.
// Instances are immutable once cached; a refresh replaces them wholesale.
type Procedure struct {
	// ID uniquely identifies the procedure within the store.
	ID string `json:"id"`
	// Name is the human-readable procedure name.
	Name string `json:"name"`
	// Version is the procedure definition version.
	Version string `json:"version"`
	// Purpose explains why the procedure exists.
	Purpose string `json:"purpose,omitempty"`
	// Triggers declares which tool calls the procedure governs.
	Triggers Triggers `json:"triggers"`
	// Steps is the ordered, non-empty list of workflow steps.
	Steps []Step `json:"steps"`
	// Metadata carries priority, risk, and tagging information.
	Metadata Metadata `json:"metadata"`
	// Constraints holds procedure-level write restrictions.
	Constraints Constraints `json:"constraints"`
	// EffectiveFrom is the start of the validity window, if bounded.
	EffectiveFrom *time.Time `json:"effectiveFrom,omitempty"`
	// EffectiveTo is the end of the validity window, if bounded.
	EffectiveTo *time.Time `json:"effectiveTo,omitempty"`
	// Active toggles the procedure without deleting it.
	Active bool `json:"isActive"`
}

// Triggers describes what a procedure governs. Tool entries may contain
// wildcards such as "get-*" or "*-dataset".
type Triggers struct {
	// Tools lists governed tool names or patterns.
	Tools []string `json:"tools,omitempty"`
	// Operations lists governed operation classes (read, write).
	Operations []string `json:"operations,omitempty"`
	// Conditions lists free-form trigger conditions.
	Conditions []string `json:"conditions,omitempty"`
}

// Metadata carries procedure classification.
type Metadata struct {
	// Priority orders applicable procedures (critical, high, normal, low).
	Priority string `json:"priority,omitempty"`
	// RiskLevel describes the risk of the governed operations.
	RiskLevel string `json:"riskLevel,omitempty"`
	// Tags match against request context tags.
	Tags []string `json:"tags,omitempty"`
	// Category groups related procedures.
	Category string `json:"category,omitempty"`
}

// Constraints holds procedure-declared write restrictions checked in addition
// to the governed-tool set.
type Constraints struct {
	// AllowedDatasets restricts which dataset names write steps may target.
	// Empty means unrestricted.
	AllowedDatasets []string `json:"allowedDatasets,omitempty"`
}

// Step is one workflow step. Exactly one variant pointer is non-nil,
// discriminated by Type.
type Step struct {
	// ID uniquely identifies the step within its procedure.
	ID string `json:"id"`
	// Name is the human-readable step name.
	Name string `json:"name"`
	// Description explains the step for operators.
	Description string `json:"description,omitempty"`
	// Type discriminates the variant (tool, quiz, approval, wait, information).
	Type string `json:"type"`
	// Required marks steps that cannot be skipped by condition.
	Required bool `json:"required"`
	// Retryable enables the retry policy for transient failures.
	Retryable bool `json:"retryable"`
	// MaxRetries caps total attempts when Retryable is set. Zero defers to
	// the configured retry policy.
	MaxRetries int `json:"maxRetries"`
	// Timeout bounds a single execution of the step.
	Timeout time.Duration `json:"timeout,omitempty"`
	// SkipConditions skip the step when any condition evaluates true.
	SkipConditions []string `json:"skipConditions,omitempty"`

	// Tool is set when Type is "tool".
	Tool *ToolStep `json:"tool,omitempty"`
	// Quiz is set when Type is "quiz".
	Quiz *QuizStep `json:"quiz,omitempty"`
	// Approval is set when Type is "approval".
	Approval *ApprovalStep `json:"approval,omitempty"`
	// Wait is set when Type is "wait".
	Wait *WaitStep `json:"wait,omitempty"`
	// Information is set when Type is "information".
	Information *InformationStep `json:"information,omitempty"`
}

// ToolStep invokes an external tool.
type ToolStep struct {
	// ToolName is the tool to invoke.
	ToolName string `json:"toolName"`
	// Parameters are forwarded as tool arguments.
	Parameters map[string]any `json:"parameters,omitempty"`
	// ValidationRules validate inputs and outputs of the invocation.
	ValidationRules []ValidationRule `json:"validationRules,omitempty"`
	// SideEffects documents the externally visible effects.
	SideEffects []string `json:"sideEffects,omitempty"`
	// Compensation names a tool invoked when the step ultimately fails.
	Compensation string `json:"compensation,omitempty"`
}

// ValidationRule checks a single field around a tool invocation.
type ValidationRule struct {
	// Field is the argument or output field name.
	Field string `json:"field"`
	// Kind is required_param or required_output.
	Kind string `json:"kind"`
}

// Validation rule kinds.
const (
	RuleRequiredParam  = "required_param"
	RuleRequiredOutput = "required_output"
)

// QuizStep asks the operator a comprehension question.
type QuizStep struct {
	// Question is the prompt shown to the operator.
	Question string `json:"question"`
	// Options are the selectable answers.
	Options []string `json:"options"`
	// CorrectAnswer is the expected option.
	CorrectAnswer string `json:"correctAnswer"`
	// AllowedAttempts caps wrong answers before the step fails.
	AllowedAttempts int `json:"allowedAttempts"`
}

// ApprovalStep awaits sign-off from external approvers.
type ApprovalStep struct {
	// Approvers lists who may approve.
	Approvers []string `json:"approvers"`
	// ApprovalType is any, all, or quorum.
	ApprovalType string `json:"approvalType"`
	// MinimumApprovals is the quorum size when ApprovalType is quorum.
	MinimumApprovals int `json:"minimumApprovals"`
}

// Approval types.
const (
	ApprovalAny    = "any"
	ApprovalAll    = "all"
	ApprovalQuorum = "quorum"
)

// WaitStep pauses the run for a duration or until a condition holds.
type WaitStep struct {
	// WaitType is duration or condition.
	WaitType string `json:"waitType"`
	// Duration is the fixed wait time for duration waits.
	Duration time.Duration `json:"duration,omitempty"`
	// Condition is polled for condition waits.
	Condition string `json:"condition,omitempty"`
	// CheckInterval is the polling interval for condition waits.
	CheckInterval time.Duration `json:"checkInterval,omitempty"`
}

// Wait types.
const (
	WaitDuration  = "duration"
	WaitCondition = "condition"
)

// InformationStep presents content the operator may have to acknowledge.
type InformationStep struct {
	// Content is the information shown.
	Content string `json:"content"`
	// Format is the content format (text, markdown).
	Format string `json:"format,omitempty"`
	// AcknowledgmentRequired suspends the step until acknowledged.
	AcknowledgmentRequired bool `json:"acknowledgmentRequired"`
}

// DeclaredTools returns the tool names (or patterns) a step contributes to
// the governed-tool set. Only tool steps declare tools.
func (s Step) DeclaredTools() []string {
	if s.Tool == nil || s.Tool.ToolName == "" {
		return nil
	}
	return []string{s.Tool.ToolName}
}

// GovernedPatterns returns the union of trigger tools and every step's
// declared tools, unexpanded.
func (p *Procedure) GovernedPatterns() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, tool := range p.Triggers.Tools {
		add(tool)
	}
	for _, step := range p.Steps {
		for _, tool := range step.DeclaredTools() {
			add(tool)
		}
	}
	return out
}

// ValidAt reports whether the procedure is active and inside its validity
// window at the given instant.
func (p *Procedure) ValidAt(now time.Time) bool {
	if !p.Active {
		return false
	}
	if p.EffectiveFrom != nil && now.Before(*p.EffectiveFrom) {
		return false
	}
	if p.EffectiveTo != nil && now.After(*p.EffectiveTo) {
		return false
	}
	return true
}

// PriorityRank maps a priority to its sort order, lowest rank first.
func PriorityRank(priority string) int {
	switch priority {
	case constants.PriorityCritical:
		return 0
	case constants.PriorityHigh:
		return 1
	case constants.PriorityLow:
		return 3
	default:
		return 2
	}
}
