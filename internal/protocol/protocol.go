package protocol

// Gate statuses.
const (
	StatusSuccess = "success"
	StatusDenied  = "denied"
	StatusError   = "error"
)

// Gate decisions.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
	DecisionError = "error"
)

// ErrProcedureRequired is the machine-readable error code returned when a
// write operation has a governing procedure that has not been started.
const ErrProcedureRequired = "PROCEDURE_REQUIRED"

// Reserved tool-call argument keys. Both are stripped before arguments are
// forwarded to the underlying tool.
const (
	// ArgRunID binds the call to an active procedure run.
	ArgRunID = "__runId"
	// ArgSystemOperation marks a loader-internal call. It is honored only
	// when the call chain itself is marked internal, never on caller say-so.
	ArgSystemOperation = "__systemOperation"
)

// GateResponse is the fixed JSON response returned for gated tool calls.
type GateResponse struct {
	// Status indicates the execution status.
	Status string `json:"status"`
	// Decision indicates the authorization decision.
	Decision string `json:"decision"`
	// Reason is a human-readable message.
	Reason string `json:"reason,omitempty"`
	// RunID is the run that authorized the call, if any.
	RunID string `json:"runId,omitempty"`
	// Result carries the tool output on success.
	Result map[string]any `json:"result,omitempty"`
	// Denial carries the structured denial payload when the call is blocked.
	Denial *Denial `json:"denial,omitempty"`
}

// Denial is the structured payload returned when a write operation lacks a
// governing run. It is a value callers can react to, never a bare error.
type Denial struct {
	// Error is the machine-readable code, e.g. PROCEDURE_REQUIRED.
	Error string `json:"error"`
	// ProcedureID identifies the applicable procedure, if one exists.
	ProcedureID string `json:"procedureId,omitempty"`
	// ProcedureName is the human-readable procedure name.
	ProcedureName string `json:"procedureName,omitempty"`
	// Reason explains the denial.
	Reason string `json:"reason"`
	// RunID is set when an existing run was involved in the decision.
	RunID string `json:"runId,omitempty"`
}

// Fulfilment is the JSON payload delivered to the step webhook when an
// external actor resolves a suspended quiz, approval, or information step.
type Fulfilment struct {
	// RunID identifies the run whose step is being resolved.
	RunID string `json:"run_id"`
	// StepID identifies the suspended step.
	StepID string `json:"step_id"`
	// Decision is approve or deny for approval steps.
	Decision string `json:"decision,omitempty"`
	// Answer is the selected option for quiz steps.
	Answer string `json:"answer,omitempty"`
	// Acknowledged marks an information step as read.
	Acknowledged bool `json:"acknowledged,omitempty"`
	// Actor identifies who resolved the step.
	Actor string `json:"actor,omitempty"`
	// Comment carries optional free-form context.
	Comment string `json:"comment,omitempty"`
}
