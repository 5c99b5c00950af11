package audit

import "time"

// Entry event types.
const (
	TypeAuthorization = "authorization"
	TypeViolation     = "security_violation"
	TypeToolCall      = "tool_call"
	TypeStep          = "step"
	TypeRun           = "run"
	TypeRefresh       = "refresh"
)

// Entry severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Entry is one audit record. Records are append-only and hash-chained: each
// RecordHash covers the canonical JSON of the entry plus the previous hash.
type Entry struct {
	// Timestamp is when the event happened.
	Timestamp time.Time `json:"timestamp"`
	// Type describes the event kind.
	Type string `json:"type"`
	// Severity grades the event.
	Severity string `json:"severity"`
	// Tool is the tool involved, if any.
	Tool string `json:"tool,omitempty"`
	// ProcedureID is the procedure involved, if any.
	ProcedureID string `json:"procedure_id,omitempty"`
	// RunID is the run involved, if any.
	RunID string `json:"run_id,omitempty"`
	// Result is the outcome (allow, deny, success, failure, skipped).
	Result string `json:"result,omitempty"`
	// Message provides additional context.
	Message string `json:"message,omitempty"`
	// Metadata carries free-form, pre-redacted details.
	Metadata map[string]any `json:"metadata,omitempty"`
	// PrevHash chains this record to the previous one.
	PrevHash string `json:"prev_hash,omitempty"`
	// RecordHash covers this record and PrevHash.
	RecordHash string `json:"record_hash,omitempty"`
}

// Violation is a recorded denial of a specific security character. Once
// recorded it is never mutated.
type Violation struct {
	// Type is RUNID_HIJACK, EXPIRED_RUN, INVALID_STEP, or UNAUTHORIZED_TOOL.
	Type string `json:"type"`
	// AttemptedTool is the tool the caller tried to use.
	AttemptedTool string `json:"attemptedTool"`
	// RunID is the run token presented with the call.
	RunID string `json:"runId,omitempty"`
	// ProcedureID is the procedure the run belongs to, when known.
	ProcedureID string `json:"procedureId,omitempty"`
	// Message explains the violation.
	Message string `json:"message"`
	// Timestamp is when the violation was recorded.
	Timestamp time.Time `json:"timestamp"`
}
