package constants

// Operation classes.
const (
	OpRead  = "read"
	OpWrite = "write"
)

// Security violation types.
const (
	ViolationRunHijack        = "RUNID_HIJACK"
	ViolationExpiredRun       = "EXPIRED_RUN"
	ViolationInvalidStep      = "INVALID_STEP"
	ViolationUnauthorizedTool = "UNAUTHORIZED_TOOL"
)

// Run lifecycle statuses.
const (
	RunActive    = "active"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunExpired   = "expired"
)

// Step types.
const (
	StepTool        = "tool"
	StepQuiz        = "quiz"
	StepApproval    = "approval"
	StepWait        = "wait"
	StepInformation = "information"
)

// Step results.
const (
	StepSuccess = "success"
	StepFailure = "failure"
	StepSkipped = "skipped"
)

// Procedure priorities, highest first.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityNormal   = "normal"
	PriorityLow      = "low"
)

// Invoker type aliases.
const (
	InvokerHTTP  = "http"
	InvokerShell = "shell"
)

// Run-management tools served by the gate itself. They are permitted for any
// active run regardless of the governed-tool set.
var RunManagementTools = []string{
	"start-procedure",
	"list-procedures",
	"resume-procedure",
	"get-procedure-status",
	"execute-step",
	"complete-procedure",
}

// IsRunManagementTool reports whether name is one of the gate's own tools.
func IsRunManagementTool(name string) bool {
	for _, tool := range RunManagementTools {
		if tool == name {
			return true
		}
	}
	return false
}
