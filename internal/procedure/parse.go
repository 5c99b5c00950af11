package procedure

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/procgov/pop-mcp-server/internal/constants"
	"github.com/procgov/pop-mcp-server/internal/timeutil"
)

// ParseRow converts one external dataset row into a typed Procedure. Rows are
// heterogeneous: the definition may be the row itself, or live under a
// "definition"/"procedure" key as a nested object or a JSON-encoded string.
// Missing fields are defaulted, untyped steps are inferred from their shape.
func ParseRow(row map[string]any) (*Procedure, error) {
	def, err := unwrapDefinition(row)
	if err != nil {
		return nil, err
	}

	proc := &Procedure{
		ID:      stringField(def, "id", "procedureId", "procedure_id"),
		Name:    stringField(def, "name", "title"),
		Version: stringField(def, "version"),
		Purpose: stringField(def, "purpose", "description"),
		Active:  boolField(def, true, "isActive", "is_active", "active"),
	}
	if proc.ID == "" {
		return nil, fmt.Errorf("procedure row has no id")
	}
	if proc.Name == "" {
		proc.Name = proc.ID
	}
	if proc.Version == "" {
		proc.Version = "1"
	}

	proc.Triggers = parseTriggers(def["triggers"])
	proc.Metadata = parseMetadata(mapField(def, "metadata"))
	proc.Constraints = parseConstraints(def)
	proc.EffectiveFrom = timeField(def, "effectiveFrom", "effective_from")
	proc.EffectiveTo = timeField(def, "effectiveTo", "effective_to")

	rawSteps, ok := def["steps"].([]any)
	if !ok || len(rawSteps) == 0 {
		return nil, fmt.Errorf("procedure %s: steps must be a non-empty array", proc.ID)
	}
	seen := make(map[string]struct{}, len(rawSteps))
	for i, raw := range rawSteps {
		stepMap, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("procedure %s: steps[%d] is not an object", proc.ID, i)
		}
		step, err := parseStep(stepMap, i)
		if err != nil {
			return nil, fmt.Errorf("procedure %s: %w", proc.ID, err)
		}
		if _, dup := seen[step.ID]; dup {
			return nil, fmt.Errorf("procedure %s: duplicate step id %s", proc.ID, step.ID)
		}
		seen[step.ID] = struct{}{}
		proc.Steps = append(proc.Steps, step)
	}

	return proc, nil
}

// ParseRows parses every row, collecting per-row failures instead of
// aborting: one malformed definition must not hide the rest of the dataset.
func ParseRows(rows []map[string]any) ([]*Procedure, []error) {
	var procs []*Procedure
	var errs []error
	ids := make(map[string]struct{}, len(rows))
	for i, row := range rows {
		proc, err := ParseRow(row)
		if err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", i, err))
			continue
		}
		if _, dup := ids[proc.ID]; dup {
			errs = append(errs, fmt.Errorf("row %d: duplicate procedure id %s", i, proc.ID))
			continue
		}
		ids[proc.ID] = struct{}{}
		procs = append(procs, proc)
	}
	return procs, errs
}

func unwrapDefinition(row map[string]any) (map[string]any, error) {
	for _, key := range []string{"definition", "procedure"} {
		switch v := row[key].(type) {
		case map[string]any:
			return v, nil
		case string:
			var parsed map[string]any
			if err := json.Unmarshal([]byte(v), &parsed); err != nil {
				return nil, fmt.Errorf("parse %s json: %w", key, err)
			}
			return parsed, nil
		}
	}
	return row, nil
}

func parseTriggers(raw any) Triggers {
	switch v := raw.(type) {
	case []any:
		// Legacy format: a bare array of tool names.
		return Triggers{Tools: stringSlice(v)}
	case map[string]any:
		return Triggers{
			Tools:      stringSlice(v["tools"]),
			Operations: stringSlice(v["operations"]),
			Conditions: stringSlice(v["conditions"]),
		}
	default:
		return Triggers{}
	}
}

func parseMetadata(raw map[string]any) Metadata {
	meta := Metadata{
		Priority:  stringField(raw, "priority"),
		RiskLevel: stringField(raw, "riskLevel", "risk_level"),
		Category:  stringField(raw, "category"),
		Tags:      stringSlice(raw["tags"]),
	}
	switch meta.Priority {
	case constants.PriorityCritical, constants.PriorityHigh, constants.PriorityLow:
	default:
		meta.Priority = constants.PriorityNormal
	}
	return meta
}

func parseConstraints(def map[string]any) Constraints {
	raw := mapField(def, "constraints")
	return Constraints{
		AllowedDatasets: stringSlice(raw["allowedDatasets"]),
	}
}

func parseStep(raw map[string]any, index int) (Step, error) {
	step := Step{
		ID:             stringField(raw, "id", "stepId", "step_id"),
		Name:           stringField(raw, "name", "title"),
		Description:    stringField(raw, "description"),
		Type:           strings.ToLower(stringField(raw, "type")),
		Required:       boolField(raw, true, "required"),
		Retryable:      boolField(raw, false, "retryable"),
		MaxRetries:     intField(raw, 0, "maxRetries", "max_retries"),
		Timeout:        durationField(raw, 0, "timeout"),
		SkipConditions: stringSlice(raw["skipConditions"]),
	}
	if step.ID == "" {
		step.ID = fmt.Sprintf("step-%d", index+1)
	}
	if step.Name == "" {
		step.Name = step.ID
	}
	if step.Type == "" {
		step.Type = inferStepType(raw)
	}

	switch step.Type {
	case constants.StepTool:
		step.Tool = &ToolStep{
			ToolName:        stringField(raw, "toolName", "tool_name", "tool"),
			Parameters:      mapField(raw, "parameters"),
			ValidationRules: parseValidationRules(raw["validationRules"]),
			SideEffects:     stringSlice(raw["sideEffects"]),
			Compensation:    stringField(raw, "compensation"),
		}
		if step.Tool.ToolName == "" {
			return Step{}, fmt.Errorf("steps[%d]: tool step has no toolName", index)
		}
	case constants.StepQuiz:
		step.Quiz = &QuizStep{
			Question:        stringField(raw, "question"),
			Options:         stringSlice(raw["options"]),
			CorrectAnswer:   stringField(raw, "correctAnswer", "correct_answer"),
			AllowedAttempts: intField(raw, 1, "allowedAttempts", "allowed_attempts"),
		}
	case constants.StepApproval:
		step.Approval = &ApprovalStep{
			Approvers:        stringSlice(raw["approvers"]),
			ApprovalType:     strings.ToLower(stringField(raw, "approvalType", "approval_type")),
			MinimumApprovals: intField(raw, 1, "minimumApprovals", "minimum_approvals"),
		}
		switch step.Approval.ApprovalType {
		case ApprovalAny, ApprovalAll, ApprovalQuorum:
		default:
			step.Approval.ApprovalType = ApprovalAny
		}
	case constants.StepWait:
		step.Wait = &WaitStep{
			WaitType:      strings.ToLower(stringField(raw, "waitType", "wait_type")),
			Duration:      durationField(raw, 0, "duration"),
			Condition:     stringField(raw, "condition"),
			CheckInterval: durationField(raw, 5*time.Second, "checkInterval", "check_interval"),
		}
		if step.Wait.WaitType == "" {
			if step.Wait.Condition != "" {
				step.Wait.WaitType = WaitCondition
			} else {
				step.Wait.WaitType = WaitDuration
			}
		}
	case constants.StepInformation:
		step.Information = &InformationStep{
			Content:                stringField(raw, "content"),
			Format:                 stringField(raw, "format"),
			AcknowledgmentRequired: boolField(raw, false, "acknowledgmentRequired", "acknowledgment_required"),
		}
	default:
		return Step{}, fmt.Errorf("steps[%d]: unknown step type %q", index, step.Type)
	}

	return step, nil
}

// inferStepType guesses the variant for untagged legacy steps from the fields
// that are present, defaulting to tool.
func inferStepType(raw map[string]any) string {
	if _, ok := raw["question"]; ok {
		if _, ok := raw["options"]; ok {
			return constants.StepQuiz
		}
	}
	if _, ok := raw["approvers"]; ok {
		return constants.StepApproval
	}
	if _, ok := raw["waitType"]; ok {
		return constants.StepWait
	}
	if _, ok := raw["duration"]; ok {
		return constants.StepWait
	}
	if _, ok := raw["content"]; ok {
		return constants.StepInformation
	}
	return constants.StepTool
}

func parseValidationRules(raw any) []ValidationRule {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	var rules []ValidationRule
	for _, item := range items {
		switch v := item.(type) {
		case string:
			// Legacy shorthand: "field" means the parameter is required.
			rules = append(rules, ValidationRule{Field: v, Kind: RuleRequiredParam})
		case map[string]any:
			rule := ValidationRule{
				Field: stringField(v, "field"),
				Kind:  stringField(v, "kind", "rule"),
			}
			if rule.Field == "" {
				continue
			}
			if rule.Kind != RuleRequiredOutput {
				rule.Kind = RuleRequiredParam
			}
			rules = append(rules, rule)
		}
	}
	return rules
}

func stringField(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func boolField(raw map[string]any, def bool, keys ...string) bool {
	for _, key := range keys {
		if v, ok := raw[key].(bool); ok {
			return v
		}
	}
	return def
}

func intField(raw map[string]any, def int, keys ...string) int {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case int:
			return v
		case float64:
			return int(v)
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return int(n)
			}
		}
	}
	return def
}

// durationField accepts Go duration strings ("30s") and bare numbers, which
// legacy definitions store as milliseconds.
func durationField(raw map[string]any, def time.Duration, keys ...string) time.Duration {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case string:
			return timeutil.ParseDurationOrDefault(v, def)
		case float64:
			return time.Duration(v) * time.Millisecond
		case int:
			return time.Duration(v) * time.Millisecond
		}
	}
	return def
}

func timeField(raw map[string]any, keys ...string) *time.Time {
	value := stringField(raw, keys...)
	if value == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &parsed
}

func mapField(raw map[string]any, key string) map[string]any {
	if v, ok := raw[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

func stringSlice(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		if single, ok := raw.(string); ok && single != "" {
			return []string{single}
		}
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
