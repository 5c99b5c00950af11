package authz

import "github.com/procgov/pop-mcp-server/internal/constants"

// defaultOperations is the curated classification of the governed tool
// surface. Tools absent from the table classify as write: unknown operations
// are treated as dangerous.
var defaultOperations = map[string]string{
	"get-datasets":         constants.OpRead,
	"get-dataset":          constants.OpRead,
	"get-dataset-rows":     constants.OpRead,
	"get-dataset-output":   constants.OpRead,
	"search-datasets":      constants.OpRead,
	"get-agents":           constants.OpRead,
	"get-agent":            constants.OpRead,
	"get-agent-output":     constants.OpRead,
	"list-procedures":      constants.OpRead,
	"get-procedure-status": constants.OpRead,

	"create-dataset":      constants.OpWrite,
	"update-dataset":      constants.OpWrite,
	"delete-dataset":      constants.OpWrite,
	"upload-dataset-rows": constants.OpWrite,
	"create-agent":        constants.OpWrite,
	"update-agent":        constants.OpWrite,
	"delete-agent":        constants.OpWrite,
	"run-agent":           constants.OpWrite,
	"start-procedure":     constants.OpWrite,
	"resume-procedure":    constants.OpWrite,
	"execute-step":        constants.OpWrite,
	"complete-procedure":  constants.OpWrite,
}

// Classifier maps tool names to read or write operations. It is a pure
// lookup with no side effects.
type Classifier struct {
	operations map[string]string
}

// NewClassifier builds a classifier from the default table plus config
// overrides. Overrides win over the defaults.
func NewClassifier(readOverrides, writeOverrides []string) *Classifier {
	operations := make(map[string]string, len(defaultOperations)+len(readOverrides)+len(writeOverrides))
	for name, op := range defaultOperations {
		operations[name] = op
	}
	for _, name := range readOverrides {
		operations[name] = constants.OpRead
	}
	for _, name := range writeOverrides {
		operations[name] = constants.OpWrite
	}
	return &Classifier{operations: operations}
}

// Classify returns the operation class for a tool, defaulting to write.
func (c *Classifier) Classify(tool string) string {
	if op, ok := c.operations[tool]; ok {
		return op
	}
	return constants.OpWrite
}
