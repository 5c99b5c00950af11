package procedure

import (
	"fmt"
	"strings"
)

// Agent is a registered caller identity fetched from the agent dataset.
// Its tags feed procedure matching: a tool call made on behalf of an agent
// is matched against procedures triggered by any of the agent's tags.
type Agent struct {
	// ID uniquely identifies the agent within the dataset.
	ID string `json:"id"`
	// Name is the agent's registered name, used for lookup.
	Name string `json:"name"`
	// Description explains what the agent does.
	Description string `json:"description,omitempty"`
	// Tags classify the agent's duties for procedure matching.
	Tags []string `json:"tags,omitempty"`
	// Active toggles the agent without deleting it.
	Active bool `json:"isActive"`
}

// ParseAgentRow converts one raw dataset row into an Agent. Rows may wrap
// the definition under a "definition" key the same way procedure rows do.
func ParseAgentRow(row map[string]any) (*Agent, error) {
	def := row
	if nested := mapField(row, "definition"); len(nested) > 0 {
		def = nested
	}

	agent := &Agent{
		ID:          stringField(def, "id", "agentId", "agent_id"),
		Name:        stringField(def, "name", "agentName", "agent_name"),
		Description: stringField(def, "description"),
		Tags:        stringSlice(def["tags"]),
		Active:      boolField(def, true, "isActive", "active"),
	}
	if agent.Name == "" {
		return nil, fmt.Errorf("agent row has no name")
	}
	if agent.ID == "" {
		agent.ID = agent.Name
	}
	return agent, nil
}

// ParseAgentRows parses all rows, collecting per-row errors without
// aborting the batch.
func ParseAgentRows(rows []map[string]any) ([]*Agent, []error) {
	agents := make([]*Agent, 0, len(rows))
	var errs []error
	for i, row := range rows {
		agent, err := ParseAgentRow(row)
		if err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", i, err))
			continue
		}
		agents = append(agents, agent)
	}
	return agents, errs
}

// agentKey normalizes a name for case-insensitive lookup.
func agentKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
