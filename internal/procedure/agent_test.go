package procedure

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAgentRow(t *testing.T) {
	cases := []struct {
		name string
		row  map[string]any
		want Agent
	}{
		{
			"flat row",
			map[string]any{
				"id":          "AGENT-BILLING-V1",
				"name":        "billing-bot",
				"description": "reconciles invoices",
				"tags":        []any{"finance", "billing"},
			},
			Agent{
				ID:          "AGENT-BILLING-V1",
				Name:        "billing-bot",
				Description: "reconciles invoices",
				Tags:        []string{"finance", "billing"},
				Active:      true,
			},
		},
		{
			"nested definition",
			map[string]any{
				"definition": map[string]any{"name": "reporter", "tags": []any{"reporting"}},
			},
			Agent{ID: "reporter", Name: "reporter", Tags: []string{"reporting"}, Active: true},
		},
		{
			"inactive agent",
			map[string]any{"name": "retired", "isActive": false},
			Agent{ID: "retired", Name: "retired", Active: false},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			agent, err := ParseAgentRow(tc.row)
			require.NoError(t, err)
			assert.Equal(t, tc.want, *agent)
		})
	}
}

func TestParseAgentRows_CollectsErrors(t *testing.T) {
	agents, errs := ParseAgentRows([]map[string]any{
		{"name": "billing-bot"},
		{"description": "no name at all"},
		{"name": "reporter"},
	})

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "no name")
	require.Len(t, agents, 2)
	assert.Equal(t, "billing-bot", agents[0].Name)
	assert.Equal(t, "reporter", agents[1].Name)
}

type datasetSource struct {
	byDataset map[string][]map[string]any
}

func (s datasetSource) FetchRows(_ context.Context, dataset string) ([]map[string]any, error) {
	return s.byDataset[dataset], nil
}

func TestStore_FindAgent(t *testing.T) {
	store := NewStore(datasetSource{byDataset: map[string][]map[string]any{
		"governance": {procRow("PROC-A", "normal", "create-dataset")},
		"agents": {
			{"name": "Billing-Bot", "tags": []any{"finance"}},
			{"name": "retired", "isActive": false},
		},
	}}, StoreConfig{Dataset: "governance", AgentDataset: "agents"}, nil)

	agent, ok := store.FindAgent(context.Background(), "billing-bot")
	require.True(t, ok)
	assert.Equal(t, []string{"finance"}, agent.Tags)

	// Lookup is case-insensitive on the registered name.
	_, ok = store.FindAgent(context.Background(), "BILLING-BOT")
	assert.True(t, ok)

	// Inactive agents are not served.
	_, ok = store.FindAgent(context.Background(), "retired")
	assert.False(t, ok)
}

func TestStore_FindAgentWithoutDataset(t *testing.T) {
	store := NewStore(datasetSource{}, StoreConfig{Dataset: "governance"}, nil)
	_, ok := store.FindAgent(context.Background(), "billing-bot")
	assert.False(t, ok)
}
