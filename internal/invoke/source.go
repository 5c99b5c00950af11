package invoke

import (
	"context"
	"fmt"
)

// RowSource fetches dataset rows through an Invoker. It satisfies
// procedure.Source and marks its calls as system operations so the gate does
// not demand a procedure run for the loader's own reads.
type RowSource struct {
	// Invoker executes the fetch.
	Invoker Invoker
	// Tool is the row-fetching tool name.
	Tool string
}

// FetchRows returns the rows of the named dataset.
func (s RowSource) FetchRows(ctx context.Context, dataset string) ([]map[string]any, error) {
	if s.Invoker == nil {
		return nil, fmt.Errorf("row source has no invoker")
	}
	tool := s.Tool
	if tool == "" {
		tool = "get-dataset-rows"
	}

	result, err := s.Invoker.Invoke(WithSystemOperation(ctx), tool, map[string]any{
		"dataset": dataset,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch rows from %s: %w", dataset, err)
	}

	raw, ok := result["rows"].([]any)
	if !ok {
		return nil, nil
	}
	rows := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if row, ok := item.(map[string]any); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}
