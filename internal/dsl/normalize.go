package dsl

import "fmt"

// normalizeConfig rewrites the free-form JSON-schema blocks of every tool so
// nested maps are uniformly map[string]any. YAML decoders may produce
// map[any]any for nested objects, which does not marshal to JSON and would
// break tool registration.
func normalizeConfig(cfg *Config) error {
	for i := range cfg.Tools {
		tool := &cfg.Tools[i]
		for name, schema := range map[string]*map[string]any{
			"input_schema":  &tool.InputSchema,
			"output_schema": &tool.OutputSchema,
		} {
			normalized, err := normalizeSchema(*schema)
			if err != nil {
				return fmt.Errorf("tools[%d].%s: %w", i, name, err)
			}
			*schema = normalized
		}
	}
	return nil
}

func normalizeSchema(schema map[string]any) (map[string]any, error) {
	if schema == nil {
		return nil, nil
	}
	normalized, err := normalizeValue(schema)
	if err != nil {
		return nil, err
	}
	result, ok := normalized.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema must be an object")
	}
	return result, nil
}

func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			normalized, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			out[key] = normalized
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			name, ok := key.(string)
			if !ok {
				return nil, fmt.Errorf("schema key must be a string, got %T", key)
			}
			normalized, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			out[name] = normalized
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			normalized, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = normalized
		}
		return out, nil
	default:
		return value, nil
	}
}
