package step

import (
	"fmt"
	"strings"
)

// Evaluator decides skip and wait conditions against the run scope. The
// interface is deliberately narrow so the matcher can be swapped for a real
// expression language without touching the executor.
type Evaluator interface {
	// Evaluate returns whether expr holds in scope.
	Evaluate(expr string, scope map[string]any) (bool, error)
}

// EqualityEvaluator supports literal equality only: "left==right" and
// "left!=right". The left side is resolved as a dotted path into the scope,
// falling back to the literal text; the right side is always literal.
type EqualityEvaluator struct{}

// Evaluate implements Evaluator.
func (EqualityEvaluator) Evaluate(expr string, scope map[string]any) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, nil
	}

	op := "=="
	idx := strings.Index(expr, "==")
	if idx < 0 {
		idx = strings.Index(expr, "!=")
		op = "!="
	}
	if idx < 0 {
		return false, fmt.Errorf("unsupported condition %q: only == and != are recognized", expr)
	}

	left := strings.TrimSpace(expr[:idx])
	right := strings.TrimSpace(expr[idx+2:])

	resolved := resolvePath(left, scope)
	equal := fmt.Sprint(resolved) == right
	if op == "!=" {
		return !equal, nil
	}
	return equal, nil
}

// resolvePath walks a dotted path through nested maps. An unresolvable path
// yields the path text itself, so purely literal comparisons still work.
func resolvePath(path string, scope map[string]any) any {
	if scope == nil {
		return path
	}
	parts := strings.Split(path, ".")
	var current any = scope
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return path
		}
		current, ok = m[part]
		if !ok {
			return path
		}
	}
	return current
}
