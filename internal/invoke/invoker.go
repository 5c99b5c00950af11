// Package invoke holds the outbound collaborators of the gate: invokers that
// execute named tools and the governance-backend row source. The core only
// depends on the interfaces.
package invoke

import (
	"context"
	"fmt"
)

// Invoker executes a named tool with arguments.
type Invoker interface {
	// Invoke runs the tool and returns its structured result.
	Invoke(ctx context.Context, tool string, args map[string]any) (map[string]any, error)
}

// Router dispatches tools to per-tool invokers with a fallback.
type Router struct {
	// Routes maps tool names to their invoker.
	Routes map[string]Invoker
	// Default handles tools without a route.
	Default Invoker
}

// Invoke implements Invoker.
func (r Router) Invoke(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	if invoker, ok := r.Routes[tool]; ok {
		return invoker.Invoke(ctx, tool, args)
	}
	if r.Default != nil {
		return r.Default.Invoke(ctx, tool, args)
	}
	return nil, fmt.Errorf("no invoker for tool %s", tool)
}

type sysOpKey struct{}

// WithSystemOperation marks ctx as originating from the gate's own internals
// (the procedure loader). Only calls carrying this marker may use the
// __systemOperation bypass.
func WithSystemOperation(ctx context.Context) context.Context {
	return context.WithValue(ctx, sysOpKey{}, true)
}

// IsSystemOperation reports whether ctx carries the internal marker.
func IsSystemOperation(ctx context.Context) bool {
	v, _ := ctx.Value(sysOpKey{}).(bool)
	return v
}
