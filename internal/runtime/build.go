// Package runtime assembles the MCP server from the gate configuration:
// every declared tool is wrapped with the request gate, and the gate's own
// run-management tools are registered alongside.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/procgov/pop-mcp-server/internal/audit"
	"github.com/procgov/pop-mcp-server/internal/constants"
	"github.com/procgov/pop-mcp-server/internal/dsl"
	"github.com/procgov/pop-mcp-server/internal/gate"
	"github.com/procgov/pop-mcp-server/internal/invoke"
	"github.com/procgov/pop-mcp-server/internal/protocol"
	"github.com/procgov/pop-mcp-server/internal/security"
	"github.com/procgov/pop-mcp-server/internal/timeutil"
)

// Builder constructs an MCP server from the DSL config.
type Builder struct {
	// Logger is used for structured logging.
	Logger *slog.Logger
	// Audit records tool call events.
	Audit audit.Recorder
	// Gate authorizes every tool call.
	Gate *gate.Gate
	// Invokers executes authorized tool calls.
	Invokers invoke.Invoker
}

// Build creates an MCP server with gated tools and run-management tools.
func (b Builder) Build(cfg *dsl.Config) (*mcp.Server, error) {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
	}, nil)

	for _, tool := range cfg.Tools {
		if err := b.addTool(server, tool); err != nil {
			return nil, err
		}
	}

	b.addRunTools(server)
	return server, nil
}

// BuildInvokers wires one invoker per tool plus a default routed at the
// governance backend.
func BuildInvokers(cfg *dsl.Config) (invoke.Router, error) {
	router := invoke.Router{Routes: map[string]invoke.Invoker{}}
	if strings.TrimSpace(cfg.Governance.BackendURL) != "" {
		router.Default = invoke.HTTP{
			URL:     cfg.Governance.BackendURL,
			Headers: cfg.Governance.Headers,
			Timeout: timeutil.ParseDurationOrDefault(cfg.Governance.Timeout, 10*time.Second),
		}
	}
	for _, tool := range cfg.Tools {
		switch strings.ToLower(strings.TrimSpace(tool.Invoker.Type)) {
		case constants.InvokerHTTP:
			router.Routes[tool.Name] = invoke.HTTP{
				URL:     tool.Invoker.URL,
				Method:  tool.Invoker.Method,
				Headers: tool.Invoker.Headers,
				Timeout: timeutil.ParseDurationOrDefault(tool.Invoker.Timeout, 10*time.Second),
			}
		case constants.InvokerShell:
			router.Routes[tool.Name] = invoke.Shell{
				Command: tool.Invoker.Command,
				Args:    tool.Invoker.Args,
				Env:     tool.Invoker.Env,
			}
		case "":
			if router.Default == nil {
				return invoke.Router{}, fmt.Errorf("tool %s has no invoker and no governance backend is configured", tool.Name)
			}
		default:
			return invoke.Router{}, fmt.Errorf("tool %s: unknown invoker type: %s", tool.Name, tool.Invoker.Type)
		}
	}
	return router, nil
}

// Catalogue returns the full tool-name surface the server exposes. The
// validator expands governed wildcard patterns against this set.
func Catalogue(cfg *dsl.Config) []string {
	names := make([]string, 0, len(cfg.Tools)+len(constants.RunManagementTools))
	for _, tool := range cfg.Tools {
		names = append(names, tool.Name)
	}
	names = append(names, constants.RunManagementTools...)
	return names
}

func (b Builder) addTool(server *mcp.Server, tool dsl.ToolConfig) error {
	timeout := timeutil.ParseDurationOrDefault(tool.Invoker.Timeout, 0)

	mcpTool := &mcp.Tool{
		Name:        tool.Name,
		Title:       tool.Title,
		Description: tool.Description,
		InputSchema: tool.InputSchema,
		OutputSchema: func() any {
			if len(tool.OutputSchema) == 0 {
				return nil
			}
			return tool.OutputSchema
		}(),
	}

	mcp.AddTool(server, mcpTool, func(ctx context.Context, _ *mcp.CallToolRequest, input map[string]any) (*mcp.CallToolResult, protocol.GateResponse, error) {
		redacted := security.RedactArguments(input)
		if b.Logger != nil {
			b.Logger.Info("tool call", "tool", tool.Name, "args", redacted)
		}

		decision, cleaned := b.Gate.Check(ctx, tool.Name, input)
		if !decision.Allowed {
			return nil, protocol.GateResponse{
				Status:   protocol.StatusDenied,
				Decision: protocol.DecisionDeny,
				Reason:   decision.Reason,
				RunID:    decision.RunID,
				Denial:   decision.Denial,
			}, nil
		}

		if b.Audit != nil {
			b.Audit.Record(audit.Entry{
				Type:     audit.TypeToolCall,
				Tool:     tool.Name,
				RunID:    decision.RunID,
				Result:   protocol.DecisionAllow,
				Metadata: map[string]any{"arguments": redacted},
			})
		}

		ctxTool := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			ctxTool, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		result, err := b.Invokers.Invoke(ctxTool, tool.Name, cleaned)
		if err != nil {
			reason := err.Error()
			if errors.Is(ctxTool.Err(), context.DeadlineExceeded) {
				reason = "timeout"
			}
			if b.Audit != nil {
				b.Audit.Record(audit.Entry{
					Type:    audit.TypeToolCall,
					Tool:    tool.Name,
					RunID:   decision.RunID,
					Result:  protocol.DecisionError,
					Message: reason,
				})
			}
			return nil, protocol.GateResponse{
				Status:   protocol.StatusError,
				Decision: protocol.DecisionError,
				Reason:   reason,
				RunID:    decision.RunID,
			}, nil
		}

		return nil, protocol.GateResponse{
			Status:   protocol.StatusSuccess,
			Decision: protocol.DecisionAllow,
			RunID:    decision.RunID,
			Result:   result,
		}, nil
	})

	return nil
}
