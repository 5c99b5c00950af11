package dsl

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/procgov/pop-mcp-server/internal/constants"
	"github.com/procgov/pop-mcp-server/internal/timeutil"
)

// Validate applies defaults and verifies required fields.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Server.Name == "" {
		return fmt.Errorf("server.name is required")
	}
	if cfg.Server.Version == "" {
		return fmt.Errorf("server.version is required")
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = "stdio"
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Server.Transport)) {
	case "stdio", "http":
	default:
		return fmt.Errorf("server.transport must be stdio or http")
	}
	if cfg.Server.HTTP.Listen == "" {
		cfg.Server.HTTP.Listen = ":8080"
	}
	if cfg.Server.HTTP.Path == "" {
		cfg.Server.HTTP.Path = "/mcp"
	}
	if cfg.Server.ApprovalWebhookPath == "" {
		cfg.Server.ApprovalWebhookPath = "/webhooks/steps"
	}
	if !strings.HasPrefix(cfg.Server.ApprovalWebhookPath, "/") {
		return fmt.Errorf("server.approval_webhook_path must start with /")
	}
	for i, hook := range cfg.Server.StartupHooks {
		if strings.TrimSpace(hook.Command) == "" {
			return fmt.Errorf("server.startup_hooks[%d].command is required", i)
		}
		if err := checkDuration("server.startup_hooks.timeout", hook.Timeout); err != nil {
			return err
		}
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeout},
		{"server.http.read_timeout", cfg.Server.HTTP.ReadTimeout},
		{"server.http.write_timeout", cfg.Server.HTTP.WriteTimeout},
		{"server.http.idle_timeout", cfg.Server.HTTP.IdleTimeout},
		{"governance.timeout", cfg.Governance.Timeout},
		{"cache.ttl", cfg.Cache.TTL},
		{"cache.refresh_interval", cfg.Cache.RefreshInterval},
		{"enforcement.run_expiry", cfg.Enforcement.RunExpiry},
		{"enforcement.run_grace", cfg.Enforcement.RunGrace},
		{"retry.initial_delay", cfg.Retry.InitialDelay},
		{"retry.max_delay", cfg.Retry.MaxDelay},
		{"audit.flush_interval", cfg.Audit.FlushInterval},
		{"notifications.timeout", cfg.Notifications.Timeout},
	} {
		if err := checkDuration(field.name, field.value); err != nil {
			return err
		}
	}

	if strings.TrimSpace(cfg.Governance.BackendURL) != "" {
		if _, err := parseAbsoluteURL(cfg.Governance.BackendURL); err != nil {
			return fmt.Errorf("governance.backend_url is invalid: %w", err)
		}
	}
	if strings.TrimSpace(cfg.Governance.MissingWebhookURL) != "" {
		if _, err := parseAbsoluteURL(cfg.Governance.MissingWebhookURL); err != nil {
			return fmt.Errorf("governance.missing_webhook_url is invalid: %w", err)
		}
	}
	if strings.TrimSpace(cfg.Notifications.URL) != "" {
		if _, err := parseAbsoluteURL(cfg.Notifications.URL); err != nil {
			return fmt.Errorf("notifications.url is invalid: %w", err)
		}
	}

	if cfg.Cache.MaxSize < 0 {
		return fmt.Errorf("cache.max_size must be >= 0")
	}
	if cfg.Enforcement.MaxConcurrentRuns < 0 {
		return fmt.Errorf("enforcement.max_concurrent_runs must be >= 0")
	}
	if cfg.Enforcement.RunsPerMinute < 0 {
		return fmt.Errorf("enforcement.runs_per_minute must be >= 0")
	}
	if cfg.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be >= 0")
	}
	if cfg.Retry.BackoffMultiplier < 0 {
		return fmt.Errorf("retry.backoff_multiplier must be >= 0")
	}
	if cfg.Audit.BufferSize < 0 {
		return fmt.Errorf("audit.buffer_size must be >= 0")
	}

	toolNames := map[string]struct{}{}
	for i, tool := range cfg.Tools {
		if tool.Name == "" {
			return fmt.Errorf("tools[%d].name is required", i)
		}
		if _, exists := toolNames[tool.Name]; exists {
			return fmt.Errorf("duplicate tool name: %s", tool.Name)
		}
		toolNames[tool.Name] = struct{}{}
		if constants.IsRunManagementTool(tool.Name) {
			return fmt.Errorf("tools[%d].name %s is reserved", i, tool.Name)
		}
		switch strings.ToLower(strings.TrimSpace(tool.Invoker.Type)) {
		case constants.InvokerHTTP:
			if strings.TrimSpace(tool.Invoker.URL) == "" {
				return fmt.Errorf("tools[%d].invoker.url is required for http invokers", i)
			}
			if _, err := parseAbsoluteURL(tool.Invoker.URL); err != nil {
				return fmt.Errorf("tools[%d].invoker.url is invalid: %w", i, err)
			}
		case constants.InvokerShell:
			if strings.TrimSpace(tool.Invoker.Command) == "" {
				return fmt.Errorf("tools[%d].invoker.command is required for shell invokers", i)
			}
		case "":
			if strings.TrimSpace(cfg.Governance.BackendURL) == "" {
				return fmt.Errorf("tools[%d].invoker.type is required when governance.backend_url is unset", i)
			}
		default:
			return fmt.Errorf("tools[%d].invoker.type must be http or shell", i)
		}
		if err := checkDuration("tools.invoker.timeout", tool.Invoker.Timeout); err != nil {
			return err
		}
	}

	return nil
}

// EnforcementEnabled reports the enforcement toggle, defaulting to on.
func (c *Config) EnforcementEnabled() bool {
	if c.Enforcement.Enabled == nil {
		return true
	}
	return *c.Enforcement.Enabled
}

// RequireForWrite reports the write-run requirement, defaulting to on.
func (c *Config) RequireForWrite() bool {
	if c.Enforcement.RequireForWrite == nil {
		return true
	}
	return *c.Enforcement.RequireForWrite
}

// AuditEnabled reports the audit toggle, defaulting to on.
func (c *Config) AuditEnabled() bool {
	if c.Audit.Enabled == nil {
		return true
	}
	return *c.Audit.Enabled
}

func checkDuration(name, value string) error {
	if _, err := timeutil.Parse(value); err != nil {
		return fmt.Errorf("%s is invalid: %w", name, err)
	}
	return nil
}

func parseAbsoluteURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("url is invalid: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("url must be absolute")
	}
	return parsed, nil
}
