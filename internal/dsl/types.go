package dsl

// Config is the top-level YAML gate configuration.
type Config struct {
	// Server describes the MCP server settings.
	Server ServerConfig `yaml:"server"`
	// Governance points at the backend holding procedure definitions.
	Governance GovernanceConfig `yaml:"governance"`
	// Cache tunes the in-memory procedure cache.
	Cache CacheConfig `yaml:"cache"`
	// Enforcement controls gate behavior and run lifecycle limits.
	Enforcement EnforcementConfig `yaml:"enforcement"`
	// Retry is the default step retry policy.
	Retry RetryConfig `yaml:"retry"`
	// Audit configures the audit log.
	Audit AuditConfig `yaml:"audit"`
	// Classification overrides the built-in operation classifier.
	Classification ClassificationConfig `yaml:"classification"`
	// Notifications announces suspended steps to an external channel.
	Notifications NotificationConfig `yaml:"notifications"`
	// Tools lists all tool declarations.
	Tools []ToolConfig `yaml:"tools"`
}

// ServerConfig defines MCP server settings.
type ServerConfig struct {
	// Name is the MCP server name.
	Name string `yaml:"name"`
	// Version is the MCP server version.
	Version string `yaml:"version"`
	// Transport selects the server transport ("http" or "stdio").
	Transport string `yaml:"transport"`
	// ShutdownTimeout overrides graceful shutdown duration.
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	// ApprovalWebhookPath mounts the step fulfilment webhook.
	ApprovalWebhookPath string `yaml:"approval_webhook_path"`
	// StartupHooks defines one-time commands executed on start.
	StartupHooks []HookConfig `yaml:"startup_hooks"`
	// HTTP configures HTTP transport.
	HTTP HTTPConfig `yaml:"http"`
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// Path is the MCP HTTP endpoint path.
	Path string `yaml:"path"`
	// ReadTimeout limits request read time.
	ReadTimeout string `yaml:"read_timeout"`
	// WriteTimeout limits response write time.
	WriteTimeout string `yaml:"write_timeout"`
	// IdleTimeout controls idle connections.
	IdleTimeout string `yaml:"idle_timeout"`
	// Stateless disables session tracking.
	Stateless bool `yaml:"stateless"`
}

// GovernanceConfig locates the procedure definitions.
type GovernanceConfig struct {
	// Dataset is the dataset holding procedure rows.
	Dataset string `yaml:"dataset"`
	// AgentDataset is the dataset holding agent definition rows.
	AgentDataset string `yaml:"agent_dataset"`
	// BackendURL is the tool backend endpoint used to fetch rows.
	BackendURL string `yaml:"backend_url"`
	// Headers adds HTTP headers to backend requests.
	Headers map[string]string `yaml:"headers"`
	// Timeout limits backend request time.
	Timeout string `yaml:"timeout"`
	// MissingWebhookURL receives missing-governance notifications.
	MissingWebhookURL string `yaml:"missing_webhook_url"`
}

// CacheConfig tunes the procedure cache.
type CacheConfig struct {
	// TTL controls how long cached procedures are trusted.
	TTL string `yaml:"ttl"`
	// MaxSize limits the number of cached procedures.
	MaxSize int `yaml:"max_size"`
	// RefreshInterval rate-limits background refreshes.
	RefreshInterval string `yaml:"refresh_interval"`
}

// EnforcementConfig controls the request gate.
type EnforcementConfig struct {
	// Enabled toggles enforcement entirely.
	Enabled *bool `yaml:"enabled"`
	// Strict blocks ungoverned writes instead of warning.
	Strict bool `yaml:"strict"`
	// RunExpiry bounds run lifetime.
	RunExpiry string `yaml:"run_expiry"`
	// RunGrace retains expired runs before eviction.
	RunGrace string `yaml:"run_grace"`
	// MaxConcurrentRuns caps simultaneously active runs.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`
	// RunsPerMinute rate-limits run creation.
	RunsPerMinute int `yaml:"runs_per_minute"`
	// RequireForWrite demands an active run for write operations.
	RequireForWrite *bool `yaml:"require_for_write"`
	// RequireForRead demands an active run for read operations.
	RequireForRead bool `yaml:"require_for_read"`
}

// RetryConfig is the default retry policy for tool steps.
type RetryConfig struct {
	// MaxAttempts caps step attempts when the step declares no limit.
	MaxAttempts int `yaml:"max_attempts"`
	// InitialDelay is the first backoff delay.
	InitialDelay string `yaml:"initial_delay"`
	// MaxDelay caps the backoff delay.
	MaxDelay string `yaml:"max_delay"`
	// BackoffMultiplier scales the delay between attempts.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// AuditConfig configures the audit log.
type AuditConfig struct {
	// Enabled toggles audit recording.
	Enabled *bool `yaml:"enabled"`
	// Dir is the directory receiving daily JSONL files.
	Dir string `yaml:"dir"`
	// BufferSize flushes the buffer when reached.
	BufferSize int `yaml:"buffer_size"`
	// FlushInterval flushes the buffer periodically.
	FlushInterval string `yaml:"flush_interval"`
}

// ClassificationConfig overrides the operation classifier.
type ClassificationConfig struct {
	// Read lists tools classified as read operations.
	Read []string `yaml:"read"`
	// Write lists tools classified as write operations.
	Write []string `yaml:"write"`
}

// NotificationConfig delivers suspended-step prompts so a human can fulfil
// them over the approval webhook.
type NotificationConfig struct {
	// URL receives suspended-step prompts.
	URL string `yaml:"url"`
	// Headers adds HTTP headers to prompt requests.
	Headers map[string]string `yaml:"headers"`
	// Timeout bounds prompt delivery.
	Timeout string `yaml:"timeout"`
	// WebhookURL is advertised to the channel for fulfilment callbacks.
	WebhookURL string `yaml:"webhook_url"`
}

// ToolConfig declares a tool exposed by the MCP server.
type ToolConfig struct {
	// Name is the tool name.
	Name string `yaml:"name"`
	// Title is the human-friendly tool title.
	Title string `yaml:"title"`
	// Description explains the tool for the agent.
	Description string `yaml:"description"`
	// InputSchema defines JSON Schema for tool input.
	InputSchema map[string]any `yaml:"input_schema"`
	// OutputSchema defines JSON Schema for tool output.
	OutputSchema map[string]any `yaml:"output_schema"`
	// Invoker describes how the tool is executed.
	Invoker InvokerConfig `yaml:"invoker"`
	// Tags is an optional list of tags.
	Tags []string `yaml:"tags"`
}

// InvokerConfig defines how to execute a tool.
type InvokerConfig struct {
	// Type selects invoker implementation ("http" or "shell").
	Type string `yaml:"type"`
	// URL is the HTTP invoker endpoint.
	URL string `yaml:"url"`
	// Method overrides the HTTP method.
	Method string `yaml:"method"`
	// Headers adds HTTP headers.
	Headers map[string]string `yaml:"headers"`
	// Command is the shell invoker executable.
	Command string `yaml:"command"`
	// Args contains command arguments.
	Args []string `yaml:"args"`
	// Env adds environment variables for execution.
	Env map[string]string `yaml:"env"`
	// Timeout is the invoker timeout.
	Timeout string `yaml:"timeout"`
}

// HookConfig defines a startup hook command.
type HookConfig struct {
	// Command is the startup command to run.
	Command string `yaml:"command"`
	// Args are optional arguments.
	Args []string `yaml:"args"`
	// Env adds environment variables for the hook.
	Env map[string]string `yaml:"env"`
	// Timeout controls hook execution duration.
	Timeout string `yaml:"timeout"`
}
