package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/procgov/pop-mcp-server/configs"
	"github.com/procgov/pop-mcp-server/internal/app"
	"github.com/procgov/pop-mcp-server/internal/audit"
	"github.com/procgov/pop-mcp-server/internal/authz"
	"github.com/procgov/pop-mcp-server/internal/config"
	"github.com/procgov/pop-mcp-server/internal/dsl"
	"github.com/procgov/pop-mcp-server/internal/gate"
	"github.com/procgov/pop-mcp-server/internal/invoke"
	"github.com/procgov/pop-mcp-server/internal/log"
	"github.com/procgov/pop-mcp-server/internal/procedure"
	"github.com/procgov/pop-mcp-server/internal/render"
	"github.com/procgov/pop-mcp-server/internal/run"
	"github.com/procgov/pop-mcp-server/internal/runtime"
	"github.com/procgov/pop-mcp-server/internal/startup"
	"github.com/procgov/pop-mcp-server/internal/step"
	"github.com/procgov/pop-mcp-server/internal/templates"
	"github.com/procgov/pop-mcp-server/internal/timeutil"
)

func main() {
	embeddedConfig := flag.String("embedded-config", "", "Use embedded config from configs/ (filename)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.LogLevel)
	securityLog := log.NewSecurity(cfg.LogLevel)

	var rendered []byte
	if embeddedConfig != nil && *embeddedConfig != "" {
		raw, err := configs.Load(*embeddedConfig)
		if err != nil {
			logger.Error("load embedded config failed", "error", err)
			os.Exit(1)
		}
		rendered, err = render.RenderBytes(*embeddedConfig, raw)
		if err != nil {
			logger.Error("render config failed", "error", err)
			os.Exit(1)
		}
	} else {
		rendered, err = render.RenderFile(cfg.ConfigPath)
		if err != nil {
			logger.Error("render config failed", "error", err)
			os.Exit(1)
		}
	}

	dslCfg, err := dsl.Load(rendered)
	if err != nil {
		logger.Error("parse config failed", "error", err)
		os.Exit(1)
	}

	templateBundle, err := templates.Load(cfg.Lang)
	if err != nil {
		logger.Error("load templates failed", "error", err)
		os.Exit(1)
	}

	var recorder audit.Recorder
	if dslCfg.AuditEnabled() {
		auditLog := audit.New(audit.Config{
			Dir:           dslCfg.Audit.Dir,
			BufferSize:    dslCfg.Audit.BufferSize,
			FlushInterval: timeutil.ParseDurationOrDefault(dslCfg.Audit.FlushInterval, 5*time.Second),
		}, logger, securityLog)
		defer func() {
			if err := auditLog.Close(); err != nil {
				logger.Error("audit close failed", "error", err)
			}
		}()
		recorder = auditLog
	}

	invokers, err := runtime.BuildInvokers(dslCfg)
	if err != nil {
		logger.Error("build invokers failed", "error", err)
		os.Exit(1)
	}

	store := procedure.NewStore(invoke.RowSource{Invoker: invokers}, procedure.StoreConfig{
		Dataset:         dslCfg.Governance.Dataset,
		AgentDataset:    dslCfg.Governance.AgentDataset,
		TTL:             timeutil.ParseDurationOrDefault(dslCfg.Cache.TTL, 10*time.Minute),
		RefreshInterval: timeutil.ParseDurationOrDefault(dslCfg.Cache.RefreshInterval, time.Minute),
		MaxSize:         dslCfg.Cache.MaxSize,
	}, logger)

	registry := run.NewRegistry(run.Config{
		Expiry:          timeutil.ParseDurationOrDefault(dslCfg.Enforcement.RunExpiry, 30*time.Minute),
		Grace:           timeutil.ParseDurationOrDefault(dslCfg.Enforcement.RunGrace, 5*time.Minute),
		MaxConcurrent:   dslCfg.Enforcement.MaxConcurrentRuns,
		StartsPerMinute: dslCfg.Enforcement.RunsPerMinute,
	}, logger)
	defer registry.Close()

	catalogue := runtime.Catalogue(dslCfg)
	classifier := authz.NewClassifier(dslCfg.Classification.Read, dslCfg.Classification.Write)
	validator := &authz.Validator{
		Runs:       registry,
		Procedures: store,
		Audit:      recorder,
		Catalogue:  func() []string { return catalogue },
		Logger:     logger,
	}

	pending := step.NewPendingStore()
	executor := &step.Executor{
		Invoker: invokers,
		Pending: pending,
		Eval:    step.EqualityEvaluator{},
		Retry: step.RetryPolicy{
			InitialDelay: timeutil.ParseDurationOrDefault(dslCfg.Retry.InitialDelay, time.Second),
			MaxDelay:     timeutil.ParseDurationOrDefault(dslCfg.Retry.MaxDelay, 30*time.Second),
			Multiplier:   dslCfg.Retry.BackoffMultiplier,
			MaxAttempts:  dslCfg.Retry.MaxAttempts,
		},
		Logger: logger,
	}
	if strings.TrimSpace(dslCfg.Notifications.URL) != "" {
		executor.Notifier = step.HTTPNotifier{
			URL:        dslCfg.Notifications.URL,
			Headers:    dslCfg.Notifications.Headers,
			Timeout:    timeutil.ParseDurationOrDefault(dslCfg.Notifications.Timeout, 10*time.Second),
			WebhookURL: dslCfg.Notifications.WebhookURL,
		}
	}

	requestGate := &gate.Gate{
		Classifier: classifier,
		Validator:  validator,
		Runs:       registry,
		Procedures: store,
		Executor:   executor,
		Audit:      recorder,
		Hook:       missingGovernanceHook(dslCfg, logger),
		Templates:  templateBundle,
		Logger:     logger,
		Cfg: gate.Config{
			Enabled:         dslCfg.EnforcementEnabled(),
			Strict:          dslCfg.Enforcement.Strict,
			RequireForWrite: dslCfg.RequireForWrite(),
			RequireForRead:  dslCfg.Enforcement.RequireForRead,
		},
	}

	builder := runtime.Builder{
		Logger:   logger,
		Audit:    recorder,
		Gate:     requestGate,
		Invokers: invokers,
	}
	server, err := builder.Build(dslCfg)
	if err != nil {
		logger.Error("build server failed", "error", err)
		os.Exit(1)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		logger.Warn("shutdown requested", "signal", sig.String())
		cancel()
	}()

	if err := startup.Run(baseCtx, dslCfg.Server.StartupHooks, logger); err != nil {
		logger.Error("startup hooks failed", "error", err)
		os.Exit(1)
	}

	// Warm the procedure cache so the first gated call does not pay the
	// fetch latency. Failure degrades to an empty set; not fatal.
	if _, err := store.Load(baseCtx, true); err != nil {
		logger.Warn("initial procedure load failed", "error", err)
	}

	switch dslCfg.Server.Transport {
	case "stdio":
		if err := runStdio(baseCtx, server); err != nil {
			logger.Error("runtime error", "error", err)
			os.Exit(1)
		}
		return
	default:
		webhook := &step.WebhookHandler{Store: pending, Logger: logger}
		if err := runHTTP(baseCtx, cfg, dslCfg, server, webhook, logger); err != nil {
			logger.Error("runtime error", "error", err)
			os.Exit(1)
		}
	}
}

func runStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

func runHTTP(ctx context.Context, envCfg config.Config, dslCfg *dsl.Config, server *mcp.Server, webhook http.Handler, logger *slog.Logger) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, &mcp.StreamableHTTPOptions{
		Stateless: dslCfg.Server.HTTP.Stateless,
	})

	extra := map[string]http.Handler{
		dslCfg.Server.ApprovalWebhookPath: webhook,
	}
	application, err := app.New(ctx, dslCfg.Server, handler, extra, logger, envCfg.ShutdownTimeout)
	if err != nil {
		return err
	}

	return application.Run(ctx)
}

// missingGovernanceHook posts ungoverned-write reports to the configured
// webhook. Without a webhook it only logs; governance creation itself is
// out of scope here.
func missingGovernanceHook(cfg *dsl.Config, logger *slog.Logger) gate.MissingGovernanceHook {
	url := cfg.Governance.MissingWebhookURL
	if url == "" {
		return func(_ context.Context, mg gate.MissingGovernance) {
			logger.Warn("missing governance", "tool", mg.Tool, "operation", mg.Operation)
		}
	}
	notifier := invoke.HTTP{
		URL:     url,
		Headers: cfg.Governance.Headers,
		Timeout: timeutil.ParseDurationOrDefault(cfg.Governance.Timeout, 10*time.Second),
	}
	return func(ctx context.Context, mg gate.MissingGovernance) {
		_, err := notifier.Invoke(ctx, "missing-governance", map[string]any{
			"tool":      mg.Tool,
			"operation": mg.Operation,
			"context":   mg.Context,
		})
		if err != nil {
			logger.Warn("missing governance report failed", "tool", mg.Tool, "error", err)
		}
	}
}
