package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	inboundhttp "github.com/seclens/seclens/internal/adapter/inbound/http"
	"github.com/seclens/seclens/internal/adapter/inbound/mcpserver"
	"github.com/seclens/seclens/internal/adapter/outbound/memory"
	"github.com/seclens/seclens/internal/adapter/outbound/sqlite"
	"github.com/seclens/seclens/internal/adapter/outbound/yamlcfg"
	"github.com/seclens/seclens/internal/config"
	"github.com/seclens/seclens/internal/domain/auth"
	"github.com/seclens/seclens/internal/domain/catalog"
	"github.com/seclens/seclens/internal/domain/delegation"
	"github.com/seclens/seclens/internal/domain/session"
	"github.com/seclens/seclens/internal/domain/tool"
	"github.com/seclens/seclens/internal/domain/workflow"
	"github.com/seclens/seclens/internal/service"
)

var (
	devMode   bool
	stdioMode bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the seclens MCP server.

The server speaks MCP over HTTP (default) or stdio (--stdio). Over HTTP,
clients authenticate with "Authorization: Bearer <token>" and may delegate
with "X-Delegate-Email". Over stdio, the token and delegate travel in
params._meta on each request.

Examples:
  # Serve over HTTP with config file settings
  seclens serve

  # Serve on stdio for a local MCP client
  seclens serve --stdio

  # Development mode: built-in role table and a dev credential
  seclens serve --dev`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, built-in dev credential)")
	serveCmd.Flags().BoolVar(&stdioMode, "stdio", false, "Serve MCP on stdin/stdout instead of HTTP")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Logger to stderr: stdout is reserved for the MCP stream in stdio mode.
	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("seclens stopped")
	return nil
}

// run wires all components together and blocks until shutdown.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Role table: file or built-in.
	table := auth.DefaultRolePermissionTable()
	if cfg.Auth.RoleTableFile != "" {
		loaded, err := yamlcfg.LoadRoleTable(cfg.Auth.RoleTableFile, logger)
		if err != nil {
			return err
		}
		table = loaded
	} else {
		logger.Info("using built-in role table",
			"version", table.Version(),
			"fingerprint", table.Fingerprint(),
		)
	}

	// Credentials and identities.
	var credStore *memory.CredentialStore
	var identStore *memory.IdentityStore
	switch {
	case cfg.Auth.SeedFile != "":
		seed, err := yamlcfg.LoadSeed(cfg.Auth.SeedFile, logger)
		if err != nil {
			return err
		}
		credStore, identStore = seed.Credentials, seed.Identities
	case cfg.DevMode:
		credStore, identStore = devSeed(logger)
	default:
		return fmt.Errorf("no credential source configured")
	}

	// Audit sink.
	auditStore, err := openAuditStore(cfg.Audit.Output)
	if err != nil {
		return err
	}
	defer auditStore.Close()

	// Session and workflow stores: shared SQLite file or in-memory.
	var sessionStore session.Store
	var workflowStore workflow.Store
	if cfg.Session.Store == "sqlite" {
		db, err := sqlite.Open(cfg.Session.SQLitePath)
		if err != nil {
			return err
		}
		defer db.Close()
		sessionStore = sqlite.NewSessionStore(db)
		workflowStore = sqlite.NewWorkflowStore(db)
		logger.Info("using sqlite store", "path", cfg.Session.SQLitePath)
	} else {
		sessionStore = memory.NewSessionStore()
		workflowStore = memory.NewWorkflowStore()
	}

	sessions := session.NewManager(sessionStore, session.Config{
		IdleCutoff:       cfg.Session.IdleCutoff,
		Retention:        cfg.Session.Retention,
		SweepInterval:    cfg.Session.SweepInterval,
		MaxPerCredential: cfg.Session.MaxPerCredential,
	}, logger)
	engine := workflow.NewEngine(workflowStore, cfg.Workflow.ExpirySweepInterval, logger)
	engine.SetAuditor(auditStore)

	// Metrics.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := inboundhttp.NewMetrics(reg)
	sessions.SetSweepObserver(func(deactivated, deleted int64) {
		metrics.SessionSweeps.WithLabelValues("deactivated").Add(float64(deactivated))
		metrics.SessionSweeps.WithLabelValues("deleted").Add(float64(deleted))
	})
	engine.SetExpireObserver(func(count int64) {
		metrics.ExpiredRequests.Add(float64(count))
	})

	// Tool registry and catalog.
	registry, err := tool.NewRegistry()
	if err != nil {
		return fmt.Errorf("create tool registry: %w", err)
	}
	catalogStore := memory.NewCatalogStore()
	if cfg.DevMode {
		seedDevCatalog(catalogStore)
	}
	if err := service.RegisterCatalog(registry, service.CatalogDeps{
		Requirements: catalogStore,
		Assets:       memory.AssetView{CatalogStore: catalogStore},
		Risks:        catalogStore,
		Exceptions:   engine,
	}); err != nil {
		return err
	}
	registry.Seal()
	logger.Info("tool catalog registered", "tools", registry.Len())

	// Optional tracing to stderr.
	stats := service.NewStatsService(sessions)
	metricsObserver := metrics.Observer()
	dispatchOpts := []tool.Option{
		tool.WithTimeout(cfg.Dispatch.CallTimeout),
		tool.WithToucher(sessions),
		tool.WithObserver(func(toolName string, code tool.Code, elapsed time.Duration) {
			stats.Observe(toolName, code, elapsed)
			metricsObserver(toolName, code, elapsed)
		}),
	}
	if cfg.Tracing.Enabled {
		exporter, err := stdouttrace.New(
			stdouttrace.WithWriter(os.Stderr),
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
		dispatchOpts = append(dispatchOpts, tool.WithTracer(tp.Tracer("seclens")))
	}

	dispatcher := tool.NewDispatcher(registry, auditStore, logger, dispatchOpts...)

	// Services.
	credentials := auth.NewCredentialService(credStore)
	delegationValidator := delegation.NewValidator(identStore, table, logger)
	invocations := service.NewInvocationService(
		credentials, delegationValidator, sessions, dispatcher, registry,
		auditStore, logger, cfg.Auth.ResolveTimeout,
	)

	// Background sweepers.
	sessions.StartSweeper(ctx)
	defer sessions.Stop()
	engine.StartExpirySweeper(ctx)
	defer engine.Stop()

	handler := mcpserver.NewHandler(invocations, Version, logger)

	if stdioMode {
		logger.Info("serving MCP on stdio")
		return mcpserver.NewStdioTransport(handler, logger).Start(ctx)
	}

	transport := mcpserver.NewHTTPTransport(handler, invocations, sessions,
		mcpserver.WithAddr(cfg.Server.HTTPAddr),
		mcpserver.WithHTTPLogger(logger),
		mcpserver.WithMetrics(reg, metrics),
		mcpserver.WithHealthChecker(inboundhttp.NewHealthChecker(sessions, Version)),
	)
	return transport.Start(ctx)
}

// openAuditStore builds the audit sink from the configured output.
func openAuditStore(output string) (*memory.AuditStore, error) {
	if output == "stdout" {
		// Audit goes to stderr alongside logs: stdout belongs to MCP in
		// stdio mode, and mixing frames with records corrupts both.
		return memory.NewAuditStoreWithWriter(os.Stderr), nil
	}
	path := strings.TrimPrefix(output, "file://")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return memory.NewAuditStoreWithWriter(f), nil
}

// devSeed provisions a development credential ("dev-token") and two
// identities so delegation paths are exercisable without a seed file.
func devSeed(logger *slog.Logger) (*memory.CredentialStore, *memory.IdentityStore) {
	creds := memory.NewCredentialStore()
	creds.Add(&auth.Credential{
		ID:         "cred-dev",
		Name:       "development credential",
		SecretHash: auth.HashSecret("dev-token"),
		Permissions: auth.NewPermissionSet(
			auth.PermRead, auth.PermWrite, auth.PermDelete, auth.PermApprove, auth.PermAdmin,
			auth.PermVulnRead, auth.PermVulnWrite, auth.PermReleaseRead, auth.PermReleaseWrite, auth.PermUserRead,
		),
		DelegationEnabled:        true,
		AllowedDelegationDomains: []string{"example.com"},
		Active:                   true,
		CreatedAt:                time.Now().UTC(),
	})

	idents := memory.NewIdentityStore()
	idents.Add(&auth.Identity{
		ID:     "user-dev-admin",
		Email:  "admin@example.com",
		Roles:  []auth.Role{auth.RoleAdmin},
		Active: true,
	})
	idents.Add(&auth.Identity{
		ID:     "user-dev-analyst",
		Email:  "analyst@example.com",
		Roles:  []auth.Role{auth.RoleVuln},
		Active: true,
	})

	logger.Warn("dev mode: seeded development credential",
		"credential_id", "cred-dev",
		"token", "dev-token",
	)
	return creds, idents
}

// seedDevCatalog loads a few sample entities so the catalog tools return
// something in dev mode.
func seedDevCatalog(store *memory.CatalogStore) {
	_ = store.Create(context.Background(), &catalog.Requirement{
		ShortText: "All services must terminate TLS 1.2 or newer",
		Details:   "All services must terminate TLS 1.2 or newer on every externally reachable listener.",
		Category:  "Transport Security",
	})
	store.AddAsset(&catalog.Asset{
		ID:          "asset-payments",
		Name:        "payments-api",
		Description: "Customer payment processing API",
		Owner:       "payments-team",
	})
	store.AddRisk(&catalog.RiskAssessment{
		ID:         "risk-0001",
		AssetID:    "asset-payments",
		Threat:     "Credential stuffing against the public login endpoint",
		Likelihood: "MEDIUM",
		Impact:     "HIGH",
		Mitigation: "Rate limiting plus breached-password rejection",
		AssessedAt: time.Now().UTC(),
	})
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
