package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/codial-ai/codial-core/internal/attachments"
	"github.com/codial-ai/codial-core/internal/config"
	"github.com/codial-ai/codial-core/internal/engine"
	"github.com/codial-ai/codial-core/internal/events"
	"github.com/codial-ai/codial-core/internal/httpapi"
	"github.com/codial-ai/codial-core/internal/idempotency"
	"github.com/codial-ai/codial-core/internal/mcpclient"
	"github.com/codial-ai/codial-core/internal/policy"
	"github.com/codial-ai/codial-core/internal/providers"
	"github.com/codial-ai/codial-core/internal/rules"
	"github.com/codial-ai/codial-core/internal/sessions"
	"github.com/codial-ai/codial-core/internal/turns"
)

// runServe wires the full container (component graph of spec.md §5) and
// runs the REST API until a shutdown signal, draining in-flight turns —
// adapted from the teacher's cmd/gateway.go runGateway component wiring
// and its SIGINT/SIGTERM graceful-shutdown tail.
func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	if cfg.LogFormat == "text" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
	} else {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
	}

	sessionStore := sessions.NewMemStore()
	rulesStore := rules.NewFileStore(cfg.WorkspaceRoot)
	idemIndex := idempotency.New(cfg.TurnIdempotencyTTL)

	policyLoader := policy.NewCaching(policy.New(cfg.WorkspaceRoot))
	policyLoader.Watch()
	defer policyLoader.Close()

	copilotAuth := providers.NewCopilotAuthenticator(cfg.CopilotBridgeToken, cfg.CopilotAuthCachePath, cfg.CopilotLoginEndpoint, cfg.CopilotAutoLoginEnabled)

	bridgeConfigs := map[string]providers.BridgeConfig{
		"github-copilot-sdk": {
			Name:    "github-copilot-sdk",
			BaseURL: cfg.CopilotBridgeBaseURL,
			Token:   cfg.CopilotBridgeToken,
			Timeout: cfg.ProviderBridgeTimeout,
		},
	}
	catalog := providers.NewCatalog(bridgeConfigs, cfg.EnabledProviderNames)
	providerManager := providers.NewManager(catalog, copilotAuth)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	mcpClient, err := mcpclient.New(bootCtx, cfg.MCPServerURL, cfg.MCPServerToken, cfg.MCPRequestTimeout)
	bootCancel()
	if err != nil {
		slog.Warn("mcp client unavailable at startup; turns will see an empty tool manifest", "error", err)
		mcpClient = nil
	}
	if mcpClient != nil {
		defer mcpClient.Close()
	}

	ingester := attachments.New(cfg.AttachmentDownloadEnabled, cfg.AttachmentDownloadMaxBytes, cfg.AttachmentStorageDir)
	publisher := events.New(cfg.GatewayBaseURL, cfg.GatewayInternalToken)

	turnEngine := engine.New(sessionStore, policyLoader, providerManager, mcpClient, ingester, publisher, cfg.ProviderBridgeTimeout*time.Duration(engine.MaxRounds))

	pool := turns.New(cfg.TurnQueueSize, cfg.TurnWorkerCount, turnEngine, sessionStore, nil)
	pool.Start()

	policyAdapter := httpapi.PolicyLoaderFunc(func() (httpapi.PolicyResolver, error) {
		return policyLoader.Load()
	})

	api := httpapi.New(cfg, sessionStore, rulesStore, catalog, pool, idemIndex, policyAdapter)

	server := &http.Server{
		Addr:    cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Handler: api,
	}

	go func() {
		slog.Info("codial.serve.listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("codial.serve.failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("codial.serve.shutdown_begin")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("codial.serve.http_shutdown_error", "error", err)
	}

	pool.Stop(30 * time.Second)
	slog.Info("codial.serve.shutdown_complete")
}
