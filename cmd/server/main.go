package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"approval-gate/backend/internal/api"
	"approval-gate/backend/internal/config"
	"approval-gate/backend/internal/logging"
	"approval-gate/backend/internal/mcp"
	"approval-gate/backend/internal/repository"
	"approval-gate/backend/internal/services"
	"approval-gate/backend/internal/telemetry"
	"approval-gate/backend/internal/tls"
)

func main() {
	var configFile string

	cmd := &cobra.Command{
		Use:           "approval-gate",
		Short:         "Human-in-the-loop approval service for autonomous agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "Path to config file (default ./config.yaml or ./config/config.yaml)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "approval-gate:", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("configuration loading failed: %w", err)
	}

	logger := logging.NewLogger(cfg.Log)
	defer logger.Close()

	logger.Info("Configuration loaded",
		"addr", cfg.Server.Addr,
		"tls", cfg.TLS.Enable,
		"mcp", cfg.MCP.Enable,
		"default_timeout_minutes", cfg.Workflow.DefaultTimeoutMinutes,
	)

	telemetryProvider, err := telemetry.NewProvider(context.Background(), cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry setup failed: %w", err)
	}
	telemetryProvider.Install()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := telemetryProvider.Shutdown(ctx); err != nil {
			logger.Error("Telemetry shutdown error", "error", err)
		}
	}()
	logger.Info("Telemetry initialized",
		"metrics", cfg.Telemetry.MetricsEnable,
		"otlp_endpoint", cfg.Telemetry.OTLPEndpoint,
	)

	// Records live only as long as this process.
	workflowStore := repository.NewMemoryWorkflowStore()
	workflowService := services.NewWorkflowService(workflowStore,
		services.WithLogger(logger),
		services.WithMeter(telemetryProvider.Meter("approval-gate/backend/internal/services")),
	)

	logger.Info("Service layer initialized")

	e := api.NewRouter(workflowService, logger, otelecho.Middleware(cfg.Telemetry.ServiceName))

	if handler := telemetryProvider.MetricsHandler(); handler != nil {
		e.GET("/metrics", echo.WrapHandler(handler))
	}

	if cfg.MCP.Enable {
		mcpServer := mcp.NewServer(workflowService, cfg.Workflow.DefaultTimeoutMinutes)
		mcpHandlers := http.NewServeMux()
		mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
		e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))
		logger.Info("MCP protocol handlers mounted")
	}

	if cfg.TLS.Enable {
		created, err := tls.EnsureSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			return fmt.Errorf("tls setup failed: %w", err)
		}
		if created {
			logger.Warn("Generated self-signed certificate", "cert_file", cfg.TLS.CertFile)
		}
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.Server.Addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
	return nil
}
