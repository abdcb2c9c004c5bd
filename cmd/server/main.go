package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/kspranav-az/automation-agent/internal/agent"
	"github.com/kspranav-az/automation-agent/internal/api"
	"github.com/kspranav-az/automation-agent/internal/browser"
	"github.com/kspranav-az/automation-agent/internal/config"
	"github.com/kspranav-az/automation-agent/internal/engine"
	"github.com/kspranav-az/automation-agent/internal/healing"
	"github.com/kspranav-az/automation-agent/internal/llm"
	"github.com/kspranav-az/automation-agent/internal/logging"
	"github.com/kspranav-az/automation-agent/internal/mcp"
	"github.com/kspranav-az/automation-agent/internal/repository"
	"github.com/kspranav-az/automation-agent/internal/router"
	"github.com/kspranav-az/automation-agent/internal/tls"
)

func main() {
	ctx := context.Background()

	logger := logging.NewLogger()

	configFile := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		log.Fatalf("Configuration loading failed: %v", err)
	}
	logger.Info("Starting automation engine",
		"llm", cfg.LLM.URL,
		"browser", cfg.Browser.URL,
		"learn_threshold", cfg.Routing.LearnThreshold,
	)

	dbPool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer dbPool.Close()
	logger.Info("Database connected")

	// Repository layer
	workflows := repository.NewPostgresWorkflowStore(dbPool)
	executions := repository.NewPostgresExecutionStore(dbPool)
	proposals := repository.NewPostgresProposalStore(dbPool)
	audit := repository.NewPostgresAuditLog(dbPool)

	// External collaborators
	llmClient := llm.NewHTTPClient(cfg.LLM.URL, cfg.LLM.Timeout)
	executor := browser.NewHTTPExecutor(cfg.Browser.URL, cfg.Browser.StepTimeout)

	// Engine services
	exec := engine.New(executor, executions, audit, logger, cfg.Browser.StepTimeout)
	healer := healing.New(workflows, proposals, audit, llmClient, executor, logger)
	agentRunner := agent.New(llmClient, executor, executions, logger, cfg.Routing.AgentMaxSteps)
	rtr := router.New(llmClient, workflows, executions, audit, exec, agentRunner, healer, logger, cfg.Routing.LearnThreshold)

	logger.Info("Service layer initialized")

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("automation-agent"))

	e.GET("/health", api.HandleHealth)

	apiServer := api.NewServer(rtr, workflows, executions, proposals, audit, healer)
	apiServer.RegisterRoutes(e.Group("/api/v1"))
	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(rtr, workflows, proposals, healer)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))
	logger.Info("MCP protocol handlers mounted")

	addr := cfg.Server.Addr
	if cfg.TLS.Enable && addr == ":8080" {
		addr = ":8443"
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
				if len(cfg.TLS.Hostnames) > 0 {
					if err := tls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
						logger.Error("failed to generate self-signed cert", "error", err)
					}
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}
		logger.Info("Server stopped gracefully")
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
