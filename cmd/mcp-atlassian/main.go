// Command mcp-atlassian runs an MCP server exposing Jira and Confluence
// tools. Credentials come from the environment for single-tenant use, or
// from per-request headers when serving many tenants over HTTP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sooperset/mcp-atlassian/internal/atlassian"
	"github.com/sooperset/mcp-atlassian/internal/config"
	"github.com/sooperset/mcp-atlassian/internal/logging"
	"github.com/sooperset/mcp-atlassian/internal/mcpserver"
	"github.com/sooperset/mcp-atlassian/internal/oauth"
	"github.com/sooperset/mcp-atlassian/internal/server"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	bootLogger := logging.NewLogger("development", "info")

	cfg, err := config.Load(bootLogger)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Options.Environment, cfg.Options.LogLevel)

	if !cfg.JiraAvailable() && !cfg.ConfluenceAvailable() {
		logger.Warn("no global credentials configured; serving per-request credentials only")
	}

	// Token state survives restarts so refresh token rotation does not
	// strand OAuth identities. Failing to open the store is not fatal:
	// tokens then live in memory only.
	var store *oauth.Store
	if cfg.Options.StatePath != "" {
		store, err = oauth.Open(cfg.Options.StatePath)
		if err != nil {
			logger.Warn("token state store unavailable, continuing without persistence",
				slog.String("path", cfg.Options.StatePath),
				slog.Any("error", err),
			)
		} else {
			defer store.Close()
		}
	}

	tokens := oauth.NewManager(store, logger)
	cache := atlassian.NewCache(tokens, logger)
	provider := mcpserver.NewProvider(cfg, cache, logger)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "mcp-atlassian", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, provider)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Options.Transport == "stdio" {
		logger.Info("starting MCP server on stdio")
		return mcpServer.Run(ctx, &mcp.StdioTransport{})
	}

	return serveHTTP(ctx, cfg, mcpServer, logger)
}

func serveHTTP(ctx context.Context, cfg *config.Config, mcpServer *mcp.Server, logger *slog.Logger) error {
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	mux := server.NewMux(server.MuxConfig{
		MCPHandler: mcpHandler,
		Logger:     logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.Options.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting MCP server",
		slog.String("listen", cfg.Options.ListenAddr),
		slog.Bool("jira", cfg.JiraAvailable()),
		slog.Bool("confluence", cfg.ConfluenceAvailable()),
	)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
