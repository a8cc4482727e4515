package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/tendaro/tendaro/internal/api"
	"github.com/tendaro/tendaro/internal/config"
	"github.com/tendaro/tendaro/internal/grounding"
	"github.com/tendaro/tendaro/internal/ingest"
	"github.com/tendaro/tendaro/internal/mode"
	"github.com/tendaro/tendaro/internal/orchestrator"
	"github.com/tendaro/tendaro/internal/retrieval"
	"github.com/tendaro/tendaro/internal/rewrite"
	"github.com/tendaro/tendaro/internal/session"
	"github.com/tendaro/tendaro/internal/storage"
	"github.com/tendaro/tendaro/internal/tenantcfg"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tendaro server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tendaro system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "tendaro version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Server.APIToken == "" {
		return fmt.Errorf("no API token configured; set TENDARO_SERVER_API_TOKEN")
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Retrieval + grounding stack.
	gateway := retrieval.NewGateway(store)
	cache := retrieval.NewCache(store)
	verifier := grounding.NewVerifier(gateway)

	// Mode strategies share the gateway; flagship also verifies
	// intermediate facts.
	strategies := map[tenantcfg.Mode]mode.Strategy{
		tenantcfg.ModeDeterministic: mode.NewDeterministic(gateway),
		tenantcfg.ModeHybrid:        mode.NewHybrid(gateway),
		tenantcfg.ModeFlagship:      mode.NewFlagship(gateway, verifier, 0),
	}

	var rewriter rewrite.Rewriter = rewrite.NewToneRewriter()
	if cfg.Rewrite.Backend == "ollama" {
		client := rewrite.NewClient(cfg.Rewrite.BaseURL, cfg.Rewrite.Model)
		if client.IsRunning(ctx) {
			rewriter = client
		} else {
			slog.Warn("rewrite model server not reachable, using builtin rewriter", "base_url", cfg.Rewrite.BaseURL)
		}
	}

	ttl := time.Duration(cfg.Session.TTLMinutes) * time.Minute
	var sessions session.Store
	if cfg.Session.Backend == "memory" {
		sessions = session.NewMemoryStore(ttl)
	} else {
		sessions = session.NewSqliteStore(store, ttl, 0)
	}

	orch := orchestrator.New(
		store,
		sessions,
		cache,
		verifier,
		tenantcfg.NewManager(store),
		rewriter,
		store,
		strategies,
	)

	importer := ingest.NewImporter(store)

	appHandler := api.NewAppHandler(api.AppDeps{
		Store:    store,
		Turns:    orch,
		Importer: importer,
		Token:    cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// Background workers: reindex queue and session purge.
	worker := ingest.NewWorker(store, cache, 500*time.Millisecond)
	go worker.Run(ctx)
	go purgeSessionsLoop(ctx, store)

	// MCP server over stdio.
	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Turns: orch})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "tendaro listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// purgeSessionsLoop drops expired session rows every few minutes.
func purgeSessionsLoop(ctx context.Context, store *storage.Store) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := store.PurgeExpiredSessions(); err != nil {
				slog.Error("purging sessions", "error", err)
			} else if n > 0 {
				slog.Debug("purged expired sessions", "count", n)
			}
		}
	}
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Rewrite backend", "%s", cfg.Rewrite.Backend)
	if cfg.Rewrite.Backend == "ollama" {
		modelResp, err := client.Get(cfg.Rewrite.BaseURL + "/api/version")
		if err != nil {
			printStatus("Model server", "not running")
		} else {
			modelResp.Body.Close()
			printStatus("Model server", "running at %s", cfg.Rewrite.BaseURL)
		}
	}
	printStatus("Session backend", "%s (TTL %d min)", cfg.Session.Backend, cfg.Session.TTLMinutes)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
