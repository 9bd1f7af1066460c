package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/maestro-agent/maestro/pkg/config"
	"github.com/maestro-agent/maestro/pkg/events"
	"github.com/maestro-agent/maestro/pkg/history"
	"github.com/maestro-agent/maestro/pkg/llm"
	"github.com/maestro-agent/maestro/pkg/masking"
	"github.com/maestro-agent/maestro/pkg/mcp"
	"github.com/maestro-agent/maestro/pkg/models"
	"github.com/maestro-agent/maestro/pkg/outbound"
	"github.com/maestro-agent/maestro/pkg/queue"
	"github.com/maestro-agent/maestro/pkg/session"
	"github.com/maestro-agent/maestro/pkg/validation"
	"github.com/maestro-agent/maestro/pkg/version"
	"github.com/maestro-agent/maestro/pkg/workflow"
)

// runApp wires the process and blocks until a shutdown signal or, in
// interactive mode, until the console closes.
func runApp(ctx context.Context, interactive bool) error {
	// Load .env from the config directory before anything reads the
	// environment.
	configDir := configDirectory()
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	// 1. Configuration.
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("initialize configuration: %w", err)
	}
	if flagDataDir != "" {
		cfg.System.DataDir = flagDataDir
	}

	level := new(slog.LevelVar)
	level.Set(parseLogLevel(cfg.System.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("Starting maestro",
		"version", version.Full(),
		"config_dir", configDir,
		"data_dir", cfg.System.DataDir)

	// 2. Pidfile. A live pidfile means another instance owns this data dir.
	pidPath, err := writePidfile(cfg.System.DataDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := removePidfile(pidPath); err != nil {
			slog.Error("Error removing pidfile", "path", pidPath, "error", err)
		}
	}()

	// 3. Events fanout and the per-session frame log.
	fanout := events.NewFanout(events.DefaultSubscriberBuffer)
	defer fanout.Close()

	frames := newFrameLog(filepath.Join(cfg.System.DataDir, "sessions"), fanout)
	frames.Start()
	defer frames.Stop()

	// 4. Tool history, optionally journaled to disk.
	ring := history.NewRing(cfg.Validation.HistoryMaxSize)
	if cfg.System.HistoryJournal {
		journalPath := filepath.Join(cfg.System.DataDir, "history.jsonl")
		journal, err := history.OpenJournal(journalPath)
		if err != nil {
			return fmt.Errorf("open history journal: %w", err)
		}
		defer func() {
			if err := journal.Close(); err != nil {
				slog.Error("Error closing history journal", "error", err)
			}
		}()
		ring.AttachJournal(journal)
		slog.Info("History journal enabled", "path", journalPath)
	}

	// 5. Masking and the MCP fleet. Start is eager: a required server that
	// cannot come up fails the whole start.
	maskingService := masking.NewMaskingService(cfg.MCPServerRegistry)

	mcpOpts := mcp.Options{CatalogTTL: cfg.Validation.MCPCacheTTL}
	if cfg.System.CatalogCache {
		mcpOpts.DataDir = cfg.System.DataDir
	}
	manager := mcp.NewManager(cfg.MCPServerRegistry, mcpOpts)
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start MCP servers: %w", err)
	}
	defer func() {
		if err := manager.Stop(); err != nil {
			slog.Error("Error stopping MCP servers", "error", err)
		}
	}()
	slog.Info("MCP servers started",
		"configured", cfg.MCPServerRegistry.Len(),
		"ready", len(manager.ReadyServers()))

	healthMonitor := mcp.NewHealthMonitor(manager)
	healthMonitor.Start(ctx)
	defer healthMonitor.Stop()

	factory := mcp.NewExecutorFactory(manager, maskingService, ring)

	// 6. Outbound LLM stack. The client dials lazily; a bad endpoint shows
	// up on the first turn, not here.
	outboundClient := outbound.NewClient(cfg.ServiceRegistry)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := outboundClient.Stop(stopCtx); err != nil {
			slog.Error("Error stopping outbound client", "error", err)
		}
	}()

	llmClient := llm.NewClient(cfg.LLM, outboundClient)
	prompts := llm.DefaultCatalog()
	planner := llm.NewPlanner(llmClient, prompts)
	verifier := llm.NewVerifier(llmClient, prompts)
	summarizer := llm.NewSummarizer(llmClient, prompts)

	// 7. Validation pipeline over the live fleet catalog, plus the
	// pre-execution inspectors.
	pipeline := validation.NewPipeline(cfg.Validation, ring, fleetCatalog{manager}, verifier)
	inspector := history.NewInspectionManager(ring,
		history.DefaultConsecutiveThreshold, cfg.Validation.MaxTotalCalls)

	// 8. Sessions and their idle sweeper.
	sessions := session.NewManager(cfg.Workflow)
	sessions.Start(ctx)
	defer sessions.Stop()

	// 9. The workflow engine.
	engine := workflow.New(cfg.Workflow, workflow.Deps{
		Sessions:   sessions,
		Planner:    planner,
		Verifier:   verifier,
		Summarizer: summarizer,
		Validator:  pipeline,
		Inspector:  inspector,
		History:    ring,
		Runners: func(sessionID string, servers []string) workflow.ToolRunner {
			return factory.ForSession(sessionID, servers)
		},
		Servers:   manager,
		Publisher: fanout,
	})

	// 10. Worker pool. runCtx lets shutdown cancel turns that outstay the
	// graceful budget.
	runCtx, cancelTurns := context.WithCancel(ctx)
	defer cancelTurns()

	pool := queue.NewPool(cfg.Queue, engine)
	pool.Start(runCtx)

	// 11. Config watcher. The log level applies live; everything else
	// binds at startup and needs a restart.
	watcher := config.NewWatcher(configDir, func(next *config.Config) {
		level.Set(parseLogLevel(next.System.LogLevel))
	}, slog.Default())
	if err := watcher.Start(ctx); err != nil {
		slog.Warn("Config watcher unavailable", "error", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("Maestro started",
		"workers", cfg.Queue.WorkerCount,
		"queue_depth", cfg.Queue.Depth,
		"pid", os.Getpid())

	// 12. Block until a shutdown signal or console exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	consoleDone := make(chan error, 1)
	if interactive {
		go func() {
			consoleDone <- newConsole(pool, fanout).run(runCtx)
		}()
	}

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-consoleDone:
		if err != nil {
			slog.Error("Console error triggered shutdown", "error", err)
		} else {
			slog.Info("Console closed, shutting down")
		}
	}

	// 13. Drain the pool: active turns get the graceful budget, then their
	// contexts are cancelled and the pool is waited out for real.
	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-time.After(cfg.Queue.GracefulShutdownTimeout):
		slog.Warn("Graceful shutdown budget exceeded, cancelling active turns")
		cancelTurns()
		<-done
	}

	// The deferred stops unwind the rest in reverse start order.
	slog.Info("Shutdown complete")
	return nil
}

// fleetCatalog exposes the whole ready fleet to the validation pipeline.
// Executors scope tool access per item; validation wants every server the
// process can currently reach.
type fleetCatalog struct {
	manager *mcp.Manager
}

var _ validation.Catalog = fleetCatalog{}

func (c fleetCatalog) Servers() []string {
	return c.manager.ReadyServers()
}

// ListTools aggregates the ready servers' catalogs. A server failing mid
// listing is skipped; an error surfaces only when nothing could be listed.
func (c fleetCatalog) ListTools(ctx context.Context) ([]models.ToolDefinition, error) {
	var all []models.ToolDefinition
	var lastErr error
	for _, server := range c.manager.ReadyServers() {
		defs, err := c.manager.Tools(ctx, server)
		if err != nil {
			lastErr = err
			slog.Warn("Failed to list tools from MCP server",
				"server", server, "error", err)
			continue
		}
		all = append(all, defs...)
	}
	if len(all) == 0 && lastErr != nil {
		return nil, fmt.Errorf("all servers failed to list tools: %w", lastErr)
	}
	return all, nil
}

// parseLogLevel maps the configured level name to a slog level. Unknown
// names fall back to info.
func parseLogLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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
