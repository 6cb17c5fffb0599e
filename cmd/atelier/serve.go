package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/atelierhq/atelier/internal/agent"
	"github.com/atelierhq/atelier/internal/audit"
	"github.com/atelierhq/atelier/internal/cache"
	"github.com/atelierhq/atelier/internal/config"
	"github.com/atelierhq/atelier/internal/conversation"
	"github.com/atelierhq/atelier/internal/executor"
	"github.com/atelierhq/atelier/internal/mcp"
	"github.com/atelierhq/atelier/internal/memory"
	"github.com/atelierhq/atelier/internal/observability"
	"github.com/atelierhq/atelier/internal/orchestrator"
	"github.com/atelierhq/atelier/internal/printer"
	"github.com/atelierhq/atelier/internal/printjob"
	"github.com/atelierhq/atelier/internal/providers"
	"github.com/atelierhq/atelier/internal/routing"
	"github.com/atelierhq/atelier/internal/safety"
	"github.com/atelierhq/atelier/internal/scheduler"
	"github.com/atelierhq/atelier/internal/server"
	"github.com/atelierhq/atelier/internal/usage"
)

// buildServeCmd creates the "serve" command that runs the full core:
// HTTP API, routing pipeline, scheduler, and executors.
func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the atelier server",
		Long: `Start the atelier server with the configured providers, MCP
servers, printers, and print scheduler. Graceful shutdown is handled on
SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "atelier.yaml",
		"Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	core, err := buildCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer core.close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := core.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer core.scheduler.Stop()

	api := server.New(server.Config{
		Orchestrator: core.orchestrator,
		Jobs:         core.jobs,
		Scheduler:    core.scheduler,
		Usage:        core.usage,
		Registry:     core.registry,
		Logger:       core.logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		core.logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	core.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// loadConfig loads the config file; a missing default file falls back
// to defaults so "atelier serve" works out of the box.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == "atelier.yaml" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// core holds every wired subsystem for the lifetime of the process.
type core struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *prometheus.Registry
	metrics  *observability.Metrics

	orchestrator *orchestrator.Orchestrator
	usage        *usage.Tracker
	auditLog     *audit.Logger

	jobs      printjob.Store
	drivers   *printer.Cache
	scheduler *scheduler.Scheduler
	executor  *executor.Executor
}

func (c *core) close() {
	if c.auditLog != nil {
		if err := c.auditLog.Close(); err != nil {
			c.logger.Warn("close audit log", "error", err)
		}
	}
	if c.jobs != nil {
		if err := c.jobs.Close(); err != nil {
			c.logger.Warn("close job store", "error", err)
		}
	}
	if c.drivers != nil {
		if err := c.drivers.Close(); err != nil {
			c.logger.Warn("disconnect printers", "error", err)
		}
	}
}

// buildCore wires the whole system from config.
func buildCore(ctx context.Context, cfg *config.Config) (*core, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(registry)

	local := providers.NewLocal(providers.LocalConfig{
		BaseURL: cfg.Providers.Local.BaseURL,
		Model:   cfg.Providers.Local.Model,
	})
	web := providers.NewWeb(providers.WebConfig{
		BaseURL: cfg.Providers.Web.BaseURL,
		APIKey:  cfg.Providers.Web.APIKey,
		Model:   cfg.Providers.Web.Model,
	})
	frontier := providers.NewFrontier(providers.FrontierConfig{
		APIKey:    cfg.Providers.Frontier.APIKey,
		Model:     cfg.Providers.Frontier.Model,
		MaxTokens: cfg.Providers.Frontier.MaxTokens,
	})

	var embed chromem.EmbeddingFunc
	if model := cfg.Providers.Local.EmbedModel; model != "" {
		embed = func(ctx context.Context, text string) ([]float32, error) {
			return local.Embed(ctx, model, text)
		}
	}

	mcpRegistry := mcp.NewRegistry(logger)
	serverIDs := make(map[string]bool, len(cfg.MCP.Servers))
	for _, sc := range cfg.MCP.Servers {
		mcpRegistry.AddServer(mcp.NewHTTPServer(mcp.HTTPServerConfig{
			ID:      sc.ID,
			URL:     sc.URL,
			Headers: sc.Headers,
			Timeout: sc.Timeout,
			Logger:  logger,
		}))
		serverIDs[sc.ID] = true
	}
	for _, def := range mcp.Catalog() {
		if !serverIDs[def.Server] {
			continue
		}
		if err := mcpRegistry.Register(def); err != nil {
			logger.Warn("register tool failed", "tool", def.Name, "error", err)
		}
	}

	selector := mcp.NewSelector(mcp.SelectorConfig{
		Registry: mcpRegistry,
		TopK:     cfg.MCP.SelectionTopK,
		Logger:   logger,
	})
	if embed != nil {
		if err := selector.BuildIndex(ctx, embed); err != nil {
			logger.Warn("tool index unavailable, using heuristics", "error", err)
		}
	}

	gate := safety.NewGate(0)
	runner := agent.NewRunner(agent.Config{
		Provider:      local,
		Registry:      mcpRegistry,
		Selector:      selector,
		Gate:          gate,
		MaxIterations: cfg.Agent.MaxIterations,
		ToolTimeout:   cfg.Agent.ToolTimeout,
		Metrics:       metrics,
		Logger:        logger,
	})

	cacheStore, cacheMode, err := buildCache(cfg, embed, logger)
	if err != nil {
		return nil, err
	}

	var mem *memory.Adapter
	if cfg.Memory.Enabled {
		if embed == nil {
			logger.Warn("memory enabled but no embed model configured, disabling")
		} else {
			mem, err = memory.New(memory.Config{
				PersistPath:       cfg.Memory.PersistPath,
				ScoreThreshold:    cfg.Memory.ScoreThreshold,
				FallbackThreshold: cfg.Memory.FallbackThreshold,
				Limit:             cfg.Memory.Limit,
				Timeout:           cfg.Memory.Timeout,
				Embed:             embed,
				Logger:            logger,
			})
			if err != nil {
				return nil, fmt.Errorf("open memory: %w", err)
			}
		}
	}

	var auditLog *audit.Logger
	if cfg.Audit.Enabled {
		store, err := audit.NewSQLiteStore(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		auditLog = audit.NewLogger(store, audit.LoggerConfig{
			BufferSize: cfg.Audit.BufferSize,
			Logger:     logger,
		})
	}

	tracker := usage.NewTracker(metrics)
	engine := routing.NewEngine(routing.Config{
		Local:               local,
		Web:                 web,
		Frontier:            frontier,
		Cache:               cacheStore,
		CacheMode:           cacheMode,
		Vision:              mcp.NewVisionPipeline(mcpRegistry, logger),
		Agent:               runner,
		Registry:            mcpRegistry,
		Selector:            selector,
		Gate:                gate,
		Usage:               tracker,
		Audit:               auditLog,
		Metrics:             metrics,
		ConfidenceThreshold: cfg.Routing.ConfidenceThreshold,
		SummarizeModel:      cfg.Providers.Local.SummarizeModel,
		SummarizeMaxRunes:   cfg.Routing.SummarizerMaxRunes,
		Logger:              logger,
	})

	orch := orchestrator.New(orchestrator.Config{
		Engine:          engine,
		Registry:        mcpRegistry,
		Gate:            gate,
		Conversations:   conversation.NewStore(),
		Memory:          mem,
		OverrideKeyword: cfg.Routing.OverrideKeyword,
		Logger:          logger,
	})

	jobs, err := buildJobStore(cfg)
	if err != nil {
		return nil, err
	}
	drivers := printer.NewCache(printerFactory(cfg.Printers))
	exec := executor.New(executor.Config{
		Store:              jobs,
		Drivers:            drivers,
		StatusPollInterval: cfg.Executor.StatusPollInterval,
		SnapshotInterval:   cfg.Executor.SnapshotInterval,
		RetryDelay:         cfg.Executor.RetryDelay,
		UploadTimeout:      cfg.Executor.UploadTimeout,
		Metrics:            metrics,
		Logger:             logger,
	})

	printerIDs := make([]string, 0, len(cfg.Printers))
	materials := make(map[string]string, len(cfg.Printers))
	for _, p := range cfg.Printers {
		printerIDs = append(printerIDs, p.ID)
		if p.Material != "" {
			materials[p.ID] = p.Material
		}
	}
	sched := scheduler.New(scheduler.Config{
		Store:           jobs,
		Drivers:         drivers,
		Dispatch:        exec,
		PrinterIDs:      printerIDs,
		Materials:       materials,
		ForcedPrinters:  cfg.Scheduler.ForcedPrinters,
		TickInterval:    cfg.Scheduler.TickInterval,
		DeadlineHorizon: cfg.Scheduler.DeadlineHorizon,
		Metrics:         metrics,
		Logger:          logger,
	})

	return &core{
		cfg:          cfg,
		logger:       logger,
		registry:     registry,
		metrics:      metrics,
		orchestrator: orch,
		usage:        tracker,
		auditLog:     auditLog,
		jobs:         jobs,
		drivers:      drivers,
		scheduler:    sched,
		executor:     exec,
	}, nil
}

func buildCache(cfg *config.Config, embed chromem.EmbeddingFunc, logger *slog.Logger) (cache.Store, string, error) {
	if !cfg.Cache.Enabled {
		return nil, "", nil
	}
	if cfg.Cache.Mode == "semantic" {
		if embed == nil {
			logger.Warn("semantic cache needs an embed model, falling back to exact")
		} else {
			store, err := cache.NewSemantic(cache.SemanticConfig{
				PersistPath:         cfg.Cache.PersistPath,
				SimilarityThreshold: cfg.Cache.SimilarityThreshold,
				Embed:               embed,
			})
			if err != nil {
				return nil, "", fmt.Errorf("open semantic cache: %w", err)
			}
			return store, "semantic", nil
		}
	}
	store, err := cache.NewExact(cfg.Cache.MaxEntries)
	if err != nil {
		return nil, "", fmt.Errorf("create cache: %w", err)
	}
	return store, "exact", nil
}

func buildJobStore(cfg *config.Config) (printjob.Store, error) {
	if cfg.Queue.Path == "" {
		return printjob.NewMemoryStore(), nil
	}
	store, err := printjob.NewSQLiteStore(cfg.Queue.Path)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	return store, nil
}

// printerFactory builds drivers on demand from the printer declarations.
func printerFactory(printers []config.PrinterConfig) printer.Factory {
	byID := make(map[string]config.PrinterConfig, len(printers))
	for _, p := range printers {
		byID[p.ID] = p
	}
	return func(id string) (printer.Driver, error) {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("printer %s is not configured", id)
		}
		switch p.Kind {
		case "bambu":
			return printer.NewBambu(p.ID, p.Serial, p.URL, p.AccessCode, printer.Capability{
				Materials: materialList(p.Material),
			}), nil
		default:
			return printer.NewMoonraker(p.ID, p.URL, printer.Capability{
				Materials: materialList(p.Material),
			}), nil
		}
	}
}

func materialList(material string) []string {
	if material == "" {
		return nil
	}
	return []string{material}
}
