// Sentinel - Behavioral risk scoring for account activity.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/opensource-finance/sentinel/internal/api"
	"github.com/opensource-finance/sentinel/internal/artifact"
	"github.com/opensource-finance/sentinel/internal/bus"
	"github.com/opensource-finance/sentinel/internal/cache"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/engine"
	"github.com/opensource-finance/sentinel/internal/policy"
	"github.com/opensource-finance/sentinel/internal/repository"
	"github.com/opensource-finance/sentinel/internal/velocity"
	"github.com/opensource-finance/sentinel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("SENTINEL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting sentinel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("SENTINEL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Load scoring policy (built-in defaults unless a YAML policy is given)
	pol := domain.DefaultPolicy()
	if cfg.PolicyPath != "" {
		pol, err = policy.LoadFile(cfg.PolicyPath)
		if err != nil {
			slog.Error("failed to load policy", "path", cfg.PolicyPath, "error", err)
			os.Exit(1)
		}
		slog.Info("policy loaded", "path", cfg.PolicyPath, "custom_rules", len(pol.CustomRules))
	}

	// Initialize scoring engine
	eng, err := engine.New(pol, cfg.Model, logger)
	if err != nil {
		slog.Error("failed to initialize scoring engine", "error", err)
		os.Exit(1)
	}
	slog.Info("scoring engine initialized")

	// Initialize artifact store and load a previously trained model if
	// one exists. A missing artifact is fine: train via POST /train.
	store, err := artifact.NewFileStore(cfg.Model.ArtifactDir)
	if err != nil {
		slog.Error("failed to initialize artifact store", "error", err)
		os.Exit(1)
	}
	m, err := store.Load()
	if err != nil {
		slog.Warn("no model artifact loaded - train via POST /train", "dir", cfg.Model.ArtifactDir, "error", err)
		m = nil
	} else {
		slog.Info("model artifact loaded", "dir", cfg.Model.ArtifactDir, "columns", len(m.Schema.Columns))
	}

	// Initialize async scoring worker
	asyncWorker := worker.NewWorker(busImpl, repo, eng, m, worker.Config{
		BatchSize:   500,
		BatchPolicy: domain.SkipRecord,
	})
	if err := asyncWorker.Start(); err != nil {
		slog.Error("failed to start async worker", "error", err)
		os.Exit(1)
	}

	// Initialize per-user ingest velocity tracking
	tracker := velocity.NewTracker(cacheImpl, velocity.DefaultWindow, 500)
	slog.Info("velocity tracker initialized", "threshold", tracker.Threshold())

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, eng, asyncWorker, store, tracker, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("sentinel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"model_loaded", m != nil,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("sentinel shutdown complete")
}

// applyEnvOverrides lets deployments tweak the defaults without a config
// file: SENTINEL_PORT, SENTINEL_DB, SENTINEL_POLICY, SENTINEL_MODEL_DIR.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("SENTINEL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SENTINEL_DB"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("SENTINEL_POLICY"); v != "" {
		cfg.PolicyPath = v
	}
	if v := os.Getenv("SENTINEL_MODEL_DIR"); v != "" {
		cfg.Model.ArtifactDir = v
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║              🛡  SENTINEL                  ║")
	fmt.Println("  ║     Behavioral Risk Scoring Engine        ║")
	fmt.Println("  ║      Eyes on every account action.        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /events            - Ingest account activity events")
	fmt.Println("    GET  /events/{id}       - Get event by ID")
	fmt.Println("    POST /train             - Train the anomaly model")
	fmt.Println("    POST /score             - Score the unscored backlog now")
	fmt.Println("    GET  /insights          - Top insights by risk")
	fmt.Println("    GET  /insights/kpis     - Severity counters")
	fmt.Println("    GET  /insights/{id}     - Get insight by event ID")
	fmt.Println("    GET  /insights/user/{id}- Insights for one user")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println("    GET  /metrics           - Prometheus metrics")
	fmt.Println()
}
