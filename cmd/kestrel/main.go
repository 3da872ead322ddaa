// Kestrel - Wallet risk monitoring that deploys in 60 seconds.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/ai"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/heuristics"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/realtime"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Registry and history, hydrated from the repository so restarts
	// pick up where the last process left off.
	reg := registry.New()
	hist := history.NewStore()
	if err := hydrate(ctx, repo, reg, hist); err != nil {
		slog.Error("failed to hydrate state", "error", err)
		os.Exit(1)
	}
	blacklisted, whitelisted := reg.Len()
	slog.Info("state hydrated",
		"addresses", hist.Len(),
		"blacklisted", blacklisted,
		"whitelisted", whitelisted,
	)

	// Heuristics engine, rules loaded from the repository.
	heur, err := heuristics.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize heuristics engine", "error", err)
		os.Exit(1)
	}
	defer heur.Close()
	if err := loadHeuristicRules(ctx, repo, heur); err != nil {
		slog.Error("failed to load heuristic rules", "error", err)
		os.Exit(1)
	}
	slog.Info("heuristics engine initialized", "rules_count", heur.RulesCount())

	// Persisted policies override the config file values.
	thresholds, aiBlend := loadPolicies(ctx, repo, cfg)

	// AI oracle
	var oracle ai.Oracle
	if cfg.AIOracleURL != "" {
		oracle = ai.NewHTTPOracle(cfg.AIOracleURL)
		slog.Info("ai oracle configured", "url", cfg.AIOracleURL)
	}

	// Monitor
	monitor, err := engine.New(engine.Options{
		AdminID:           cfg.Admin.ID,
		Thresholds:        thresholds,
		AIBlend:           aiBlend,
		MonitoringEnabled: cfg.MonitoringEnabled,
		Registry:          reg,
		History:           hist,
		Heuristics:        heur,
		Oracle:            oracle,
		Repository:        repo,
		Cache:             cacheImpl,
		Bus:               busImpl,
	})
	if err != nil {
		slog.Error("failed to initialize monitor", "error", err)
		os.Exit(1)
	}

	// Realtime hub streaming alerts and findings.
	hub := realtime.NewHub()
	go hub.Run(ctx)
	hubSubs, err := hub.Attach(ctx, busImpl)
	if err != nil {
		slog.Error("failed to attach realtime hub", "error", err)
		os.Exit(1)
	}
	defer func() {
		for _, sub := range hubSubs {
			_ = sub.Unsubscribe()
		}
	}()

	// Async worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, monitor)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	// HTTP server
	srv := api.NewServer(cfg.Server, monitor, cfg.Admin, api.ServerOptions{
		Cache:       cacheImpl,
		RateLimit:   cfg.RateLimit,
		AlertStream: hub,
		Version:     Version,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func setupLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// hydrate loads persisted registry entries and address records into
// the in-memory state.
func hydrate(ctx context.Context, repo domain.Repository, reg *registry.Registry, hist *history.Store) error {
	for _, list := range []domain.RegistryList{domain.ListBlacklist, domain.ListWhitelist} {
		addresses, err := repo.ListRegistryEntries(ctx, list)
		if err != nil {
			return fmt.Errorf("list %s entries: %w", list, err)
		}
		reg.Add(list, addresses)
	}

	records, err := repo.ListAddressRecords(ctx)
	if err != nil {
		return fmt.Errorf("list address records: %w", err)
	}
	hist.Load(records)
	return nil
}

// loadHeuristicRules loads persisted rules into the engine. A missing
// or empty rule table is not an error; rules can be added via the API.
func loadHeuristicRules(ctx context.Context, repo domain.Repository, heur *heuristics.Engine) error {
	rules, err := repo.ListHeuristicRules(ctx)
	if err != nil {
		slog.Warn("failed to list heuristic rules", "error", err)
		return nil
	}
	if len(rules) == 0 {
		slog.Info("no heuristic rules persisted - configure via POST /admin/rules")
		return nil
	}
	return heur.LoadRules(rules)
}

// loadPolicies returns the persisted thresholds and blend config when
// present, falling back to the configured values.
func loadPolicies(ctx context.Context, repo domain.Repository, cfg *domain.Config) (domain.RiskThresholds, domain.AIBlendConfig) {
	thresholds := cfg.Thresholds
	aiBlend := cfg.AIBlend

	if payload, err := repo.GetPolicy(ctx, domain.PolicyThresholds); err == nil {
		var th domain.RiskThresholds
		if err := json.Unmarshal(payload, &th); err == nil && th.Validate() == nil {
			thresholds = th
			slog.Info("loaded persisted thresholds policy")
		}
	}
	if payload, err := repo.GetPolicy(ctx, domain.PolicyAIBlend); err == nil {
		var blend domain.AIBlendConfig
		if err := json.Unmarshal(payload, &blend); err == nil && blend.Validate() == nil {
			aiBlend = blend
			slog.Info("loaded persisted ai blend policy")
		}
	}
	return thresholds, aiBlend
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║       Wallet Risk Monitoring Engine       ║")
	fmt.Println("  ║       Eyes on every transaction.          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transactions                    - Record and score a transaction")
	fmt.Println("    POST /transactions/batch              - Analyze a batch for patterns")
	fmt.Println("    POST /addresses/{address}/failures    - Record a failed transaction")
	fmt.Println("    GET  /addresses/{address}/risk        - Risk summary for an address")
	fmt.Println("    GET  /alerts                          - Recent alerts")
	fmt.Println("    GET  /ws/alerts                       - Live alert stream (WebSocket)")
	fmt.Println("    POST /admin/monitoring                - Toggle monitoring")
	fmt.Println("    PUT  /admin/thresholds                - Update scoring thresholds")
	fmt.Println("    POST /admin/registry/{list}           - Update blacklist/whitelist")
	fmt.Println("    GET  /health                          - Health check")
	fmt.Println()
}
