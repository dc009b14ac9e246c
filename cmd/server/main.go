package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gyaneshwarpardhi/kavach/internal/alert"
	"github.com/gyaneshwarpardhi/kavach/internal/api"
	"github.com/gyaneshwarpardhi/kavach/internal/config"
	"github.com/gyaneshwarpardhi/kavach/internal/engine"
	"github.com/gyaneshwarpardhi/kavach/internal/graph"
	"github.com/gyaneshwarpardhi/kavach/internal/ledger"
	"github.com/gyaneshwarpardhi/kavach/internal/logging"
	"github.com/gyaneshwarpardhi/kavach/internal/registry"
	"github.com/gyaneshwarpardhi/kavach/internal/simulate"
	"github.com/gyaneshwarpardhi/kavach/internal/stream"
	"github.com/gyaneshwarpardhi/kavach/internal/traces"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", envOr("KAVACH_ADDR", ":8080"), "HTTP listen address")
	cfgPath := flag.String("config", envOr("KAVACH_CONFIG", "configs/kavach.yaml"), "Path to YAML config (empty for defaults)")
	flag.Parse()

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)
	loader.WithLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := traces.Init(ctx, cfg.Tracing.OTLPEndpoint, logger)
	if err != nil {
		logger.Warn("tracing unavailable", "err", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	// ── Scoring ──────────────────────────────────────────────────────────────
	scoring, err := engine.NewScoring(cfg.Scoring, cfg.Predictor, logger)
	if err != nil {
		logger.Error("failed to build scoring", "err", err)
		os.Exit(1)
	}
	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		logger.Error("failed to load ATM registry", "err", err)
		os.Exit(1)
	}
	logger.Info("scoring ready", "strategy", scoring.Adapter.Strategy(), "atms", reg.Len(), "cities", len(reg.Cities()))

	// ── Notifiers ────────────────────────────────────────────────────────────
	hub := stream.NewHub(logger)
	go hub.Run(ctx)
	recorder := alert.NewRecorder(0)

	dispatcher := alert.NewDispatcher(logger)
	dispatcher.Register(recorder)
	dispatcher.Register(hub)
	if cfg.Alerts.Log {
		dispatcher.Register(alert.NewLogNotifier(logger))
	}
	if rc := cfg.Alerts.Redis; rc.Addr != "" {
		client := alert.NewRedisClient(rc.Addr, rc.Password, rc.DB)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup, publish failures will be logged", "addr", rc.Addr, "err", err)
		}
		dispatcher.Register(alert.NewRedisNotifier(client, rc.Channel, true))
	}
	logger.Info("notifiers registered", "notifiers", dispatcher.Names())

	// ── Engine ───────────────────────────────────────────────────────────────
	eng := engine.New(ctx, engine.Deps{
		Ledger:     ledger.New(cfg.Scoring.LedgerCapacity).WithWindow(cfg.Scoring.VelocityWindow),
		Graph:      graph.New(),
		Registry:   reg,
		Dispatcher: dispatcher,
		Scoring:    scoring,
		Logger:     logger,
	}, cfg.Engine)
	go eng.RunJanitor(ctx, cfg.Scoring.JanitorInterval, cfg.Scoring.Retention)

	// ── Hot-reload watcher ───────────────────────────────────────────────────
	var active atomic.Pointer[config.Config]
	active.Store(cfg)
	loader.OnChange(func(newCfg *config.Config) {
		sc, err := engine.NewScoring(newCfg.Scoring, newCfg.Predictor, logger)
		if err != nil {
			logger.Warn("hot-reload skipped: scoring build failed", "err", err)
			return
		}
		eng.SwapScoring(sc)
		prev := active.Swap(newCfg)
		if newCfg.Scoring.VelocityWindow != prev.Scoring.VelocityWindow ||
			newCfg.Scoring.LedgerCapacity != prev.Scoring.LedgerCapacity {
			eng.ResizeHistory(newCfg.Scoring.VelocityWindow, newCfg.Scoring.LedgerCapacity)
		}
		if pending := config.RestartRequired(prev, newCfg); len(pending) > 0 {
			logger.Warn("config changes need a restart to apply", "settings", pending)
		}
	})
	if *cfgPath != "" {
		stopWatch, err := loader.Watch()
		if err != nil {
			logger.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
		} else {
			defer stopWatch()
		}
	}

	// ── Simulation ───────────────────────────────────────────────────────────
	mule, circular := cfg.Simulation.Probabilities()
	gen := simulate.NewGenerator(simulate.Options{
		MuleProbability:     mule,
		CircularProbability: circular,
	})
	sim := simulate.NewRunner(gen, eng, time.Duration(cfg.Simulation.IntervalMs)*time.Millisecond, logger)
	if cfg.Simulation.Enabled {
		sim.Start(ctx)
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	handler := api.New(api.Deps{
		Engine:     eng,
		Loader:     loader,
		Registry:   reg,
		Alerts:     recorder,
		Simulation: sim,
		Stream:     hub,
		Logger:     logger,
	})
	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	sim.Stop()
	_ = srv.Shutdown(shutCtx)
	eng.Shutdown()
	cancel() // stop hub and janitor
	if err := shutdownTracing(shutCtx); err != nil {
		logger.Warn("tracing shutdown", "err", err)
	}
	logger.Info("goodbye")
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}
