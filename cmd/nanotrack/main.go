// Nanotrack workflow server — provides the HTTP API, runs the stage workers,
// and orchestrates samples through the sequencing pipeline.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/seqlab/nanotrack/pkg/api"
	"github.com/seqlab/nanotrack/pkg/config"
	"github.com/seqlab/nanotrack/pkg/database"
	"github.com/seqlab/nanotrack/pkg/events"
	"github.com/seqlab/nanotrack/pkg/orchestrator"
	"github.com/seqlab/nanotrack/pkg/queue"
	"github.com/seqlab/nanotrack/pkg/registry"
	"github.com/seqlab/nanotrack/pkg/store"
	"github.com/seqlab/nanotrack/pkg/version"
	"github.com/seqlab/nanotrack/pkg/worker"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolveWorkerID determines the worker identifier used as the lease holder
// for multi-replica coordination. Priority: WORKER_ID env > HOSTNAME env >
// "local".
func resolveWorkerID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	workerID := resolveWorkerID()

	slog.Info("Starting nanotrack",
		"version", version.Full(),
		"http_port", httpPort,
		"worker_id", workerID,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to database", "driver", dbClient.Dialect())

	st := store.New(dbClient.Gorm, store.RetryConfig{
		Attempts:  cfg.Orchestrator.RetryAttempts,
		BaseDelay: cfg.Orchestrator.RetryBaseDelay,
	})

	// 3. Step registry. A down redis degrades leasing but never blocks the
	// engine; the conditional step transitions in the database stay
	// authoritative.
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	regCfg := registry.Config{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       redisDB,
	}
	reg, err := registry.New(ctx, regCfg)
	if err != nil {
		slog.Warn("Redis unreachable at startup, step registry degraded",
			"addr", regCfg.Addr, "error", err)
		reg = registry.NewFromClient(goredis.NewClient(&goredis.Options{
			Addr:     regCfg.Addr,
			Password: regCfg.Password,
			DB:       redisDB,
		}))
	} else {
		slog.Info("Connected to step registry", "addr", regCfg.Addr)
	}
	defer func() { _ = reg.Close() }()

	// 4. Event bus and publisher
	publisher := events.NewPublisher(dbClient.Gorm, workerID)
	bus := events.NewBus(dbClient.Gorm, workerID, cfg.Orchestrator.VisibilityTimeout)

	// 5. Orchestrator and stage queues
	manager := queue.NewManager(cfg.Orchestrator.StableQueueOrdering())
	orch := orchestrator.New(st, reg, manager, publisher, bus, cfg.Stages, cfg.Orchestrator)

	bus.Start(ctx)
	defer bus.Stop()

	// LISTEN wake-ups only exist on postgres; elsewhere the bus polls.
	var listener *events.NotifyListener
	if dbClient.Dialect() == "postgres" {
		listener = events.NewNotifyListener(dbConfig.PostgresDSN(), bus)
		if err := listener.Start(ctx); err != nil {
			slog.Warn("NOTIFY listener unavailable, falling back to polling", "error", err)
			listener = nil
		} else {
			defer listener.Stop(ctx)
		}
	}

	if err := orch.Start(ctx); err != nil {
		slog.Error("Failed to start orchestrator", "error", err)
		os.Exit(1)
	}
	defer orch.Stop()

	// 6. Stage worker runtime
	runtime := worker.NewRuntime(st, reg, publisher, manager,
		worker.BuiltinRegistry(), cfg.Stages, cfg.Orchestrator, workerID)
	runtime.Start(ctx)

	// 7. HTTP server
	server := api.NewServer(orch, st, reg, dbClient)

	serveCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	slog.Info("Nanotrack started",
		"worker_id", workerID,
		"workers_per_stage", cfg.Orchestrator.MaxInFlightPerStage)

	if err := server.Run(serveCtx, ":"+httpPort); err != nil {
		slog.Error("HTTP server error", "error", err)
	}

	// 8. Graceful shutdown: stop feeding workers, drain in-flight steps,
	// then tear down the bus and orchestrator via the deferred stops.
	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		cfg.Orchestrator.GracefulShutdownTimeout)
	defer cancel()
	runtime.Stop(shutdownCtx)

	slog.Info("Shutdown complete")
}
