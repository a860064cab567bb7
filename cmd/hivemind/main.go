package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/hivemind/internal/agent"
	"github.com/nidhogg/hivemind/internal/api"
	"github.com/nidhogg/hivemind/internal/bus"
	"github.com/nidhogg/hivemind/internal/config"
	"github.com/nidhogg/hivemind/internal/dispatch"
	"github.com/nidhogg/hivemind/internal/notify"
	pgstore "github.com/nidhogg/hivemind/internal/store"
	"github.com/nidhogg/hivemind/internal/worker"
	"github.com/nidhogg/hivemind/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting hivemind coordinator...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/hivemind.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize history store
	var history api.History
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without history", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(rootCtx, "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
			history = ps
		}
	}

	// Initialize agent registry and performance tracking
	registry := agent.NewRegistry(logger)
	tracker := agent.NewTracker(registry, logger)

	// Initialize transport: Redis Streams when configured, otherwise an
	// in-process bus with a demo worker pool.
	var transport dispatch.Transport
	var redisBus *bus.Redis
	var localBus *bus.Local
	if cfg.Database.Redis.URL != "" {
		rb, busErr := bus.NewRedis(cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Fatal("redis unavailable", zap.Error(busErr))
		}
		redisBus = rb
		transport = rb
		logger.Info("Redis assignment bus connected")
	} else {
		localBus = bus.NewLocal(logger)
		transport = localBus
		logger.Info("No redis configured, using in-process bus with demo workers")
	}

	channel := dispatch.NewExecChannel(transport, logger)
	if redisBus != nil {
		go redisBus.ResolveLoop(rootCtx, channel)
	}

	attemptTimeout := time.Duration(cfg.Dispatch.AttemptTimeoutMS) * time.Millisecond
	dispatcher := dispatch.NewDispatcher(registry, tracker, channel, attemptTimeout, logger)
	scheduler := workflow.NewScheduler(dispatcher, cfg.Dispatch.PoolSize, logger)

	// Demo workers join the registry directly when running in-process.
	if localBus != nil {
		startDemoWorkers(rootCtx, registry, localBus, channel, logger)
	}

	// Initialize event notifier
	notifier := notify.New(logger)
	notifier.Register(notify.NewLogAdapter(logger))
	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.BotToken != "" {
		notifier.Register(notify.NewSlackAdapter(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.Channels, logger))
	}
	if cfg.Notify.Discord.Enabled && cfg.Notify.Discord.BotToken != "" {
		notifier.Register(notify.NewDiscordAdapter(cfg.Notify.Discord.BotToken, logger))
	}
	notifier.ConnectAll(rootCtx)

	// Build HTTP handler
	handler := api.NewHandler(registry, dispatcher, scheduler, history, notifier, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("hivemind listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down hivemind...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	if redisBus != nil {
		redisBus.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
	notifier.Close()
}

// startDemoWorkers registers a small in-process worker pool so the demo
// deployment can dispatch without external workers.
func startDemoWorkers(ctx context.Context, registry *agent.Registry, localBus *bus.Local, channel *dispatch.ExecChannel, logger *zap.Logger) {
	demo := []struct {
		id           string
		name         string
		capabilities []string
	}{
		{"demo-researcher", "researcher", []string{"research", "analysis"}},
		{"demo-writer", "writer", []string{"writing", "summary"}},
		{"demo-generalist", "generalist", []string{"research", "writing", "analysis", "summary"}},
	}

	complete := func(_ context.Context, comp *dispatch.Completion) error {
		channel.Resolve(comp.Token, comp)
		return nil
	}

	for _, d := range demo {
		registry.Register(&agent.Agent{
			ID:           d.id,
			Name:         d.name,
			Capabilities: d.capabilities,
			Status:       agent.StatusActive,
		})
		w := worker.New(d.id, d.name, d.capabilities, nil, logger)
		assignments := localBus.Subscribe(d.id)
		go w.Run(ctx, assignments, complete)
	}
	logger.Info("demo worker pool started", zap.Int("workers", len(demo)))
}
