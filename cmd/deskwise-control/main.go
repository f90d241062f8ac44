package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deskwise-control/internal/config"
	"deskwise-control/internal/database"
	httpapi "deskwise-control/internal/http"
	"deskwise-control/internal/logger"
	"deskwise-control/internal/pool"
	"deskwise-control/internal/provisioning"
	"deskwise-control/internal/registry"
	"deskwise-control/internal/repository"
	"deskwise-control/internal/schema"
	"deskwise-control/internal/service"
	"deskwise-control/internal/store"
	"deskwise-control/internal/subdomain"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "deskwise-control")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.EnsureTenantsTable(context.Background(), db); err != nil {
		log.Fatal("Failed to bootstrap control-plane schema", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	kv := store.NewRedisKV(redisClient)

	tenantsRepo := repository.NewPostgresTenantsRepository(db)
	allocator := subdomain.NewAllocator(tenantsRepo, log)
	schemaManager := schema.NewManager(db, log)
	validator := schema.NewValidator(db, log)
	reg := registry.New(tenantsRepo, kv, log)

	poolManager := pool.NewManager(
		pool.NewPostgresOpener(&cfg.Database, cfg.Pool),
		cfg.Pool,
		log,
	)

	var notifier provisioning.Notifier
	if cfg.Provisioning.WebhookEnabled && cfg.Provisioning.WebhookURL != "" {
		notifier = provisioning.NewWebhookNotifier(cfg.Provisioning.WebhookURL, log)
	}

	orchestrator := provisioning.NewOrchestrator(
		tenantsRepo,
		allocator,
		schemaManager,
		validator,
		reg,
		notifier,
		cfg.Provisioning.MaxSubdomainRetries,
		log,
	)

	router := httpapi.NewRouter(log)
	router.RegisterTenantRoutes(httpapi.NewTenantsHandler(orchestrator, tenantsRepo, reg, log))

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go poolManager.Run(ctx)

	if cfg.Provisioning.DriftCheckInterval > 0 {
		drift := schema.NewDriftDetector(validator, tenantsRepo, cfg.Provisioning.DriftCheckInterval, log)
		go drift.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		cancel()
	case <-errCh:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)

	poolManager.Close()
	_ = redisClient.Close()
	_ = database.Close(db)
}
