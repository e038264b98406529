package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/orbitalai/lumara-gateway/internal/config"
	"github.com/orbitalai/lumara-gateway/internal/gateway"
	"github.com/orbitalai/lumara-gateway/internal/identity"
	"github.com/orbitalai/lumara-gateway/internal/provider"
	"github.com/orbitalai/lumara-gateway/internal/quota"
	"github.com/orbitalai/lumara-gateway/internal/ratelimit"
	"github.com/orbitalai/lumara-gateway/internal/server"
	"github.com/orbitalai/lumara-gateway/internal/settings"
	"github.com/orbitalai/lumara-gateway/internal/storage/redis"
	"github.com/orbitalai/lumara-gateway/internal/storage/sqldb"
	"github.com/orbitalai/lumara-gateway/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	shutdown, err := telemetry.InitTracer("lumara-gateway", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	store, err := redis.New(context.Background(), cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer store.Close()

	audit, err := sqldb.New(cfg.Audit.Path)
	if err != nil {
		log.Fatalf("Failed to open audit store: %v", err)
	}
	defer audit.Close()

	adapter := provider.NewAdapter()
	guard := identity.NewGuard(store, identity.NewVerifier(cfg.Auth.Secret), logger)

	gw := gateway.New(gateway.Config{
		Guard:          guard,
		Limiter:        ratelimit.New(store, logger),
		Quotas:         quota.New(store, logger),
		Settings:       settings.New(store.Settings(), adapter, cfg.Vault.Key, cfg.Keys.Map(), logger),
		Adapter:        adapter,
		Audit:          audit,
		Logger:         logger,
		UnlockPassword: cfg.Auth.Unlock,
	})

	srv := server.New(cfg.Server.Port, logger)
	gw.Mount(srv.Router)

	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
