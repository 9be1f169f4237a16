package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/openmind/core-gateway/cmd"
	"github.com/openmind/core-gateway/internal/admission"
	"github.com/openmind/core-gateway/internal/config"
	"github.com/openmind/core-gateway/internal/gateway"
	"github.com/openmind/core-gateway/internal/ledger"
	"github.com/openmind/core-gateway/internal/platform/logger"
	"github.com/openmind/core-gateway/internal/platform/otel"
	"github.com/openmind/core-gateway/internal/registry"
	"github.com/openmind/core-gateway/internal/server"
	"github.com/openmind/core-gateway/internal/store/cache"
	"github.com/openmind/core-gateway/internal/store/sqlite"
	"github.com/openmind/core-gateway/internal/transport"
	"github.com/openmind/core-gateway/internal/usage"
)

func main() {
	logger.Initialize(logger.DefaultConfig())
	defer logger.Sync()
	log := logger.Get()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	go cmd.CheckForUpdates()

	shutdownTracer, err := otel.InitTracer("core-gateway", log, os.Stdout)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	repo, err := sqlite.NewSQLiteStorage(cfg.Store.DSN)
	if err != nil {
		log.Fatal("Failed to open store", zap.Error(err))
	}
	defer repo.Close()

	var c cache.CacheService
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("Redis unavailable, falling back to memory cache", zap.Error(err))
			c = cache.NewMemoryCache()
		} else {
			c = rc
		}
	} else {
		c = cache.NewMemoryCache()
	}

	specs := make([]registry.ProviderSpec, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		specs = append(specs, registry.ProviderSpec{
			ID:        p.ID,
			Prefixes:  p.Prefixes,
			BaseURL:   p.BaseURL,
			Dialect:   registry.Dialect(p.Dialect),
			Streaming: p.StreamingEnabled(),
		})
		log.Info("Registered provider",
			zap.String("id", p.ID),
			zap.Strings("prefixes", p.Prefixes),
			zap.Bool("configured", p.APIKey != ""))
	}
	if len(specs) == 0 {
		log.Warn("No providers enabled. API will not function correctly.")
	}

	reg := registry.New(specs)
	led := ledger.New()
	pool := transport.NewPool(cfg.Providers, time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second)

	ingestor := usage.NewIngestor(log, repo)
	ingestCtx, stopIngest := context.WithCancel(context.Background())
	ingestor.Start(ingestCtx)

	service := gateway.NewService(log, admission.New(reg, led), led, pool, ingestor)

	srv := server.New(cfg, log, service, repo, c)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: srv.Handler(),
	}

	go func() {
		log.Info("Starting gateway", zap.String("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("Forced shutdown", zap.Error(err))
	}

	stopIngest()
	ingestor.Stop()

	if err := shutdownTracer(ctx); err != nil {
		log.Error("Tracer shutdown failed", zap.Error(err))
	}
}
