// Package main provides the pricelistd server entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/priceledger/pricelistd/internal/authmw"
	"github.com/priceledger/pricelistd/internal/cache"
	"github.com/priceledger/pricelistd/internal/config"
	"github.com/priceledger/pricelistd/internal/httpapi"
	"github.com/priceledger/pricelistd/internal/ingest"
	"github.com/priceledger/pricelistd/internal/objectstore"
	"github.com/priceledger/pricelistd/internal/observability"
	"github.com/priceledger/pricelistd/internal/ocrclient"
	"github.com/priceledger/pricelistd/internal/progress"
	"github.com/priceledger/pricelistd/internal/render"
	"github.com/priceledger/pricelistd/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Msg("starting pricelistd")

	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	ctx := context.Background()
	if err := storage.Migrate(ctx, db, cfg.Database.Driver); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}
	repos := storage.NewRepositories(db)

	objects, err := objectstore.New(ctx, objectstore.Config{
		Endpoint:        cfg.ObjectStore.Endpoint,
		AccessKeyID:     cfg.ObjectStore.AccessKeyID,
		SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
		UseSSL:          cfg.ObjectStore.UseSSL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to object store")
	}

	cacheClient, err := newCacheClient(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to cache")
	}

	renderer := render.New(render.Config{DPI: cfg.Ingestion.RenderDPI, LongEdgePx: cfg.Ingestion.RenderLongEdge})

	ocrClient := ocrclient.New(ocrclient.Config{
		ServerURL: cfg.OCR.ServerURL, Model: cfg.OCR.Model, Timeout: cfg.OCR.Timeout,
		RetryBaseDelay: cfg.Ingestion.RetryBaseDelay, RetryMaxDelay: cfg.Ingestion.RetryMaxDelay,
		RetryMaxAttempt: cfg.Ingestion.RetryMaxAttempt,
	})
	vlmClient := ocrclient.New(ocrclient.Config{
		ServerURL: cfg.VLM.ServerURL, Model: cfg.VLM.Model, Timeout: cfg.VLM.Timeout,
		RetryBaseDelay: cfg.Ingestion.RetryBaseDelay, RetryMaxDelay: cfg.Ingestion.RetryMaxDelay,
		RetryMaxAttempt: cfg.Ingestion.RetryMaxAttempt,
	})
	llmClient := ocrclient.New(ocrclient.Config{
		ServerURL: cfg.LLM.ServerURL, Model: cfg.LLM.Model, Timeout: cfg.LLM.Timeout,
		RetryBaseDelay: cfg.Ingestion.RetryBaseDelay, RetryMaxDelay: cfg.Ingestion.RetryMaxDelay,
		RetryMaxAttempt: cfg.Ingestion.RetryMaxAttempt,
	})

	prog := progress.New()
	pipeline := ingest.New(repos, objects, renderer, ocrClient, prog, cacheClient, logger, cfg.Ingestion.OCRWorkerCount)

	if err := pipeline.ReconcileOnStartup(ctx); err != nil {
		logger.Error().Err(err).Msg("reconcile non-terminal uploads on startup")
	}

	handlers := httpapi.NewHandlers(repos, objects, pipeline, prog, cacheClient, vlmClient, llmClient, logger)
	router := httpapi.NewRouter(handlers, httpapi.RouterConfig{
		Auth:           authmw.Config{Enabled: !cfg.IsDevelopment(), JWTSecret: cfg.Auth.JWTSecretKey},
		AllowedOrigins: []string{"*"},
		RequestTimeout: cfg.Server.ReadTimeout,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("http server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
		}
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("forced shutdown failed")
		}
	}

	_ = cacheClient.Close()
	logger.Info().Msg("server stopped")
}

func newCacheClient(cfg *config.Config) (cache.Client, error) {
	if cfg.Cache.Driver == "redis" {
		return cache.NewRedisClient(cache.RedisConfig{
			Addr: cfg.Cache.Redis.Addr, Password: cfg.Cache.Redis.Password,
			DB: cfg.Cache.Redis.DB, PoolSize: cfg.Cache.Redis.PoolSize,
		})
	}
	return cache.NewMemoryClient(cfg.Cache.MaxEntries), nil
}
