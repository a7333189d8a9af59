package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vi-software/skinrender/internal/config"
	"github.com/vi-software/skinrender/internal/logging"
	"github.com/vi-software/skinrender/internal/metrics"
	"github.com/vi-software/skinrender/internal/renderer"
	"github.com/vi-software/skinrender/internal/runtime"
	"github.com/vi-software/skinrender/internal/runtime/admission"
	"github.com/vi-software/skinrender/internal/runtime/cache"
	"github.com/vi-software/skinrender/internal/runtime/fetchrender"
	"github.com/vi-software/skinrender/internal/server"
	"github.com/vi-software/skinrender/internal/yggdrasil"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "SKINRENDER", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	cacheLogger := logger.With(slog.String("agent", "cache_factory"))
	renderCache := buildRenderCache(cacheLogger, cfg.Server.Cache)
	cacheTTL := time.Duration(cfg.Server.Cache.TTLSeconds) * time.Second

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	lookup := yggdrasil.NewClient(cfg.Server.Upstream.AuthServer, cfg.Server.Upstream.Timeout(), logger)
	resolver := yggdrasil.NewResolver(lookup)
	renderService := renderer.NewService(cfg.Server.Renderer.ServiceURL, cfg.Server.Renderer.Timeout())

	fetcher, err := fetchrender.New(
		&http.Client{Timeout: cfg.Server.Upstream.Timeout()},
		renderService,
		cfg.Server.Assets.WorkDir,
		logger,
		metricsRecorder,
	)
	if err != nil {
		logger.Error("unable to prepare fetch pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	gate := admission.New(gateLimits(cfg.Server.Limits))

	pipe := runtime.NewPipeline(logger, runtime.PipelineOptions{
		Cache:         renderCache,
		CacheTTL:      cacheTTL,
		Resolver:      resolver,
		Fetcher:       fetcher,
		Admission:     gate,
		DefaultPlayer: cfg.Server.Upstream.DefaultPlayer,
		Development:   cfg.Server.Development,
		Metrics:       metricsRecorder,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := pipe.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	if *configFile != "" {
		watcher, err := loader.WatchLimits(ctx, func(limits config.LimitsConfig) {
			pipe.Reload(gateLimits(limits))
		}, func(err error) {
			if err != nil {
				logger.Error("limits watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("limits watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	handler := server.WithAccessLog(logger, server.NewPipelineHandler(pipe))
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsRecorder.Handler())
	mux.Handle("/", handler)

	srv, err := server.New(cfg, logger, mux)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

func gateLimits(cfg config.LimitsConfig) admission.Limits {
	return admission.Limits{
		Requests:     cfg.Requests,
		Window:       cfg.Window(),
		DefaultScale: cfg.DefaultScale,
		MinScale:     cfg.MinScale,
		MaxScale:     cfg.MaxScale,
	}
}

func buildRenderCache(logger *slog.Logger, cfg config.ServerCacheConfig) cache.RenderCache {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		if logger != nil {
			logger.Info("using memory render cache", slog.Duration("ttl", ttl))
		}
		return cache.NewMemory(ttl)
	case "redis":
		redisCache, err := cache.NewRedis(cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: cache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		}, ttl)
		if err != nil {
			if logger != nil {
				logger.Error("redis cache initialization failed", slog.Any("error", err))
				logger.Info("falling back to memory cache")
			}
			return cache.NewMemory(ttl)
		}
		if logger != nil {
			logger.Info("using redis render cache", slog.String("address", cfg.Redis.Address))
		}
		return redisCache
	default:
		if logger != nil {
			logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		}
		return cache.NewMemory(ttl)
	}
}
