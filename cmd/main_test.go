package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/vi-software/skinrender/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGateLimitsMapsConfiguration(t *testing.T) {
	limits := gateLimits(config.LimitsConfig{
		Requests:      100,
		WindowSeconds: 3600,
		DefaultScale:  25,
		MinScale:      1,
		MaxScale:      50,
	})
	if limits.Requests != 100 || limits.Window != time.Hour {
		t.Fatalf("unexpected rate mapping %+v", limits)
	}
	if limits.DefaultScale != 25 || limits.MinScale != 1 || limits.MaxScale != 50 {
		t.Fatalf("unexpected scale mapping %+v", limits)
	}
}

func TestBuildRenderCacheDefaultsToMemory(t *testing.T) {
	for _, backend := range []string{"", "memory", "MEMORY", "unsupported"} {
		c := buildRenderCache(testLogger(), config.ServerCacheConfig{Backend: backend, TTLSeconds: 60})
		if c == nil {
			t.Fatalf("backend %q: expected a cache", backend)
		}
		if err := c.Close(context.Background()); err != nil {
			t.Fatalf("backend %q: close: %v", backend, err)
		}
	}
}

func TestBuildRenderCacheRedisFallsBackWhenUnreachable(t *testing.T) {
	c := buildRenderCache(testLogger(), config.ServerCacheConfig{
		Backend:    "redis",
		TTLSeconds: 60,
		Redis:      config.ServerRedisCacheConfig{Address: "127.0.0.1:1"},
	})
	if c == nil {
		t.Fatalf("expected memory fallback cache")
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close fallback cache: %v", err)
	}
}

func TestBuildRenderCacheRedisConnects(t *testing.T) {
	srv := miniredis.RunT(t)
	c := buildRenderCache(testLogger(), config.ServerCacheConfig{
		Backend:    "redis",
		TTLSeconds: 60,
		Redis:      config.ServerRedisCacheConfig{Address: srv.Addr()},
	})
	if c == nil {
		t.Fatalf("expected redis cache")
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close redis cache: %v", err)
	}
}
