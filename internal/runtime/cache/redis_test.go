package cache

import (
	"bytes"
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newRedisTestCache(t *testing.T, ttl time.Duration) RenderCache {
	t.Helper()
	server := miniredis.RunT(t)
	cache, err := NewRedis(RedisConfig{Address: server.Addr()}, ttl)
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close(context.Background()) })
	return cache
}

func TestRedisCacheStoreLookup(t *testing.T) {
	cache := newRedisTestCache(t, time.Minute)
	ctx := context.Background()

	image := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a}
	if err := cache.Store(ctx, "uuid_head_30", Entry{Image: image}); err != nil {
		t.Fatalf("store: %v", err)
	}

	entry, ok, err := cache.Lookup(ctx, "uuid_head_30")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if !bytes.Equal(entry.Image, image) {
		t.Fatalf("image bytes did not round-trip: %v", entry.Image)
	}

	size, err := cache.Size(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 1 {
		t.Fatalf("expected size 1, got %d", size)
	}
}

func TestRedisCacheMiss(t *testing.T) {
	cache := newRedisTestCache(t, time.Minute)
	_, ok, err := cache.Lookup(context.Background(), "absent")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ok {
		t.Fatalf("expected miss")
	}
}

func TestRedisCacheRequiresAddressAndTTL(t *testing.T) {
	if _, err := NewRedis(RedisConfig{}, time.Minute); err == nil {
		t.Fatalf("expected error without address")
	}
	server := miniredis.RunT(t)
	if _, err := NewRedis(RedisConfig{Address: server.Addr()}, 0); err == nil {
		t.Fatalf("expected error without ttl")
	}
}

func TestRedisCacheEntryExpires(t *testing.T) {
	server := miniredis.RunT(t)
	cache, err := NewRedis(RedisConfig{Address: server.Addr()}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}
	defer func() { _ = cache.Close(context.Background()) }()

	ctx := context.Background()
	if err := cache.Store(ctx, "key", Entry{Image: []byte{1}}); err != nil {
		t.Fatalf("store: %v", err)
	}

	server.FastForward(time.Second)

	_, ok, err := cache.Lookup(ctx, "key")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ok {
		t.Fatalf("expected entry to expire")
	}
}
