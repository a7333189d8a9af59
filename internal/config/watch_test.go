package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchLimitsRequiresCallbackAndFile(t *testing.T) {
	loader := NewLoader("", filepath.Join(t.TempDir(), "server.yaml"))
	if _, err := loader.WatchLimits(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error without callback")
	}

	loader = NewLoader("")
	if _, err := loader.WatchLimits(context.Background(), func(LimitsConfig) {}, nil); err == nil {
		t.Fatalf("expected error without a config file")
	}
}

func TestWatchLimitsDeliversUpdates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	if err := os.WriteFile(path, []byte("server:\n  limits:\n    requests: 50\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loader := NewLoader("", path)
	updates := make(chan LimitsConfig, 4)
	watcher, err := loader.WatchLimits(context.Background(), func(limits LimitsConfig) {
		updates <- limits
	}, func(err error) {
		t.Logf("watcher error: %v", err)
	})
	if err != nil {
		t.Fatalf("watch limits: %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(path, []byte("server:\n  limits:\n    requests: 7\n    windowSeconds: 120\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case limits := <-updates:
			if limits.Requests == 7 && limits.WindowSeconds == 120 {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for limits update")
		}
	}
}

func TestWatchLimitsStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	if err := os.WriteFile(path, []byte("server: {}\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	watcher, err := NewLoader("", path).WatchLimits(context.Background(), func(LimitsConfig) {}, nil)
	if err != nil {
		t.Fatalf("watch limits: %v", err)
	}
	watcher.Stop()
	watcher.Stop()
}
