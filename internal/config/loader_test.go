package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	loader := NewLoader("")
	cfg, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Listen.Port != 3000 {
		t.Fatalf("expected default port 3000, got %d", cfg.Server.Listen.Port)
	}
	if cfg.Server.Limits.Requests != 100 || cfg.Server.Limits.WindowSeconds != 3600 {
		t.Fatalf("unexpected default limits: %+v", cfg.Server.Limits)
	}
	if cfg.Server.Limits.DefaultScale != 25 || cfg.Server.Limits.MaxScale != 50 {
		t.Fatalf("unexpected default scale bounds: %+v", cfg.Server.Limits)
	}
	if cfg.Server.Upstream.DefaultPlayer == "" {
		t.Fatalf("expected a default fallback player")
	}
	if cfg.Server.Cache.Backend != "memory" {
		t.Fatalf("expected memory cache backend, got %q", cfg.Server.Cache.Backend)
	}
}

func TestLoadYAMLFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, "server.yaml", `
server:
  listen:
    port: 8080
  development: true
  limits:
    requests: 10
    windowSeconds: 60
  upstream:
    authServer: https://auth.example.test
    defaultPlayer: fallback_player
`)
	cfg, err := NewLoader("", path).Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Listen.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Server.Listen.Port)
	}
	if !cfg.Server.Development {
		t.Fatalf("expected development mode")
	}
	if cfg.Server.Limits.Requests != 10 || cfg.Server.Limits.WindowSeconds != 60 {
		t.Fatalf("unexpected limits: %+v", cfg.Server.Limits)
	}
	if cfg.Server.Upstream.DefaultPlayer != "fallback_player" {
		t.Fatalf("unexpected default player: %q", cfg.Server.Upstream.DefaultPlayer)
	}
	// Untouched sections keep their defaults.
	if cfg.Server.Limits.DefaultScale != 25 {
		t.Fatalf("expected default scale to survive partial override, got %d", cfg.Server.Limits.DefaultScale)
	}
}

func TestLoadJSONAndTOMLFiles(t *testing.T) {
	jsonPath := writeConfigFile(t, "server.json", `{"server": {"listen": {"port": 8081}}}`)
	cfg, err := NewLoader("", jsonPath).Load(context.Background())
	if err != nil {
		t.Fatalf("json load: %v", err)
	}
	if cfg.Server.Listen.Port != 8081 {
		t.Fatalf("expected port 8081 from json, got %d", cfg.Server.Listen.Port)
	}

	tomlPath := writeConfigFile(t, "server.toml", "[server.listen]\nport = 8082\n")
	cfg, err = NewLoader("", tomlPath).Load(context.Background())
	if err != nil {
		t.Fatalf("toml load: %v", err)
	}
	if cfg.Server.Listen.Port != 8082 {
		t.Fatalf("expected port 8082 from toml, got %d", cfg.Server.Listen.Port)
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeConfigFile(t, "server.ini", "[server]\n")
	if _, err := NewLoader("", path).Load(context.Background()); err == nil {
		t.Fatalf("expected error for unsupported config format")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := NewLoader("", filepath.Join(t.TempDir(), "absent.yaml")).Load(context.Background()); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "server.yaml", "server:\n  listen:\n    port: 8080\n")

	t.Setenv("SKINRENDER_SERVER__LISTEN__PORT", "9001")
	t.Setenv("SKINRENDER_SERVER__LIMITS__MAXSCALE", "40")
	t.Setenv("SKINRENDER_SERVER__UPSTREAM__DEFAULTPLAYER", "env_player")

	cfg, err := NewLoader("SKINRENDER", path).Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Listen.Port != 9001 {
		t.Fatalf("expected env port 9001, got %d", cfg.Server.Listen.Port)
	}
	if cfg.Server.Limits.MaxScale != 40 {
		t.Fatalf("expected env max scale 40, got %d", cfg.Server.Limits.MaxScale)
	}
	if cfg.Server.Upstream.DefaultPlayer != "env_player" {
		t.Fatalf("expected env default player, got %q", cfg.Server.Upstream.DefaultPlayer)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfigFile(t, "server.yaml", "server:\n  limits:\n    requests: 0\n")
	if _, err := NewLoader("", path).Load(context.Background()); err == nil {
		t.Fatalf("expected validation error for zero rate limit")
	}
}
