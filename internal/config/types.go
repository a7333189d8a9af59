package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds every server-level option for the skin render service.
type Config struct {
	Server ServerConfig `koanf:"server"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle agent.
type ServerConfig struct {
	Listen      ListenConfig      `koanf:"listen"`
	Logging     LoggingConfig     `koanf:"logging"`
	Development bool              `koanf:"development"`
	Limits      LimitsConfig      `koanf:"limits"`
	Upstream    UpstreamConfig    `koanf:"upstream"`
	Renderer    RendererConfig    `koanf:"renderer"`
	Cache       ServerCacheConfig `koanf:"cache"`
	Assets      AssetsConfig      `koanf:"assets"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// LimitsConfig bounds what a single request may ask for and how often a single
// client may ask. These are the only values the watcher hot-reloads.
type LimitsConfig struct {
	Requests      int `koanf:"requests"`
	WindowSeconds int `koanf:"windowSeconds"`
	DefaultScale  int `koanf:"defaultScale"`
	MinScale      int `koanf:"minScale"`
	MaxScale      int `koanf:"maxScale"`
}

// Window returns the rolling rate-limit window as a duration.
func (c LimitsConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// UpstreamConfig points at the yggdrasil auth server that resolves player
// names and skin URLs, and names the known-good player substituted when a
// lookup or render fails.
type UpstreamConfig struct {
	AuthServer     string `koanf:"authServer"`
	DefaultPlayer  string `koanf:"defaultPlayer"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
}

// Timeout bounds every upstream network call.
func (c UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RendererConfig points at the 2D compositing service.
type RendererConfig struct {
	ServiceURL     string `koanf:"serviceURL"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
}

// Timeout bounds render service calls.
func (c RendererConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ServerCacheConfig selects and tunes the render cache backend.
type ServerCacheConfig struct {
	Backend    string                 `koanf:"backend"`
	TTLSeconds int                    `koanf:"ttlSeconds"`
	Redis      ServerRedisCacheConfig `koanf:"redis"`
}

type ServerRedisCacheConfig struct {
	Address  string               `koanf:"address"`
	Username string               `koanf:"username"`
	Password string               `koanf:"password"`
	DB       int                  `koanf:"db"`
	TLS      ServerRedisTLSConfig `koanf:"tls"`
}

type ServerRedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// AssetsConfig names the working directory that holds transient skin files
// between download and render.
type AssetsConfig struct {
	WorkDir string `koanf:"workDir"`
}

// DefaultConfig returns the baseline settings applied before file and
// environment overrides.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    3000,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Limits: LimitsConfig{
				Requests:      100,
				WindowSeconds: 3600,
				DefaultScale:  25,
				MinScale:      1,
				MaxScale:      50,
			},
			Upstream: UpstreamConfig{
				AuthServer:     "https://auth.vis.galnod.com",
				DefaultPlayer:  "VI_Software",
				TimeoutSeconds: 10,
			},
			Renderer: RendererConfig{
				ServiceURL:     "http://127.0.0.1:8088",
				TimeoutSeconds: 10,
			},
			Cache: ServerCacheConfig{
				Backend: "memory",
			},
			Assets: AssetsConfig{
				WorkDir: "assets",
			},
		},
	}
}

// Validate rejects configurations the runtime cannot operate with.
func (c Config) Validate() error {
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen port %d out of range", c.Server.Listen.Port)
	}
	if err := c.Server.Limits.validate(); err != nil {
		return err
	}
	if err := validateBaseURL("upstream auth server", c.Server.Upstream.AuthServer); err != nil {
		return err
	}
	if strings.TrimSpace(c.Server.Upstream.DefaultPlayer) == "" {
		return errors.New("config: upstream default player required")
	}
	if c.Server.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: upstream timeout %d must be positive", c.Server.Upstream.TimeoutSeconds)
	}
	if err := validateBaseURL("renderer service", c.Server.Renderer.ServiceURL); err != nil {
		return err
	}
	if c.Server.Renderer.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: renderer timeout %d must be positive", c.Server.Renderer.TimeoutSeconds)
	}
	switch strings.ToLower(strings.TrimSpace(c.Server.Cache.Backend)) {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Server.Cache.Redis.Address) == "" {
			return errors.New("config: redis cache backend requires an address")
		}
		if c.Server.Cache.TTLSeconds <= 0 {
			return errors.New("config: redis cache backend requires a positive ttlSeconds")
		}
	default:
		return fmt.Errorf("config: unsupported cache backend %q", c.Server.Cache.Backend)
	}
	if strings.TrimSpace(c.Server.Assets.WorkDir) == "" {
		return errors.New("config: assets work dir required")
	}
	return nil
}

func (c LimitsConfig) validate() error {
	if c.Requests <= 0 {
		return fmt.Errorf("config: rate limit requests %d must be positive", c.Requests)
	}
	if c.WindowSeconds <= 0 {
		return fmt.Errorf("config: rate limit window %d must be positive", c.WindowSeconds)
	}
	if c.MinScale < 1 {
		return fmt.Errorf("config: min scale %d must be at least 1", c.MinScale)
	}
	if c.MaxScale < c.MinScale {
		return fmt.Errorf("config: max scale %d below min scale %d", c.MaxScale, c.MinScale)
	}
	if c.DefaultScale < c.MinScale || c.DefaultScale > c.MaxScale {
		return fmt.Errorf("config: default scale %d outside [%d, %d]", c.DefaultScale, c.MinScale, c.MaxScale)
	}
	return nil
}

func validateBaseURL(what, raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("config: %s URL required", what)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("config: %s URL: %w", what, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("config: %s URL %q must use http or https", what, raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("config: %s URL %q missing host", what, raw)
	}
	return nil
}
