package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// ErrUnsupportedFormat is returned for tracker files that are neither YAML
// nor TOML.
var ErrUnsupportedFormat = errors.New("unsupported config file format")

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Bridge    BridgeConfig
	Tracker   TrackerConfig
	Session   SessionConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Executor  ExecutorConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
}

// BridgeConfig holds caller-side bridge settings.
type BridgeConfig struct {
	Timeout time.Duration `envconfig:"BRIDGE_TIMEOUT" default:"200s"`
	Address string        `envconfig:"BRIDGE_ADDR" default:"ws://localhost:8000/bridge"`
	BaseURL string        `envconfig:"BRIDGE_BASE_URL" default:"https://api.clickup.com/api/v2"`
}

// TrackerConfig holds the tracker credentials. Fields carry no defaults so
// environment overrides only replace what is actually set.
type TrackerConfig struct {
	APIToken        string `envconfig:"TRACKER_API_TOKEN" yaml:"api_token" toml:"api_token"`
	Host            string `envconfig:"TRACKER_HOST" yaml:"host" toml:"host"`
	AllowSelfSigned bool   `envconfig:"TRACKER_ALLOW_SELF_SIGNED" yaml:"allow_self_signed" toml:"allow_self_signed"`
	CookieMode      bool   `envconfig:"TRACKER_COOKIE_MODE" yaml:"cookie_mode" toml:"cookie_mode"`
	StoryPointField string `envconfig:"TRACKER_STORY_POINT_FIELD" yaml:"story_point_field" toml:"story_point_field"`
	AutoImportQuery string `envconfig:"TRACKER_AUTO_IMPORT_QUERY" yaml:"auto_import_query" toml:"auto_import_query"`
}

// SessionConfig selects where session-scoped state lives.
type SessionConfig struct {
	Backend   string        `envconfig:"SESSION_BACKEND" default:"memory"`
	RedisAddr string        `envconfig:"SESSION_REDIS_ADDR" default:"localhost:6379"`
	TTL       time.Duration `envconfig:"SESSION_TTL" default:"12h"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds inbound per-IP rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// ExecutorConfig tunes the host's outbound HTTP calls.
type ExecutorConfig struct {
	RequestsPerSecond float64       `envconfig:"EXECUTOR_RPS" default:"10"`
	HTTPTimeout       time.Duration `envconfig:"EXECUTOR_HTTP_TIMEOUT" default:"60s"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "127.0.0.1",
		},
		Bridge: BridgeConfig{
			Timeout: 200 * time.Second,
			Address: "ws://localhost:8000/bridge",
			BaseURL: "https://api.clickup.com/api/v2",
		},
		Session: SessionConfig{
			Backend:   "memory",
			RedisAddr: "localhost:6379",
			TTL:       12 * time.Hour,
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Executor: ExecutorConfig{
			RequestsPerSecond: 10,
			HTTPTimeout:       60 * time.Second,
		},
	}
}

// LoadTrackerFile reads tracker credentials from a YAML or TOML file, chosen
// by extension, then applies TRACKER_* environment overrides.
func LoadTrackerFile(path string) (TrackerConfig, error) {
	var tc TrackerConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return tc, fmt.Errorf("read tracker config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &tc)
	case ".toml":
		err = toml.Unmarshal(data, &tc)
	default:
		return tc, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return tc, fmt.Errorf("parse tracker config %s: %w", path, err)
	}

	if err := envconfig.Process("", &tc); err != nil {
		return tc, fmt.Errorf("tracker config overrides: %w", err)
	}
	return tc, nil
}
