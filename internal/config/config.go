// Package config loads edge worker configuration from defaults, an optional
// YAML file and EDGE_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables; "__" separates levels,
// e.g. EDGE_QUEUE__MAX_RETRIES.
const EnvPrefix = "EDGE_"

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	CORS     CORSConfig     `koanf:"cors"`
	Storage  StorageConfig  `koanf:"storage"`
	Database DatabaseConfig `koanf:"database"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Cache    CacheConfig    `koanf:"cache"`
	Queue    QueueConfig    `koanf:"queue"`
	Push     PushConfig     `koanf:"push"`
}

// ServerConfig configures the public and metrics listeners.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// CORSConfig lists origins allowed to call the worker from a browser.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// StorageConfig selects the durable store behind the queue and caches.
type StorageConfig struct {
	Driver     string `koanf:"driver" validate:"required,oneof=postgres sqlite memory"`
	SQLitePath string `koanf:"sqlite_path" validate:"required_if=Driver sqlite"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts" validate:"gte=0"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// UpstreamConfig points at the application server ("the network").
type UpstreamConfig struct {
	BaseURL string        `koanf:"base_url" validate:"required,url"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// CacheConfig configures cache naming, the precache manifest and request
// classification.
type CacheConfig struct {
	Prefix          string        `koanf:"prefix" validate:"required"`
	Version         string        `koanf:"version"`
	Precache        []string      `koanf:"precache" validate:"dive,startswith=/"`
	OfflinePage     string        `koanf:"offline_page" validate:"required,startswith=/"`
	APIPrefix       string        `koanf:"api_prefix" validate:"required,startswith=/"`
	MessageSendPath string        `koanf:"message_send_path" validate:"required,startswith=/"`
	InstallTimeout  time.Duration `koanf:"install_timeout" validate:"gt=0"`
}

// QueueConfig configures the offline message queue.
type QueueConfig struct {
	MaxRetries    int           `koanf:"max_retries" validate:"gte=1"`
	DrainInterval time.Duration `koanf:"drain_interval" validate:"gte=0"`
	ResendRate    float64       `koanf:"resend_rate" validate:"gte=0"`
	ResendBurst   int           `koanf:"resend_burst" validate:"gte=0"`
}

// PushConfig configures notification defaults and delivery.
type PushConfig struct {
	AppURL     string        `koanf:"app_url" validate:"required,url"`
	ChatPath   string        `koanf:"chat_path" validate:"required,startswith=/"`
	Title      string        `koanf:"title"`
	Body       string        `koanf:"body"`
	Icon       string        `koanf:"icon"`
	Badge      string        `koanf:"badge"`
	Tag        string        `koanf:"tag"`
	WebhookURL string        `koanf:"webhook_url" validate:"omitempty,url"`
	Timeout    time.Duration `koanf:"timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Driver:     DriverSQLite,
			SQLitePath: "edgeworker.db",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			AutoMigrate:     true,
		},
		Upstream: UpstreamConfig{
			BaseURL: "http://localhost:3000",
			Timeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			Prefix: "anonchat",
			Precache: []string{
				"/",
				"/offline",
				"/manifest.json",
				"/icons/icon-192x192.png",
				"/icons/icon-512x512.png",
			},
			OfflinePage:     "/offline",
			APIPrefix:       "/api/",
			MessageSendPath: "/api/messages/send",
			InstallTimeout:  30 * time.Second,
		},
		Queue: QueueConfig{
			MaxRetries: 3,
		},
		Push: PushConfig{
			AppURL:   "http://localhost:3000",
			ChatPath: "/chat",
			Timeout:  10 * time.Second,
		},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Storage.Driver == DriverPostgres && c.Database.URL == "" {
		return fmt.Errorf("invalid config: database.url is required for the postgres driver")
	}
	if !strings.HasPrefix(c.Cache.MessageSendPath, c.Cache.APIPrefix) {
		return fmt.Errorf("invalid config: message_send_path %q is outside api_prefix %q",
			c.Cache.MessageSendPath, c.Cache.APIPrefix)
	}
	return nil
}

// CacheVersion is the version suffix for cache names.
func (c *Config) CacheVersion(fallback string) string {
	if c.Cache.Version != "" {
		return c.Cache.Version
	}
	return "v" + fallback
}

// envKey maps EDGE_QUEUE__MAX_RETRIES to queue.max_retries.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
