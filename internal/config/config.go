// Package config loads the relay's TOML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Network   NetworkConfig   `toml:"network"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Dialects  DialectsConfig  `toml:"dialects"`
	Logging   LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Name      string `toml:"name"`
	StartTime int64  // set at boot, not from config
}

// DatabaseConfig configures the optional room-audit Postgres connection.
// DSN left empty disables persistence entirely (RoomAuditRepo becomes a no-op).
type DatabaseConfig struct {
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

type NetworkConfig struct {
	BindAddress  string        `toml:"bind_address"`
	UpgradePath  string        `toml:"upgrade_path"`
	InQueueSize  int           `toml:"in_queue_size"`
	OutQueueSize int           `toml:"out_queue_size"`
	PingInterval time.Duration `toml:"ping_interval"`
	IdleTimeout  time.Duration `toml:"idle_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
}

type RateLimitConfig struct {
	PerIPConnectBurst    int           `toml:"per_ip_connect_burst"`
	PerIPConnectWindow   time.Duration `toml:"per_ip_connect_window"`
	EventsPerSecond      int           `toml:"events_per_second"`
	CreateGameCooldown   time.Duration `toml:"create_game_cooldown"`
	ReadyBarrierTimeout  time.Duration `toml:"ready_barrier_timeout"`
}

// DialectsConfig locates the file-based inputs PixelConverter, MapCatalog
// and AssemblyCompiler load at boot. The dialects themselves (id, extractor
// script URLs, extraction expression) live in a separate YAML manifest
// (DialectManifestPath) rather than in this TOML file, so adding a dialect
// never requires touching the server's own configuration.
type DialectsConfig struct {
	LookupTablePath     string `toml:"lookup_table_path"`
	DialectManifestPath string `toml:"dialect_manifest_path"`
	CacheDir            string `toml:"cache_dir"`
	AllowInsecure       bool   `toml:"allow_insecure"`
	MapsDir             string `toml:"maps_dir"`
	ControllersDir      string `toml:"controllers_dir"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Server.StartTime = time.Now().UnixMilli()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "pixsim-api",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Network: NetworkConfig{
			BindAddress:  "0.0.0.0:8080",
			UpgradePath:  "/pixsim-api/game",
			InQueueSize:  64,
			OutQueueSize: 128,
			PingInterval: 10 * time.Second,
			IdleTimeout:  300 * time.Second,
			WriteTimeout: 10 * time.Second,
			ReadTimeout:  300 * time.Second,
		},
		RateLimit: RateLimitConfig{
			PerIPConnectBurst:   3,
			PerIPConnectWindow:  time.Second,
			EventsPerSecond:     250,
			CreateGameCooldown:  time.Second,
			ReadyBarrierTimeout: 30 * time.Second,
		},
		Dialects: DialectsConfig{
			LookupTablePath:     "data/pixel_lookup.csv",
			DialectManifestPath: "config/dialects.yaml",
			CacheDir:            "data/cache",
			MapsDir:             "data/maps",
			ControllersDir:      "data/controllers",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
