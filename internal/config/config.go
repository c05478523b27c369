// Package config defines all configuration for the matching engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// fields overridable via VELOCITY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	WAL     WALConfig     `mapstructure:"wal"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// EngineConfig sizes the processor's queues and the order store.
//
//   - CommandQueueCapacity: bounded FIFO between adapters and the
//     processor. Producers block when it fills (backpressure).
//   - BroadcastCapacity: per-subscriber market-data buffer; slow
//     subscribers drop their oldest events beyond this.
//   - OrderStorePrealloc: initial slab capacity for resting orders.
type EngineConfig struct {
	CommandQueueCapacity int `mapstructure:"command_queue_capacity"`
	BroadcastCapacity    int `mapstructure:"broadcast_capacity"`
	OrderStorePrealloc   int `mapstructure:"order_store_prealloc"`
}

// WALConfig controls write-ahead log placement and durability.
//
//   - Path: the append-only log file.
//   - FlushInterval: how often the processor flushes buffered records to
//     the OS; 0 disables the ticker (records then reach the OS only when
//     the write buffer fills or on shutdown).
//     Entries are never fsynced individually; a crash may lose the tail.
//   - Strict: when true, a WAL append failure stops the processor instead
//     of logging and continuing, so memory and disk cannot drift.
type WALConfig struct {
	Path          string        `mapstructure:"path"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	Strict        bool          `mapstructure:"strict"`
}

// ServerConfig controls the HTTP/WebSocket API server.
type ServerConfig struct {
	Port           int             `mapstructure:"port"`
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig tunes the per-category request limiters for the API.
// Burst is how many requests may be admitted back-to-back, Rate the
// steady admissions per second.
type RateLimitConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	OrderBurst  float64 `mapstructure:"order_burst"`
	OrderRate   float64 `mapstructure:"order_rate"`
	CancelBurst float64 `mapstructure:"cancel_burst"`
	CancelRate  float64 `mapstructure:"cancel_rate"`
	DepthBurst  float64 `mapstructure:"depth_burst"`
	DepthRate   float64 `mapstructure:"depth_rate"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides
// (VELOCITY_WAL_PATH, VELOCITY_SERVER_PORT, ...). A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("VELOCITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("engine.command_queue_capacity", 1024)
	v.SetDefault("engine.broadcast_capacity", 100)
	v.SetDefault("engine.order_store_prealloc", 10_000)
	v.SetDefault("wal.path", "velocity.wal")
	v.SetDefault("wal.flush_interval", 100*time.Millisecond)
	v.SetDefault("wal.strict", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.order_burst", 350)
	v.SetDefault("server.rate_limit.order_rate", 50)
	v.SetDefault("server.rate_limit.cancel_burst", 300)
	v.SetDefault("server.rate_limit.cancel_rate", 30)
	v.SetDefault("server.rate_limit.depth_burst", 150)
	v.SetDefault("server.rate_limit.depth_rate", 15)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Engine.CommandQueueCapacity < 1 {
		return fmt.Errorf("engine.command_queue_capacity must be >= 1")
	}
	if c.Engine.BroadcastCapacity < 1 {
		return fmt.Errorf("engine.broadcast_capacity must be >= 1")
	}
	if c.Engine.OrderStorePrealloc < 0 {
		return fmt.Errorf("engine.order_store_prealloc must be >= 0")
	}
	if c.WAL.Path == "" {
		return fmt.Errorf("wal.path is required")
	}
	if c.WAL.FlushInterval < 0 {
		return fmt.Errorf("wal.flush_interval must be >= 0")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	return nil
}
