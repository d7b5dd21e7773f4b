// Package config loads sparklesd's runtime configuration from environment
// variables, an optional config file, and defaults, in that precedence
// order via viper.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the server.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig is the single HTTP listener that serves the static UI,
// /health, /metrics, and the /ws upgrade endpoint.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	StaticDir    string        `mapstructure:"static_dir"`
	AutoOpen     bool          `mapstructure:"auto_open"`
}

// DiscoveryConfig controls both discovery sources. TraceDir is the base
// directory passed in (via --path or config); the trace/ subdirectory
// underneath it is what actually gets scanned and watched, see cmd/sparklesd.
type DiscoveryConfig struct {
	MulticastAddr string `mapstructure:"multicast_addr"`
	TraceDir      string `mapstructure:"trace_dir"`
}

// MetricsConfig controls the /metrics endpoint mounted on the main mux.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from an optional ./sparklesd.{yaml,json,...}
// file, SPARKLESD_-prefixed environment variables, and falls back to the
// defaults below.
func Load() (Config, error) {
	// A local .env is a dev convenience only; its absence is normal in
	// production and never treated as an error.
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.static_dir", "frontend/dist")
	v.SetDefault("server.auto_open", true)

	v.SetDefault("discovery.multicast_addr", "239.0.0.1:9999")
	v.SetDefault("discovery.trace_dir", ".")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("sparklesd")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("SPARKLESD")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}
	return cfg, nil
}
